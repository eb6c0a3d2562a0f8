package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
)

const (
	defaultPongWait     = 60 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultWriteWait    = 10 * time.Second
	defaultHeartbeat    = 15 * time.Second
	defaultSendBuffer   = 64
)

// Subscriber 提供会话事件订阅
type Subscriber interface {
	Subscribe(sessionID string) *events.Subscription
}

// Handler 负责实时推送：WebSocket 双向通道与 SSE 单向事件流
type Handler struct {
	monitor  *monitor.Service
	hub      Subscriber
	upgrader websocket.Upgrader

	pongWait     time.Duration
	pingInterval time.Duration
	writeWait    time.Duration
	heartbeat    time.Duration
	sendBuffer   int
}

// New 创建实时推送处理器
func New(monitorSvc *monitor.Service, hub Subscriber) *Handler {
	return &Handler{
		monitor: monitorSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait:     defaultPongWait,
		pingInterval: defaultPingInterval,
		writeWait:    defaultWriteWait,
		heartbeat:    defaultHeartbeat,
		sendBuffer:   defaultSendBuffer,
	}
}

// RegisterRoutes 注册 SSE 事件流，挂在 /api 之下
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/{sessionID}/events", h.HandleEvents)
}

// RegisterWebSocketRoutes 注册 WebSocket 入口
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.HandleWebSocket)
}
