package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
	"github.com/zhouzirui/medcall/backend/internal/service/session"
)

// 客户端 -> 服务端
const (
	msgJoinSession     = "join_session"
	msgAudioChunk      = "audio_chunk"
	msgTranscriptChunk = "transcript_chunk"
)

// 服务端 -> 客户端，alert 与 transcript_update 直接沿用事件类型
const (
	msgConnectionResponse = "connection_response"
	msgJoined             = "joined"
	msgError              = "error"
)

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type joinPayload struct {
	SessionID string `json:"session_id"`
}

type audioPayload struct {
	SessionID string `json:"session_id"`
	Audio     string `json:"audio"`
}

type transcriptPayload struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// client 一个 WebSocket 连接。所有写操作只在 writeLoop 中进行。
type client struct {
	conn *websocket.Conn
	send chan outgoingMessage
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[string]*events.Subscription
}

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{
		conn: conn,
		send: make(chan outgoingMessage, buffer),
		done: make(chan struct{}),
		subs: make(map[string]*events.Subscription),
	}
}

// enqueue 投递一条消息；队列已满时丢弃，连接关闭后忽略。
func (c *client) enqueue(msg outgoingMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		logging.Warnw("websocket send queue full, dropping message", "type", msg.Type)
		return false
	}
}

func (c *client) sendError(message string) {
	c.enqueue(outgoingMessage{Type: msgError, Data: map[string]string{"message": message}})
}

// subscribe 记录订阅，重复加入同一会话返回 false
func (c *client) subscribe(sessionID string, hub Subscriber) (*events.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return nil, false
	default:
	}
	if _, ok := c.subs[sessionID]; ok {
		return nil, false
	}
	sub := hub.Subscribe(sessionID)
	c.subs[sessionID] = sub
	return sub, true
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		for id, sub := range c.subs {
			sub.Close()
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
}

// HandleWebSocket 处理实时通道：加入会话、上送音频或文本、接收告警
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, h.sendBuffer)
	logging.Infow("websocket connected", "remote", r.RemoteAddr)

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		h.writeLoop(c)
	}()
	// 先通知写协程退出，等它发完关闭帧再关连接
	defer func() {
		c.close()
		writer.Wait()
		conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	c.enqueue(outgoingMessage{Type: msgConnectionResponse, Data: map[string]string{"status": "connected"}})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warnw("websocket read error", "error", err)
			}
			logging.Infow("websocket disconnected", "remote", r.RemoteAddr)
			return
		}

		h.handleMessage(ctx, c, &msg)

		// 转写可能耗时较长，处理完成后重新计算读超时
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

// writeLoop 串行写出队列中的消息并定时发送 ping
func (h *Handler) writeLoop(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				logging.Warnw("websocket write failed", "type", msg.Type, "error", err)
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				logging.Warnw("websocket ping failed", "error", err)
				c.close()
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *client, msg *inboundMessage) {
	switch msg.Type {
	case msgJoinSession:
		var payload joinPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("Invalid join_session payload")
			return
		}
		h.joinSession(c, payload.SessionID)
	case msgAudioChunk:
		var payload audioPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("Invalid audio_chunk payload")
			return
		}
		h.handleAudio(ctx, c, payload)
	case msgTranscriptChunk:
		var payload transcriptPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("Invalid transcript_chunk payload")
			return
		}
		if _, err := h.monitor.SubmitChunk(ctx, payload.SessionID, payload.Text); err != nil {
			h.sendChunkError(c, payload.SessionID, err)
		}
	default:
		logging.Debugw("unknown websocket message", "type", msg.Type)
		c.sendError("Unknown message type: " + msg.Type)
	}
}

// joinSession 订阅会话事件；未知会话静默忽略
func (h *Handler) joinSession(c *client, sessionID string) {
	if _, err := h.monitor.Session(sessionID); err != nil {
		logging.Debugw("join for unknown session ignored", "session_id", sessionID)
		return
	}

	sub, fresh := c.subscribe(sessionID, h.hub)
	if fresh {
		go forward(c, sub)
		logging.Infow("client joined session", "session_id", sessionID)
	}
	c.enqueue(outgoingMessage{Type: msgJoined, Data: joinPayload{SessionID: sessionID}})
}

// forward 把会话事件转发到连接，订阅关闭时退出
func forward(c *client, sub *events.Subscription) {
	for ev := range sub.Events() {
		c.enqueue(outgoingMessage{Type: ev.Type, SessionID: ev.SessionID, Data: ev.Data})
	}
}

func (h *Handler) handleAudio(ctx context.Context, c *client, payload audioPayload) {
	if _, err := h.monitor.Session(payload.SessionID); err != nil {
		c.sendError("Invalid session")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(payload.Audio)
	if err != nil {
		c.sendError("Invalid audio encoding")
		return
	}
	if len(audio) == 0 {
		return
	}

	if _, err := h.monitor.SubmitAudio(ctx, payload.SessionID, audio); err != nil {
		h.sendChunkError(c, payload.SessionID, err)
	}
}

func (h *Handler) sendChunkError(c *client, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.sendError("Invalid session")
	case errors.Is(err, monitor.ErrSessionInactive):
		c.sendError("Session is not active")
	case errors.Is(err, monitor.ErrNoTranscriber):
		c.sendError("Audio transcription unavailable")
	default:
		// 转写失败只记录日志，该段音频被丢弃
		logging.Warnw("chunk dropped", "session_id", sessionID, "error", err)
	}
}
