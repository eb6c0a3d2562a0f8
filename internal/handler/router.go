package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/medcall/backend/internal/handler/session"
	"github.com/zhouzirui/medcall/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/medcall/backend/internal/middleware"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
	"github.com/zhouzirui/medcall/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(monitorSvc *monitor.Service, hub stream.Subscriber) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessionHandler := session.New(monitorSvc)
	streamHandler := stream.New(monitorSvc, hub)

	r.Get("/health", handleHealth)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)

		// SSE 事件流
		streamHandler.RegisterRoutes(api)
	})

	streamHandler.RegisterWebSocketRoutes(r)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "medcall",
	})
}
