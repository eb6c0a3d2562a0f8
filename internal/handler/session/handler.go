package session

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/medcall/backend/internal/logging"
	"github.com/zhouzirui/medcall/backend/internal/model/call"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
	sessionService "github.com/zhouzirui/medcall/backend/internal/service/session"
	"github.com/zhouzirui/medcall/backend/pkg/utils"
)

// Handler 通话监控会话的 HTTP 处理器
type Handler struct {
	monitor *monitor.Service
}

// New 创建会话处理器
func New(monitorSvc *monitor.Service) *Handler {
	return &Handler{monitor: monitorSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session/start", h.handleStart)
	r.Post("/session/{sessionID}/stop", h.handleStop)
	r.Post("/session/{sessionID}/chunk", h.handleChunk)
	r.Get("/session/{sessionID}/alerts", h.handleAlerts)
	r.Get("/session/{sessionID}/transcript", h.handleTranscript)
	r.Delete("/session/{sessionID}", h.handleDelete)
}

type startResponse struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
}

// handleStart 创建会话，session_id 可选
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.monitor.StartSession(payload.SessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, startResponse{
		SessionID: sess.ID(),
		Status:    "active",
		StartTime: sess.StartedAt(),
	})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	summary, err := h.monitor.StopSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

type chunkResponse struct {
	Entry    call.TranscriptEntry `json:"entry"`
	Analyzed bool                 `json:"analyzed"`
	Alerts   []call.Alert         `json:"alerts"`
	Outcomes []monitor.Outcome    `json:"outcomes,omitempty"`
}

// handleChunk 同步处理一段文本，返回本次产生的告警
func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.monitor.ProcessChunk(r.Context(), chi.URLParam(r, "sessionID"), payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if report == nil {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	alerts := report.Emitted()
	if alerts == nil {
		alerts = []call.Alert{}
	}
	utils.RespondJSON(w, http.StatusOK, chunkResponse{
		Entry:    report.Entry,
		Analyzed: report.Analyzed,
		Alerts:   alerts,
		Outcomes: report.Outcomes,
	})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.monitor.Alerts(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if alerts == nil {
		alerts = []call.Alert{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.monitor.Transcript(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if transcript == nil {
		transcript = []call.TranscriptEntry{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"transcript": transcript})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.RemoveSession(chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, sessionService.ErrDuplicateSession):
		utils.RespondError(w, http.StatusConflict, "Session already exists")
	case errors.Is(err, monitor.ErrSessionInactive):
		utils.RespondError(w, http.StatusConflict, "Session is not active")
	default:
		logging.Errorw("session request failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
