package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/medcall/backend/internal/service/agent"
	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
	"github.com/zhouzirui/medcall/backend/internal/service/session"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	hub := events.NewHub(8)
	agents, err := agent.NewHeuristics(agent.AllKinds())
	if err != nil {
		t.Fatalf("NewHeuristics: %v", err)
	}
	svc := monitor.NewService(session.NewStore(), hub, agents, nil, monitor.DefaultConfig())
	t.Cleanup(svc.Wait)
	return NewRouter(svc, hub)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"healthy"`) || !strings.Contains(body, `"service":"medcall"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestSessionRoutesMountedUnderAPI(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/start", strings.NewReader(`{"session_id":"abc"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/missing/alerts", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/session/start", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}
}
