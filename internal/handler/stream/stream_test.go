package stream

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/medcall/backend/internal/model/call"
	"github.com/zhouzirui/medcall/backend/internal/service/agent"
	"github.com/zhouzirui/medcall/backend/internal/service/events"
	"github.com/zhouzirui/medcall/backend/internal/service/monitor"
	"github.com/zhouzirui/medcall/backend/internal/service/session"
	"github.com/zhouzirui/medcall/backend/internal/service/speech"
)

type wireMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *monitor.Service) {
	t.Helper()

	hub := events.NewHub(16)
	agents, err := agent.NewHeuristics([]agent.Kind{agent.KindEmergency})
	if err != nil {
		t.Fatalf("NewHeuristics: %v", err)
	}
	transcriber := speech.TranscriberFunc(func(ctx context.Context, audio []byte) (string, error) {
		return string(audio), nil
	})
	svc := monitor.NewService(session.NewStore(), hub, agents, transcriber, monitor.DefaultConfig())

	h := New(svc, hub)
	h.heartbeat = time.Hour

	r := chi.NewRouter()
	h.RegisterWebSocketRoutes(r)
	r.Route("/api", h.RegisterRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		svc.Wait()
	})
	return srv, svc
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	msg := readMessage(t, conn)
	if msg.Type != msgConnectionResponse || !strings.Contains(string(msg.Data), `"connected"`) {
		t.Fatalf("unexpected greeting %+v", msg)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(inboundMessage{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketJoinReceivesTranscriptThenAlert(t *testing.T) {
	srv, svc := newTestServer(t)
	if _, err := svc.StartSession("call-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	conn := dial(t, srv)

	send(t, conn, msgJoinSession, joinPayload{SessionID: "call-1"})
	joined := readMessage(t, conn)
	if joined.Type != msgJoined || !strings.Contains(string(joined.Data), "call-1") {
		t.Fatalf("expected joined, got %+v", joined)
	}

	send(t, conn, msgTranscriptChunk, transcriptPayload{SessionID: "call-1", Text: "I have severe chest pain and can't breathe"})

	update := readMessage(t, conn)
	if update.Type != events.TypeTranscriptUpdate {
		t.Fatalf("expected transcript_update first, got %+v", update)
	}
	alertMsg := readMessage(t, conn)
	if alertMsg.Type != events.TypeAlert || alertMsg.SessionID != "call-1" {
		t.Fatalf("expected alert, got %+v", alertMsg)
	}
	var alert call.Alert
	if err := json.Unmarshal(alertMsg.Data, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.Type != call.AlertEmergency || alert.Severity != call.SeverityCritical {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestWebSocketAudioChunkIsTranscribed(t *testing.T) {
	srv, svc := newTestServer(t)
	if _, err := svc.StartSession("call-2"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	conn := dial(t, srv)

	send(t, conn, msgJoinSession, joinPayload{SessionID: "call-2"})
	readMessage(t, conn)

	audio := base64.StdEncoding.EncodeToString([]byte("hello"))
	send(t, conn, msgAudioChunk, audioPayload{SessionID: "call-2", Audio: audio})

	update := readMessage(t, conn)
	if update.Type != events.TypeTranscriptUpdate || !strings.Contains(string(update.Data), `"hello"`) {
		t.Fatalf("unexpected message %+v", update)
	}

	transcript, err := svc.Transcript("call-2")
	if err != nil || len(transcript) != 1 || transcript[0].Text != "hello" {
		t.Fatalf("unexpected transcript %+v, err %v", transcript, err)
	}
}

func TestWebSocketAudioForUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, msgAudioChunk, audioPayload{SessionID: "ghost", Audio: base64.StdEncoding.EncodeToString([]byte("x"))})

	msg := readMessage(t, conn)
	if msg.Type != msgError || !strings.Contains(string(msg.Data), "Invalid session") {
		t.Fatalf("expected Invalid session error, got %+v", msg)
	}
}

func TestWebSocketJoinUnknownSessionIsSilent(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)

	send(t, conn, msgJoinSession, joinPayload{SessionID: "ghost"})
	send(t, conn, "mystery", map[string]string{})

	// 未知会话不回复 joined，下一条应是未知类型的错误
	msg := readMessage(t, conn)
	if msg.Type != msgError || !strings.Contains(string(msg.Data), "Unknown message type") {
		t.Fatalf("expected unknown type error, got %+v", msg)
	}
}

func TestWebSocketRejectsChunkForStoppedSession(t *testing.T) {
	srv, svc := newTestServer(t)
	if _, err := svc.StartSession("call-3"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := svc.StopSession("call-3"); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	conn := dial(t, srv)

	send(t, conn, msgTranscriptChunk, transcriptPayload{SessionID: "call-3", Text: "anyone there?"})
	msg := readMessage(t, conn)
	if msg.Type != msgError || !strings.Contains(string(msg.Data), "not active") {
		t.Fatalf("expected inactive error, got %+v", msg)
	}
}

func TestSSEUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/session/ghost/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSSEStreamsEventsUntilSessionRemoved(t *testing.T) {
	srv, svc := newTestServer(t)
	if _, err := svc.StartSession("call-4"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/session/call-4/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	nextEvent := func() string {
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				return name
			}
		}
		return ""
	}

	if got := nextEvent(); got != msgJoined {
		t.Fatalf("expected joined, got %q", got)
	}

	if _, err := svc.ProcessChunk(ctx, "call-4", "hello there"); err != nil {
		t.Fatalf("ProcessChunk: %v", err)
	}
	if got := nextEvent(); got != events.TypeTranscriptUpdate {
		t.Fatalf("expected transcript_update, got %q", got)
	}

	if err := svc.RemoveSession("call-4"); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}
	if got := nextEvent(); got != "" {
		t.Fatalf("expected stream to end, got %q", got)
	}
}
