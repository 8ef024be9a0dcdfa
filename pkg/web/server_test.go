package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-alzar/internal/config"
	"github.com/teslashibe/go-alzar/pkg/drone"
	"github.com/teslashibe/go-alzar/pkg/journal"
	"github.com/teslashibe/go-alzar/pkg/mission"
	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/protocol"
	"github.com/teslashibe/go-alzar/pkg/state"
)

type stubJournal struct {
	records []journal.Record
}

func (j *stubJournal) Recent(_ context.Context, limit int) ([]journal.Record, error) {
	if limit > len(j.records) {
		limit = len(j.records)
	}
	return j.records[:limit], nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *mission.Mission) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.TickInterval = time.Hour
	cfg.RetryDelay = time.Millisecond
	mock := observe.NewMock()
	m, err := mission.New(mission.Deps{Camera: mock, Vision: mock, Language: mock}, cfg)
	if err != nil {
		t.Fatalf("mission.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewServer(":0", m, m.Hub(), opts...), m
}

func doJSON(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("%s %s body %q: %v", method, path, raw, err)
	}
	return resp.StatusCode, out
}

func TestGetState(t *testing.T) {
	s, _ := newTestServer(t)
	status, body := doJSON(t, s, "GET", "/api/state", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if body["mode"] != "normal" || body["camera"] != "ground" || body["drone"] != "docked" {
		t.Errorf("state = %v", body)
	}
}

func TestCommandRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"set mode", "/api/mode", `{"mode":"talkative"}`, 200, ""},
		{"bad mode", "/api/mode", `{"mode":"loud"}`, 400, CodeInvalidCommand},
		{"malformed body", "/api/mode", `{"mode":`, 400, CodeBadMessage},
		{"set camera", "/api/camera", `{"camera":"drone"}`, 200, ""},
		{"tts", "/api/tts", `{"enabled":false}`, 200, ""},
		{"move", "/api/move", `{"direction":"forward"}`, 200, ""},
		{"stop", "/api/move", `{"direction":null}`, 200, ""},
		{"bad direction", "/api/move", `{"direction":"sideways"}`, 400, CodeInvalidCommand},
		{"return while docked", "/api/drone/return", ``, 409, CodeInvalidTransition},
		{"generic route", "/api/commands/set_mode", `{"mode":"quiet"}`, 200, ""},
		{"reset scene", "/api/scene/reset", ``, 200, ""},
	}

	s, _ := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, s, "POST", tt.path, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.wantStatus, body)
			}
			if tt.wantCode != "" && body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
			if tt.wantStatus == 200 && body["accepted"] != true {
				t.Errorf("accepted = %v", body["accepted"])
			}
		})
	}
}

func TestUnknownGenericCommand(t *testing.T) {
	s, _ := newTestServer(t)
	status, _ := doJSON(t, s, "POST", "/api/commands/self_destruct", `{}`)
	if status != 404 {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestRequestCommentaryBusyIsNotAnError(t *testing.T) {
	s, m := newTestServer(t)
	adm := m.RequestCommentary("")
	if !adm.Accepted {
		t.Fatalf("first request rejected: %s", adm.Reason)
	}
	defer func() { <-adm.Done }()

	// the mock pipeline may already be done, so accept either outcome but
	// never an error status
	status, body := doJSON(t, s, "POST", "/api/commentary", `{"question":"what is that?"}`)
	if status != 200 {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if body["accepted"] == false && body["reason"] != "busy" {
		t.Errorf("rejection reason = %v", body["reason"])
	}
}

func TestGetCommentaryLimit(t *testing.T) {
	s, m := newTestServer(t)
	for _, mode := range []string{"quiet", "talkative", "normal"} {
		if _, err := m.SetMode(mode); err != nil {
			t.Fatal(err)
		}
	}
	status, body := doJSON(t, s, "GET", "/api/commentary?limit=2", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %v", body["entries"])
	}
	last := entries[1].(map[string]any)
	if last["text"] != "Switched to normal mode." {
		t.Errorf("last entry = %v", last)
	}
}

func TestJournalRoute(t *testing.T) {
	s, _ := newTestServer(t)
	if status, _ := doJSON(t, s, "GET", "/api/journal", ""); status != 404 {
		t.Errorf("status without journal = %d, want 404", status)
	}

	j := &stubJournal{records: []journal.Record{{ID: "01A", EntryID: 1, Text: "hi"}}}
	s, _ = newTestServer(t, WithJournal(j), WithStats(func() any { return map[string]int{"x": 1} }))
	status, body := doJSON(t, s, "GET", "/api/journal?limit=5", "")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if recs, _ := body["records"].([]any); len(recs) != 1 {
		t.Errorf("records = %v", body["records"])
	}
	if _, stats := doJSON(t, s, "GET", "/api/stats", ""); stats["x"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}
}

func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	return msg
}

func TestDashboardWebSocket(t *testing.T) {
	s, m := newTestServer(t)
	go s.App().Listen(":18090")
	defer s.Shutdown()
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18090/ws", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	if msg := readMessage(t, ws); msg.Type != protocol.TypeState {
		t.Fatalf("first message = %s, want state", msg.Type)
	}
	if msg := readMessage(t, ws); msg.Type != protocol.TypeHistory {
		t.Fatalf("second message = %s, want commentary_history", msg.Type)
	}

	cmd := `{"type":"set_camera","id":"c1","data":{"camera":"drone"}}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		t.Fatal(err)
	}

	var gotAck, gotDiff bool
	for i := 0; i < 2; i++ {
		msg := readMessage(t, ws)
		switch msg.Type {
		case protocol.TypeAck:
			ack, err := msg.GetAckData()
			if err != nil {
				t.Fatal(err)
			}
			if msg.ID != "c1" || !ack.Accepted || ack.Version != 1 {
				t.Errorf("ack = %+v id %q", ack, msg.ID)
			}
			gotAck = true
		case protocol.TypeStateDiff:
			var d state.Diff
			if err := msg.ParseData(&d); err != nil {
				t.Fatal(err)
			}
			if d.Version != 1 {
				t.Errorf("diff version = %d", d.Version)
			}
			gotDiff = true
		default:
			t.Errorf("unexpected %s", msg.Type)
		}
	}
	if !gotAck || !gotDiff {
		t.Errorf("ack %v diff %v", gotAck, gotDiff)
	}
	if m.Snapshot().Camera != state.CameraDrone {
		t.Errorf("camera = %s", m.Snapshot().Camera)
	}

	bad := `{"type":"drone_return","id":"c2"}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(bad)); err != nil {
		t.Fatal(err)
	}
	msg := readMessage(t, ws)
	if msg.Type != protocol.TypeError || msg.ID != "c2" {
		t.Fatalf("reply = %s id %q", msg.Type, msg.ID)
	}
	ed, _ := msg.GetErrorData()
	if ed.Code != CodeInvalidTransition {
		t.Errorf("code = %s", ed.Code)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&drone.TransitionError{From: state.DroneAirborne, Command: drone.CommandLaunch}, 409, CodeInvalidTransition},
		{fmt.Errorf("launch: %w", drone.ErrClosed), 503, CodeUnavailable},
		{fmt.Errorf("%w: eof", ErrBadPayload), 400, CodeBadMessage},
		{fmt.Errorf("%w: %q", ErrUnknownCommand, "dance"), 400, CodeInvalidCommand},
		{errors.New("disk on fire"), 500, CodeInternal},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}
