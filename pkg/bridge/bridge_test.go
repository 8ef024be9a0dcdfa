package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-alzar/pkg/camera"
	"github.com/teslashibe/go-alzar/pkg/drone"
	"github.com/teslashibe/go-alzar/pkg/protocol"
	"github.com/teslashibe/go-alzar/pkg/scheduler"
	"github.com/teslashibe/go-alzar/pkg/state"
)

type recorder struct {
	mu       sync.Mutex
	gps      []state.GPSFix
	battery  [][2]*int
	spotted  []string
	liftoffs int
	landings int
}

func (r *recorder) UpdateGPS(fix state.GPSFix) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !fix.Valid() {
		return 0, state.ErrInvalidValue
	}
	r.gps = append(r.gps, fix)
	return uint64(len(r.gps)), nil
}

func (r *recorder) UpdateBattery(robot, drone *int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battery = append(r.battery, [2]*int{robot, drone})
	return 1, nil
}

func (r *recorder) ReportSpotted(label string, _ float64, cam state.Camera) (bool, scheduler.Admission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spotted = append(r.spotted, label+"@"+string(cam))
	return true, scheduler.Admission{Accepted: true}
}

func (r *recorder) LiftoffConfirmed() {
	r.mu.Lock()
	r.liftoffs++
	r.mu.Unlock()
}

func (r *recorder) LandingConfirmed() {
	r.mu.Lock()
	r.landings++
	r.mu.Unlock()
}

func startHub(t *testing.T, port string, opts ...Option) (*Hub, *recorder) {
	t.Helper()
	rec := &recorder{}
	h := NewHub(rec, opts...)
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	h.RegisterRoutes(app)

	go app.Listen(":" + port)
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(100 * time.Millisecond)
	return h, rec
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg *protocol.Message, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRobotConnectAndDisconnect(t *testing.T) {
	h, _ := startHub(t, "18180")
	ws := dial(t, "ws://localhost:18180/ws/robot/rover-1")

	eventually(t, func() bool { return h.RobotCount() == 1 })
	if h.GetRobot("rover-1") == nil {
		t.Error("GetRobot should return the connected robot")
	}

	ws.Close()
	eventually(t, func() bool { return h.RobotCount() == 0 })
}

func TestInboundTelemetry(t *testing.T) {
	buf := camera.New()
	h, rec := startHub(t, "18181", WithFrameSink(buf))
	ws := dial(t, "ws://localhost:18181/ws/robot/rover-2")

	{
		msg, err := protocol.NewMessage(protocol.TypeGPS, protocol.GPSData{Lat: 37.77, Lng: -122.42})
		send(t, ws, msg, err)
	}
	{
		msg, err := protocol.NewMessage(protocol.TypeGPS, protocol.GPSData{Lat: 137})
		send(t, ws, msg, err)
	}
	level := 81
	{
		msg, err := protocol.NewMessage(protocol.TypeBattery, protocol.BatteryData{Robot: &level})
		send(t, ws, msg, err)
	}
	{
		msg, err := protocol.NewMessage(protocol.TypeLiftoff, nil)
		send(t, ws, msg, err)
	}
	{
		msg, err := protocol.NewMessage(protocol.TypeLanding, nil)
		send(t, ws, msg, err)
	}
	{
		msg, err := protocol.NewMessage(protocol.TypeSpotted, protocol.SpottedData{Label: "heron", Confidence: 0.9, Camera: "drone"})
		send(t, ws, msg, err)
	}
	{
		msg, err := protocol.NewFrameMessage("drone", []byte{0xFF, 0xD8, 0xFF, 0xD9}, 7)
		send(t, ws, msg, err)
	}

	eventually(t, func() bool {
		_, ok := buf.Latest(state.CameraDrone)
		return ok
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.gps) != 1 || rec.gps[0].Lat != 37.77 {
		t.Errorf("gps = %+v", rec.gps)
	}
	if len(rec.battery) != 1 || rec.battery[0][0] == nil || *rec.battery[0][0] != 81 || rec.battery[0][1] != nil {
		t.Errorf("battery = %+v", rec.battery)
	}
	if rec.liftoffs != 1 || rec.landings != 1 {
		t.Errorf("liftoffs %d landings %d", rec.liftoffs, rec.landings)
	}
	if len(rec.spotted) != 1 || rec.spotted[0] != "heron@drone" {
		t.Errorf("spotted = %v", rec.spotted)
	}

	st := h.GetStats()
	if st.FramesReceived != 1 || st.Rejected != 1 || st.MessagesReceived != 7 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPingPong(t *testing.T) {
	startHub(t, "18182")
	ws := dial(t, "ws://localhost:18182/ws/robot/rover-3")
	{
		msg, err := protocol.NewPingMessage("p1")
		send(t, ws, msg, err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	pong, err := msg.GetPongData()
	if err != nil || msg.Type != protocol.TypePong || pong.ID != "p1" {
		t.Errorf("reply = %s %+v (%v)", msg.Type, pong, err)
	}
}

func TestOutboundCommands(t *testing.T) {
	h, _ := startHub(t, "18183")

	if err := h.SendMove(state.DirectionLeft); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendMove() without robot error = %v", err)
	}

	ws := dial(t, "ws://localhost:18183/ws/robot/rover-4")
	eventually(t, func() bool { return h.RobotCount() == 1 })

	if err := h.SendMove(state.DirectionLeft); err != nil {
		t.Fatal(err)
	}
	if err := h.SendDrone(drone.CommandLaunch); err != nil {
		t.Fatal(err)
	}
	if err := h.Speak(context.Background(), "hello there"); err != nil {
		t.Fatal(err)
	}
	if err := h.PlayAudio(context.Background(), "hi", "mp3", []byte{1, 2}); err != nil {
		t.Fatal(err)
	}

	var types []protocol.MessageType
	var move protocol.MoveData
	var speak protocol.SpeakData
	for i := 0; i < 4; i++ {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
		var msg protocol.Message
		json.Unmarshal(data, &msg)
		types = append(types, msg.Type)
		switch {
		case msg.Type == protocol.TypeMove:
			msg.ParseData(&move)
		case msg.Type == protocol.TypeSpeak && speak.Text == "":
			msg.ParseData(&speak)
		}
	}

	want := []protocol.MessageType{protocol.TypeMove, protocol.TypeDrone, protocol.TypeSpeak, protocol.TypeSpeak}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, types[i], want[i])
		}
	}
	if move.Direction == nil || *move.Direction != "left" {
		t.Errorf("move = %+v", move)
	}
	if speak.Text != "hello there" || speak.Data != "" {
		t.Errorf("speak = %+v", speak)
	}
}

func TestAPIListRobots(t *testing.T) {
	h := NewHub(&recorder{})
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	h.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/robots/", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if resp.StatusCode != 200 || out.Count != 0 {
		t.Errorf("status %d count %d", resp.StatusCode, out.Count)
	}
}

func TestAPIRobotSpeak(t *testing.T) {
	h, _ := startHub(t, "18185")
	api := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	h.RegisterAPIRoutes(api.Group("/api"))

	post := func(id, body string) int {
		t.Helper()
		req := httptest.NewRequest("POST", "/api/robots/"+id+"/speak", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := api.Test(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp.StatusCode
	}

	if got := post("rover-9", `{"text":"hello"}`); got != 404 {
		t.Errorf("speak to missing robot = %d, want 404", got)
	}

	ws := dial(t, "ws://localhost:18185/ws/robot/rover-9")
	eventually(t, func() bool { return h.RobotCount() == 1 })

	resp, err := api.Test(httptest.NewRequest("GET", "/api/robots/rover-9", nil))
	if err != nil {
		t.Fatal(err)
	}
	var info RobotInfo
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &info); err != nil || info.ID != "rover-9" {
		t.Errorf("robot info = %+v (%v)", info, err)
	}

	if got := post("rover-9", `{"text":""}`); got != 400 {
		t.Errorf("empty text = %d, want 400", got)
	}
	if got := post("rover-9", `{"text":"over here"}`); got != 200 {
		t.Fatalf("speak = %d, want 200", got)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	var msg protocol.Message
	json.Unmarshal(data, &msg)
	var speak protocol.SpeakData
	msg.ParseData(&speak)
	if msg.Type != protocol.TypeSpeak || speak.Text != "over here" {
		t.Errorf("robot got %s %+v", msg.Type, speak)
	}
	if st := h.GetStats(); st.MessagesSent != 1 {
		t.Errorf("messages sent = %d, want 1", st.MessagesSent)
	}
}

func TestSetHandlerLate(t *testing.T) {
	h := NewHub(nil)
	robot := &RobotConnection{ID: "late"}
	msg, _ := protocol.NewMessage(protocol.TypeGPS, protocol.GPSData{Lat: 1, Lng: 2})
	data, _ := msg.Bytes()

	h.handleMessage(robot, data)
	if st := h.GetStats(); st.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", st.Rejected)
	}

	rec := &recorder{}
	h.SetHandler(rec)
	h.handleMessage(robot, data)
	if len(rec.gps) != 1 {
		t.Errorf("gps = %+v", rec.gps)
	}
}
