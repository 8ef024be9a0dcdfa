// Package bridge provides the WebSocket link to the robot. The robot streams
// telemetry, drone confirmations, detections and camera frames in; the server
// sends movement, drone and speech commands out.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/drone"
	"github.com/teslashibe/go-alzar/pkg/protocol"
	"github.com/teslashibe/go-alzar/pkg/scheduler"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// ErrNotConnected is returned when no robot is connected.
var ErrNotConnected = errors.New("bridge: robot not connected")

// Handler receives robot events.
type Handler interface {
	UpdateGPS(fix state.GPSFix) (uint64, error)
	UpdateBattery(robot, drone *int) (uint64, error)
	ReportSpotted(label string, confidence float64, camera state.Camera) (bool, scheduler.Admission)
	LiftoffConfirmed()
	LandingConfirmed()
}

// FrameSink stores camera frames.
type FrameSink interface {
	Put(camera state.Camera, jpeg []byte, frameID uint64, at time.Time)
}

// RobotConnection represents a connected robot
type RobotConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send sends a message to the robot
func (r *RobotConnection) Send(msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	r.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return r.Conn.WriteMessage(websocket.TextMessage, data)
}

const writeWait = 10 * time.Second

// Option configures a Hub.
type Option func(*Hub)

// WithFrameSink sets where incoming camera frames go.
func WithFrameSink(f FrameSink) Option {
	return func(h *Hub) {
		h.frames = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// Hub manages WebSocket connections from robots
type Hub struct {
	mu     sync.RWMutex
	robots map[string]*RobotConnection

	handlerMu sync.RWMutex
	handler   Handler
	frames    FrameSink
	logger    *slog.Logger

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	rejected         atomic.Uint64
}

// NewHub creates a robot hub that forwards events to handler. Handler may be
// nil and set later with SetHandler; events arriving before then are dropped.
func NewHub(handler Handler, opts ...Option) *Hub {
	h := &Hub{
		robots:  make(map[string]*RobotConnection),
		handler: handler,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = log.OrDefault(h.logger, "bridge")
	return h
}

// SetHandler sets where robot events go.
func (h *Hub) SetHandler(handler Handler) {
	h.handlerMu.Lock()
	h.handler = handler
	h.handlerMu.Unlock()
}

func (h *Hub) getHandler() Handler {
	h.handlerMu.RLock()
	defer h.handlerMu.RUnlock()
	return h.handler
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws/robot", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Robot connection endpoint
	app.Get("/ws/robot", websocket.New(h.handleRobot))
	app.Get("/ws/robot/:id", websocket.New(h.handleRobot))
}

// handleRobot handles a robot WebSocket connection
func (h *Hub) handleRobot(c *websocket.Conn) {
	// Get robot ID from path or generate one
	robotID := c.Params("id")
	if robotID == "" {
		robotID = uuid.NewString()
	}

	robot := &RobotConnection{
		ID:        robotID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	if old, ok := h.robots[robotID]; ok {
		// a reconnect replaces the stale connection
		old.Conn.Close()
	}
	h.robots[robotID] = robot
	robotCount := len(h.robots)
	h.mu.Unlock()

	h.logger.Info("robot connected", "robot", robotID, "total", robotCount)

	defer func() {
		h.mu.Lock()
		if h.robots[robotID] == robot {
			delete(h.robots, robotID)
		}
		robotCount := len(h.robots)
		h.mu.Unlock()

		h.logger.Info("robot disconnected", "robot", robotID, "total", robotCount)
	}()

	// Read loop
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("robot read error", "robot", robotID, "error", err)
			return
		}

		robot.mu.Lock()
		robot.LastSeen = time.Now()
		robot.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(robot, data)
	}
}

// handleMessage processes an incoming message from a robot
func (h *Hub) handleMessage(robot *RobotConnection, data []byte) {
	logger := h.logger.With("robot", robot.ID)
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.rejected.Add(1)
		logger.Warn("parse error", "error", err)
		return
	}

	handler := h.getHandler()
	if handler == nil && msg.Type != protocol.TypeFrame && msg.Type != protocol.TypePing {
		h.reject(logger, msg.Type, errors.New("no handler"))
		return
	}

	switch msg.Type {
	case protocol.TypeFrame:
		h.framesReceived.Add(1)
		if h.frames == nil {
			return
		}
		frame, err := msg.GetFrameData()
		if err != nil {
			h.reject(logger, msg.Type, err)
			return
		}
		cam, err := state.ParseCamera(frame.Camera)
		if err != nil {
			h.reject(logger, msg.Type, err)
			return
		}
		jpeg, err := frame.DecodeFrameData()
		if err != nil {
			h.reject(logger, msg.Type, err)
			return
		}
		h.frames.Put(cam, jpeg, frame.FrameID, time.Now())

	case protocol.TypeGPS:
		gps, err := msg.GetGPSData()
		if err == nil {
			_, err = handler.UpdateGPS(state.GPSFix{Lat: gps.Lat, Lng: gps.Lng, Accuracy: gps.Accuracy})
		}
		if err != nil {
			h.reject(logger, msg.Type, err)
		}

	case protocol.TypeBattery:
		b, err := msg.GetBatteryData()
		if err == nil {
			_, err = handler.UpdateBattery(b.Robot, b.Drone)
		}
		if err != nil {
			h.reject(logger, msg.Type, err)
		}

	case protocol.TypeLiftoff:
		handler.LiftoffConfirmed()

	case protocol.TypeLanding:
		handler.LandingConfirmed()

	case protocol.TypeSpotted:
		sp, err := msg.GetSpottedData()
		if err != nil {
			h.reject(logger, msg.Type, err)
			return
		}
		cam := state.CameraGround
		if sp.Camera != "" {
			if cam, err = state.ParseCamera(sp.Camera); err != nil {
				h.reject(logger, msg.Type, err)
				return
			}
		}
		handler.ReportSpotted(sp.Label, sp.Confidence, cam)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			h.reject(logger, msg.Type, err)
			return
		}
		pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
		if err != nil {
			return
		}
		h.messagesSent.Add(1)
		if err := robot.Send(pong); err != nil {
			logger.Debug("pong failed", "error", err)
		}

	default:
		h.reject(logger, msg.Type, errors.New("unexpected message type"))
	}
}

func (h *Hub) reject(logger *slog.Logger, typ protocol.MessageType, err error) {
	h.rejected.Add(1)
	logger.Warn("rejected robot message", "type", typ, "error", err)
}

// SendMove forwards a drive intent. An empty direction stops.
func (h *Hub) SendMove(direction state.Direction) error {
	msg, err := protocol.NewMoveMessage(string(direction))
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

// SendDrone forwards a drone lifecycle command.
func (h *Hub) SendDrone(cmd drone.Command) error {
	msg, err := protocol.NewDroneMessage(string(cmd))
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

// Speak asks the robot to say text with its own voice.
func (h *Hub) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := protocol.NewSpeakMessage(text)
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

// PlayAudio sends synthesized speech to the robot's speaker.
func (h *Hub) PlayAudio(ctx context.Context, text, format string, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := protocol.NewSpeakAudioMessage(text, format, audio)
	if err != nil {
		return err
	}
	return h.Broadcast(msg)
}

// SendTo sends a message to a specific robot
func (h *Hub) SendTo(robotID string, msg *protocol.Message) error {
	h.mu.RLock()
	robot, ok := h.robots[robotID]
	h.mu.RUnlock()

	if !ok {
		return ErrNotConnected
	}

	h.messagesSent.Add(1)
	return robot.Send(msg)
}

// Broadcast sends a message to all connected robots. It fails only when no
// robot is connected or every send failed.
func (h *Hub) Broadcast(msg *protocol.Message) error {
	robots := h.GetRobots()
	if len(robots) == 0 {
		return ErrNotConnected
	}

	var errs []error
	for _, robot := range robots {
		h.messagesSent.Add(1)
		if err := robot.Send(msg); err != nil {
			h.logger.Warn("send to robot failed", "robot", robot.ID, "type", msg.Type, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(robots) {
		return errors.Join(errs...)
	}
	return nil
}

// GetRobot returns a robot connection by ID
func (h *Hub) GetRobot(robotID string) *RobotConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.robots[robotID]
}

// GetRobots returns all connected robots
func (h *Hub) GetRobots() []*RobotConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	robots := make([]*RobotConnection, 0, len(h.robots))
	for _, r := range h.robots {
		robots = append(robots, r)
	}
	return robots
}

// RobotCount returns the number of connected robots
func (h *Hub) RobotCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.robots)
}

// Stats contains hub statistics
type Stats struct {
	RobotCount       int    `json:"robot_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	Rejected         uint64 `json:"rejected"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		RobotCount:       h.RobotCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		Rejected:         h.rejected.Load(),
	}
}

// RobotInfo contains info about a connected robot
type RobotInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetRobotInfos returns info about all connected robots
func (h *Hub) GetRobotInfos() []RobotInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]RobotInfo, 0, len(h.robots))
	for _, r := range h.robots {
		infos = append(infos, r.info())
	}
	return infos
}

func (r *RobotConnection) info() RobotInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RobotInfo{
		ID:        r.ID,
		Connected: r.Connected,
		LastSeen:  r.LastSeen,
	}
}

// RegisterAPIRoutes registers API routes for robot management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	robots := api.Group("/robots")

	// List connected robots
	robots.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"robots": h.GetRobotInfos(),
			"count":  h.RobotCount(),
		})
	})

	// Get hub stats
	robots.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	// Get one robot
	robots.Get("/:id", func(c *fiber.Ctx) error {
		robot := h.GetRobot(c.Params("id"))
		if robot == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": ErrNotConnected.Error(),
			})
		}
		return c.JSON(robot.info())
	})

	// Make one robot say a line with its own voice
	robots.Post("/:id/speak", func(c *fiber.Ctx) error {
		var body protocol.SpeakData
		if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.Text) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "text is required",
			})
		}
		msg, err := protocol.NewSpeakMessage(body.Text)
		if err != nil {
			return err
		}
		if err := h.SendTo(c.Params("id"), msg); err != nil {
			status := fiber.StatusInternalServerError
			if errors.Is(err, ErrNotConnected) {
				status = fiber.StatusNotFound
			}
			return c.Status(status).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"sent": true})
	})
}
