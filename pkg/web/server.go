// Package web serves the mission-control HTTP API and the dashboard websocket.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/commentary"
	"github.com/teslashibe/go-alzar/pkg/hub"
	"github.com/teslashibe/go-alzar/pkg/journal"
	"github.com/teslashibe/go-alzar/pkg/scheduler"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// Commands is the command surface the server drives.
type Commands interface {
	Snapshot() state.RobotState
	Recent(n int) []commentary.Entry

	SetMode(mode string) (uint64, error)
	SetCamera(camera string) (uint64, error)
	RequestCommentary(question string) scheduler.Admission
	DroneLaunch(ctx context.Context) error
	DroneReturn(ctx context.Context) error
	SetTTS(enabled bool) (uint64, error)
	Move(direction *string) (uint64, error)
	ResetScene()
}

// Subscriber hands out dashboard subscriptions.
type Subscriber interface {
	Subscribe() *hub.Client
}

// JournalReader reads the persisted commentary journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Record, error)
}

// Option configures a Server.
type Option func(*Server)

// WithStaticDir serves dashboard assets from dir.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithJournal enables GET /api/journal.
func WithJournal(j JournalReader) Option {
	return func(s *Server) {
		s.journal = j
	}
}

// WithStats sets the source for GET /api/stats.
func WithStats(fn func() any) Option {
	return func(s *Server) {
		s.stats = fn
	}
}

// WithRoutes lets other components mount routes on the app before the
// static handler, such as the robot link.
func WithRoutes(fn func(app *fiber.App)) Option {
	return func(s *Server) {
		s.extra = append(s.extra, fn)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server is the mission-control web server
type Server struct {
	app  *fiber.App
	addr string

	commands  Commands
	subs      Subscriber
	journal   JournalReader
	stats     func() any
	staticDir string
	extra     []func(*fiber.App)
	logger    *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, commands Commands, subs Subscriber, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		commands: commands,
		subs:     subs,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDefault(s.logger, "web")

	app := fiber.New(fiber.Config{
		AppName:               "Alzar Mission Control",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		app.Use(logger.New())
	}
	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/commentary", s.handleCommentary)
	api.Get("/stats", s.handleStats)
	api.Get("/journal", s.handleJournal)
	api.Post("/commands/:type", s.handleCommand)
	for path, typ := range commandRoutes {
		api.Post(path, s.commandHandler(typ))
	}

	for _, fn := range s.extra {
		fn(app)
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleDashboardWS))

	if s.staticDir != "" {
		app.Static("/", s.staticDir)
	}

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
