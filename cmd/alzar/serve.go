package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/urfave/cli/v2"

	"github.com/teslashibe/go-alzar/internal/config"
	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/bridge"
	"github.com/teslashibe/go-alzar/pkg/camera"
	"github.com/teslashibe/go-alzar/pkg/geo"
	"github.com/teslashibe/go-alzar/pkg/journal"
	"github.com/teslashibe/go-alzar/pkg/llm"
	"github.com/teslashibe/go-alzar/pkg/mission"
	"github.com/teslashibe/go-alzar/pkg/notable"
	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/relay"
	"github.com/teslashibe/go-alzar/pkg/speech"
	"github.com/teslashibe/go-alzar/pkg/web"
)

// serveCmd creates the serve command.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the mission-control server",
		Flags: serverFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			log.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// services are the optional collaborators built from configuration.
type services struct {
	frames  *camera.Buffer
	robots  *bridge.Hub
	llm     *llm.Client
	voice   *speech.OpenAI
	geo     *geo.Geocoder
	notable *notable.Filter
	relay   *relay.Relay
	journal *journal.Journal
}

// buildServices creates the vendor clients and sinks. Only configuration
// errors are returned; unreachable sinks are logged and left out.
func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (*services, mission.Deps, error) {
	s := &services{}
	s.frames = camera.New(camera.WithMaxAge(cfg.FrameMaxAge))
	s.robots = bridge.NewHub(nil, bridge.WithFrameSink(s.frames))

	deps := mission.Deps{
		Camera: s.frames,
		Robot:  s.robots,
		Speech: s.robots,
	}

	if cfg.HasLLM() {
		client, err := llm.NewClient(
			llm.WithBaseURL(cfg.LLMBaseURL),
			llm.WithAPIKey(cfg.LLMAPIKey),
			llm.WithVisionModel(cfg.VisionModel),
			llm.WithLanguageModel(cfg.LanguageModel),
			llm.WithTimeout(cfg.StageTimeout),
		)
		if err != nil {
			return nil, deps, err
		}
		s.llm = client
		deps.Vision, deps.Language, deps.Topics = client, client, client

		voice, err := speech.NewOpenAI(s.robots,
			speech.WithBaseURL(cfg.LLMBaseURL),
			speech.WithAPIKey(cfg.LLMAPIKey),
			speech.WithModel(cfg.SpeechModel),
			speech.WithVoice(cfg.SpeechVoice),
			speech.WithTimeout(cfg.SpeechTimeout),
		)
		if err != nil {
			return nil, deps, err
		}
		s.voice = voice
		deps.Speech = voice
	} else {
		logger.Warn("OPENAI_API_KEY not set, commentary cycles will fail and the robot speaks with its own voice")
		deps.Vision, deps.Language = offline{}, offline{}
	}

	if cfg.GeocoderURL != "" {
		s.geo = geo.New(cfg.GeocoderURL)
		deps.Geo = s.geo
	}

	if cfg.NotableRule != "" {
		f, err := notable.New(cfg.NotableRule)
		if err != nil {
			return nil, deps, err
		}
		s.notable = f
		deps.Notable = f
	}

	if cfg.RedisURL != "" {
		r, err := relay.Dial(ctx, cfg.RedisURL,
			relay.WithChannel(cfg.RedisChannel),
			relay.WithHistory(cfg.RedisHistoryKey, cfg.LogMax),
		)
		if err != nil {
			logger.Warn("redis relay disabled", "error", err)
		} else {
			s.relay = r
			deps.HubObservers = append(deps.HubObservers, r.Observe)
		}
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, nil)
		if err != nil {
			logger.Warn("journal disabled", "path", cfg.JournalPath, "error", err)
		} else {
			s.journal = j
		}
	}
	return s, deps, nil
}

// close releases everything buildServices opened.
func (s *services) close() {
	if s.relay != nil {
		s.relay.Close()
	}
	if s.journal != nil {
		s.journal.Close()
	}
	if s.voice != nil {
		s.voice.Close()
	}
	if s.llm != nil {
		s.llm.Close()
	}
}

// stats gathers counters from every component for /api/stats.
func (s *services) stats(m *mission.Mission) func() any {
	return func() any {
		out := fiber.Map{
			"mission": m.Stats(),
			"robots":  s.robots.GetStats(),
			"camera":  s.frames.Stats(),
		}
		if s.voice != nil {
			spoken, failures := s.voice.Stats()
			out["speech"] = fiber.Map{"spoken": spoken, "failures": failures}
		}
		if s.geo != nil {
			out["geo"] = s.geo.Stats()
		}
		if s.notable != nil {
			out["notable"] = fiber.Map{"rule": s.notable.Rule(), "stats": s.notable.Stats()}
		}
		if s.relay != nil {
			out["relay"] = s.relay.Stats()
		}
		return out
	}
}

// serve runs the server until ctx is done or the listener fails.
func serve(ctx context.Context, cfg config.Config) error {
	logger := log.Component("alzar")

	svc, deps, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	m, err := mission.New(deps, cfg)
	if err != nil {
		return err
	}
	svc.robots.SetHandler(m)

	opts := []web.Option{
		web.WithStaticDir(cfg.StaticDir),
		web.WithStats(svc.stats(m)),
		web.WithRoutes(func(app *fiber.App) {
			svc.robots.RegisterRoutes(app)
			svc.robots.RegisterAPIRoutes(app.Group("/api"))
			app.Get("/health", func(c *fiber.Ctx) error {
				return c.JSON(fiber.Map{
					"status":  "ok",
					"version": Version,
					"robots":  svc.robots.RobotCount(),
				})
			})
		}),
	}
	if svc.journal != nil {
		opts = append(opts, web.WithJournal(svc.journal))
	}
	srv := web.NewServer(cfg.Addr, m, m.Hub(), opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	run(func() { m.Run(ctx) })
	if svc.journal != nil {
		run(func() { svc.journal.Follow(ctx, m.Log()) })
	}
	if svc.relay != nil {
		run(func() {
			if err := svc.relay.Run(ctx, m.Log()); err != nil && ctx.Err() == nil {
				logger.Warn("relay stopped", "error", err)
			}
		})
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	logger.Info("alzar started",
		"addr", cfg.Addr,
		"version", Version,
		"llm", cfg.HasLLM(),
		"geocoder", svc.geo != nil,
		"journal", svc.journal != nil,
		"relay", svc.relay != nil,
	)

	var listenErr error
	select {
	case <-ctx.Done():
	case listenErr = <-errc:
		if listenErr != nil {
			listenErr = fmt.Errorf("listen %s: %w", cfg.Addr, listenErr)
		}
	}

	logger.Info("shutting down")
	cancel()

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		m.Close()
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown timed out")
	}
	return listenErr
}

// offline stands in for the vision and language services when no API key is
// configured. Every call fails so cycles end with a visible system entry.
type offline struct{}

func (offline) Describe(context.Context, observe.ImageRef, string) (string, error) {
	return "", fmt.Errorf("describe: %w", llm.ErrNoAPIKey)
}

func (offline) Generate(context.Context, observe.GenerateRequest) (string, error) {
	return "", fmt.Errorf("generate: %w", llm.ErrNoAPIKey)
}

var (
	_ bridge.Handler       = (*mission.Mission)(nil)
	_ mission.RobotLink    = (*bridge.Hub)(nil)
	_ observe.SpeechOutput = (*bridge.Hub)(nil)
	_ speech.Player        = (*bridge.Hub)(nil)
)
