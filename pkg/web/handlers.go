package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-alzar/pkg/drone"
	"github.com/teslashibe/go-alzar/pkg/mission"
	"github.com/teslashibe/go-alzar/pkg/protocol"
	"github.com/teslashibe/go-alzar/pkg/state"
)

const (
	defaultCommentaryLimit = 50
	defaultJournalLimit    = 100
)

// Error codes carried in protocol error messages.
const (
	CodeInvalidCommand    = "invalid_command"
	CodeInvalidTransition = "invalid_transition"
	CodeBadMessage        = "bad_message"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

var (
	// ErrUnknownCommand is returned for a message type that is not a command.
	ErrUnknownCommand = errors.New("web: unknown command")
	// ErrBadPayload is returned when command data cannot be decoded.
	ErrBadPayload = errors.New("web: bad payload")
)

// commandRoutes maps REST paths under /api to commands.
var commandRoutes = map[string]protocol.MessageType{
	"/mode":         protocol.TypeSetMode,
	"/camera":       protocol.TypeSetCamera,
	"/commentary":   protocol.TypeRequestCommentary,
	"/drone/launch": protocol.TypeDroneLaunch,
	"/drone/return": protocol.TypeDroneReturn,
	"/tts":          protocol.TypeSetTTS,
	"/move":         protocol.TypeMove,
	"/scene/reset":  protocol.TypeResetScene,
}

// execute runs one command. Admission rejections are reported in the ack, not
// as errors.
func (s *Server) execute(ctx context.Context, typ protocol.MessageType, data json.RawMessage) (protocol.AckData, error) {
	ack := protocol.AckData{Command: typ, Accepted: true}
	decode := func(v any) error {
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return nil
	}

	var err error
	switch typ {
	case protocol.TypeSetMode:
		var d protocol.SetModeData
		if err = decode(&d); err == nil {
			ack.Version, err = s.commands.SetMode(d.Mode)
		}

	case protocol.TypeSetCamera:
		var d protocol.SetCameraData
		if err = decode(&d); err == nil {
			ack.Version, err = s.commands.SetCamera(d.Camera)
		}

	case protocol.TypeRequestCommentary:
		var d protocol.RequestCommentaryData
		if err = decode(&d); err == nil {
			adm := s.commands.RequestCommentary(d.Question)
			ack.Accepted = adm.Accepted
			ack.Reason = string(adm.Reason)
			ack.CycleID = adm.CycleID
		}

	case protocol.TypeDroneLaunch:
		if err = s.commands.DroneLaunch(ctx); err == nil {
			ack.Version = s.commands.Snapshot().Version
		}

	case protocol.TypeDroneReturn:
		if err = s.commands.DroneReturn(ctx); err == nil {
			ack.Version = s.commands.Snapshot().Version
		}

	case protocol.TypeSetTTS:
		var d protocol.SetTTSData
		if err = decode(&d); err == nil {
			ack.Version, err = s.commands.SetTTS(d.Enabled)
		}

	case protocol.TypeMove:
		var d protocol.MoveData
		if err = decode(&d); err == nil {
			ack.Version, err = s.commands.Move(d.Direction)
		}

	case protocol.TypeResetScene:
		s.commands.ResetScene()

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, typ)
	}
	if err != nil {
		return protocol.AckData{}, err
	}
	return ack, nil
}

// classify maps a command error to an HTTP status and protocol error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, drone.ErrInvalidTransition):
		return fiber.StatusConflict, CodeInvalidTransition
	case errors.Is(err, drone.ErrClosed):
		return fiber.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, ErrBadPayload):
		return fiber.StatusBadRequest, CodeBadMessage
	case errors.Is(err, mission.ErrInvalidCommand),
		errors.Is(err, ErrUnknownCommand),
		errors.Is(err, state.ErrInvalidValue):
		return fiber.StatusBadRequest, CodeInvalidCommand
	default:
		return fiber.StatusInternalServerError, CodeInternal
	}
}

// handleState returns the current state snapshot
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.commands.Snapshot())
}

// handleCommentary returns recent commentary, oldest first
func (s *Server) handleCommentary(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultCommentaryLimit)
	if limit <= 0 {
		limit = defaultCommentaryLimit
	}
	return c.JSON(fiber.Map{
		"entries": s.commands.Recent(limit),
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	if s.stats == nil {
		return c.JSON(fiber.Map{})
	}
	return c.JSON(s.stats())
}

// handleJournal returns persisted entries, newest first
func (s *Server) handleJournal(c *fiber.Ctx) error {
	if s.journal == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "journal not enabled",
		})
	}
	limit := c.QueryInt("limit", defaultJournalLimit)
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	records, err := s.journal.Recent(c.UserContext(), limit)
	if err != nil {
		s.logger.Error("read journal", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"records": records,
	})
}

// handleCommand runs the command named in the path with the body as data
func (s *Server) handleCommand(c *fiber.Ctx) error {
	typ := protocol.MessageType(c.Params("type"))
	if !typ.IsCommand() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("unknown command %q", typ),
		})
	}
	return s.respond(c, typ)
}

func (s *Server) commandHandler(typ protocol.MessageType) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return s.respond(c, typ)
	}
}

func (s *Server) respond(c *fiber.Ctx, typ protocol.MessageType) error {
	body := append([]byte(nil), c.Body()...)
	ack, err := s.execute(c.UserContext(), typ, body)
	if err != nil {
		status, code := classify(err)
		if status == fiber.StatusInternalServerError {
			s.logger.Error("command failed", "command", typ, "error", err)
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   err.Error(),
			"code":    code,
			"command": typ,
		})
	}
	return c.JSON(ack)
}
