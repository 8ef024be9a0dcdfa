package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/teslashibe/go-alzar/internal/httpc"
	"github.com/teslashibe/go-alzar/pkg/protocol"
)

// watchCmd creates the watch command.
func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow commentary and state changes from a running server",
		Flags: append(clientFlags(),
			&cli.BoolFlag{Name: "raw", Usage: "Print messages as received JSON"},
		),
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			wsURL, err := websocketURL(c.String("server"), "/ws")
			if err != nil {
				return err
			}
			return watch(ctx, wsURL, c.Bool("raw"), c.App.Writer)
		},
	}
}

// stateCmd creates the state command.
func stateCmd() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Print the current robot state",
		Flags: clientFlags(),
		Action: func(c *cli.Context) error {
			client := httpc.NewClient(c.Duration("timeout"))
			var out json.RawMessage
			endpoint := strings.TrimRight(c.String("server"), "/") + "/api/state"
			if err := httpc.GetJSON(c.Context, client, endpoint, nil, &out); err != nil {
				return fmt.Errorf("get state: %w", err)
			}
			return printJSON(c.App.Writer, out)
		},
	}
}

// askCmd creates the ask command.
func askCmd() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Request commentary, optionally answering a question",
		ArgsUsage: "[question]",
		Flags:     clientFlags(),
		Action: func(c *cli.Context) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			endpoint := strings.TrimRight(c.String("server"), "/") + "/api/commentary"

			req, err := httpc.NewJSONRequest(c.Context, endpoint, protocol.RequestCommentaryData{Question: question})
			if err != nil {
				return err
			}
			resp, err := httpc.NewClient(c.Duration("timeout")).Do(req)
			if err != nil {
				return fmt.Errorf("request commentary: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return &httpc.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			}

			var ack protocol.AckData
			if err := json.Unmarshal(body, &ack); err != nil {
				return fmt.Errorf("decode ack: %w", err)
			}
			if !ack.Accepted {
				return fmt.Errorf("not accepted: %s", ack.Reason)
			}
			fmt.Fprintf(c.App.Writer, "accepted (cycle %s)\n", ack.CycleID)
			return nil
		},
	}
}

// websocketURL turns an http(s) base URL into a ws(s) URL for path.
func websocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// watch prints dashboard messages until ctx is done or the server hangs up.
func watch(ctx context.Context, wsURL string, raw bool, w io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if raw {
			fmt.Fprintln(w, string(data))
			continue
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			fmt.Fprintf(w, "? %s\n", data)
			continue
		}
		if line := formatMessage(msg); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

// formatMessage renders a dashboard message as one human-readable line.
func formatMessage(msg *protocol.Message) string {
	switch msg.Type {
	case protocol.TypeCommentary:
		var e protocol.EntryData
		if msg.ParseData(&e) != nil {
			return ""
		}
		return fmt.Sprintf("%s [%s] %s", e.Timestamp.Format("15:04:05"), e.Source, e.Text)

	case protocol.TypeHistory:
		var h protocol.HistoryData
		if msg.ParseData(&h) != nil {
			return ""
		}
		lines := make([]string, 0, len(h.Entries))
		for _, e := range h.Entries {
			lines = append(lines, fmt.Sprintf("%s [%s] %s", e.Timestamp.Format("15:04:05"), e.Source, e.Text))
		}
		return strings.Join(lines, "\n")

	case protocol.TypeState:
		var s protocol.StateData
		if msg.ParseData(&s) != nil {
			return ""
		}
		return fmt.Sprintf("state v%d mode=%s camera=%s drone=%s tts=%t",
			s.Version, s.Mode, s.Camera, s.Drone, s.TTSEnabled)

	case protocol.TypeStateDiff:
		var d protocol.DiffData
		if msg.ParseData(&d) != nil {
			return ""
		}
		parts := make([]string, 0, len(d.Changes))
		for _, f := range d.Fields() {
			v, _ := json.Marshal(d.Changes[f])
			parts = append(parts, fmt.Sprintf("%s=%s", f, v))
		}
		return fmt.Sprintf("state v%d %s", d.Version, strings.Join(parts, " "))

	default:
		return ""
	}
}

func deadline() time.Time {
	return time.Now().Add(time.Second)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
