package web

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-alzar/pkg/hub"
	"github.com/teslashibe/go-alzar/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound command messages
	maxMessageSize = 64 * 1024

	replyBuffer = 16
)

// handleDashboardWS streams state and commentary to one dashboard and accepts
// commands from it. Each command is answered with an ack or an error carrying
// the command's id.
func (s *Server) handleDashboardWS(conn *websocket.Conn) {
	client := s.subs.Subscribe()
	replies := make(chan []byte, replyBuffer)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	s.logger.Info("dashboard connected", "client", client.ID, "remote", conn.RemoteAddr())

	go func() {
		defer close(writerDone)
		s.writePump(conn, client, replies, done)
	}()
	s.readPump(conn, client, replies)

	close(done)
	<-writerDone
	s.logger.Info("dashboard disconnected", "client", client.ID, "delivered", client.Delivered())
}

// readPump reads commands until the connection closes.
func (s *Server) readPump(conn *websocket.Conn, client *hub.Client, replies chan<- []byte) {
	defer client.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("dashboard read error", "client", client.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := s.handleDashboardMessage(data)
		if reply == nil {
			continue
		}
		b, err := reply.Bytes()
		if err != nil {
			s.logger.Error("encode reply", "error", err)
			continue
		}
		select {
		case replies <- b:
		default:
			s.logger.Warn("reply queue full, dropping reply", "client", client.ID, "type", reply.Type)
		}
	}
}

// handleDashboardMessage runs one inbound message and returns the reply.
func (s *Server) handleDashboardMessage(data []byte) *protocol.Message {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		reply, _ := protocol.NewErrorMessage("", "", CodeBadMessage, err.Error())
		return reply
	}

	if msg.Type == protocol.TypePing {
		ping, err := msg.GetPingData()
		if err != nil {
			reply, _ := protocol.NewErrorMessage(msg.ID, msg.Type, CodeBadMessage, err.Error())
			return reply
		}
		reply, _ := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
		return reply
	}

	if !msg.Type.IsCommand() {
		reply, _ := protocol.NewErrorMessage(msg.ID, msg.Type, CodeInvalidCommand, "unknown command "+string(msg.Type))
		return reply
	}

	ack, err := s.execute(context.Background(), msg.Type, msg.Data)
	if err != nil {
		_, code := classify(err)
		reply, _ := protocol.NewErrorMessage(msg.ID, msg.Type, code, err.Error())
		return reply
	}
	reply, _ := protocol.NewAckMessage(msg.ID, ack)
	return reply
}

// writePump is the only goroutine that writes to conn.
func (s *Server) writePump(conn *websocket.Conn, client *hub.Client, replies <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the queue - send close frame
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if message.Type == hub.BinaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(wsType, message.Data); err != nil {
				return
			}

		case b := <-replies:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
