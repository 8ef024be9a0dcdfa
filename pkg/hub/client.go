package hub

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultSendBuffer is the per-client queue length. A client that falls this
// far behind is evicted.
const DefaultSendBuffer = 256

// Client is one subscriber. Its transport reads from Send until it is closed.
type Client struct {
	ID string

	hub  *Hub
	send chan Message

	// baselines from the replay; live events at or below them are skipped
	baseVersion uint64
	baseEntry   uint64

	delivered atomic.Uint64
}

func newClient(h *Hub) *Client {
	return &Client{
		ID:   uuid.NewString(),
		hub:  h,
		send: make(chan Message, h.sendBuffer),
	}
}

// Send returns the client's outbound queue. It is closed when the client is
// unsubscribed, evicted, or the hub stops.
func (c *Client) Send() <-chan Message {
	return c.send
}

// Delivered returns how many messages were queued for this client.
func (c *Client) Delivered() uint64 {
	return c.delivered.Load()
}

// Close unsubscribes the client.
func (c *Client) Close() {
	c.hub.Unsubscribe(c)
}

// enqueue reports false when the client's buffer is full.
func (c *Client) enqueue(m Message) bool {
	select {
	case c.send <- m:
		c.delivered.Add(1)
		return true
	default:
		return false
	}
}
