package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/commentary"
	"github.com/teslashibe/go-alzar/pkg/protocol"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// DefaultReplaySize is how many commentary entries a new client receives.
const DefaultReplaySize = 20

// streamBuffer is the hub's own queue on the store and log subscriptions.
const streamBuffer = 1024

// StateSource is the state store as seen by the hub.
type StateSource interface {
	Snapshot() state.RobotState
	Subscribe(buffer int) *state.Subscription
}

// LogSource is the commentary log as seen by the hub.
type LogSource interface {
	Recent(n int) []commentary.Entry
	Since(id uint64) []commentary.Entry
	LastID() uint64
	Subscribe(buffer int) *commentary.Subscription
}

// Source bundles what the hub replays and follows.
type Source struct {
	State StateSource
	Log   LogSource
}

// Option configures a Hub.
type Option func(*Hub)

// WithReplaySize sets how many entries new clients receive.
func WithReplaySize(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.replay = n
		}
	}
}

// WithSendBuffer sets the per-client queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithObserver sets a callback that sees every live broadcast message.
// It runs on the hub loop and must not block.
func WithObserver(fn func(Message)) Option {
	return func(h *Hub) {
		h.observer = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name string

	source     Source
	replay     int
	sendBuffer int
	observer   func(Message)
	logger     *slog.Logger

	// Registered clients, owned by Run
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run exits
	done chan struct{}

	// Stream positions, owned by Run
	lastVersion uint64
	lastEntry   uint64

	// Mutex for counters (read-only access from outside)
	mu    sync.RWMutex
	stats Stats
}

// Stats are hub counters.
type Stats struct {
	Clients   int    `json:"clients"`
	Connected uint64 `json:"connected"`
	Evicted   uint64 `json:"evicted"`
	Diffs     uint64 `json:"diffs"`
	Entries   uint64 `json:"entries"`
	Resyncs   uint64 `json:"resyncs"`
	Dropped   uint64 `json:"dropped"`
}

// New creates a new Hub following source.
func New(name string, source Source, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		source:     source,
		replay:     DefaultReplaySize,
		sendBuffer: DefaultSendBuffer,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = log.OrDefault(h.logger, "hub").With("hub", name)
	return h
}

// Run starts the hub's main loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	diffs := h.source.State.Subscribe(streamBuffer)
	entries := h.source.Log.Subscribe(streamBuffer)
	defer diffs.Close()
	defer entries.Close()

	h.lastVersion = h.source.State.Snapshot().Version
	h.lastEntry = h.source.Log.LastID()

	defer close(h.done)
	defer h.closeAll()

	h.logger.Info("hub started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub stopped")
			return

		case client := <-h.register:
			h.admit(client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setClients()
				h.logger.Info("client disconnected", "client", client.ID, "delivered", client.Delivered(), "remaining", len(h.clients))
			}

		case d, ok := <-diffs.C:
			if !ok {
				return
			}
			h.publishDiff(d)

		case e, ok := <-entries.C:
			if !ok {
				return
			}
			h.publishEntry(e)

		case message := <-h.broadcast:
			h.fanout(message, func(*Client) bool { return true })
		}
	}
}

// admit sends the replay to a new client and starts live delivery.
func (h *Hub) admit(c *Client) {
	snap := h.source.State.Snapshot()
	base := h.source.Log.LastID()
	var history []commentary.Entry
	if h.replay > 0 {
		history = h.source.Log.Recent(h.replay)
	}

	c.baseVersion = snap.Version
	c.baseEntry = base
	if n := len(history); n > 0 && history[n-1].ID > c.baseEntry {
		c.baseEntry = history[n-1].ID
	}

	for _, build := range []func() (*protocol.Message, error){
		func() (*protocol.Message, error) { return protocol.NewStateMessage(snap) },
		func() (*protocol.Message, error) { return protocol.NewHistoryMessage(history) },
	} {
		msg, err := build()
		if err == nil {
			var m Message
			if m, err = NewJSONMessage(msg); err == nil {
				c.enqueue(m)
			}
		}
		if err != nil {
			h.logger.Error("encode replay", "error", err)
		}
	}

	h.clients[c] = true
	h.setClients()
	h.mu.Lock()
	h.stats.Connected++
	h.mu.Unlock()
	h.logger.Info("client connected", "client", c.ID, "version", snap.Version, "history", len(history), "total", len(h.clients))
}

func (h *Hub) publishDiff(d state.Diff) {
	if d.Version <= h.lastVersion {
		return
	}
	if d.Version != h.lastVersion+1 {
		h.resync()
		return
	}
	h.lastVersion = d.Version

	msg, err := protocol.NewDiffMessage(d)
	if err != nil {
		h.logger.Error("encode diff", "error", err)
		return
	}
	m, err := NewJSONMessage(msg)
	if err != nil {
		h.logger.Error("encode diff", "error", err)
		return
	}
	h.mu.Lock()
	h.stats.Diffs++
	h.mu.Unlock()
	h.fanout(m, func(c *Client) bool { return d.Version > c.baseVersion })
}

// resync replaces a gap in the diff stream with a full snapshot.
func (h *Hub) resync() {
	snap := h.source.State.Snapshot()
	h.logger.Warn("diff stream gap, resyncing", "from", h.lastVersion, "to", snap.Version)
	h.lastVersion = snap.Version

	msg, err := protocol.NewStateMessage(snap)
	if err != nil {
		h.logger.Error("encode state", "error", err)
		return
	}
	m, err := NewJSONMessage(msg)
	if err != nil {
		h.logger.Error("encode state", "error", err)
		return
	}
	h.mu.Lock()
	h.stats.Resyncs++
	h.mu.Unlock()
	h.fanout(m, func(c *Client) bool { return snap.Version > c.baseVersion })
	for c := range h.clients {
		if c.baseVersion < snap.Version {
			c.baseVersion = snap.Version
		}
	}
}

func (h *Hub) publishEntry(e commentary.Entry) {
	if e.ID <= h.lastEntry {
		return
	}
	batch := []commentary.Entry{e}
	if e.ID != h.lastEntry+1 {
		// subscription dropped some; recover whatever the log still holds
		batch = h.source.Log.Since(h.lastEntry)
	}

	for _, entry := range batch {
		if entry.ID <= h.lastEntry {
			continue
		}
		h.lastEntry = entry.ID

		msg, err := protocol.NewCommentaryMessage(entry)
		if err != nil {
			h.logger.Error("encode entry", "error", err)
			continue
		}
		m, err := NewJSONMessage(msg)
		if err != nil {
			h.logger.Error("encode entry", "error", err)
			continue
		}
		h.mu.Lock()
		h.stats.Entries++
		h.mu.Unlock()
		id := entry.ID
		h.fanout(m, func(c *Client) bool { return id > c.baseEntry })
	}
}

// fanout queues m for every client passing want. Clients whose buffer is full
// are too slow and are evicted.
func (h *Hub) fanout(m Message, want func(*Client) bool) {
	if h.observer != nil {
		h.observer(m)
	}
	evicted := 0
	for client := range h.clients {
		if !want(client) {
			continue
		}
		if !client.enqueue(m) {
			close(client.send)
			delete(h.clients, client)
			evicted++
			h.logger.Warn("dropped slow client", "client", client.ID, "delivered", client.Delivered())
		}
	}
	if evicted > 0 {
		h.mu.Lock()
		h.stats.Evicted += uint64(evicted)
		h.mu.Unlock()
		h.setClients()
	}
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.setClients()
}

func (h *Hub) setClients() {
	h.mu.Lock()
	h.stats.Clients = len(h.clients)
	h.mu.Unlock()
}

// Subscribe registers a new client. The client's queue starts with a state
// snapshot and the commentary history. If the hub is not running the
// returned client's queue is already closed.
func (h *Hub) Subscribe() *Client {
	c := newClient(h)
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
	return c
}

// Unsubscribe removes a client. Safe to call after eviction or shutdown.
func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends an extra message to all connected clients
func (h *Hub) Broadcast(msg *protocol.Message) {
	m, err := NewJSONMessage(msg)
	if err != nil {
		h.logger.Error("encode broadcast", "error", err)
		return
	}
	select {
	case h.broadcast <- m:
	default:
		// Broadcast channel full - drop message
		h.mu.Lock()
		h.stats.Dropped++
		h.mu.Unlock()
		h.logger.Warn("broadcast channel full, dropping message", "type", msg.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats.Clients
}

// Stats returns a copy of the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// Done is closed when Run has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
