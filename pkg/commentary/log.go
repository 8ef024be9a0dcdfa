// Package commentary holds the bounded, ordered log of commentary entries.
package commentary

import (
	"strings"
	"sync"
	"time"
)

// Source identifies who produced an entry.
type Source string

const (
	SourceCompanion Source = "companion"
	SourceSystem    Source = "system"
	SourceUser      Source = "user"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceCompanion || s == SourceSystem || s == SourceUser
}

// Entry is an immutable commentary line. IDs are unique and strictly increasing.
type Entry struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is a bounded in-memory log. When it exceeds max, the oldest entries are evicted.
type Log struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	nextID  uint64
	subs    map[*Subscription]struct{}
	now     func() time.Time
}

// NewLog creates a log holding at most max entries.
func NewLog(max int) *Log {
	if max < 1 {
		max = 1
	}
	return &Log{
		max:  max,
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Append adds an entry and notifies subscribers. Text is trimmed.
func (l *Log) Append(src Source, text string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	e := Entry{
		ID:        l.nextID,
		Text:      strings.TrimSpace(text),
		Source:    src,
		Timestamp: l.now(),
	}
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.max; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(l.entries, l.entries[over:])
		l.entries = l.entries[:n]
	}

	for sub := range l.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped++
		}
	}
	return e
}

// Recent returns up to n of the newest entries in original order.
// n <= 0 returns everything held.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recentLocked(n)
}

func (l *Log) recentLocked(n int) []Entry {
	start := 0
	if n > 0 && n < len(l.entries) {
		start = len(l.entries) - n
	}
	out := make([]Entry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Since returns entries with ID greater than id, in order.
func (l *Log) Since(id uint64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.ID > id {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Max returns the capacity of the log.
func (l *Log) Max() int {
	return l.max
}

// LastID returns the ID of the newest entry ever appended, or 0.
func (l *Log) LastID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID
}

// Subscription streams newly appended entries.
type Subscription struct {
	C <-chan Entry

	ch      chan Entry
	log     *Log
	dropped uint64
	closed  bool
}

// Subscribe registers a subscriber with the given buffer size.
func (l *Log) Subscribe(buffer int) *Subscription {
	sub, _ := l.SubscribeWithHistory(buffer, 0)
	return sub
}

// SubscribeWithHistory atomically registers a subscriber and returns the
// newest n entries that precede its first live entry.
func (l *Log) SubscribeWithHistory(buffer, n int) (*Subscription, []Entry) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Entry, buffer)
	sub := &Subscription{C: ch, ch: ch, log: l}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[sub] = struct{}{}
	var history []Entry
	if n > 0 {
		history = l.recentLocked(n)
	}
	return sub, history
}

// Dropped returns how many entries were dropped for this subscriber.
func (s *Subscription) Dropped() uint64 {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscriber and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.log.mu.Lock()
	defer s.log.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.log.subs, s)
	close(s.ch)
}
