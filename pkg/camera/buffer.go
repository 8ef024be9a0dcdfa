// Package camera keeps the latest frame per camera and serves it to the
// observation pipeline. Frames are overwritten, never queued: a cycle only
// ever wants what the robot sees now.
package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// DefaultMaxAge is how old a frame may be before capture refuses it.
const DefaultMaxAge = 5 * time.Second

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxAge sets the staleness limit.
func WithMaxAge(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.maxAge = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// Buffer holds one latest frame per camera.
type Buffer struct {
	maxAge time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	frames map[state.Camera]observe.ImageRef

	received    atomic.Uint64
	overwritten atomic.Uint64
	captures    atomic.Uint64
	misses      atomic.Uint64
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		maxAge: DefaultMaxAge,
		now:    time.Now,
		frames: make(map[state.Camera]observe.ImageRef),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Put stores a frame, replacing any older one from the same camera. A frame
// with a lower id than the stored one is ignored.
func (b *Buffer) Put(cam state.Camera, jpeg []byte, frameID uint64, at time.Time) {
	if len(jpeg) == 0 {
		return
	}
	b.received.Add(1)
	img := observe.ImageRef{
		Camera:     cam,
		JPEG:       append([]byte(nil), jpeg...),
		CapturedAt: at,
		FrameID:    frameID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.frames[cam]; ok {
		if frameID != 0 && frameID < prev.FrameID {
			return
		}
		b.overwritten.Add(1)
	}
	b.frames[cam] = img
}

// Latest returns the stored frame for cam regardless of age.
func (b *Buffer) Latest(cam state.Camera) (observe.ImageRef, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	img, ok := b.frames[cam]
	return img, ok
}

// Capture implements observe.CameraSource. It fails with
// observe.ErrCaptureUnavailable when no fresh frame exists.
func (b *Buffer) Capture(ctx context.Context, cam state.Camera) (observe.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return observe.ImageRef{}, err
	}
	img, ok := b.Latest(cam)
	if !ok {
		b.misses.Add(1)
		return observe.ImageRef{}, fmt.Errorf("%w: no %s frame", observe.ErrCaptureUnavailable, cam)
	}
	if age := b.now().Sub(img.CapturedAt); age > b.maxAge {
		b.misses.Add(1)
		return observe.ImageRef{}, fmt.Errorf("%w: %s frame is %s old", observe.ErrCaptureUnavailable, cam, age.Round(time.Millisecond))
	}
	b.captures.Add(1)
	return img, nil
}

// Stats are buffer counters.
type Stats struct {
	Received    uint64 `json:"received"`
	Overwritten uint64 `json:"overwritten"`
	Captures    uint64 `json:"captures"`
	Misses      uint64 `json:"misses"`
}

// Stats returns buffer counters.
func (b *Buffer) Stats() Stats {
	return Stats{
		Received:    b.received.Load(),
		Overwritten: b.overwritten.Load(),
		Captures:    b.captures.Load(),
		Misses:      b.misses.Load(),
	}
}
