package timectrl

import (
	"sync"
	"time"
)

// WallClock reports host wall time. Tests substitute FakeWallClock.
type WallClock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FakeWallClock is a manually advanced WallClock for tests and replays.
type FakeWallClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeWallClock starts a fake clock at start.
func NewFakeWallClock(start time.Time) *FakeWallClock {
	return &FakeWallClock{now: start}
}

// Now returns the fake time.
func (c *FakeWallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the fake time to t.
func (c *FakeWallClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the fake time forward by d and returns the new time.
func (c *FakeWallClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// TickSource delivers host frame timestamps to the engine loop.
type TickSource interface {
	Ticks() <-chan time.Time
	Stop()
}

// TickerSource produces frames from a time.Ticker.
type TickerSource struct {
	t *time.Ticker
}

// NewTickerSource ticks every interval.
func NewTickerSource(interval time.Duration) *TickerSource {
	return &TickerSource{t: time.NewTicker(interval)}
}

// Ticks returns the ticker channel.
func (s *TickerSource) Ticks() <-chan time.Time { return s.t.C }

// Stop stops the ticker.
func (s *TickerSource) Stop() { s.t.Stop() }

// ManualTickSource lets tests inject frames one at a time.
type ManualTickSource struct {
	ch   chan time.Time
	once sync.Once
}

// NewManualTickSource creates an unbuffered manual source; Tick blocks until
// the engine loop receives the frame.
func NewManualTickSource() *ManualTickSource {
	return &ManualTickSource{ch: make(chan time.Time)}
}

// Tick delivers one frame timestamp.
func (s *ManualTickSource) Tick(t time.Time) { s.ch <- t }

// Ticks returns the frame channel.
func (s *ManualTickSource) Ticks() <-chan time.Time { return s.ch }

// Stop closes the frame channel. Further Tick calls panic.
func (s *ManualTickSource) Stop() { s.once.Do(func() { close(s.ch) }) }
