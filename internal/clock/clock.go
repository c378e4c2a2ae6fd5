// Package clock provides injectable time sources for the scheduler.
//
// Decision code never calls time.Now() directly: the scheduler asks its Clock
// for the evaluation instant and its TickerFactory for the periodic timer, so
// tests can own time instead of waiting on the wall clock.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// Real returns the actual system time.
type Real struct{}

// Now returns the current system time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fixed always returns the same instant.
type Fixed struct {
	T time.Time
}

// Now returns the fixed time.
func (c Fixed) Now() time.Time {
	return c.T
}

// Manual is a settable clock for tests that need time to move.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

// Ticker is a cancellable periodic tick source.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

// realTicker adapts time.Ticker to Ticker.
type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker is the production TickerFactory.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// ManualTicker only fires when Tick is called.
type ManualTicker struct {
	ch   chan time.Time
	once sync.Once
	done chan struct{}
}

// NewManualTicker returns a ManualTicker. The interval is ignored.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:   make(chan time.Time),
		done: make(chan struct{}),
	}
}

// C returns the tick channel.
func (m *ManualTicker) C() <-chan time.Time { return m.ch }

// Stop stops the ticker. Pending and future Tick calls return immediately.
func (m *ManualTicker) Stop() {
	m.once.Do(func() { close(m.done) })
}

// Tick delivers t to the receiver. It blocks until the tick is received or
// the ticker is stopped, and reports whether the tick was delivered.
func (m *ManualTicker) Tick(t time.Time) bool {
	select {
	case m.ch <- t:
		return true
	case <-m.done:
		return false
	}
}

// Factory returns a TickerFactory that always hands out m.
func (m *ManualTicker) Factory() TickerFactory {
	return func(time.Duration) Ticker { return m }
}

// Verify interface compliance at compile time.
var (
	_ Clock  = Real{}
	_ Clock  = Fixed{}
	_ Clock  = (*Manual)(nil)
	_ Ticker = realTicker{}
	_ Ticker = (*ManualTicker)(nil)
)
