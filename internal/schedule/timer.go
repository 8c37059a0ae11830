// Package schedule drives periodic aggregation: a named timer facility, the
// scheduler that reacts to its ticks under the aggregation lock, and the
// lifecycle service the host embeds.
package schedule

import (
	"sync"
	"time"
)

// Timer is the host scheduling primitive. Tick handlers receive the name of
// the timer that fired and must filter on it, since one facility can carry
// ticks for unrelated timers.
type Timer interface {
	// Schedule registers a periodic timer under name, replacing any timer
	// already registered under that name.
	Schedule(name string, period time.Duration)

	// Cancel stops the named timer. It reports whether a timer with that
	// name existed.
	Cancel(name string) bool

	// OnTick registers a handler for every tick of every timer. The
	// returned function deregisters the handler.
	OnTick(fn func(name string)) (remove func())
}

// TickerTimer implements Timer with one goroutine per named timer.
type TickerTimer struct {
	mu       sync.Mutex
	tickers  map[string]chan struct{}
	handlers map[int]func(string)
	nextID   int
	closed   bool
}

// NewTickerTimer creates an empty TickerTimer.
func NewTickerTimer() *TickerTimer {
	return &TickerTimer{
		tickers:  make(map[string]chan struct{}),
		handlers: make(map[int]func(string)),
	}
}

// Schedule starts a periodic timer under name. Scheduling an existing name
// stops the old timer first, so the period can be changed by re-scheduling.
func (t *TickerTimer) Schedule(name string, period time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if stop, ok := t.tickers[name]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	t.tickers[name] = stop

	go t.runTicker(name, period, stop)
}

func (t *TickerTimer) runTicker(name string, period time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.dispatch(name)
		}
	}
}

// dispatch delivers one tick to every registered handler. Handlers run on
// the ticker goroutine outside the lock so a slow handler cannot deadlock
// Schedule or Cancel calls made from another handler.
func (t *TickerTimer) dispatch(name string) {
	t.mu.Lock()
	handlers := make([]func(string), 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(name)
	}
}

// Cancel stops the named timer and reports whether it existed.
func (t *TickerTimer) Cancel(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	stop, ok := t.tickers[name]
	if !ok {
		return false
	}
	close(stop)
	delete(t.tickers, name)
	return true
}

// OnTick registers a tick handler and returns its removal function. The
// removal function is idempotent.
func (t *TickerTimer) OnTick(fn func(name string)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.handlers[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

// Close stops every timer and drops every handler. The TickerTimer cannot
// be reused afterwards.
func (t *TickerTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, stop := range t.tickers {
		close(stop)
		delete(t.tickers, name)
	}
	t.handlers = make(map[int]func(string))
	t.closed = true
}
