// Package poller detects store mutations by polling and turns them into
// change events.
//
// Each listener owns a forward-only cursor and runs as an independent
// self-rescheduling timer loop: a tick's query and emission complete (or
// fail) before the next tick is scheduled, so no two ticks of the same
// listener ever overlap. Different listeners run concurrently with each
// other.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// Polling cadence constants. Message changes are polled fast; structural
// group changes are lower priority and polled at twice the period.
const (
	// DefaultPollInterval is the fast cadence for the message listeners.
	DefaultPollInterval = 1 * time.Second
	// DefaultGroupPollInterval is the slow cadence for the group listener.
	DefaultGroupPollInterval = 2 * DefaultPollInterval
)

// EventSink is where listeners emit change events. The dispatcher satisfies
// it.
type EventSink interface {
	Dispatch(event models.ChangeEvent)
}

// CandidateConsumer is consulted by the new-message listener before emitting
// a candidate. The reconciliation queue satisfies it; a true return means
// the candidate resolved a pending send and must not be re-emitted.
type CandidateConsumer interface {
	OnCandidate(event models.ChangeEvent) bool
}

// listener is the shared polling skeleton. Variants supply the name,
// interval, and tick body.
type listener struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) error

	nudge chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

func newListener(name string, interval time.Duration, tick func(ctx context.Context) error) *listener {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &listener{
		name:     name,
		interval: interval,
		tick:     tick,
		nudge:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. The loop never terminates on a transient
// tick failure; failed ticks are logged and retried on the next interval.
func (l *listener) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
	slog.Debug("Listener started", "listener", l.name, "interval", l.interval)
}

// Stop halts the loop after any in-flight tick finishes.
func (l *listener) Stop() {
	close(l.done)
	l.wg.Wait()
	slog.Info("Listener stopped", "listener", l.name)
}

// Nudge requests an early poll, e.g. when the store file visibly changed.
// Purely advisory; the interval timer remains the source of truth.
func (l *listener) Nudge() {
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

func (l *listener) run(ctx context.Context) {
	defer l.wg.Done()
	timer := time.NewTimer(l.interval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
		case <-l.nudge:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-l.done:
			return
		}
		if err := l.tick(ctx); err != nil {
			slog.Warn("Listener tick failed, will retry", "listener", l.name, "error", err)
		}
		timer.Reset(l.interval)
	}
}

// watermark is a forward-only poll cursor. The owning listener's tick is the
// only writer, but the status endpoint reads the value live, so access is
// mutex-guarded.
type watermark struct {
	mu sync.Mutex
	t  time.Time
}

func newWatermark(start time.Time) *watermark {
	return &watermark{t: start}
}

// Get returns the current cursor value.
func (w *watermark) Get() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t
}

// Advance moves the cursor to observed when that is later. Cursors only move
// forward, and only when a poll observed something.
func (w *watermark) Advance(observed time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if observed.After(w.t) {
		w.t = observed
	}
}
