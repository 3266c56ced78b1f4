// Package dispatch fans change events out to the notification boundary.
//
// The dispatcher performs no business logic. Listeners and the
// reconciliation queue hand it events; it forwards each one to every
// registered sink from a single worker goroutine. Producers never block on a
// slow sink: events are queued internally and the worker absorbs downstream
// latency.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// Constants for dispatcher configuration
const (
	// DefaultMaxQueuedEvents bounds the internal event queue. Past the bound
	// new events are dropped with a warning rather than stalling producers.
	DefaultMaxQueuedEvents = 10000
)

// Sink receives dispatched events. Deliver may block; the dispatcher worker
// absorbs that latency so listeners never feel it.
type Sink interface {
	Deliver(event models.ChangeEvent) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event models.ChangeEvent) error

// Deliver calls f.
func (f SinkFunc) Deliver(event models.ChangeEvent) error {
	return f(event)
}

// Dispatcher queues events from listeners and the reconciliation queue and
// forwards them to all sinks in arrival order.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []models.ChangeEvent
	sinks   []Sink
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
	maxLen  int
}

// NewDispatcher creates a dispatcher forwarding to the given sinks. Call
// Start before dispatching.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:  sinks,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		maxLen: DefaultMaxQueuedEvents,
	}
}

// AddSink registers an additional sink. Not safe to call after Start.
func (d *Dispatcher) AddSink(sink Sink) {
	d.sinks = append(d.sinks, sink)
}

// Start launches the forwarding worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	slog.Debug("Dispatcher started", "sinks", len(d.sinks))
}

// Stop drains the queue and stops the worker. Events dispatched after Stop
// are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()
	close(d.done)
	d.wg.Wait()
	slog.Info("Dispatcher stopped")
}

// Dispatch queues one change event. It never blocks; when the internal queue
// is full the event is dropped with a warning.
func (d *Dispatcher) Dispatch(event models.ChangeEvent) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		slog.Warn("Dispatcher received event after stop, dropping", "kind", event.Kind, "chat_id", event.ChatID)
		return
	}
	if len(d.queue) >= d.maxLen {
		d.mu.Unlock()
		slog.Warn("Dispatcher queue full, dropping event", "kind", event.Kind, "chat_id", event.ChatID, "max", d.maxLen)
		return
	}
	d.queue = append(d.queue, event)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// DispatchSendResult forwards a terminal send outcome with its stable
// event-kind tag: message-matched on success, message-timeout on expiry.
func (d *Dispatcher) DispatchSendResult(result models.SendResult) {
	if result.Err != nil {
		d.Dispatch(models.ChangeEvent{
			Kind:   models.EventMessageTimeout,
			ChatID: result.Request.ChatID,
			Text:   result.Request.Text,
		})
		return
	}
	event := result.Event
	event.Kind = models.EventMessageMatched
	d.Dispatch(event)
}

// QueueLen reports the number of events waiting for delivery.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		batch := d.takeBatch()
		for _, event := range batch {
			d.deliver(event)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-d.wake:
		case <-d.done:
			// Drain whatever arrived before stop.
			for _, event := range d.takeBatch() {
				d.deliver(event)
			}
			return
		}
	}
}

func (d *Dispatcher) takeBatch() []models.ChangeEvent {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()
	return batch
}

func (d *Dispatcher) deliver(event models.ChangeEvent) {
	for _, sink := range d.sinks {
		if err := sink.Deliver(event); err != nil {
			slog.Error("Dispatcher sink delivery failed", "error", err, "kind", event.Kind, "chat_id", event.ChatID)
		}
	}
}
