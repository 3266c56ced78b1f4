package reconcile

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// Opts holds configuration options for the reconciliation queue.
type Opts struct {
	SweepInterval   time.Duration
	ClockSkewOffset time.Duration
	MatchDeadline   time.Duration
	OnResult        func(models.SendResult)
}

// Option defines a configuration option for the reconciliation queue.
type Option func(*Opts)

// WithSweepInterval overrides the timeout sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithClockSkewOffset overrides the fixed SentAt backdate.
func WithClockSkewOffset(d time.Duration) Option {
	return func(o *Opts) { o.ClockSkewOffset = d }
}

// WithMatchDeadline overrides the default correlation window applied to
// requests that carry no deadline of their own.
func WithMatchDeadline(d time.Duration) Option {
	return func(o *Opts) { o.MatchDeadline = d }
}

// WithResultCallback registers a callback invoked on every terminal
// resolution, matched or timed out. The dispatcher hangs off this.
func WithResultCallback(fn func(models.SendResult)) Option {
	return func(o *Opts) { o.OnResult = fn }
}

// Queue holds pending send requests in insertion order. Both the listener
// (on match) and the sweep (on timeout) mutate it, so all access goes
// through the mutex.
type Queue struct {
	mu      sync.Mutex
	pending []*Handle
	stopped bool

	sweepInterval time.Duration
	skewOffset    time.Duration
	matchDeadline time.Duration
	onResult      func(models.SendResult)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewQueue creates a reconciliation queue. Call Start to begin the timeout
// sweep.
func NewQueue(opts ...Option) *Queue {
	cfg := Opts{
		SweepInterval:   DefaultSweepInterval,
		ClockSkewOffset: DefaultClockSkewOffset,
		MatchDeadline:   DefaultMatchDeadline,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Queue{
		sweepInterval: cfg.SweepInterval,
		skewOffset:    cfg.ClockSkewOffset,
		matchDeadline: cfg.MatchDeadline,
		onResult:      cfg.OnResult,
		done:          make(chan struct{}),
	}
}

// Start launches the timeout sweep.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.sweepLoop()
	slog.Debug("Reconciliation queue started", "sweep_interval", q.sweepInterval)
}

// Stop halts the sweep and times out every request still pending, so no
// caller is left waiting forever.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	remaining := q.pending
	q.pending = nil
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()

	for _, h := range remaining {
		q.finish(h, models.SendResult{Request: h.request, Err: models.ErrMatchTimeout})
	}
	slog.Info("Reconciliation queue stopped", "flushed", len(remaining))
}

// Enqueue registers a send request and returns its handle. SentAt is
// captured here with the fixed skew backdate unless the caller set it, and a
// default deadline is applied when the request carries none.
func (q *Queue) Enqueue(req *models.SendRequest) (*Handle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	if req.SentAt.IsZero() {
		req.SentAt = now.Add(-q.skewOffset)
	}
	if req.Deadline.IsZero() {
		req.Deadline = now.Add(q.matchDeadline)
	}

	handle := newHandle(req)
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, models.ErrQueueStopped
	}
	q.pending = append(q.pending, handle)
	n := len(q.pending)
	q.mu.Unlock()

	slog.Debug("Send request enqueued", "chat_id", req.ChatID, "is_attachment", req.IsAttachment,
		"intent", req.Intent, "deadline", req.Deadline, "pending", n)
	return handle, nil
}

// OnCandidate offers a detected new-message event to the queue. Pending
// requests are scanned in insertion order and the first match wins; the
// matched request is removed and resolved with the candidate. Returns true
// when the candidate was consumed, in which case the caller must not emit it
// as a fresh notification.
func (q *Queue) OnCandidate(event models.ChangeEvent) bool {
	q.mu.Lock()
	var matched *Handle
	for i, h := range q.pending {
		if matches(h.request, event) {
			matched = h
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if matched == nil {
		return false
	}
	slog.Debug("Send request matched", "chat_id", event.ChatID, "guid", event.GUID)
	q.finish(matched, models.SendResult{Request: matched.request, Event: event})
	return true
}

// ResolveByCorrelation resolves the pending request carrying the given
// correlation token, bypassing heuristic matching. Used when the private
// send channel returned an identifier that was re-fetched directly.
func (q *Queue) ResolveByCorrelation(correlationID string, event models.ChangeEvent) bool {
	if correlationID == "" {
		return false
	}
	q.mu.Lock()
	var matched *Handle
	for i, h := range q.pending {
		if h.request.CorrelationID == correlationID {
			matched = h
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	if matched == nil {
		return false
	}
	slog.Debug("Send request resolved by correlation", "correlation_id", correlationID, "guid", event.GUID)
	q.finish(matched, models.SendResult{Request: matched.request, Event: event})
	return true
}

// Resolve resolves a specific pending handle with a confirming event,
// bypassing heuristic matching. Used by the identifier re-fetch path after a
// private-channel send. Returns false when the handle already resolved.
func (q *Queue) Resolve(h *Handle, event models.ChangeEvent) bool {
	if !q.remove(h) {
		return false
	}
	slog.Debug("Send request resolved directly", "chat_id", h.request.ChatID, "guid", event.GUID)
	q.finish(h, models.SendResult{Request: h.request, Event: event})
	return true
}

// Abandon removes a pending handle and rejects it with err. Used when the
// send primitive itself failed: the error propagates synchronously to the
// caller and the request never enters the timeout window, so no result is
// forwarded to the dispatcher.
func (q *Queue) Abandon(h *Handle, err error) {
	if !q.remove(h) {
		return
	}
	h.resolve(models.SendResult{Request: h.request, Err: err})
}

// remove unlinks a handle from the pending list, reporting whether it was
// still pending.
func (q *Queue) remove(h *Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, pending := range q.pending {
		if pending == h {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// sweepLoop rejects requests past their deadline on a fixed cadence.
func (q *Queue) sweepLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			for _, h := range q.takeExpired(now) {
				slog.Debug("Send request timed out", "chat_id", h.request.ChatID, "deadline", h.request.Deadline)
				q.finish(h, models.SendResult{Request: h.request, Err: models.ErrMatchTimeout})
			}
		case <-q.done:
			return
		}
	}
}

// takeExpired removes and returns every pending request whose deadline has
// passed.
func (q *Queue) takeExpired(now time.Time) []*Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []*Handle
	kept := q.pending[:0]
	for _, h := range q.pending {
		if now.After(h.request.Deadline) {
			expired = append(expired, h)
		} else {
			kept = append(kept, h)
		}
	}
	q.pending = kept
	return expired
}

func (q *Queue) finish(h *Handle, res models.SendResult) {
	h.resolve(res)
	if q.onResult != nil {
		q.onResult(res)
	}
}
