// Package reconcile matches locally-initiated sends with their confirmed
// appearance in the message store.
//
// A caller enqueues a send request and receives a handle; the new-message
// listener offers every detected row as a candidate; the first pending
// request the candidate satisfies is resolved with it. Requests that never
// match are rejected with a timeout by a background sweep.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// Tuning constants. These are heuristics inherited from observed store
// latency, exported so deployments can override them through queue options.
const (
	// DefaultClockSkewOffset backdates a request's SentAt so a store whose
	// clock lags slightly still produces candidates at or after it.
	DefaultClockSkewOffset = 10 * time.Second
	// DefaultMatchDeadline is the correlation window for sends confirmed by
	// the fast polling path.
	DefaultMatchDeadline = 15 * time.Second
	// DefaultSideChannelDeadline is the longer window for sends confirmed
	// through the slower identifier side channel.
	DefaultSideChannelDeadline = 60 * time.Second
	// DefaultSweepInterval is the cadence of the timeout sweep. It must be
	// no coarser than the fast listener interval.
	DefaultSweepInterval = 500 * time.Millisecond
)

// Handle is the caller's side of a pending send request. Exactly one of
// match or timeout resolves it.
type Handle struct {
	request *models.SendRequest
	result  chan models.SendResult
	once    sync.Once
}

func newHandle(req *models.SendRequest) *Handle {
	return &Handle{
		request: req,
		result:  make(chan models.SendResult, 1),
	}
}

// Request returns the underlying send request.
func (h *Handle) Request() *models.SendRequest {
	return h.request
}

// Wait blocks until the request resolves or ctx is done. On a match it
// returns the confirming change event; on timeout it returns
// models.ErrMatchTimeout.
func (h *Handle) Wait(ctx context.Context) (models.ChangeEvent, error) {
	select {
	case res := <-h.result:
		return res.Event, res.Err
	case <-ctx.Done():
		return models.ChangeEvent{}, ctx.Err()
	}
}

// resolve delivers the terminal result. Safe against double resolution; the
// queue removes a request before resolving it, so the once is a guard, not a
// correctness mechanism.
func (h *Handle) resolve(res models.SendResult) {
	h.once.Do(func() {
		h.result <- res
	})
}
