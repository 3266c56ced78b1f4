package poller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/store"
)

// MessageListener detects rows newly appended to the message store. Every
// surviving candidate is first offered to the reconciliation queue; only
// unmatched candidates surface as fresh new-message notifications.
type MessageListener struct {
	*listener
	source store.MessageSource
	cache  *DedupCache
	queue  CandidateConsumer
	sink   EventSink
	cursor *watermark
}

// NewMessageListener creates the new-message listener. The store handle is
// owned externally; the listener refuses to start without one.
func NewMessageListener(source store.MessageSource, cache *DedupCache, queue CandidateConsumer, sink EventSink, interval time.Duration) (*MessageListener, error) {
	if source == nil {
		return nil, models.ErrNoStoreHandle
	}
	l := &MessageListener{
		source: source,
		cache:  cache,
		queue:  queue,
		sink:   sink,
		cursor: newWatermark(time.Now()),
	}
	l.listener = newListener("new-message", interval, l.poll)
	return l, nil
}

// Cursor returns the current watermark, used by tests and the status
// endpoint.
func (l *MessageListener) Cursor() time.Time {
	return l.cursor.Get()
}

// poll runs one tick: query since the cursor, dedup, offer candidates to the
// reconciliation queue, and emit the rest in ascending timestamp order. A
// query failure leaves the cursor exactly where it was.
func (l *MessageListener) poll(ctx context.Context) error {
	rows, err := l.source.NewMessagesSince(ctx, l.cursor.Get())
	if err != nil {
		return fmt.Errorf("new message poll failed: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SentAt.Before(rows[j].SentAt)
	})

	for _, row := range rows {
		l.cursor.Advance(row.SentAt)
		key := row.DedupKey()
		if l.cache.Has(key) {
			continue
		}
		l.cache.Add(key)
		event := models.MessageEvent(models.EventNewMessage, row)
		if l.queue != nil && l.queue.OnCandidate(event) {
			// The candidate confirmed a pending send; it is consumed and
			// must not also propagate as an unmatched notification.
			continue
		}
		l.sink.Dispatch(event)
	}
	return nil
}
