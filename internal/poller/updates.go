package poller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/store"
)

// UpdateListener detects rows whose mutable fields changed after first
// emission, i.e. delivery or read timestamps newly populated. The dedup key
// encodes those timestamps, so the same guid in a new state is emitted again
// while an unchanged row re-seen on an overlapping window is suppressed.
type UpdateListener struct {
	*listener
	source store.MessageSource
	cache  *DedupCache
	sink   EventSink
	cursor *watermark
}

// NewUpdateListener creates the updated-message listener. The store handle
// is owned externally; the listener refuses to start without one.
func NewUpdateListener(source store.MessageSource, cache *DedupCache, sink EventSink, interval time.Duration) (*UpdateListener, error) {
	if source == nil {
		return nil, models.ErrNoStoreHandle
	}
	l := &UpdateListener{
		source: source,
		cache:  cache,
		sink:   sink,
		cursor: newWatermark(time.Now()),
	}
	l.listener = newListener("updated-message", interval, l.poll)
	return l, nil
}

// Cursor returns the current watermark.
func (l *UpdateListener) Cursor() time.Time {
	return l.cursor.Get()
}

func (l *UpdateListener) poll(ctx context.Context) error {
	rows, err := l.source.UpdatedMessagesSince(ctx, l.cursor.Get())
	if err != nil {
		return fmt.Errorf("updated message poll failed: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SentAt.Before(rows[j].SentAt)
	})

	for _, row := range rows {
		// The ordering value for this listener is the newest mutable
		// timestamp on the row, not the append time.
		l.cursor.Advance(row.DeliveredAt)
		l.cursor.Advance(row.ReadAt)

		key := row.DedupKey()
		if l.cache.Has(key) {
			continue
		}
		l.cache.Add(key)
		l.sink.Dispatch(models.MessageEvent(models.EventUpdatedMessage, row))
	}
	return nil
}
