package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/store"
)

// GroupListener detects structural chat changes (title and membership) by
// diffing the current snapshot of each touched chat against the previous
// snapshot it retains. Snapshots are engine-owned state keyed by chat ID and
// are only touched from the listener's own tick, so no locking is needed
// around them.
type GroupListener struct {
	*listener
	source store.MessageSource
	cache  *DedupCache
	sink   EventSink
	cursor *watermark

	snapshots  map[string]models.ChatSnapshot
	refreshAll atomic.Bool
}

// NewGroupListener creates the group-structure listener. The store handle is
// owned externally; the listener refuses to start without one.
func NewGroupListener(source store.MessageSource, cache *DedupCache, sink EventSink, interval time.Duration) (*GroupListener, error) {
	if source == nil {
		return nil, models.ErrNoStoreHandle
	}
	if interval <= 0 {
		interval = DefaultGroupPollInterval
	}
	l := &GroupListener{
		source:    source,
		cache:     cache,
		sink:      sink,
		cursor:    newWatermark(time.Now()),
		snapshots: make(map[string]models.ChatSnapshot),
	}
	l.listener = newListener("group-structure", interval, l.poll)
	return l, nil
}

// Cursor returns the current watermark.
func (l *GroupListener) Cursor() time.Time {
	return l.cursor.Get()
}

// RequestFullRefresh makes the next tick re-snapshot every known chat
// instead of only those touched since the cursor. The maintenance scheduler
// uses this to recover structural changes missed across long poll gaps.
func (l *GroupListener) RequestFullRefresh() {
	l.refreshAll.Store(true)
	l.Nudge()
}

func (l *GroupListener) poll(ctx context.Context) error {
	pollStart := time.Now()

	var chats []string
	if l.refreshAll.Swap(false) {
		chats = make([]string, 0, len(l.snapshots))
		for chatID := range l.snapshots {
			chats = append(chats, chatID)
		}
		slog.Debug("Group listener running full snapshot refresh", "chats", len(chats))
	} else {
		var err error
		chats, err = l.source.ChatsUpdatedSince(ctx, l.cursor.Get())
		if err != nil {
			return fmt.Errorf("updated chat poll failed: %w", err)
		}
	}
	if len(chats) == 0 {
		return nil
	}

	advanced := true
	for _, chatID := range chats {
		snapshot, err := l.source.ChatSnapshot(ctx, chatID)
		if err != nil {
			// Leave the cursor alone so the chat is retried next tick.
			// Already-diffed chats are harmless to revisit: their retained
			// snapshots are current, so the diff is empty.
			slog.Warn("Chat snapshot fetch failed, will retry", "chat_id", chatID, "error", err)
			advanced = false
			continue
		}
		if snapshot == nil {
			continue
		}
		l.diffAndEmit(chatID, *snapshot, pollStart)
	}
	if advanced {
		l.cursor.Advance(pollStart)
	}
	return nil
}

// diffAndEmit compares the new snapshot against the retained one and emits
// one event per structural delta. First-seen chats produce no events; there
// is no previous state to diff against, so only the snapshot is cached.
func (l *GroupListener) diffAndEmit(chatID string, current models.ChatSnapshot, observedAt time.Time) {
	previous, known := l.snapshots[chatID]
	l.snapshots[chatID] = current
	if !known {
		slog.Debug("Group listener caching first-seen chat", "chat_id", chatID)
		return
	}

	for _, event := range diffSnapshots(previous, current, observedAt) {
		key := groupDedupKey(event, previous)
		if l.cache.Has(key) {
			continue
		}
		l.cache.Add(key)
		l.sink.Dispatch(event)
	}
}

// diffSnapshots computes the structural deltas between two snapshots of the
// same chat. Emission order is fixed (name change, removals, additions,
// departures) so consumers see deterministic sequences regardless of store
// ordering.
func diffSnapshots(previous, current models.ChatSnapshot, observedAt time.Time) []models.ChangeEvent {
	var events []models.ChangeEvent

	if current.Title != previous.Title {
		events = append(events, models.ChangeEvent{
			Kind:       models.EventGroupNameChange,
			ChatID:     current.ChatID,
			GroupTitle: current.Title,
			SentAt:     observedAt,
		})
	}

	prevSet := make(map[string]struct{}, len(previous.Participants))
	for _, p := range previous.Participants {
		prevSet[p] = struct{}{}
	}
	curSet := make(map[string]struct{}, len(current.Participants))
	for _, p := range current.Participants {
		curSet[p] = struct{}{}
	}

	var removals, departures []models.ChangeEvent
	for _, p := range previous.Participants {
		if _, ok := curSet[p]; ok {
			continue
		}
		event := models.ChangeEvent{
			ChatID:      current.ChatID,
			Participant: p,
			SentAt:      observedAt,
		}
		// The store's own actor attribution decides removed vs left; it is
		// carried through verbatim, never reinterpreted here.
		if current.Actor == p {
			event.Kind = models.EventParticipantLeft
			departures = append(departures, event)
		} else {
			event.Kind = models.EventParticipantRemoved
			removals = append(removals, event)
		}
	}
	events = append(events, removals...)

	for _, p := range current.Participants {
		if _, ok := prevSet[p]; ok {
			continue
		}
		events = append(events, models.ChangeEvent{
			Kind:        models.EventParticipantAdded,
			ChatID:      current.ChatID,
			Participant: p,
			SentAt:      observedAt,
		})
	}

	events = append(events, departures...)
	return events
}

// groupDedupKey builds a cache key for a structural event. Like the message
// dedup key it encodes the state transition, not just the identity: the
// previous snapshot is folded in so the same delta observed from the same
// prior state is suppressed while a genuine repeat (remove, re-add, remove
// again) produces fresh keys.
func groupDedupKey(event models.ChangeEvent, previous models.ChatSnapshot) string {
	switch event.Kind {
	case models.EventGroupNameChange:
		return fmt.Sprintf("group:%s:name:%s->%s", event.ChatID, previous.Title, event.GroupTitle)
	default:
		return fmt.Sprintf("group:%s:%s:%s:from=%s", event.ChatID, event.Kind, event.Participant,
			strings.Join(previous.Participants, ","))
	}
}
