package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// captureSink records delivered events.
type captureSink struct {
	mu     sync.Mutex
	events []models.ChangeEvent
	err    error
}

func (s *captureSink) Deliver(event models.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *captureSink) all() []models.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChangeEvent(nil), s.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcherFansOutInOrder(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	d := NewDispatcher(a, b)
	d.Start()
	defer d.Stop()

	for _, text := range []string{"one", "two", "three"} {
		d.Dispatch(models.ChangeEvent{Kind: models.EventNewMessage, ChatID: "chat1", Text: text})
	}

	waitFor(t, func() bool { return len(a.all()) == 3 && len(b.all()) == 3 })
	for i, want := range []string{"one", "two", "three"} {
		if a.all()[i].Text != want {
			t.Errorf("sink a event %d = %q, want %q", i, a.all()[i].Text, want)
		}
		if b.all()[i].Text != want {
			t.Errorf("sink b event %d = %q, want %q", i, b.all()[i].Text, want)
		}
	}
}

func TestDispatcherSinkErrorDoesNotStopOthers(t *testing.T) {
	failing := &captureSink{err: errors.New("webhook down")}
	healthy := &captureSink{}
	d := NewDispatcher(failing, healthy)
	d.Start()
	defer d.Stop()

	d.Dispatch(models.ChangeEvent{Kind: models.EventNewMessage, ChatID: "chat1", Text: "hello"})
	waitFor(t, func() bool { return len(healthy.all()) == 1 })
}

func TestDispatchSendResultTagsKinds(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink)
	d.Start()
	defer d.Stop()

	req := &models.SendRequest{ChatID: "chat1", Text: "hello"}
	d.DispatchSendResult(models.SendResult{
		Request: req,
		Event:   models.ChangeEvent{Kind: models.EventNewMessage, ChatID: "chat1", GUID: "g1", Text: "hello"},
	})
	d.DispatchSendResult(models.SendResult{Request: req, Err: models.ErrMatchTimeout})

	waitFor(t, func() bool { return len(sink.all()) == 2 })
	events := sink.all()
	if events[0].Kind != models.EventMessageMatched || events[0].GUID != "g1" {
		t.Errorf("event 0 = %+v, want message-matched g1", events[0])
	}
	if events[1].Kind != models.EventMessageTimeout || events[1].ChatID != "chat1" {
		t.Errorf("event 1 = %+v, want message-timeout for chat1", events[1])
	}
}

func TestDispatchAfterStopIsDropped(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink)
	d.Start()
	d.Stop()

	d.Dispatch(models.ChangeEvent{Kind: models.EventNewMessage, ChatID: "chat1", Text: "late"})
	if d.QueueLen() != 0 {
		t.Error("event queued after stop")
	}
}

func TestDispatcherDropsPastQueueBound(t *testing.T) {
	d := NewDispatcher() // no sinks, worker never started so the queue only grows
	d.maxLen = 2
	for i := 0; i < 5; i++ {
		d.Dispatch(models.ChangeEvent{Kind: models.EventNewMessage, ChatID: "chat1"})
	}
	if d.QueueLen() != 2 {
		t.Errorf("QueueLen = %d, want bound of 2", d.QueueLen())
	}
}
