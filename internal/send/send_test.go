package send

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/poller"
	"github.com/BTreeMap/MessagePipe/internal/reconcile"
)

func TestNormalizedTransferName(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/tmp/uploads/voice.mp3", "voice.caf"},
		{"/tmp/uploads/voice.MP3", "voice.caf"},
		{"clip.wav", "clip.caf"},
		{"song.ogg", "song.caf"},
		{"take.flac", "take.caf"},
		{"/tmp/photo.png", "photo.png"},
		{"notes.txt", "notes.txt"},
		{"archive", "archive"},
	}
	for _, c := range cases {
		if got := NormalizedTransferName(c.path); got != c.want {
			t.Errorf("NormalizedTransferName(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

// fakePrimary records sends and optionally fails.
type fakePrimary struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakePrimary) Send(_ context.Context, chatID, text, attachmentPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

// fakePrivate returns a fixed identifier and records the transmitted payload.
type fakePrivate struct {
	mu      sync.Mutex
	guid    string
	err     error
	payload models.SendRequest
}

func (f *fakePrivate) Send(_ context.Context, chatID string, payload models.SendRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = payload
	return f.guid, f.err
}

func (f *fakePrivate) lastPayload() models.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload
}

// fakeGUIDSource serves one row by identifier after a configurable number of
// misses.
type fakeGUIDSource struct {
	mu     sync.Mutex
	misses int
	row    *models.Message
}

func (f *fakeGUIDSource) NewMessagesSince(context.Context, time.Time) ([]models.Message, error) {
	return nil, nil
}
func (f *fakeGUIDSource) UpdatedMessagesSince(context.Context, time.Time) ([]models.Message, error) {
	return nil, nil
}
func (f *fakeGUIDSource) ChatsUpdatedSince(context.Context, time.Time) ([]string, error) {
	return nil, nil
}
func (f *fakeGUIDSource) ChatSnapshot(context.Context, string) (*models.ChatSnapshot, error) {
	return nil, nil
}
func (f *fakeGUIDSource) MessageByGUID(_ context.Context, guid string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, nil
	}
	if f.row != nil && f.row.GUID == guid {
		row := *f.row
		return &row, nil
	}
	return nil, nil
}

func TestSendPrimarySetsTransferName(t *testing.T) {
	queue := reconcile.NewQueue()
	primary := &fakePrimary{}
	outbox := NewOutbox(queue, primary, nil, &fakeGUIDSource{}, poller.NewDedupCache(10))

	req := &models.SendRequest{ChatID: "chat1", Intent: models.IntentPlain, AttachmentPath: "/tmp/voice.mp3"}
	handle, err := outbox.SendPrimary(context.Background(), req)
	if err != nil {
		t.Fatalf("SendPrimary: %v", err)
	}
	if handle == nil {
		t.Fatal("nil handle")
	}
	if !req.IsAttachment || req.TransferName != "voice.caf" {
		t.Errorf("request = %+v, want attachment with transcoded transfer name", req)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if queue.Len() != 1 {
		t.Errorf("queue Len = %d, want 1 pending", queue.Len())
	}
}

func TestSendPrimaryFailurePropagatesSynchronously(t *testing.T) {
	queue := reconcile.NewQueue()
	sendErr := errors.New("applescript failed")
	primary := &fakePrimary{err: sendErr}
	outbox := NewOutbox(queue, primary, nil, &fakeGUIDSource{}, poller.NewDedupCache(10))

	req := &models.SendRequest{ChatID: "chat1", Text: "hello", Intent: models.IntentPlain}
	if _, err := outbox.SendPrimary(context.Background(), req); !errors.Is(err, sendErr) {
		t.Fatalf("expected the primitive error, got %v", err)
	}
	// The failed request never enters the timeout window.
	if queue.Len() != 0 {
		t.Errorf("queue Len = %d, want 0 after failed send", queue.Len())
	}
}

func TestSendPrimaryWithoutChannel(t *testing.T) {
	queue := reconcile.NewQueue()
	outbox := NewOutbox(queue, nil, nil, &fakeGUIDSource{}, poller.NewDedupCache(10))
	req := &models.SendRequest{ChatID: "chat1", Text: "hello", Intent: models.IntentPlain}
	if _, err := outbox.SendPrimary(context.Background(), req); err == nil {
		t.Fatal("expected error when primary channel is not configured")
	}
}

func TestSendPrivateResolvesByIdentifierLookup(t *testing.T) {
	queue := reconcile.NewQueue()
	cache := poller.NewDedupCache(10)
	row := &models.Message{GUID: "g42", ChatID: "chat1", Text: "hello", SentAt: time.Now()}
	source := &fakeGUIDSource{misses: 1, row: row}
	outbox := NewOutbox(queue, nil, &fakePrivate{guid: "g42"}, source, cache,
		WithGUIDFetchRetries(5), WithGUIDFetchInterval(10*time.Millisecond))

	req := &models.SendRequest{ChatID: "chat1", Text: "hello", Intent: models.IntentPlain}
	handle, err := outbox.SendPrivate(context.Background(), req)
	if err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	event, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if event.GUID != "g42" || event.Kind != models.EventNewMessage {
		t.Errorf("resolved event = %+v, want new-message g42", event)
	}
	// The confirmed row is pre-seeded into the dedup cache so the listener
	// does not re-surface our own send.
	if !cache.Has(row.DedupKey()) {
		t.Error("confirmed row not recorded in the dedup cache")
	}
}

func TestSendPrivateAttachmentMatchesHeuristically(t *testing.T) {
	queue := reconcile.NewQueue()
	private := &fakePrivate{guid: "g9"}
	// A source that never serves the identifier forces the heuristic path.
	source := &fakeGUIDSource{misses: 100}
	outbox := NewOutbox(queue, nil, private, source, poller.NewDedupCache(10),
		WithGUIDFetchRetries(1), WithGUIDFetchInterval(time.Millisecond))

	req := &models.SendRequest{ChatID: "chat1", Intent: models.IntentPlain, AttachmentPath: "/tmp/voice.mp3"}
	handle, err := outbox.SendPrivate(context.Background(), req)
	if err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}

	if !req.IsAttachment || req.TransferName != "voice.caf" {
		t.Fatalf("request = %+v, want attachment with transcoded transfer name", req)
	}
	if got := private.lastPayload().AttachmentPath; got != "/tmp/voice.mp3" {
		t.Errorf("transmitted attachment path = %q, want /tmp/voice.mp3", got)
	}

	// With the identifier lookup exhausted, a polled row carrying the
	// post-transcode transfer name still confirms the send.
	event := models.ChangeEvent{
		Kind:          models.EventNewMessage,
		ChatID:        "chat1",
		TransferNames: []string{"voice.caf"},
		SentAt:        time.Now(),
	}
	if !queue.OnCandidate(event) {
		t.Fatal("attachment candidate not consumed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := handle.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSendPrivateFailurePropagatesSynchronously(t *testing.T) {
	queue := reconcile.NewQueue()
	sendErr := errors.New("endpoint down")
	outbox := NewOutbox(queue, nil, &fakePrivate{err: sendErr}, &fakeGUIDSource{}, poller.NewDedupCache(10))

	req := &models.SendRequest{ChatID: "chat1", Text: "hello", Intent: models.IntentPlain}
	if _, err := outbox.SendPrivate(context.Background(), req); !errors.Is(err, sendErr) {
		t.Fatalf("expected the primitive error, got %v", err)
	}
	if queue.Len() != 0 {
		t.Errorf("queue Len = %d, want 0 after failed send", queue.Len())
	}
}
