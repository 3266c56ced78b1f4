// Package send orchestrates outbound sends through the injected transport
// primitives and hands the resulting requests to the reconciliation queue.
//
// Two primitives exist. The primary channel is fire-and-forget: the only
// confirmation is the message's eventual appearance in the store, recognized
// by heuristic matching. The private channel returns an identifier, which
// this package re-fetches from the store directly, bypassing the heuristics
// when the row shows up in time.
package send

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/poller"
	"github.com/BTreeMap/MessagePipe/internal/reconcile"
	"github.com/BTreeMap/MessagePipe/internal/store"
)

// Identifier re-fetch tuning. Fixed values inherited from observed store
// latency; override through options when a deployment's store is slower.
const (
	// DefaultGUIDFetchRetries is how many times an identifier is looked up
	// before falling back to heuristic matching.
	DefaultGUIDFetchRetries = 6
	// DefaultGUIDFetchInterval is the pause between identifier lookups.
	DefaultGUIDFetchInterval = 500 * time.Millisecond
)

// audioTranscodeExtensions maps caller-provided audio extensions to the
// extension the send pipeline transmits after transcoding. Matching must use
// the post-transcode name, because that is what appears in the store.
var audioTranscodeExtensions = map[string]string{
	".mp3":  ".caf",
	".wav":  ".caf",
	".ogg":  ".caf",
	".flac": ".caf",
}

// NormalizedTransferName returns the transfer name as transmitted: the base
// name of the attachment path with any transcoded extension applied.
func NormalizedTransferName(attachmentPath string) string {
	name := filepath.Base(attachmentPath)
	ext := strings.ToLower(filepath.Ext(name))
	if rewritten, ok := audioTranscodeExtensions[ext]; ok {
		return strings.TrimSuffix(name, filepath.Ext(name)) + rewritten
	}
	return name
}

// applyAttachment marks a request carrying an attachment and records the
// transfer name as it will appear in the store, post-transcode.
func applyAttachment(req *models.SendRequest) {
	if req.AttachmentPath == "" {
		return
	}
	req.IsAttachment = true
	req.TransferName = NormalizedTransferName(req.AttachmentPath)
}

// PrimarySender transmits a message into the external application with no
// direct confirmation path.
type PrimarySender interface {
	Send(ctx context.Context, chatID, text, attachmentPath string) error
}

// PrivateSender transmits a payload through the companion side channel and
// returns the store identifier assigned to it.
type PrivateSender interface {
	Send(ctx context.Context, chatID string, payload models.SendRequest) (string, error)
}

// Opts holds configuration options for the outbox.
type Opts struct {
	GUIDFetchRetries  int
	GUIDFetchInterval time.Duration
}

// Option defines a configuration option for the outbox.
type Option func(*Opts)

// WithGUIDFetchRetries overrides the identifier lookup retry count.
func WithGUIDFetchRetries(n int) Option {
	return func(o *Opts) { o.GUIDFetchRetries = n }
}

// WithGUIDFetchInterval overrides the pause between identifier lookups.
func WithGUIDFetchInterval(d time.Duration) Option {
	return func(o *Opts) { o.GUIDFetchInterval = d }
}

// Outbox wires the send primitives to the reconciliation queue.
type Outbox struct {
	queue   *reconcile.Queue
	primary PrimarySender
	private PrivateSender
	source  store.MessageSource
	cache   *poller.DedupCache

	fetchRetries  int
	fetchInterval time.Duration
}

// NewOutbox creates an outbox. Either primitive may be nil when a deployment
// lacks that channel; the matching Send method then fails.
func NewOutbox(queue *reconcile.Queue, primary PrimarySender, private PrivateSender, source store.MessageSource, cache *poller.DedupCache, opts ...Option) *Outbox {
	cfg := Opts{
		GUIDFetchRetries:  DefaultGUIDFetchRetries,
		GUIDFetchInterval: DefaultGUIDFetchInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Outbox{
		queue:         queue,
		primary:       primary,
		private:       private,
		source:        source,
		cache:         cache,
		fetchRetries:  cfg.GUIDFetchRetries,
		fetchInterval: cfg.GUIDFetchInterval,
	}
}

// SendPrimary sends through the fire-and-forget channel. The returned handle
// resolves when the polling path confirms the send, or rejects with
// models.ErrMatchTimeout. A primitive failure propagates synchronously and
// the request never enters the timeout window.
func (o *Outbox) SendPrimary(ctx context.Context, req *models.SendRequest) (*reconcile.Handle, error) {
	if o.primary == nil {
		return nil, fmt.Errorf("primary send channel not configured")
	}
	applyAttachment(req)

	handle, err := o.queue.Enqueue(req)
	if err != nil {
		return nil, err
	}
	if err := o.primary.Send(ctx, req.ChatID, req.Text, req.AttachmentPath); err != nil {
		o.queue.Abandon(handle, err)
		slog.Error("Primary send failed", "error", err, "chat_id", req.ChatID)
		return nil, fmt.Errorf("primary send failed: %w", err)
	}
	slog.Debug("Primary send dispatched", "chat_id", req.ChatID, "is_attachment", req.IsAttachment)
	return handle, nil
}

// SendPrivate sends through the side channel. The returned identifier is
// re-fetched from the store on a fixed retry schedule; when the row appears
// the handle resolves directly, otherwise heuristic matching and the timeout
// sweep take over.
func (o *Outbox) SendPrivate(ctx context.Context, req *models.SendRequest) (*reconcile.Handle, error) {
	if o.private == nil {
		return nil, fmt.Errorf("private send channel not configured")
	}
	// The transfer name must be set here too: when the identifier lookup
	// misses, the heuristic fallback matches attachments on it.
	applyAttachment(req)
	if req.Deadline.IsZero() {
		req.Deadline = time.Now().Add(reconcile.DefaultSideChannelDeadline)
	}

	handle, err := o.queue.Enqueue(req)
	if err != nil {
		return nil, err
	}
	guid, err := o.private.Send(ctx, req.ChatID, *req)
	if err != nil {
		o.queue.Abandon(handle, err)
		slog.Error("Private send failed", "error", err, "chat_id", req.ChatID)
		return nil, fmt.Errorf("private send failed: %w", err)
	}

	slog.Debug("Private send dispatched", "chat_id", req.ChatID, "guid", guid)
	go o.fetchByGUID(handle, guid)
	return handle, nil
}

// fetchByGUID polls the store for the identifier the private channel
// returned. Lookup failures are transient by definition here: the row may
// simply not have landed yet.
func (o *Outbox) fetchByGUID(handle *reconcile.Handle, guid string) {
	ctx := context.Background()
	for attempt := 0; attempt < o.fetchRetries; attempt++ {
		time.Sleep(o.fetchInterval)
		row, err := o.source.MessageByGUID(ctx, guid)
		if err != nil {
			slog.Debug("Identifier lookup failed, retrying", "guid", guid, "attempt", attempt+1, "error", err)
			continue
		}
		if row == nil {
			continue
		}
		// Mark the row seen so the listener does not re-surface our own
		// send as a fresh notification.
		if o.cache != nil {
			o.cache.Add(row.DedupKey())
		}
		event := models.MessageEvent(models.EventNewMessage, *row)
		if o.queue.Resolve(handle, event) {
			slog.Debug("Private send confirmed by identifier lookup", "guid", guid, "attempts", attempt+1)
		}
		return
	}
	slog.Debug("Identifier lookup exhausted, falling back to heuristic matching", "guid", guid, "retries", o.fetchRetries)
}
