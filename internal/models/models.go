// Package models defines the core data structures for MessagePipe.
//
// It includes the change event types derived from the message store, the
// outbound send request handled by the reconciliation queue, and the shared
// error variables used across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// EventKind discriminates change events emitted to the notification boundary.
type EventKind string

const (
	// EventNewMessage indicates a message row appeared in the store.
	EventNewMessage EventKind = "new-message"
	// EventUpdatedMessage indicates an existing row gained a delivery or read timestamp.
	EventUpdatedMessage EventKind = "updated-message"
	// EventGroupNameChange indicates a group chat title changed.
	EventGroupNameChange EventKind = "group-name-change"
	// EventParticipantAdded indicates a participant joined a group chat.
	EventParticipantAdded EventKind = "participant-added"
	// EventParticipantRemoved indicates a participant was removed from a group chat.
	EventParticipantRemoved EventKind = "participant-removed"
	// EventParticipantLeft indicates a participant left a group chat voluntarily.
	EventParticipantLeft EventKind = "participant-left"
	// EventTypingIndicator indicates a typing status change relayed by the helper channel.
	EventTypingIndicator EventKind = "typing-indicator"
	// EventMessageMatched indicates an outbound send was confirmed in the store.
	EventMessageMatched EventKind = "message-matched"
	// EventMessageTimeout indicates an outbound send was never confirmed before its deadline.
	EventMessageTimeout EventKind = "message-timeout"
)

// Error variables for better error handling and testability
var (
	ErrMatchTimeout       = errors.New("send request timed out before a matching message appeared")
	ErrHelperUnavailable  = errors.New("no helper process connected")
	ErrNoStoreHandle      = errors.New("listener requires a message store handle")
	ErrEmptyChatID        = errors.New("chat ID cannot be empty")
	ErrEmptyRequest       = errors.New("send request must carry text or an attachment")
	ErrQueueStopped       = errors.New("reconciliation queue has been stopped")
	ErrDispatcherStopped  = errors.New("dispatcher has been stopped")
	ErrUnknownReaction    = errors.New("unknown reaction kind")
	ErrHelperBusy         = errors.New("a helper process is already connected")
	ErrStreamUnsupported  = errors.New("event stream requires websocket upgrade")
	ErrSendMethodUnknown  = errors.New("unknown send method")
	ErrStoreNotConfigured = errors.New("message store DSN not set")
)

// Message is a row read from the external message store. The store is polled
// read-only; MessagePipe never writes to it.
type Message struct {
	GUID          string    `json:"guid"`
	ChatID        string    `json:"chat_id"`
	Text          string    `json:"text,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	IsFromMe      bool      `json:"is_from_me"`
	IsAttachment  bool      `json:"is_attachment"`
	TransferNames []string  `json:"transfer_names,omitempty"`
	SentAt        time.Time `json:"sent_at"`
	DeliveredAt   time.Time `json:"delivered_at,omitempty"`
	ReadAt        time.Time `json:"read_at,omitempty"`
}

// DedupKey encodes the state of a message row, not just its existence.
// A later update to the same row (e.g. delivery confirmed) produces a
// distinct key, so the update is not suppressed by the dedup cache, while an
// unchanged row re-seen on an overlapping poll window is.
func (m Message) DedupKey() string {
	return fmt.Sprintf("%s:%d:%d", m.GUID, unixMilliOrZero(m.DeliveredAt), unixMilliOrZero(m.ReadAt))
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ChatSnapshot is the structural state of a chat at one poll: its title and
// ordered participant set. Actor carries the store's own attribution for the
// most recent structural change verbatim; MessagePipe never reinterprets it.
type ChatSnapshot struct {
	ChatID       string   `json:"chat_id"`
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
	Actor        string   `json:"actor,omitempty"`
}

// ChangeEvent is a structured notification derived from a detected store
// mutation. Events are immutable once emitted and consumed exactly once by
// the dispatcher.
type ChangeEvent struct {
	Kind          EventKind `json:"kind"`
	GUID          string    `json:"guid,omitempty"`
	ChatID        string    `json:"chat_id"`
	Text          string    `json:"text,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	IsFromMe      bool      `json:"is_from_me,omitempty"`
	TransferNames []string  `json:"transfer_names,omitempty"`
	SentAt        time.Time `json:"sent_at,omitempty"`
	DeliveredAt   time.Time `json:"delivered_at,omitempty"`
	ReadAt        time.Time `json:"read_at,omitempty"`

	// GroupTitle is set for group-name-change events.
	GroupTitle string `json:"group_title,omitempty"`
	// Participant is set for participant-added/removed/left events.
	Participant string `json:"participant,omitempty"`
	// Typing is set for typing-indicator events.
	Typing bool `json:"typing,omitempty"`
}

// MessageEvent builds a ChangeEvent of the given kind from a store row.
func MessageEvent(kind EventKind, m Message) ChangeEvent {
	return ChangeEvent{
		Kind:          kind,
		GUID:          m.GUID,
		ChatID:        m.ChatID,
		Text:          m.Text,
		Subject:       m.Subject,
		IsFromMe:      m.IsFromMe,
		TransferNames: m.TransferNames,
		SentAt:        m.SentAt,
		DeliveredAt:   m.DeliveredAt,
		ReadAt:        m.ReadAt,
	}
}

// SendIntent describes what kind of outbound send a request represents.
// Reaction, edit, and unsend intents are confirmed in the store via the
// display text the store synthesizes rather than the caller's literal text.
type SendIntent string

const (
	// IntentPlain is an ordinary text or attachment send.
	IntentPlain SendIntent = "plain"
	// IntentReaction is a tapback-style reaction on an existing message.
	IntentReaction SendIntent = "reaction"
	// IntentEdit replaces the text of an existing message.
	IntentEdit SendIntent = "edit"
	// IntentUnsend retracts an existing message.
	IntentUnsend SendIntent = "unsend"
)

// SendRequest is a caller's record of an in-flight outbound send awaiting
// confirmation. It lives in the reconciliation queue until matched or until
// its deadline elapses; exactly one of the two happens.
type SendRequest struct {
	ChatID       string     `json:"chat_id"`
	Text         string     `json:"text,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	IsAttachment bool       `json:"is_attachment"`
	TransferName string     `json:"transfer_name,omitempty"`
	Intent       SendIntent `json:"intent,omitempty"`

	// AttachmentPath is the local file handed to the send primitives. The
	// outbox derives TransferName from it, and the private channel transmits
	// it as part of the payload.
	AttachmentPath string `json:"attachment_path,omitempty"`

	// Reaction and ReactionTarget describe a reaction intent. ReactionTarget
	// is the target message's text, or empty when the target was
	// attachment-only, in which case ReactionMedia selects the media phrase.
	Reaction       ReactionKind `json:"reaction,omitempty"`
	ReactionTarget string       `json:"reaction_target,omitempty"`
	ReactionMedia  MediaKind    `json:"reaction_media,omitempty"`

	// CorrelationID is an optional caller-supplied token for out-of-band
	// matching, e.g. the identifier returned by the private send channel.
	CorrelationID string `json:"correlation_id,omitempty"`

	// SentAt is captured at enqueue time with a fixed negative skew offset so
	// that a store whose clock lags slightly still produces candidates at or
	// after SentAt. Candidates strictly older than SentAt never match.
	SentAt   time.Time `json:"sent_at"`
	Deadline time.Time `json:"deadline"`
}

// Validate checks that a send request is well-formed before it enters the
// reconciliation queue.
func (r *SendRequest) Validate() error {
	if r.ChatID == "" {
		return ErrEmptyChatID
	}
	if r.Text == "" && !r.IsAttachment && r.Intent == IntentPlain {
		return ErrEmptyRequest
	}
	return nil
}

// SendResult is the terminal outcome of a send request: the matched change
// event on success, or ErrMatchTimeout after the deadline.
type SendResult struct {
	Request *SendRequest
	Event   ChangeEvent
	Err     error
}
