package models

import (
	"errors"
	"testing"
	"time"
)

func TestDedupKeyEncodesRowState(t *testing.T) {
	sent := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	base := Message{GUID: "g1", ChatID: "chat1", Text: "hello", SentAt: sent}

	delivered := base
	delivered.DeliveredAt = sent.Add(2 * time.Second)
	read := delivered
	read.ReadAt = sent.Add(5 * time.Second)

	if base.DedupKey() == delivered.DedupKey() {
		t.Error("delivery update should produce a distinct dedup key")
	}
	if delivered.DedupKey() == read.DedupKey() {
		t.Error("read update should produce a distinct dedup key")
	}

	// The same row state always maps to the same key.
	again := base
	if base.DedupKey() != again.DedupKey() {
		t.Error("identical row state produced different dedup keys")
	}
}

func TestSendRequestValidate(t *testing.T) {
	req := &SendRequest{Text: "hi", Intent: IntentPlain}
	if err := req.Validate(); !errors.Is(err, ErrEmptyChatID) {
		t.Errorf("expected ErrEmptyChatID, got %v", err)
	}

	req = &SendRequest{ChatID: "chat1", Intent: IntentPlain}
	if err := req.Validate(); !errors.Is(err, ErrEmptyRequest) {
		t.Errorf("expected ErrEmptyRequest, got %v", err)
	}

	req = &SendRequest{ChatID: "chat1", Text: "hi", Intent: IntentPlain}
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// Attachment-only sends carry no text.
	req = &SendRequest{ChatID: "chat1", IsAttachment: true, TransferName: "photo.png", Intent: IntentPlain}
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// Unsend requests carry no text either.
	req = &SendRequest{ChatID: "chat1", Intent: IntentUnsend}
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMessageEventCopiesRowFields(t *testing.T) {
	sent := time.Now()
	row := Message{
		GUID:          "g7",
		ChatID:        "chat7",
		Text:          "body",
		Subject:       "subj",
		TransferNames: []string{"a.png"},
		SentAt:        sent,
	}
	event := MessageEvent(EventNewMessage, row)
	if event.Kind != EventNewMessage || event.GUID != "g7" || event.ChatID != "chat7" {
		t.Errorf("unexpected event identity: %+v", event)
	}
	if event.Text != "body" || event.Subject != "subj" || len(event.TransferNames) != 1 {
		t.Errorf("unexpected event payload: %+v", event)
	}
	if !event.SentAt.Equal(sent) {
		t.Errorf("SentAt not carried through")
	}
}
