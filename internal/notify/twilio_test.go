package notify

import (
	"strings"
	"testing"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

func TestNewSMSForwarderRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewSMSForwarder(WithTo("+15550001111")); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewSMSForwarder(
		WithAccountSID("AC123"), WithAuthToken("tok"),
	); err == nil {
		t.Error("expected error without from/to numbers")
	}
}

func TestFormatEventBody(t *testing.T) {
	body := formatEventBody(models.ChangeEvent{
		Kind: models.EventNewMessage, ChatID: "chat1", Text: "hello",
	})
	if !strings.Contains(body, "chat1") || !strings.Contains(body, "hello") {
		t.Errorf("body = %q", body)
	}

	body = formatEventBody(models.ChangeEvent{
		Kind: models.EventNewMessage, ChatID: "chat1", TransferNames: []string{"photo.png"},
	})
	if !strings.Contains(body, "photo.png") {
		t.Errorf("attachment body = %q", body)
	}

	body = formatEventBody(models.ChangeEvent{
		Kind: models.EventParticipantLeft, ChatID: "chat1", Participant: "B",
	})
	if !strings.Contains(body, "left") {
		t.Errorf("departure body = %q", body)
	}

	// Chatty kinds are not forwarded.
	for _, kind := range []models.EventKind{models.EventTypingIndicator, models.EventUpdatedMessage} {
		if got := formatEventBody(models.ChangeEvent{Kind: kind, ChatID: "chat1"}); got != "" {
			t.Errorf("kind %s forwarded as %q, want empty", kind, got)
		}
	}
}
