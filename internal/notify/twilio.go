// Package notify implements dispatcher sinks for the notification fan-out
// boundary.
//
// This file implements the SMS forwarder: a best-effort remote push fallback
// that relays message events to a configured phone number via Twilio.
package notify

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// SMSOpts holds configuration options for the SMS forwarder.
type SMSOpts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
}

// SMSOption defines a configuration option for the SMS forwarder.
type SMSOption func(*SMSOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) SMSOption {
	return func(o *SMSOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) SMSOption {
	return func(o *SMSOpts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) SMSOption {
	return func(o *SMSOpts) { o.From = from }
}

// WithTo sets the destination phone number for forwarded events.
func WithTo(to string) SMSOption {
	return func(o *SMSOpts) { o.To = to }
}

// SMSForwarder relays new-message events to a phone number. It satisfies
// dispatch.Sink; non-message events are skipped.
type SMSForwarder struct {
	client *twilio.RestClient
	from   string
	to     string
}

// NewSMSForwarder creates the forwarder. Credentials fall back to the
// standard Twilio environment variables when not provided via options.
func NewSMSForwarder(opts ...SMSOption) (*SMSForwarder, error) {
	var cfg SMSOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("SMS forwarder config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"To_set", cfg.To != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("from and to numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSForwarder{client: client, from: cfg.From, to: cfg.To}, nil
}

// Deliver forwards one event as an SMS. Typing indicators and delivery
// updates are skipped; they are too chatty for a push fallback.
func (f *SMSForwarder) Deliver(event models.ChangeEvent) error {
	body := formatEventBody(event)
	if body == "" {
		return nil
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(f.to)
	params.SetFrom(f.from)
	params.SetBody(body)

	if _, err := f.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to forward event via SMS: %w", err)
	}
	slog.Debug("Event forwarded via SMS", "kind", event.Kind, "chat_id", event.ChatID)
	return nil
}

// formatEventBody renders the forwarded SMS text, or empty for kinds that
// are not forwarded.
func formatEventBody(event models.ChangeEvent) string {
	switch event.Kind {
	case models.EventNewMessage:
		text := event.Text
		if text == "" && len(event.TransferNames) > 0 {
			text = "[attachment: " + event.TransferNames[0] + "]"
		}
		return fmt.Sprintf("[%s] %s", event.ChatID, text)
	case models.EventGroupNameChange:
		return fmt.Sprintf("[%s] group renamed to %q", event.ChatID, event.GroupTitle)
	case models.EventParticipantAdded:
		return fmt.Sprintf("[%s] %s was added", event.ChatID, event.Participant)
	case models.EventParticipantRemoved:
		return fmt.Sprintf("[%s] %s was removed", event.ChatID, event.Participant)
	case models.EventParticipantLeft:
		return fmt.Sprintf("[%s] %s left", event.ChatID, event.Participant)
	default:
		return ""
	}
}
