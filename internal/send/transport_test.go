package send

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

func TestScriptSenderRunsCommand(t *testing.T) {
	s, err := NewScriptSender("true")
	if err != nil {
		t.Fatalf("NewScriptSender: %v", err)
	}
	if err := s.Send(context.Background(), "chat1", "hello", ""); err != nil {
		t.Errorf("Send: %v", err)
	}
}

func TestScriptSenderReportsFailure(t *testing.T) {
	s, err := NewScriptSender("false")
	if err != nil {
		t.Fatalf("NewScriptSender: %v", err)
	}
	if err := s.Send(context.Background(), "chat1", "hello", ""); err == nil {
		t.Error("expected failure from non-zero exit")
	}
}

func TestNewScriptSenderRejectsEmptyCommand(t *testing.T) {
	if _, err := NewScriptSender("  "); err == nil {
		t.Error("expected error for empty command line")
	}
}

func TestHTTPSenderReturnsIdentifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload models.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.ChatID != "chat1" {
			t.Errorf("payload chat = %q", payload.ChatID)
		}
		json.NewEncoder(w).Encode(map[string]string{"guid": "g77"})
	}))
	defer server.Close()

	s := NewHTTPSender(server.URL)
	guid, err := s.Send(context.Background(), "chat1", models.SendRequest{ChatID: "chat1", Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if guid != "g77" {
		t.Errorf("guid = %q, want g77", guid)
	}
}

func TestHTTPSenderRejectsBadResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewHTTPSender(server.URL)
	if _, err := s.Send(context.Background(), "chat1", models.SendRequest{ChatID: "chat1", Text: "x"}); err == nil {
		t.Error("expected error for non-2xx response")
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer empty.Close()
	s = NewHTTPSender(empty.URL)
	if _, err := s.Send(context.Background(), "chat1", models.SendRequest{ChatID: "chat1", Text: "x"}); err == nil {
		t.Error("expected error for missing identifier")
	}
}
