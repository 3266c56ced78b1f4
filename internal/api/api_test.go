package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
	"github.com/BTreeMap/MessagePipe/internal/poller"
	"github.com/BTreeMap/MessagePipe/internal/reconcile"
	"github.com/BTreeMap/MessagePipe/internal/send"
)

// fakePrimary is a primary sender that always succeeds.
type fakePrimary struct{}

func (fakePrimary) Send(context.Context, string, string, string) error { return nil }

// fakeSource satisfies store.MessageSource; the API tests never hit it.
type fakeSource struct{}

func (fakeSource) NewMessagesSince(context.Context, time.Time) ([]models.Message, error) {
	return nil, nil
}
func (fakeSource) UpdatedMessagesSince(context.Context, time.Time) ([]models.Message, error) {
	return nil, nil
}
func (fakeSource) ChatsUpdatedSince(context.Context, time.Time) ([]string, error) { return nil, nil }
func (fakeSource) ChatSnapshot(context.Context, string) (*models.ChatSnapshot, error) {
	return nil, nil
}
func (fakeSource) MessageByGUID(context.Context, string) (*models.Message, error) { return nil, nil }

func newTestServer(t *testing.T, queue *reconcile.Queue, opts ...Option) *Server {
	t.Helper()
	outbox := send.NewOutbox(queue, fakePrimary{}, nil, fakeSource{}, poller.NewDedupCache(10))
	return NewServer(outbox, nil, nil, opts...)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestSendHandlerMatched(t *testing.T) {
	queue := reconcile.NewQueue(reconcile.WithSweepInterval(10 * time.Millisecond))
	queue.Start()
	defer queue.Stop()
	s := newTestServer(t, queue)

	// Feed the confirming candidate once the request is pending.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		event := models.ChangeEvent{Kind: models.EventNewMessage, ChatID: "chat1", GUID: "g1", Text: "hello", SentAt: time.Now()}
		for time.Now().Before(deadline) {
			if queue.OnCandidate(event) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	body := `{"chat_id":"chat1","text":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/message/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusMatched) {
		t.Errorf("response status = %q, want matched", resp.Status)
	}
}

func TestSendHandlerTimeout(t *testing.T) {
	queue := reconcile.NewQueue(
		reconcile.WithSweepInterval(10*time.Millisecond),
		reconcile.WithMatchDeadline(50*time.Millisecond),
	)
	queue.Start()
	defer queue.Stop()
	s := newTestServer(t, queue)

	body := `{"chat_id":"chat1","text":"never confirmed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/message/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusTimeout) {
		t.Errorf("response status = %q, want timeout", resp.Status)
	}
	if queue.Len() != 0 {
		t.Errorf("queue Len = %d after timeout, want 0", queue.Len())
	}
}

func TestSendHandlerValidation(t *testing.T) {
	queue := reconcile.NewQueue()
	s := newTestServer(t, queue)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing chat", `{"text":"hi"}`, http.StatusBadRequest},
		{"empty payload", `{"chat_id":"chat1"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"unknown method", `{"chat_id":"chat1","text":"hi","method":"carrier-pigeon"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/message/send", strings.NewReader(c.body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != c.code {
			t.Errorf("%s: status = %d, want %d", c.name, rec.Code, c.code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/message/send", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestTypingHandlerWithoutHelper(t *testing.T) {
	queue := reconcile.NewQueue()
	s := newTestServer(t, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/typing/start", strings.NewReader(`{"chat_id":"chat1"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	queue := reconcile.NewQueue()
	s := newTestServer(t, queue, WithStatusFunc(func() interface{} {
		return map[string]int{"pending_sends": 3}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("response status = %q, want ok", resp.Status)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok || result["pending_sends"] != float64(3) {
		t.Errorf("result = %+v, want pending_sends 3", resp.Result)
	}
}

func TestStreamHandlerWithoutBroadcaster(t *testing.T) {
	queue := reconcile.NewQueue()
	s := newTestServer(t, queue)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
