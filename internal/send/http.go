package send

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// HTTPSender drives the private send channel over a local HTTP endpoint that
// accepts the payload and responds with the store identifier it assigned.
type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender creates a sender targeting the given endpoint URL.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// privateResponse is the endpoint's reply. Only the identifier is used.
type privateResponse struct {
	GUID string `json:"guid"`
}

// Send posts the payload and returns the identifier the endpoint assigned.
func (s *HTTPSender) Send(ctx context.Context, chatID string, payload models.SendRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode private send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build private send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("private send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("private send endpoint returned status %d", resp.StatusCode)
	}

	var parsed privateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode private send response: %w", err)
	}
	if parsed.GUID == "" {
		return "", fmt.Errorf("private send endpoint returned no identifier")
	}
	return parsed.GUID, nil
}
