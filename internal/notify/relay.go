// Package notify delivers human-readable activity summaries to the
// notification relay (an inbound-SMS style HTTP endpoint).
//
// relay.go -- Relay interface and synchronous HTTP client.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Relay delivers one text message.
type Relay interface {
	Send(ctx context.Context, message string) error
}

// HTTPRelay posts {"message": ...} to the relay endpoint with a bearer API key.
// Any non-2xx status is an error; the response body has no contract beyond that.
type HTTPRelay struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPRelay returns a relay client for url; timeout bounds each call.
func NewHTTPRelay(url, apiKey string, timeout time.Duration) *HTTPRelay {
	return &HTTPRelay{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts message to the relay.
func (r *HTTPRelay) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(struct {
		Message string `json:"message"`
	}{message})
	if err != nil {
		return fmt.Errorf("encoding relay message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building relay request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, text)
	}
	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	return nil
}
