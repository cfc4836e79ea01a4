// Package strava is a thin bearer-token client for the Strava v3 REST API.
//
// client.go -- request building, error mapping, rate-limit logging.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody caps how much of an upstream error body is kept on APIError.
const maxErrorBody = 512

// APIError is returned for any non-2xx upstream response.
type APIError struct {
	Status     int
	StatusText string
	Body       string // truncated upstream body, for logs only
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava api error: %d %s - %s", e.Status, e.StatusText, e.Body)
}

// Client calls the Strava API. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client rooted at baseURL (e.g. https://www.strava.com/api/v3).
// Every request is bounded by timeout; a timeout surfaces as an ordinary error.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Do sends one request and returns the raw response on 2xx.
// Non-2xx responses are drained, closed, and returned as *APIError.
// Caller must close the body of a successful response.
func (c *Client) Do(ctx context.Context, method, path, token string, params url.Values, body any) (*http.Response, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("strava: encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("strava: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("strava: %s %s: %w", method, path, err)
	}

	if usage, limit := resp.Header.Get("X-RateLimit-Usage"), resp.Header.Get("X-RateLimit-Limit"); usage != "" && limit != "" {
		slog.Debug("strava rate limit", "usage", usage, "limit", limit, "path", path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(raw),
		}
	}
	return resp, nil
}

// GetJSON performs a GET and returns the response body as raw JSON.
func (c *Client) GetJSON(ctx context.Context, path, token string, params url.Values) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodGet, path, token, params, nil)
}

// PutJSON performs a PUT with a JSON body and returns the response body as raw JSON.
func (c *Client) PutJSON(ctx context.Context, path, token string, body any) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPut, path, token, nil, body)
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, params url.Values, body any) (json.RawMessage, error) {
	resp, err := c.Do(ctx, method, path, token, params, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("strava: reading %s: %w", path, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("strava: %s returned invalid json", path)
	}
	return json.RawMessage(raw), nil
}

// GetActivity fetches one activity's full detail.
func (c *Client) GetActivity(ctx context.Context, token string, id int64) (*Activity, error) {
	raw, err := c.GetJSON(ctx, "/activities/"+strconv.FormatInt(id, 10), token, nil)
	if err != nil {
		return nil, err
	}
	var a Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("strava: decoding activity %d: %w", id, err)
	}
	return &a, nil
}
