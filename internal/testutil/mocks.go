// mocks.go
//
// Shared mock implementations of the identity provider, notification relay,
// and activity publisher. Each records calls so tests can assert on them.
package testutil

import (
	"context"
	"net/url"
	"sync"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/events"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/oauth"
)

// MockProvider implements oauth.Provider for tests.
// ExchangeToken/RefreshFunc drive the results; *Err fields inject failures.
type MockProvider struct {
	AuthURL string // defaults to https://www.strava.com/oauth/authorize

	ExchangeToken *oauth.Token
	ExchangeErr   error

	// RefreshFunc computes the refresh result; nil returns RefreshErr or an error.
	RefreshFunc func(refreshToken string) (*oauth.Token, error)
	RefreshErr  error

	mu            sync.Mutex
	exchangeCodes []string
	refreshTokens []string
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) AuthCodeURL(state string) string {
	base := m.AuthURL
	if base == "" {
		base = "https://www.strava.com/oauth/authorize"
	}
	return base + "?" + url.Values{"state": {state}, "approval_prompt": {"auto"}}.Encode()
}

func (m *MockProvider) Exchange(_ context.Context, code string) (*oauth.Token, error) {
	m.mu.Lock()
	m.exchangeCodes = append(m.exchangeCodes, code)
	m.mu.Unlock()
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	if m.ExchangeToken == nil {
		return nil, oauth.ErrTokenEndpoint
	}
	cp := *m.ExchangeToken
	return &cp, nil
}

func (m *MockProvider) Refresh(_ context.Context, refreshToken string) (*oauth.Token, error) {
	m.mu.Lock()
	m.refreshTokens = append(m.refreshTokens, refreshToken)
	m.mu.Unlock()
	if m.RefreshErr != nil {
		return nil, m.RefreshErr
	}
	if m.RefreshFunc == nil {
		return nil, oauth.ErrTokenEndpoint
	}
	return m.RefreshFunc(refreshToken)
}

// ExchangeCalls returns the codes passed to Exchange, in order.
func (m *MockProvider) ExchangeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.exchangeCodes...)
}

// RefreshCalls returns the refresh tokens passed to Refresh, in order.
func (m *MockProvider) RefreshCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshTokens...)
}

// MockRelay implements notify.Relay for tests.
type MockRelay struct {
	Err error

	mu       sync.Mutex
	messages []string
}

func (m *MockRelay) Send(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return m.Err
}

// Messages returns every message passed to Send, in order.
func (m *MockRelay) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// MockPublisher records published activity events.
type MockPublisher struct {
	Err error

	mu     sync.Mutex
	events []events.ActivityProcessed
}

func (m *MockPublisher) PublishActivity(_ context.Context, ev events.ActivityProcessed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.Err
}

// Events returns every published event, in order.
func (m *MockPublisher) Events() []events.ActivityProcessed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.ActivityProcessed(nil), m.events...)
}
