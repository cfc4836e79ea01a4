// stores.go
//
// Shared fakes for the credential store and the Postgres webhook event log.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/store"
)

// MemoryStore implements the Get/Put/Delete/Take credential store interface in memory.
// Always stateful...values live in a map with per-key expiry, like Redis.
// Use *Err fields to inject errors for specific operations.
type MemoryStore struct {
	// Error injection...zero value means no error
	GetErr    error
	PutErr    error
	DeleteErr error

	// Now drives TTL expiry. Defaults to time.Now.
	Now func() time.Time

	mu      sync.Mutex
	items   map[string]memoryItem
	puts    map[string]int
	deletes map[string]int
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore returns an empty MemoryStore ready for use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:     time.Now,
		items:   make(map[string]memoryItem),
		puts:    make(map[string]int),
		deletes: make(map[string]int),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || m.expired(it) {
		return nil, store.ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.Now().Add(ttl)
	}
	m.items[key] = it
	m.puts[key]++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	m.deletes[key]++
	return nil
}

// Take is Get and Delete under one lock. Honors GetErr.
func (m *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || m.expired(it) {
		return nil, store.ErrCacheMiss
	}
	delete(m.items, key)
	m.deletes[key]++
	return it.value, nil
}

// CheckHealth reports healthy unless GetErr is set.
func (m *MemoryStore) CheckHealth(_ context.Context) error {
	return m.GetErr
}

// Seed stores value without counting it as a Put.
func (m *MemoryStore) Seed(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = m.Now().Add(ttl)
	}
	m.items[key] = it
}

// TTL returns the remaining lifetime of key. ok is false when absent;
// a zero duration with ok true means no expiry.
func (m *MemoryStore) TTL(key string) (ttl time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || m.expired(it) {
		return 0, false
	}
	if it.expiresAt.IsZero() {
		return 0, true
	}
	return it.expiresAt.Sub(m.Now()), true
}

// Has reports whether key is present and unexpired.
func (m *MemoryStore) Has(key string) bool {
	_, ok := m.TTL(key)
	return ok
}

// Keys returns the sorted live keys starting with prefix.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, it := range m.items {
		if strings.HasPrefix(k, prefix) && !m.expired(it) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Puts returns how many times key was written via Put.
func (m *MemoryStore) Puts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[key]
}

// Deletes returns how many times key was removed via Delete.
func (m *MemoryStore) Deletes(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes[key]
}

func (m *MemoryStore) expired(it memoryItem) bool {
	return !it.expiresAt.IsZero() && !m.Now().Before(it.expiresAt)
}

// MockEventLog implements the webhook event log for tests.
// Always stateful...Events is keyed by the same unique triple Postgres enforces.
type MockEventLog struct {
	// Error injection...zero value means no error
	RecordErr error
	MarkErr   error

	mu      sync.Mutex
	nextID  int64
	Events  map[int64]*store.WebhookEvent
	dedupes map[[3]any]int64
}

// NewMockEventLog returns an empty MockEventLog ready for use.
func NewMockEventLog() *MockEventLog {
	return &MockEventLog{
		Events:  make(map[int64]*store.WebhookEvent),
		dedupes: make(map[[3]any]int64),
	}
}

func (m *MockEventLog) RecordWebhookEvent(_ context.Context, ev *store.WebhookEvent) (int64, error) {
	if m.RecordErr != nil {
		return 0, m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := [3]any{ev.EventTime, ev.ObjectID, ev.AspectType}
	if _, dup := m.dedupes[k]; dup {
		return 0, store.ErrDuplicateEvent
	}
	m.nextID++
	cp := *ev
	cp.ID = m.nextID
	cp.ReceivedAt = time.Now()
	m.Events[cp.ID] = &cp
	m.dedupes[k] = cp.ID
	return cp.ID, nil
}

func (m *MockEventLog) MarkWebhookEventProcessed(_ context.Context, id int64, procErr error) error {
	if m.MarkErr != nil {
		return m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.Events[id]
	if !ok {
		return nil
	}
	now := time.Now()
	ev.ProcessedAt = &now
	if procErr != nil {
		msg := procErr.Error()
		ev.Error = &msg
	}
	return nil
}

// Get returns a copy of the recorded event, or nil.
func (m *MockEventLog) Get(id int64) *store.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.Events[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}
