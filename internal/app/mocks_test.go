package app

import (
	"context"
	"encoding/json"
	"sync"

	"flowsentry/clients/marketcache"
	"flowsentry/clients/notifier"
)

// MockNotifier is a mock implementation of notifier.Notifier for testing.
type MockNotifier struct {
	mu     sync.Mutex
	alerts []notifier.Alert
	closed bool
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// SendAlert records the alert.
func (m *MockNotifier) SendAlert(alert notifier.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
}

// Close marks the notifier closed.
func (m *MockNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Alerts returns a copy of all recorded alerts.
func (m *MockNotifier) Alerts() []notifier.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notifier.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// AlertCount returns how many alerts were sent.
func (m *MockNotifier) AlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// Reset drops all recorded alerts.
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = nil
}

// MockCacheStore is an in-memory implementation of marketcache.Store.
type MockCacheStore struct {
	mu         sync.Mutex
	enabled    bool
	assetCtxs  map[string]json.RawMessage
	seenHashes map[string][]string
	gateState  json.RawMessage
	loadErr    error
	saveErr    error
}

// NewMockCacheStore creates a new enabled mock cache.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{
		enabled:    true,
		assetCtxs:  make(map[string]json.RawMessage),
		seenHashes: make(map[string][]string),
	}
}

// SetEnabled sets whether the mock reports itself as enabled.
func (m *MockCacheStore) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// SetLoadError sets an error to be returned on load calls.
func (m *MockCacheStore) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// SetSaveError sets an error to be returned on save calls.
func (m *MockCacheStore) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *MockCacheStore) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *MockCacheStore) SetAssetCtx(_ context.Context, coin string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.assetCtxs[coin] = raw
	return nil
}

func (m *MockCacheStore) GetAssetCtx(_ context.Context, coin string, dest any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	raw, ok := m.assetCtxs[coin]
	if !ok {
		return marketcache.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *MockCacheStore) SaveSeenHashes(_ context.Context, instrument string, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored := make([]string, len(hashes))
	copy(stored, hashes)
	m.seenHashes[instrument] = stored
	return nil
}

func (m *MockCacheStore) LoadSeenHashes(_ context.Context, instrument string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.seenHashes[instrument], nil
}

func (m *MockCacheStore) SaveGateState(_ context.Context, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.gateState = raw
	return nil
}

func (m *MockCacheStore) LoadGateState(_ context.Context, dest any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return m.loadErr
	}
	if m.gateState == nil {
		return marketcache.ErrCacheMiss
	}
	return json.Unmarshal(m.gateState, dest)
}

func (m *MockCacheStore) Ping(_ context.Context) error {
	return nil
}

func (m *MockCacheStore) Close() error {
	return nil
}

// HasGateState reports whether a gate snapshot was saved.
func (m *MockCacheStore) HasGateState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateState != nil
}
