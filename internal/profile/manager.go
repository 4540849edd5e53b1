package profile

import (
	"fmt"
	"sync"
	"time"
)

// SettingsStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type SettingsStore interface {
	SetSetting(key, value string) error
	AllSettings() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

var knownKeys = map[string]bool{
	KeyDisplayName:           true,
	KeyTimezone:              true,
	KeyDefaultCalendarSource: true,
}

// Manager provides cached access to the owner profile stored in SQLite.
type Manager struct {
	store SettingsStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store SettingsStore) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store SettingsStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// GetProfile assembles the profile from storage, or serves it from a
// short-lived cache. A store with no settings yields a zero Profile.
func (m *Manager) GetProfile() (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := *m.cached
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return *m.cached, nil
	}

	settings, err := m.store.AllSettings()
	if err != nil {
		return Profile{}, fmt.Errorf("loading settings: %w", err)
	}

	p := Profile{
		DisplayName:           settings[KeyDisplayName],
		Timezone:              settings[KeyTimezone],
		DefaultCalendarSource: settings[KeyDefaultCalendarSource],
	}
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return p, nil
}

// SetField persists one profile key and invalidates the cache.
func (m *Manager) SetField(key, value string) error {
	if !knownKeys[key] {
		return fmt.Errorf("unknown profile key %q", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetSetting(key, value); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}

	m.cached = nil
	return nil
}
