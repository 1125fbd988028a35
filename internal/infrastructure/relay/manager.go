package relay

import (
	"sync"

	"github.com/javaarchive/togetherfin/internal/core/domain"
)

// Manager maps rooms to their blob stores. Stores are created lazily on
// first use and dropped when a room closes; nothing survives a restart.
type Manager struct {
	mu         sync.RWMutex
	stores     map[domain.RoomID]*Store
	maxSpecial int
	maxDefault int
}

// NewManager creates a store manager with per-room tier capacities.
func NewManager(maxSpecial, maxDefault int) *Manager {
	return &Manager{
		stores:     make(map[domain.RoomID]*Store),
		maxSpecial: maxSpecial,
		maxDefault: maxDefault,
	}
}

// ForRoom returns the room's store, creating it if needed.
func (m *Manager) ForRoom(id domain.RoomID) *Store {
	m.mu.RLock()
	store, ok := m.stores[id]
	m.mu.RUnlock()
	if ok {
		return store
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if store, ok = m.stores[id]; ok {
		return store
	}
	store = NewStore(m.maxSpecial, m.maxDefault)
	m.stores[id] = store
	return store
}

// Lookup returns the room's store without creating one. Read paths must use
// this: lazily creating stores for arbitrary ids would grow the manager
// without bound.
func (m *Manager) Lookup(id domain.RoomID) (*Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	store, ok := m.stores[id]
	return store, ok
}

// Drop releases the room's store.
func (m *Manager) Drop(id domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, id)
}
