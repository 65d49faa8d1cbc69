package board

import (
	"sync"

	"github.com/aliftan/zero-kanban/domain"
)

// Store is the in-memory source of truth for rendering. It only supports
// whole-state swaps; all mutation logic lives in Service.
type Store struct {
	mu         sync.RWMutex
	categories []domain.Category
}

// NewStore returns a Store seeded with a copy of categories.
func NewStore(categories []domain.Category) *Store {
	return &Store{categories: domain.CloneBoard(categories)}
}

// Replace atomically swaps the whole state. The argument is copied so later
// changes by the caller are not visible through the store.
func (s *Store) Replace(categories []domain.Category) {
	next := domain.CloneBoard(categories)
	if next == nil {
		next = []domain.Category{}
	}
	s.mu.Lock()
	s.categories = next
	s.mu.Unlock()
}

// Snapshot returns a deep copy suitable for rollback.
func (s *Store) Snapshot() []domain.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.CloneBoard(s.categories)
	if out == nil {
		out = []domain.Category{}
	}
	return out
}

// Categories returns the current state for readers. It is a copy, like
// Snapshot.
func (s *Store) Categories() []domain.Category {
	return s.Snapshot()
}
