package contract

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps contracts in a map. Used by tests and local runs
// without a database.
type MemoryRepository struct {
	mu        sync.RWMutex
	contracts map[uuid.UUID]Contract
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{contracts: make(map[uuid.UUID]Contract)}
}

func (r *MemoryRepository) Create(_ context.Context, c *Contract) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[c.ID] = *c
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return nil, ErrContractNotFound
	}
	return &c, nil
}

// List returns contracts oldest first.
func (r *MemoryRepository) List(_ context.Context) ([]Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Contract, 0, len(r.contracts))
	for _, c := range r.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
