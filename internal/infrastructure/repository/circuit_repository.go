package repository

import (
	"bytes"
	"slices"
	"sync"

	"ikedadada/go-anonroute/internal/domain/entity"
	"ikedadada/go-anonroute/internal/domain/repository"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// CircuitRepo keeps the established routing paths of the local initiator.
type CircuitRepo struct {
	mu       sync.RWMutex
	circuits map[vo.SourceID]*entity.Circuit
}

func NewCircuitRepo() *CircuitRepo {
	return &CircuitRepo{circuits: make(map[vo.SourceID]*entity.Circuit)}
}

// Save replaces any circuit already stored for the same source.
func (r *CircuitRepo) Save(c *entity.Circuit) error {
	r.mu.Lock()
	r.circuits[c.Source()] = c
	r.mu.Unlock()
	return nil
}

func (r *CircuitRepo) Find(src vo.SourceID) (*entity.Circuit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.circuits[src]; ok {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (r *CircuitRepo) Delete(src vo.SourceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.circuits[src]; !ok {
		return repository.ErrNotFound
	}
	delete(r.circuits, src)
	return nil
}

// ListActive returns the circuits ordered by first hop, then route id.
func (r *CircuitRepo) ListActive() ([]*entity.Circuit, error) {
	r.mu.RLock()
	out := make([]*entity.Circuit, 0, len(r.circuits))
	for _, c := range r.circuits {
		out = append(out, c)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *entity.Circuit) int {
		sa, sb := a.Source(), b.Source()
		if c := bytes.Compare(sa.Address.Bytes(), sb.Address.Bytes()); c != 0 {
			return c
		}
		return int(sa.Segment) - int(sb.Segment)
	})
	return out, nil
}

func (r *CircuitRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.circuits)
}
