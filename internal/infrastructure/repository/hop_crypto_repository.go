package repository

import (
	"sync"

	"ikedadada/go-anonroute/internal/domain/entity"
	"ikedadada/go-anonroute/internal/domain/repository"
	"ikedadada/go-anonroute/internal/domain/value_object"
)

type hopCryptoRepository struct {
	mu sync.RWMutex
	m  map[value_object.SourceID]map[value_object.NodeAddress]*entity.HopCrypto
}

// NewHopCryptoRepository creates an in-memory table of hop crypto state.
func NewHopCryptoRepository() repository.HopCryptoRepository {
	return &hopCryptoRepository{m: make(map[value_object.SourceID]map[value_object.NodeAddress]*entity.HopCrypto)}
}

func (r *hopCryptoRepository) Save(src value_object.SourceID, h *entity.HopCrypto) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hops, ok := r.m[src]
	if !ok {
		hops = make(map[value_object.NodeAddress]*entity.HopCrypto)
		r.m[src] = hops
	}
	if _, ok := hops[h.Hop()]; ok {
		return repository.ErrDuplicate
	}
	hops[h.Hop()] = h
	return nil
}

func (r *hopCryptoRepository) Find(src value_object.SourceID, hop value_object.NodeAddress) (*entity.HopCrypto, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[src][hop]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return h, nil
}

func (r *hopCryptoRepository) DeleteSource(src value_object.SourceID) []*entity.HopCrypto {
	r.mu.Lock()
	defer r.mu.Unlock()
	hops := r.m[src]
	delete(r.m, src)
	out := make([]*entity.HopCrypto, 0, len(hops))
	for _, h := range hops {
		out = append(out, h)
	}
	return out
}

func (r *hopCryptoRepository) HasSource(src value_object.SourceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m[src]) > 0
}
