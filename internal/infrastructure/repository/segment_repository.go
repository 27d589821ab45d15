package repository

import (
	"sync"

	"ikedadada/go-anonroute/internal/domain/entity"
	"ikedadada/go-anonroute/internal/domain/repository"
	"ikedadada/go-anonroute/internal/domain/value_object"
)

type segmentRepository struct {
	mu sync.RWMutex
	m  map[value_object.SourceID]*entity.Segment
}

// NewSegmentRepository creates an in-memory segment table.
func NewSegmentRepository() repository.SegmentRepository {
	return &segmentRepository{m: make(map[value_object.SourceID]*entity.Segment)}
}

func (r *segmentRepository) Add(s *entity.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[s.Source()]; ok {
		return repository.ErrDuplicate
	}
	r.m[s.Source()] = s
	return nil
}

func (r *segmentRepository) Find(src value_object.SourceID) (*entity.Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[src]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (r *segmentRepository) Delete(src value_object.SourceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, src)
	return nil
}

func (r *segmentRepository) Exists(src value_object.SourceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.m[src]
	return ok
}

func (r *segmentRepository) CountPending(peer value_object.NodeAddress) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for src, s := range r.m {
		if src.Address == peer && s.IsPending() {
			n++
		}
	}
	return n
}

func (r *segmentRepository) List() []*entity.Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Segment, 0, len(r.m))
	for _, s := range r.m {
		out = append(out, s)
	}
	return out
}
