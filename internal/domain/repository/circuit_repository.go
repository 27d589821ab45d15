package repository

import (
	"ikedadada/go-anonroute/internal/domain/entity"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// CircuitRepository holds the established routing paths owned by this node,
// keyed by (first hop, route id).
type CircuitRepository interface {
	Save(*entity.Circuit) error
	Find(vo.SourceID) (*entity.Circuit, error)
	Delete(vo.SourceID) error
	ListActive() ([]*entity.Circuit, error)
	Count() int
}
