package repository

import (
	"ikedadada/go-anonroute/internal/domain/entity"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// SegmentRepository stores protocol segments by SourceID.
type SegmentRepository interface {
	// Add fails with ErrDuplicate when the SourceID is taken.
	Add(*entity.Segment) error
	Find(vo.SourceID) (*entity.Segment, error)
	Delete(vo.SourceID) error
	// Exists reports whether a segment id is in use with the peer.
	Exists(vo.SourceID) bool
	// CountPending counts pending segments with the peer.
	CountPending(vo.NodeAddress) int
	List() []*entity.Segment
}
