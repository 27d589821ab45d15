package repository

import (
	"ikedadada/go-anonroute/internal/domain/entity"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// HopCryptoRepository stores per (SourceID, hop) crypto state.
type HopCryptoRepository interface {
	Save(vo.SourceID, *entity.HopCrypto) error
	Find(vo.SourceID, vo.NodeAddress) (*entity.HopCrypto, error)
	// DeleteSource removes and returns every hop stored for the SourceID.
	DeleteSource(vo.SourceID) []*entity.HopCrypto
	HasSource(vo.SourceID) bool
}
