package repository_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikedadada/go-anonroute/internal/domain/entity"
	repoif "ikedadada/go-anonroute/internal/domain/repository"
	"ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/infrastructure/repository"
)

func addr(b byte) value_object.NodeAddress {
	var a value_object.NodeAddress
	a[0] = b
	return a
}

func TestCircuitRepo_Save_Find_Delete(t *testing.T) {
	repo := repository.NewCircuitRepo()
	src := value_object.NewSourceID(addr(2), 5)
	c, err := entity.NewCircuit(value_object.NewCircuitID(), src, []value_object.NodeAddress{addr(2), addr(3)})
	require.NoError(t, err)

	require.NoError(t, repo.Save(c))
	got, err := repo.Find(src)
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.Equal(t, 1, repo.Count())

	list, err := repo.ListActive()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(src))
	_, err = repo.Find(src)
	assert.True(t, errors.Is(err, repoif.ErrNotFound))
	assert.Zero(t, repo.Count())
}

func TestSegmentRepo_DuplicateAndPending(t *testing.T) {
	repo := repository.NewSegmentRepository()
	peer := addr(1)
	a := entity.NewOutgoingSegment(value_object.NewSourceID(peer, 1), entity.RoleInitiator)
	b := entity.NewIncomingSegment(value_object.NewSourceID(peer, 2))
	other := entity.NewIncomingSegment(value_object.NewSourceID(addr(9), 1))

	require.NoError(t, repo.Add(a))
	require.NoError(t, repo.Add(b))
	require.NoError(t, repo.Add(other))
	assert.ErrorIs(t, repo.Add(entity.NewIncomingSegment(value_object.NewSourceID(peer, 1))), repoif.ErrDuplicate)

	assert.Equal(t, 2, repo.CountPending(peer))
	b.Establish()
	assert.Equal(t, 1, repo.CountPending(peer))

	assert.True(t, repo.Exists(value_object.NewSourceID(peer, 2)))
	require.NoError(t, repo.Delete(value_object.NewSourceID(peer, 2)))
	assert.False(t, repo.Exists(value_object.NewSourceID(peer, 2)))
	_, err := repo.Find(value_object.NewSourceID(peer, 2))
	assert.True(t, repoif.IsNotFound(err))
	assert.Len(t, repo.List(), 2)
}

type nopEncryptor struct{}

func (nopEncryptor) PutHandshakeMessage([]byte) error       { return nil }
func (nopEncryptor) GetHandshakeMessage() ([]byte, error)   { return nil, nil }
func (nopEncryptor) Ready() bool                            { return false }
func (nopEncryptor) Encrypt(p []byte) ([]byte, error)       { return p, nil }
func (nopEncryptor) Decrypt(c []byte) ([]byte, error)       { return c, nil }
func (nopEncryptor) RewrapperKeys() ([]byte, []byte, error) { return nil, nil, nil }
func (nopEncryptor) Destroy()                               {}

func TestHopCryptoRepo_Source(t *testing.T) {
	repo := repository.NewHopCryptoRepository()
	src := value_object.NewSourceID(addr(1), 3)
	assert.False(t, repo.HasSource(src))

	require.NoError(t, repo.Save(src, entity.NewHopCrypto(addr(1), nopEncryptor{})))
	require.NoError(t, repo.Save(src, entity.NewHopCrypto(addr(2), nopEncryptor{})))
	assert.True(t, repoif.IsDuplicate(repo.Save(src, entity.NewHopCrypto(addr(2), nopEncryptor{}))))
	assert.True(t, repo.HasSource(src))

	h, err := repo.Find(src, addr(2))
	require.NoError(t, err)
	assert.Equal(t, addr(2), h.Hop())
	_, err = repo.Find(src, addr(3))
	assert.ErrorIs(t, err, repoif.ErrNotFound)

	removed := repo.DeleteSource(src)
	assert.Len(t, removed, 2)
	assert.False(t, repo.HasSource(src))
	assert.Empty(t, repo.DeleteSource(src))
}

func TestCircuitRepo_ListActiveOrder(t *testing.T) {
	repo := repository.NewCircuitRepo()
	for _, src := range []value_object.SourceID{
		value_object.NewSourceID(addr(3), 1),
		value_object.NewSourceID(addr(1), 9),
		value_object.NewSourceID(addr(1), 2),
	} {
		c, err := entity.NewCircuit(value_object.NewCircuitID(), src, []value_object.NodeAddress{src.Address})
		require.NoError(t, err)
		require.NoError(t, repo.Save(c))
	}
	list, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, value_object.NewSourceID(addr(1), 2), list[0].Source())
	assert.Equal(t, value_object.NewSourceID(addr(1), 9), list[1].Source())
	assert.Equal(t, value_object.NewSourceID(addr(3), 1), list[2].Source())

	assert.ErrorIs(t, repo.Delete(value_object.NewSourceID(addr(7), 7)), repoif.ErrNotFound)
}
