package service_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikedadada/go-anonroute/internal/domain/service"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestMultiplexer_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 2, 100, 1000, 4096, service.MaxMessageSize}
	blocks := []int{3, 4, 17, 200, 478, 65537}
	for _, bs := range blocks {
		for _, n := range sizes {
			msg := randomBytes(t, n)
			mux, err := service.NewCellMultiplexer(bs)
			require.NoError(t, err)
			demux, err := service.NewCellDemultiplexer(bs)
			require.NoError(t, err)

			require.NoError(t, mux.Feed(msg))
			count := 0
			for mux.HaveMoreBlocks() {
				block := mux.GetBlock()
				require.Len(t, block, bs)
				require.False(t, demux.HaveMoreData() && mux.HaveMoreBlocks(), "message complete before last block")
				require.NoError(t, demux.Feed(block))
				count++
			}
			require.True(t, demux.HaveMoreData(), "block=%d len=%d", bs, n)
			assert.True(t, bytes.Equal(msg, demux.GetData()), "block=%d len=%d", bs, n)
			assert.False(t, demux.HaveMoreData())
			assert.Equal(t, (n+2+bs-3)/(bs-2), count)
		}
	}
}

func TestMultiplexer_PreservesBoundaries(t *testing.T) {
	mux, _ := service.NewCellMultiplexer(10)
	demux, _ := service.NewCellDemultiplexer(10)
	msgs := [][]byte{[]byte("a"), {}, []byte("hello world, longer than a block"), []byte("z")}
	for _, m := range msgs {
		require.NoError(t, mux.Feed(m))
	}
	for mux.HaveMoreBlocks() {
		require.NoError(t, demux.Feed(mux.GetBlock()))
	}
	for _, m := range msgs {
		require.True(t, demux.HaveMoreData())
		assert.Equal(t, m, demux.GetData())
	}
	assert.False(t, demux.HaveMoreData())
	assert.Nil(t, demux.GetData())
	assert.Nil(t, mux.GetBlock())
}

func TestMultiplexer_Errors(t *testing.T) {
	_, err := service.NewCellMultiplexer(2)
	assert.ErrorIs(t, err, service.ErrBlockSize)
	_, err = service.NewCellDemultiplexer(0)
	assert.ErrorIs(t, err, service.ErrBlockSize)
	_, err = service.NewCellMultiplexer(65538)
	assert.ErrorIs(t, err, service.ErrBlockSize)

	mux, _ := service.NewCellMultiplexer(64)
	assert.ErrorIs(t, mux.Feed(make([]byte, service.MaxMessageSize+1)), service.ErrMessageTooLarge)
	assert.False(t, mux.HaveMoreBlocks(), "rejected message leaves no state")

	demux, _ := service.NewCellDemultiplexer(8)
	assert.ErrorIs(t, demux.Feed(make([]byte, 7)), service.ErrBlockSize)
	assert.ErrorIs(t, demux.Feed([]byte{0, 7, 0, 0, 0, 0, 0, 0}), service.ErrBlockCorrupt)
}
