package value_object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

const packetSize = 256

func TestEncodeDecode(t *testing.T) {
	payload := []byte("hello")
	c := vo.Cell{Cmd: vo.CmdData, Version: vo.ProtocolV1, Segment: 0xbeef, Payload: payload}
	buf, err := vo.Encode(c, packetSize)
	require.NoError(t, err)
	assert.Len(t, buf, packetSize)

	d, err := vo.Decode(buf, packetSize)
	require.NoError(t, err)
	assert.Equal(t, c.Cmd, d.Cmd)
	assert.Equal(t, c.Version, d.Version)
	assert.Equal(t, vo.SegmentID(0xbeef), d.Segment)
	assert.Equal(t, payload, d.Payload)
}

func TestEncode_PadsWithZeros(t *testing.T) {
	buf, err := vo.Encode(vo.Cell{Cmd: vo.CmdDestroy, Version: vo.ProtocolV1, Segment: 1}, packetSize)
	require.NoError(t, err)
	for i := vo.CellHeaderSize; i < packetSize; i++ {
		require.Zero(t, buf[i])
	}
}

func TestEncode_FullBlob(t *testing.T) {
	blob := make([]byte, vo.BlobSize(packetSize))
	_, err := vo.Encode(vo.Cell{Cmd: vo.CmdData, Version: vo.ProtocolV1, Payload: blob}, packetSize)
	assert.NoError(t, err)

	_, err = vo.Encode(vo.Cell{Cmd: vo.CmdData, Version: vo.ProtocolV1, Payload: append(blob, 0)}, packetSize)
	assert.ErrorIs(t, err, vo.ErrPayloadLength)
}

func TestDecode_Errors(t *testing.T) {
	good, err := vo.Encode(vo.Cell{Cmd: vo.CmdData, Version: vo.ProtocolV1}, packetSize)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short buffer", func(b []byte) []byte { return b[:packetSize-1] }, vo.ErrCellSize},
		{"unknown command", func(b []byte) []byte { b[0] = 0x7f; return b }, vo.ErrCellCommand},
		{"unknown version", func(b []byte) []byte { b[1] = 0x09; return b }, vo.ErrCellVersion},
		{"length overflow", func(b []byte) []byte { b[4], b[5] = 0xff, 0xff; return b }, vo.ErrPayloadLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), good...)
			_, err := vo.Decode(tt.mutate(buf), packetSize)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRoutedCommand_RoundTrip(t *testing.T) {
	rc := vo.RoutedCommand{Kind: vo.RoutedExtendRequest, Tag: 3, Data: []byte{1, 2, 3}}
	buf, err := vo.EncodeRouted(rc, packetSize)
	require.NoError(t, err)
	assert.Len(t, buf, vo.RoutedPlainSize(packetSize))
	assert.Equal(t, vo.BlobSize(packetSize), len(buf)+vo.MACSize)

	out, err := vo.DecodeRouted(buf)
	require.NoError(t, err)
	assert.Equal(t, rc, *out)
}

func TestRoutedCommand_Limits(t *testing.T) {
	max := vo.MaxRoutedDataSize(packetSize)
	assert.Equal(t, packetSize-vo.CellHeaderSize-vo.MACSize-vo.RoutedHeaderSize, max)

	_, err := vo.EncodeRouted(vo.RoutedCommand{Kind: vo.RoutedData, Data: make([]byte, max)}, packetSize)
	assert.NoError(t, err)
	_, err = vo.EncodeRouted(vo.RoutedCommand{Kind: vo.RoutedData, Data: make([]byte, max+1)}, packetSize)
	assert.ErrorIs(t, err, vo.ErrRoutedTooLarge)

	_, err = vo.DecodeRouted([]byte{0x7f, 0, 0, 0})
	assert.ErrorIs(t, err, vo.ErrRoutedKind)
}

func TestCellCommand_String(t *testing.T) {
	assert.Equal(t, "CREATE_REQUEST", vo.CmdCreateRequest.String())
	assert.Equal(t, "DESTROY", vo.CmdDestroy.String())
	assert.Equal(t, "UNKNOWN(9)", vo.CellCommand(9).String())
	assert.False(t, vo.CellCommand(0).IsValid())
	assert.True(t, vo.RoutedExtendResponse.IsValid())
}
