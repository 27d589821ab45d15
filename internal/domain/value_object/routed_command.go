package value_object

import (
	"encoding/binary"
	"fmt"
)

// RoutedCommand is the plaintext carried inside a DATA blob. Exactly one hop
// can decrypt it; every hop in front of that one only rewraps it.
type RoutedCommand struct {
	Kind RoutedKind
	Tag  byte
	Data []byte
}

// RoutedPlainSize is the plaintext size that encrypts to a full blob.
func RoutedPlainSize(packetSize int) int { return BlobSize(packetSize) - MACSize }

// MaxRoutedDataSize is the largest Data a RoutedCommand can carry.
func MaxRoutedDataSize(packetSize int) int { return RoutedPlainSize(packetSize) - RoutedHeaderSize }

// EncodeRouted lays out the command into exactly RoutedPlainSize bytes.
func EncodeRouted(rc RoutedCommand, packetSize int) ([]byte, error) {
	max := MaxRoutedDataSize(packetSize)
	if max < 0 || len(rc.Data) > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrRoutedTooLarge, len(rc.Data), max)
	}
	buf := make([]byte, RoutedPlainSize(packetSize))
	buf[0] = byte(rc.Kind)
	buf[1] = rc.Tag
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(rc.Data)))
	copy(buf[RoutedHeaderSize:], rc.Data)
	return buf, nil
}

// DecodeRouted is the inverse of EncodeRouted.
func DecodeRouted(buf []byte) (*RoutedCommand, error) {
	if len(buf) < RoutedHeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrPayloadLength, len(buf))
	}
	kind := RoutedKind(buf[0])
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrRoutedKind, kind)
	}
	l := int(binary.BigEndian.Uint16(buf[2:4]))
	if l > len(buf)-RoutedHeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrPayloadLength, l)
	}
	data := make([]byte, l)
	copy(data, buf[RoutedHeaderSize:RoutedHeaderSize+l])
	return &RoutedCommand{Kind: kind, Tag: buf[1], Data: data}, nil
}
