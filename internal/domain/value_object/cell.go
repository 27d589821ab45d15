package value_object

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// CellHeaderSize is CMD(1)+VER(1)+SEG(2)+LEN(2).
	CellHeaderSize = 6
	// MACSize is the AEAD tag appended by every hop encryption.
	MACSize = 16
	// RoutedHeaderSize is KIND(1)+TAG(1)+LEN(2).
	RoutedHeaderSize = 4
)

var (
	ErrCellSize       = errors.New("invalid cell size")
	ErrCellVersion    = errors.New("unsupported cell version")
	ErrCellCommand    = errors.New("unknown cell command")
	ErrPayloadLength  = errors.New("invalid payload length")
	ErrRoutedKind     = errors.New("unknown routed command")
	ErrRoutedTooLarge = errors.New("routed command data too large")
)

// Cell is one fixed-size transmission unit on a link.
type Cell struct {
	Cmd     CellCommand
	Version ProtocolVersion
	Segment SegmentID
	Payload []byte
}

// BlobSize is the payload capacity of a cell of the given packet size. DATA
// cells always carry a blob of exactly this length.
func BlobSize(packetSize int) int { return packetSize - CellHeaderSize }

// Encode serializes the cell into exactly packetSize bytes, zero padded.
func Encode(c Cell, packetSize int) ([]byte, error) {
	if packetSize <= CellHeaderSize || packetSize > CellHeaderSize+0xFFFF {
		return nil, fmt.Errorf("%w: %d", ErrCellSize, packetSize)
	}
	if len(c.Payload) > BlobSize(packetSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadLength, len(c.Payload), BlobSize(packetSize))
	}
	buf := make([]byte, packetSize)
	buf[0] = byte(c.Cmd)
	buf[1] = byte(c.Version)
	binary.BigEndian.PutUint16(buf[2:4], c.Segment.UInt16())
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(c.Payload)))
	copy(buf[CellHeaderSize:], c.Payload)
	return buf, nil
}

// Decode parses a packetSize-byte buffer into a Cell.
func Decode(buf []byte, packetSize int) (*Cell, error) {
	if len(buf) != packetSize || packetSize <= CellHeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrCellSize, len(buf))
	}
	cmd := CellCommand(buf[0])
	if !cmd.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrCellCommand, cmd)
	}
	ver := ProtocolVersion(buf[1])
	if !ver.IsSupported() {
		return nil, fmt.Errorf("%w: %s", ErrCellVersion, ver)
	}
	l := int(binary.BigEndian.Uint16(buf[4:6]))
	if l > BlobSize(packetSize) {
		return nil, fmt.Errorf("%w: %d", ErrPayloadLength, l)
	}
	payload := make([]byte, l)
	copy(payload, buf[CellHeaderSize:CellHeaderSize+l])
	return &Cell{
		Cmd:     cmd,
		Version: ver,
		Segment: SegmentID(binary.BigEndian.Uint16(buf[2:4])),
		Payload: payload,
	}, nil
}
