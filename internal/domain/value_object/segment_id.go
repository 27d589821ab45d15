package value_object

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// SegmentIDSize is the on-wire length of a SegmentID.
const SegmentIDSize = 2

// SegmentID names one circuit segment on a single physical link. It is only
// unique together with the peer address, see SourceID.
type SegmentID uint16

// NewRandomSegmentID draws a segment id from crypto/rand.
func NewRandomSegmentID() (SegmentID, error) {
	var b [SegmentIDSize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return SegmentID(binary.BigEndian.Uint16(b[:])), nil
}

// SegmentIDFrom decodes a big-endian segment id.
func SegmentIDFrom(b []byte) (SegmentID, error) {
	if len(b) != SegmentIDSize {
		return 0, fmt.Errorf("segment id must be %dB, got %d", SegmentIDSize, len(b))
	}
	return SegmentID(binary.BigEndian.Uint16(b)), nil
}

func (s SegmentID) UInt16() uint16         { return uint16(s) }
func (s SegmentID) Equal(o SegmentID) bool { return s == o }
func (s SegmentID) String() string         { return fmt.Sprintf("%04x", uint16(s)) }

func (s SegmentID) Bytes() []byte {
	var b [SegmentIDSize]byte
	binary.BigEndian.PutUint16(b[:], uint16(s))
	return b[:]
}
