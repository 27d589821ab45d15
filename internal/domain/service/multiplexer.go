package service

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxMessageSize is the largest logical message a multiplexer accepts.
const MaxMessageSize = 0xFFFF

const (
	blockHeaderSize   = 2
	messageHeaderSize = 2
)

var (
	ErrMessageTooLarge = errors.New("message too large")
	ErrBlockSize       = errors.New("invalid block size")
	ErrBlockCorrupt    = errors.New("corrupt block")
)

// the used field must be able to describe a full block
func validBlockSize(n int) bool {
	return n > blockHeaderSize && n-blockHeaderSize <= 0xFFFF
}

// CellMultiplexer packs length-framed messages into fixed-size blocks.
//
// Block layout: | used (2, BE) | stream bytes | zero padding |
// Stream layout: | length (2, BE) | message | length | message | ...
type CellMultiplexer struct {
	blockSize int
	stream    []byte
}

func NewCellMultiplexer(blockSize int) (*CellMultiplexer, error) {
	if !validBlockSize(blockSize) {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}
	return &CellMultiplexer{blockSize: blockSize}, nil
}

// Feed queues one logical message.
func (m *CellMultiplexer) Feed(msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(msg), MaxMessageSize)
	}
	var hdr [messageHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(msg)))
	m.stream = append(m.stream, hdr[:]...)
	m.stream = append(m.stream, msg...)
	return nil
}

func (m *CellMultiplexer) HaveMoreBlocks() bool { return len(m.stream) > 0 }

// GetBlock pops exactly one block. It returns nil when nothing is queued.
func (m *CellMultiplexer) GetBlock() []byte {
	if len(m.stream) == 0 {
		return nil
	}
	n := min(len(m.stream), m.blockSize-blockHeaderSize)
	block := make([]byte, m.blockSize)
	binary.BigEndian.PutUint16(block, uint16(n))
	copy(block[blockHeaderSize:], m.stream[:n])
	m.stream = m.stream[n:]
	if len(m.stream) == 0 {
		m.stream = nil
	}
	return block
}

// CellDemultiplexer reassembles messages from blocks produced by a
// CellMultiplexer of the same block size.
type CellDemultiplexer struct {
	blockSize int
	stream    []byte
	ready     [][]byte
}

func NewCellDemultiplexer(blockSize int) (*CellDemultiplexer, error) {
	if !validBlockSize(blockSize) {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}
	return &CellDemultiplexer{blockSize: blockSize}, nil
}

// Feed consumes one block.
func (d *CellDemultiplexer) Feed(block []byte) error {
	if len(block) != d.blockSize {
		return fmt.Errorf("%w: %d", ErrBlockSize, len(block))
	}
	used := int(binary.BigEndian.Uint16(block))
	if used > d.blockSize-blockHeaderSize {
		return fmt.Errorf("%w: used %d", ErrBlockCorrupt, used)
	}
	d.stream = append(d.stream, block[blockHeaderSize:blockHeaderSize+used]...)
	for len(d.stream) >= messageHeaderSize {
		l := int(binary.BigEndian.Uint16(d.stream))
		if len(d.stream) < messageHeaderSize+l {
			break
		}
		msg := make([]byte, l)
		copy(msg, d.stream[messageHeaderSize:messageHeaderSize+l])
		d.ready = append(d.ready, msg)
		d.stream = d.stream[messageHeaderSize+l:]
	}
	if len(d.stream) == 0 {
		d.stream = nil
	}
	return nil
}

func (d *CellDemultiplexer) HaveMoreData() bool { return len(d.ready) > 0 }

// GetData pops the oldest complete message, or nil.
func (d *CellDemultiplexer) GetData() []byte {
	if len(d.ready) == 0 {
		return nil
	}
	msg := d.ready[0]
	d.ready[0] = nil
	d.ready = d.ready[1:]
	return msg
}
