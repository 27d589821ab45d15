package entity

import (
	"errors"
	"fmt"

	"ikedadada/go-anonroute/internal/domain/value_object"
)

// Encryptor is one hop's handshake and session cipher.
type Encryptor interface {
	PutHandshakeMessage(msg []byte) error
	GetHandshakeMessage() ([]byte, error)
	Ready() bool
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	// RewrapperKeys returns the (forward, backward) keys. Only valid once Ready.
	RewrapperKeys() (forward, backward []byte, err error)
	Destroy()
}

// Rewrapper transforms onion ciphertext without authenticating it.
type Rewrapper interface {
	Wrap(data []byte) []byte
	Unwrap(data []byte) []byte
	Destroy()
}

type HopState uint8

const (
	HopPending HopState = iota
	HopReady
	HopDestroyed
)

func (s HopState) String() string {
	switch s {
	case HopPending:
		return "pending"
	case HopReady:
		return "ready"
	case HopDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

var ErrHopNotReady = errors.New("hop crypto not ready")

// HopCrypto は (SourceID, hop) ごとの暗号状態
type HopCrypto struct {
	hop   value_object.NodeAddress
	state HopState
	enc   Encryptor

	// outbound applies a layer on traffic this node sends along the circuit,
	// inbound removes the layer from traffic it receives.
	outbound Rewrapper
	inbound  Rewrapper
}

func NewHopCrypto(hop value_object.NodeAddress, enc Encryptor) *HopCrypto {
	return &HopCrypto{hop: hop, state: HopPending, enc: enc}
}

func (h *HopCrypto) Hop() value_object.NodeAddress { return h.hop }
func (h *HopCrypto) State() HopState               { return h.state }
func (h *HopCrypto) Encryptor() Encryptor          { return h.enc }
func (h *HopCrypto) IsReady() bool                 { return h.state == HopReady }

// MarkReady installs the rewrap pair. The encryptor must have completed its
// handshake.
func (h *HopCrypto) MarkReady(outbound, inbound Rewrapper) error {
	if h.state != HopPending || !h.enc.Ready() {
		return ErrHopNotReady
	}
	h.outbound, h.inbound = outbound, inbound
	h.state = HopReady
	return nil
}

func (h *HopCrypto) Encrypt(pt []byte) ([]byte, error) {
	if !h.IsReady() {
		return nil, ErrHopNotReady
	}
	return h.enc.Encrypt(pt)
}

func (h *HopCrypto) Decrypt(ct []byte) ([]byte, error) {
	if !h.IsReady() {
		return nil, ErrHopNotReady
	}
	return h.enc.Decrypt(ct)
}

func (h *HopCrypto) Wrap(b []byte) ([]byte, error) {
	if !h.IsReady() {
		return nil, ErrHopNotReady
	}
	return h.outbound.Wrap(b), nil
}

func (h *HopCrypto) Unwrap(b []byte) ([]byte, error) {
	if !h.IsReady() {
		return nil, ErrHopNotReady
	}
	return h.inbound.Unwrap(b), nil
}

// Destroy wipes every key held by this hop.
func (h *HopCrypto) Destroy() {
	if h.state == HopDestroyed {
		return
	}
	if h.enc != nil {
		h.enc.Destroy()
	}
	if h.outbound != nil {
		h.outbound.Destroy()
	}
	if h.inbound != nil {
		h.inbound.Destroy()
	}
	h.enc, h.outbound, h.inbound = nil, nil, nil
	h.state = HopDestroyed
}
