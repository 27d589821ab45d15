package value_object

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// AddressSize is the length of a NodeAddress (an Ed25519 public key).
const AddressSize = ed25519.PublicKeySize

// NodeAddress identifies a relay inside the routing protocol. It is the
// node's Ed25519 public key, not a network endpoint.
type NodeAddress [AddressSize]byte

// NodeAddressFrom copies b into a NodeAddress.
func NodeAddressFrom(b []byte) (NodeAddress, error) {
	var a NodeAddress
	if len(b) != AddressSize {
		return a, fmt.Errorf("node address must be %dB, got %d", AddressSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// NodeAddressFromHex parses the hex form produced by String.
func NodeAddressFromHex(s string) (NodeAddress, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("decode node address: %w", err)
	}
	return NodeAddressFrom(b)
}

// NodeAddressFromPublicKey converts an Ed25519 public key.
func NodeAddressFromPublicKey(pub ed25519.PublicKey) (NodeAddress, error) {
	return NodeAddressFrom(pub)
}

func (a NodeAddress) Bytes() []byte {
	out := make([]byte, AddressSize)
	copy(out, a[:])
	return out
}

func (a NodeAddress) PublicKey() ed25519.PublicKey { return ed25519.PublicKey(a.Bytes()) }
func (a NodeAddress) Equal(o NodeAddress) bool     { return a == o }
func (a NodeAddress) IsZero() bool                 { return a == NodeAddress{} }
func (a NodeAddress) String() string               { return hex.EncodeToString(a[:]) }

// Short returns an abbreviated form for log lines.
func (a NodeAddress) Short() string { return hex.EncodeToString(a[:4]) }
