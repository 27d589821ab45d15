package service

import (
	"crypto/ed25519"

	"ikedadada/go-anonroute/internal/domain/entity"
)

// CryptoService provides common cryptographic operations used by the application.
type CryptoService interface {
	Sign(data []byte, priv ed25519.PrivateKey) []byte
	Verify(sig, data []byte, pub ed25519.PublicKey) bool

	// ConvertPublicKey maps a node address to the key agreement curve.
	ConvertPublicKey(pub ed25519.PublicKey) ([]byte, error)
	ConvertPrivateKey(priv ed25519.PrivateKey) []byte

	// NewEncryptor starts a hop handshake. key is the hop's X25519 public key
	// for an initiator and the local X25519 private key for a responder.
	NewEncryptor(initiator bool, key []byte) (entity.Encryptor, error)
	NewRewrapper(key []byte) (entity.Rewrapper, error)
}
