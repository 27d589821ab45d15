package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"filippo.io/edwards25519"
)

const pemType = "PRIVATE KEY"

// ConvertPublicKey maps an Ed25519 public key to its X25519 (Montgomery) form.
func ConvertPublicKey(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %dB", ed25519.PublicKeySize)
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// ConvertPrivateKey derives the X25519 scalar matching ConvertPublicKey.
func ConvertPrivateKey(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	out := make([]byte, 32)
	copy(out, h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	wipe(h[:])
	return out
}

func Sign(data []byte, priv ed25519.PrivateKey) []byte { return ed25519.Sign(priv, data) }

func Verify(sig, data []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// MarshalIdentity encodes priv as PKCS#8 PEM.
func MarshalIdentity(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der}), nil
}

// ParseIdentity decodes a PKCS#8 PEM Ed25519 private key.
func ParseIdentity(b []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("no PEM data")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("not Ed25519 key")
	}
	return priv, nil
}

// LoadIdentity reads an identity written by SaveIdentity.
func LoadIdentity(path string) (ed25519.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseIdentity(b)
}

// SaveIdentity writes priv with owner-only permissions.
func SaveIdentity(path string, priv ed25519.PrivateKey) error {
	b, err := MarshalIdentity(priv)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
