package crypto

import (
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/katzenpost/nyquist"
	"github.com/katzenpost/nyquist/dh"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// NoiseProtocol is the per-hop handshake: the initiator knows the hop's
// static key from its address, the hop learns nothing about the initiator.
const NoiseProtocol = "Noise_NK_25519_ChaChaPoly_BLAKE2b"

// RewrapKeySize is the length of each rewrap key.
const RewrapKeySize = 32

var (
	ErrHandshakeDone    = errors.New("handshake already complete")
	ErrHandshakePending = errors.New("handshake not complete")
	ErrDestroyed        = errors.New("encryptor destroyed")
)

var noiseProtocol *nyquist.Protocol

func init() {
	p, err := nyquist.NewProtocol(NoiseProtocol)
	if err != nil {
		panic(err)
	}
	noiseProtocol = p
}

// NoiseEncryptor is one hop's handshake and transport cipher pair.
type NoiseEncryptor struct {
	initiator bool
	hs        *nyquist.HandshakeState
	out       []byte // handshake message to hand to the peer
	tx, rx    *nyquist.CipherState
	hash      []byte
	destroyed bool
}

// NewNoiseEncryptor creates an initiator from the responder's X25519 public
// key, or a responder from the local X25519 private key.
func NewNoiseEncryptor(initiator bool, key []byte) (*NoiseEncryptor, error) {
	cfg := &nyquist.HandshakeConfig{
		Protocol:    noiseProtocol,
		DH:          &nyquist.DHConfig{},
		IsInitiator: initiator,
	}
	if initiator {
		pub, err := dh.X25519.ParsePublicKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse responder key: %w", err)
		}
		cfg.DH.RemoteStatic = pub
	} else {
		kp, err := dh.X25519.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse local key: %w", err)
		}
		cfg.DH.LocalStatic = kp
	}
	hs, err := nyquist.NewHandshake(cfg)
	if err != nil {
		return nil, err
	}
	e := &NoiseEncryptor{initiator: initiator, hs: hs}
	if initiator {
		msg, err := hs.WriteMessage(nil, nil)
		if err != nil {
			hs.Reset()
			return nil, fmt.Errorf("write handshake: %w", err)
		}
		e.out = msg
	}
	return e, nil
}

// PutHandshakeMessage consumes the peer's handshake message. A responder
// completes its side immediately and prepares the answer.
func (e *NoiseEncryptor) PutHandshakeMessage(msg []byte) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if e.hs == nil {
		return ErrHandshakeDone
	}
	_, err := e.hs.ReadMessage(nil, msg)
	switch {
	case errors.Is(err, nyquist.ErrDone):
		e.finish()
		return nil
	case err != nil:
		e.hs.Reset()
		e.hs = nil
		return fmt.Errorf("read handshake: %w", err)
	}
	if e.initiator {
		return nil
	}
	out, err := e.hs.WriteMessage(nil, nil)
	if !errors.Is(err, nyquist.ErrDone) {
		e.hs.Reset()
		e.hs = nil
		if err == nil {
			err = ErrHandshakePending
		}
		return fmt.Errorf("write handshake: %w", err)
	}
	e.out = out
	e.finish()
	return nil
}

// GetHandshakeMessage returns the message to send to the peer.
func (e *NoiseEncryptor) GetHandshakeMessage() ([]byte, error) {
	if e.destroyed {
		return nil, ErrDestroyed
	}
	if e.out == nil {
		return nil, ErrHandshakePending
	}
	return append([]byte(nil), e.out...), nil
}

func (e *NoiseEncryptor) Ready() bool { return !e.destroyed && e.tx != nil }

func (e *NoiseEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if !e.Ready() {
		return nil, ErrHandshakePending
	}
	return e.tx.EncryptWithAd(nil, nil, plaintext)
}

// Decrypt leaves the receive nonce untouched when authentication fails.
func (e *NoiseEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if !e.Ready() {
		return nil, ErrHandshakePending
	}
	return e.rx.DecryptWithAd(nil, nil, ciphertext)
}

// RewrapperKeys derives the (forward, backward) rewrap keys from the
// handshake hash. Both ends derive the same pair.
func (e *NoiseEncryptor) RewrapperKeys() ([]byte, []byte, error) {
	if !e.Ready() {
		return nil, nil, ErrHandshakePending
	}
	newHash := func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}
	fwd := make([]byte, RewrapKeySize)
	bwd := make([]byte, RewrapKeySize)
	if _, err := io.ReadFull(hkdf.New(newHash, e.hash, nil, []byte("anonroute rewrap forward")), fwd); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(hkdf.New(newHash, e.hash, nil, []byte("anonroute rewrap backward")), bwd); err != nil {
		return nil, nil, err
	}
	return fwd, bwd, nil
}

// Destroy wipes the session keys. The encryptor is unusable afterwards.
func (e *NoiseEncryptor) Destroy() {
	if e.destroyed {
		return
	}
	e.destroyed = true
	if e.hs != nil {
		e.hs.Reset()
		e.hs = nil
	}
	if e.tx != nil {
		e.tx.Reset()
	}
	if e.rx != nil {
		e.rx.Reset()
	}
	e.tx, e.rx = nil, nil
	wipe(e.hash)
	e.hash, e.out = nil, nil
}

func (e *NoiseEncryptor) finish() {
	status := e.hs.GetStatus()
	if e.initiator {
		e.tx, e.rx = status.CipherStates[0], status.CipherStates[1]
	} else {
		e.rx, e.tx = status.CipherStates[0], status.CipherStates[1]
	}
	e.hash = append([]byte(nil), status.HandshakeHash...)
	e.hs = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
