package crypto

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// ChaChaRewrapper XORs data with a ChaCha20 keystream. Each call uses the next
// counter nonce, so both ends must process the same sequence of cells.
type ChaChaRewrapper struct {
	key     []byte
	counter uint64
}

func NewChaChaRewrapper(key []byte) (*ChaChaRewrapper, error) {
	if len(key) != chacha20.KeySize {
		return nil, fmt.Errorf("rewrap key must be %dB, got %d", chacha20.KeySize, len(key))
	}
	return &ChaChaRewrapper{key: append([]byte(nil), key...)}, nil
}

func (r *ChaChaRewrapper) Wrap(data []byte) []byte   { return r.apply(data) }
func (r *ChaChaRewrapper) Unwrap(data []byte) []byte { return r.apply(data) }

func (r *ChaChaRewrapper) apply(data []byte) []byte {
	var nonce [chacha20.NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], r.counter)
	r.counter++
	c, err := chacha20.NewUnauthenticatedCipher(r.key, nonce[:])
	if err != nil {
		// key and nonce sizes are fixed above
		panic(err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

func (r *ChaChaRewrapper) Destroy() {
	wipe(r.key)
	r.key = make([]byte, chacha20.KeySize)
}
