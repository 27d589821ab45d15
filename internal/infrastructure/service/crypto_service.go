package service

import (
	"crypto/ed25519"

	"ikedadada/go-anonroute/internal/domain/entity"
	"ikedadada/go-anonroute/internal/infrastructure/crypto"
	"ikedadada/go-anonroute/internal/usecase/service"
)

// CryptoServiceImpl implements service.CryptoService with Noise NK hops and
// ChaCha20 rewrapping.
type CryptoServiceImpl struct{}

// NewCryptoService returns the default CryptoService.
func NewCryptoService() service.CryptoService { return CryptoServiceImpl{} }

func (CryptoServiceImpl) Sign(data []byte, priv ed25519.PrivateKey) []byte {
	return crypto.Sign(data, priv)
}

func (CryptoServiceImpl) Verify(sig, data []byte, pub ed25519.PublicKey) bool {
	return crypto.Verify(sig, data, pub)
}

func (CryptoServiceImpl) ConvertPublicKey(pub ed25519.PublicKey) ([]byte, error) {
	return crypto.ConvertPublicKey(pub)
}

func (CryptoServiceImpl) ConvertPrivateKey(priv ed25519.PrivateKey) []byte {
	return crypto.ConvertPrivateKey(priv)
}

func (CryptoServiceImpl) NewEncryptor(initiator bool, key []byte) (entity.Encryptor, error) {
	e, err := crypto.NewNoiseEncryptor(initiator, key)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (CryptoServiceImpl) NewRewrapper(key []byte) (entity.Rewrapper, error) {
	r, err := crypto.NewChaChaRewrapper(key)
	if err != nil {
		return nil, err
	}
	return r, nil
}
