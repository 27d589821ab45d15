package service

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"ikedadada/go-anonroute/internal/domain/entity"
	"ikedadada/go-anonroute/internal/domain/repository"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

var ErrHopState = errors.New("hop crypto in wrong state")

// LayerCryptoService owns every HopCrypto of a node. It serves the segment
// protocol as its LayerCrypto and drives the handshakes for the router.
//
// Initiator hops are keyed by (segment, hop address). The single hop a relay
// terminates is keyed by (segment, local address).
type LayerCryptoService struct {
	local    vo.NodeAddress
	localKey []byte
	crypto   CryptoService
	hops     repository.HopCryptoRepository
}

func NewLayerCryptoService(identity ed25519.PrivateKey, crypto CryptoService, hops repository.HopCryptoRepository) (*LayerCryptoService, error) {
	local, err := vo.NodeAddressFromPublicKey(identity.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &LayerCryptoService{
		local:    local,
		localKey: crypto.ConvertPrivateKey(identity),
		crypto:   crypto,
		hops:     hops,
	}, nil
}

// Initiate prepares the handshake toward hop. The returned state is not
// stored until Attach.
func (s *LayerCryptoService) Initiate(hop vo.NodeAddress) (*entity.HopCrypto, []byte, error) {
	xpub, err := s.crypto.ConvertPublicKey(hop.PublicKey())
	if err != nil {
		return nil, nil, fmt.Errorf("convert key of %s: %w", hop.Short(), err)
	}
	enc, err := s.crypto.NewEncryptor(true, xpub)
	if err != nil {
		return nil, nil, err
	}
	msg, err := enc.GetHandshakeMessage()
	if err != nil {
		enc.Destroy()
		return nil, nil, err
	}
	return entity.NewHopCrypto(hop, enc), msg, nil
}

func (s *LayerCryptoService) Attach(src vo.SourceID, h *entity.HopCrypto) error {
	return s.hops.Save(src, h)
}

// Complete feeds the hop's answer into an attached initiator handshake.
func (s *LayerCryptoService) Complete(src vo.SourceID, hop vo.NodeAddress, msg []byte) error {
	h, err := s.hops.Find(src, hop)
	if err != nil {
		return err
	}
	if h.State() != entity.HopPending {
		return fmt.Errorf("%w: %s", ErrHopState, h.State())
	}
	if err := h.Encryptor().PutHandshakeMessage(msg); err != nil {
		return err
	}
	return s.ready(h, true)
}

// Respond answers an incoming handshake and stores the ready hop. Nothing is
// stored when the handshake is invalid.
func (s *LayerCryptoService) Respond(src vo.SourceID, msg []byte) ([]byte, error) {
	enc, err := s.crypto.NewEncryptor(false, s.localKey)
	if err != nil {
		return nil, err
	}
	h := entity.NewHopCrypto(s.local, enc)
	resp, err := s.respond(src, h, msg)
	if err != nil {
		h.Destroy()
		return nil, err
	}
	return resp, nil
}

func (s *LayerCryptoService) respond(src vo.SourceID, h *entity.HopCrypto, msg []byte) ([]byte, error) {
	if err := h.Encryptor().PutHandshakeMessage(msg); err != nil {
		return nil, err
	}
	resp, err := h.Encryptor().GetHandshakeMessage()
	if err != nil {
		return nil, err
	}
	if err := s.ready(h, false); err != nil {
		return nil, err
	}
	if err := s.hops.Save(src, h); err != nil {
		return nil, err
	}
	return resp, nil
}

// ready installs the rewrap pair. An initiator wraps forward traffic and
// unwraps backward traffic, a relay the other way round.
func (s *LayerCryptoService) ready(h *entity.HopCrypto, initiator bool) error {
	fwdKey, bwdKey, err := h.Encryptor().RewrapperKeys()
	if err != nil {
		return err
	}
	defer clear(fwdKey)
	defer clear(bwdKey)
	fwd, err := s.crypto.NewRewrapper(fwdKey)
	if err != nil {
		return err
	}
	bwd, err := s.crypto.NewRewrapper(bwdKey)
	if err != nil {
		fwd.Destroy()
		return err
	}
	if initiator {
		err = h.MarkReady(fwd, bwd)
	} else {
		err = h.MarkReady(bwd, fwd)
	}
	if err != nil {
		fwd.Destroy()
		bwd.Destroy()
	}
	return err
}

func (s *LayerCryptoService) Encrypt(src vo.SourceID, hop vo.NodeAddress, pt []byte) ([]byte, error) {
	h, err := s.hops.Find(src, hop)
	if err != nil {
		return nil, err
	}
	return h.Encrypt(pt)
}

func (s *LayerCryptoService) Decrypt(src vo.SourceID, hop vo.NodeAddress, ct []byte) ([]byte, error) {
	h, err := s.hops.Find(src, hop)
	if err != nil {
		return nil, err
	}
	return h.Decrypt(ct)
}

func (s *LayerCryptoService) Wrap(src vo.SourceID, hop vo.NodeAddress, b []byte) ([]byte, error) {
	h, err := s.hops.Find(src, hop)
	if err != nil {
		return nil, err
	}
	return h.Wrap(b)
}

func (s *LayerCryptoService) Unwrap(src vo.SourceID, hop vo.NodeAddress, b []byte) ([]byte, error) {
	h, err := s.hops.Find(src, hop)
	if err != nil {
		return nil, err
	}
	return h.Unwrap(b)
}

// DestroySource wipes every hop of src.
func (s *LayerCryptoService) DestroySource(src vo.SourceID) {
	for _, h := range s.hops.DeleteSource(src) {
		h.Destroy()
	}
}

func (s *LayerCryptoService) HasSource(src vo.SourceID) bool { return s.hops.HasSource(src) }

// Close wipes the local key agreement key.
func (s *LayerCryptoService) Close() { clear(s.localKey) }
