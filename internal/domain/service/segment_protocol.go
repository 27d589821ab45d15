package service

import (
	"errors"
	"fmt"

	"ikedadada/go-anonroute/internal/domain/entity"
	"ikedadada/go-anonroute/internal/domain/repository"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// HandshakeMessageSize is the size of either Noise NK handshake message
// (ephemeral key plus an empty authenticated payload).
const HandshakeMessageSize = 32 + vo.MACSize

var (
	ErrSegmentState       = errors.New("segment in wrong state")
	ErrTooManyPending     = errors.New("too many pending segments")
	ErrNoFreeSegmentID    = errors.New("no free segment id")
	ErrUnknownHop         = errors.New("hop is not on the path")
	ErrPacketSizeTooSmall = errors.New("packet size too small")
)

// DropReason labels a silently discarded cell.
type DropReason string

const (
	DropMalformed      DropReason = "malformed"
	DropUnknownSegment DropReason = "unknown_segment"
	DropUnexpected     DropReason = "unexpected_command"
	DropCollision      DropReason = "segment_collision"
	DropTooManyPending DropReason = "too_many_pending"
	DropRejected       DropReason = "handshake_rejected"
	DropUndecryptable  DropReason = "undecryptable"
	DropNotTerminal    DropReason = "not_terminal_hop"
)

// ProtocolObserver receives every event of the segment protocol. All calls
// happen synchronously on the goroutine driving the protocol.
type ProtocolObserver interface {
	// OnSend hands one encoded cell to the link layer.
	OnSend(peer vo.NodeAddress, packet []byte)
	// OnBuildRequest fires for a new incoming segment. The segment is removed
	// again unless BuildResponse and ConfirmIncomingSegmentEstablished were
	// called before returning.
	OnBuildRequest(src vo.SourceID, handshake []byte)
	// OnBuildResponse fires on the answer to BuildRequest. An empty handshake
	// is a refusal.
	OnBuildResponse(src vo.SourceID, handshake []byte)
	// OnExtendResponse fires on the answer to ExtendRequest. An empty
	// handshake means the last hop could not extend.
	OnExtendResponse(src vo.SourceID, hop vo.NodeAddress, handshake []byte)
	OnData(src vo.SourceID, origin vo.NodeAddress, tag byte, data []byte)
	// OnDestroy fires when a peer tore down the circuit the segment belongs
	// to. src is the segment holding the circuit's crypto state.
	OnDestroy(src vo.SourceID)
	OnActivity(src vo.SourceID)
	OnDrop(peer vo.NodeAddress, reason DropReason)
}

// LayerCrypto is the per (segment, hop) onion layer.
//
// Wrap applies the rewrap layer on traffic this node sends along the circuit
// and Unwrap removes it from traffic it receives. Decrypt must not advance
// any state when authentication fails.
type LayerCrypto interface {
	Encrypt(src vo.SourceID, hop vo.NodeAddress, plaintext []byte) ([]byte, error)
	Decrypt(src vo.SourceID, hop vo.NodeAddress, ciphertext []byte) ([]byte, error)
	Wrap(src vo.SourceID, hop vo.NodeAddress, data []byte) ([]byte, error)
	Unwrap(src vo.SourceID, hop vo.NodeAddress, data []byte) ([]byte, error)
}

type ProtocolConfig struct {
	Local              vo.NodeAddress
	PacketSize         int
	MaxPendingSegments int
}

// MinPacketSize is the smallest cell that still carries an EXTEND_REQUEST.
func MinPacketSize() int {
	return vo.CellHeaderSize + vo.MACSize + vo.RoutedHeaderSize + vo.AddressSize + HandshakeMessageSize
}

// SegmentProtocol is the per-link segment state machine. It frames and parses
// cells, keeps segment state and delegates every cryptographic operation to
// LayerCrypto. It is not safe for concurrent use.
type SegmentProtocol struct {
	local      vo.NodeAddress
	packetSize int
	maxPending int
	segments   repository.SegmentRepository
	crypto     LayerCrypto
	obs        ProtocolObserver
}

func NewSegmentProtocol(cfg ProtocolConfig, segments repository.SegmentRepository, crypto LayerCrypto, obs ProtocolObserver) (*SegmentProtocol, error) {
	if cfg.PacketSize < MinPacketSize() || cfg.PacketSize > vo.CellHeaderSize+0xFFFF {
		return nil, fmt.Errorf("%w: %d (min %d)", ErrPacketSizeTooSmall, cfg.PacketSize, MinPacketSize())
	}
	if cfg.MaxPendingSegments <= 0 {
		return nil, fmt.Errorf("max pending segments must be positive: %d", cfg.MaxPendingSegments)
	}
	if segments == nil || crypto == nil || obs == nil {
		return nil, errors.New("segment protocol: nil dependency")
	}
	return &SegmentProtocol{
		local:      cfg.Local,
		packetSize: cfg.PacketSize,
		maxPending: cfg.MaxPendingSegments,
		segments:   segments,
		crypto:     crypto,
		obs:        obs,
	}, nil
}

// MaxCommandDataLength is the routed command payload that fits one cell.
func (p *SegmentProtocol) MaxCommandDataLength() int { return vo.MaxRoutedDataSize(p.packetSize) }

func (p *SegmentProtocol) PacketSize() int { return p.packetSize }

// Lookup returns the segment for src.
func (p *SegmentProtocol) Lookup(src vo.SourceID) (*entity.Segment, bool) {
	s, err := p.segments.Find(src)
	return s, err == nil
}

// Sources lists the segments with the given role.
func (p *SegmentProtocol) Sources(role entity.SegmentRole) []vo.SourceID {
	var out []vo.SourceID
	for _, s := range p.segments.List() {
		if s.Role() == role {
			out = append(out, s.Source())
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// commands

// BuildRequest opens a new segment toward peer.
func (p *SegmentProtocol) BuildRequest(peer vo.NodeAddress, handshake []byte) (vo.SegmentID, error) {
	src, err := p.openSegment(peer, entity.RoleInitiator, nil)
	if err != nil {
		return 0, err
	}
	if err := p.send(src, vo.CmdCreateRequest, handshake); err != nil {
		if derr := p.segments.Delete(src); derr != nil && !repository.IsNotFound(derr) {
			err = errors.Join(err, derr)
		}
		return 0, err
	}
	return src.Segment, nil
}

// BuildResponse answers a pending incoming segment.
func (p *SegmentProtocol) BuildResponse(src vo.SourceID, handshake []byte) error {
	seg, err := p.segments.Find(src)
	if err != nil {
		return fmt.Errorf("build response %s: %w", src, err)
	}
	if seg.State() != entity.SegmentPendingIncoming {
		return fmt.Errorf("build response %s: %w (%s)", src, ErrSegmentState, seg.State())
	}
	return p.send(src, vo.CmdCreateResponse, handshake)
}

// ExtendRequest asks the last hop of a locally built path to extend it to next.
func (p *SegmentProtocol) ExtendRequest(src vo.SourceID, next vo.NodeAddress, handshake []byte) error {
	seg, err := p.segments.Find(src)
	if err != nil {
		return fmt.Errorf("extend %s: %w", src, err)
	}
	if seg.Role() != entity.RoleInitiator || !seg.IsEstablished() {
		return fmt.Errorf("extend %s: %w", src, ErrSegmentState)
	}
	if _, busy := seg.PendingHop(); busy {
		return fmt.Errorf("extend %s: extension already in progress: %w", src, ErrSegmentState)
	}
	if next == p.local || seg.HasHop(next) {
		return fmt.Errorf("extend %s to %s: %w", src, next.Short(), ErrUnknownHop)
	}
	plain, err := vo.EncodeRouted(vo.RoutedCommand{
		Kind: vo.RoutedExtendRequest,
		Data: vo.EncodeExtendPayload(&vo.ExtendPayload{NextHop: next, Handshake: handshake}),
	}, p.packetSize)
	if err != nil {
		return err
	}
	last, _ := seg.LastHop()
	blob, err := p.onion(seg, last, plain)
	if err != nil {
		return err
	}
	if err := p.send(src, vo.CmdData, blob); err != nil {
		return err
	}
	seg.SetPendingHop(next)
	return nil
}

// Data sends one routed DATA command. On a locally built path it goes to
// target, on any other segment it goes back toward the circuit's initiator.
func (p *SegmentProtocol) Data(src vo.SourceID, target vo.NodeAddress, tag byte, payload []byte) error {
	seg, err := p.segments.Find(src)
	if err != nil {
		return fmt.Errorf("data %s: %w", src, err)
	}
	if !seg.IsEstablished() {
		return fmt.Errorf("data %s: %w (%s)", src, ErrSegmentState, seg.State())
	}
	plain, err := vo.EncodeRouted(vo.RoutedCommand{Kind: vo.RoutedData, Tag: tag, Data: payload}, p.packetSize)
	if err != nil {
		return err
	}
	var blob []byte
	switch seg.Role() {
	case entity.RoleInitiator:
		blob, err = p.onion(seg, target, plain)
	case entity.RoleResponder:
		blob, err = p.crypto.Encrypt(src, p.local, plain)
	default:
		err = fmt.Errorf("data %s: %w (%s)", src, ErrSegmentState, seg.Role())
	}
	if err != nil {
		return err
	}
	return p.send(src, vo.CmdData, blob)
}

// Destroy tears down the segment and the segment linked to it. The segment
// stays reserved in Destroyed state until Forget.
func (p *SegmentProtocol) Destroy(src vo.SourceID) error {
	seg, err := p.segments.Find(src)
	if err != nil || seg.State() == entity.SegmentDestroyed {
		return nil
	}
	if link, ok := seg.Link(); ok {
		if l, err := p.segments.Find(link); err == nil && l.State() != entity.SegmentDestroyed {
			_ = p.send(link, vo.CmdDestroy, nil)
		}
		_ = p.segments.Delete(link)
		seg.ClearLink()
	}
	seg.MarkDestroyed()
	return p.send(src, vo.CmdDestroy, nil)
}

// Forget drops every trace of the segment.
func (p *SegmentProtocol) Forget(src vo.SourceID) {
	if seg, err := p.segments.Find(src); err == nil {
		if link, ok := seg.Link(); ok {
			_ = p.segments.Delete(link)
		}
	}
	_ = p.segments.Delete(src)
}

func (p *SegmentProtocol) ConfirmIncomingSegmentEstablished(src vo.SourceID) {
	if seg, err := p.segments.Find(src); err == nil && seg.State() == entity.SegmentPendingIncoming {
		seg.Establish()
	}
}

func (p *SegmentProtocol) ConfirmOutgoingSegmentEstablished(src vo.SourceID) {
	seg, err := p.segments.Find(src)
	if err != nil || seg.Role() != entity.RoleInitiator || seg.State() != entity.SegmentPendingOutgoing {
		return
	}
	seg.Establish()
	seg.AppendHop(src.Address)
}

func (p *SegmentProtocol) ConfirmExtendedPath(src vo.SourceID) {
	seg, err := p.segments.Find(src)
	if err != nil {
		return
	}
	if hop, ok := seg.PendingHop(); ok {
		seg.AppendHop(hop)
		seg.ClearPendingHop()
	}
}

// AbortExtension forgets an unanswered ExtendRequest.
func (p *SegmentProtocol) AbortExtension(src vo.SourceID) {
	if seg, err := p.segments.Find(src); err == nil {
		seg.ClearPendingHop()
	}
}

// ---------------------------------------------------------------------------
// inbound

// ProcessPacket handles one raw cell from peer. Anything that does not fit
// the protocol is dropped and reported through OnDrop only.
func (p *SegmentProtocol) ProcessPacket(peer vo.NodeAddress, raw []byte) {
	cell, err := vo.Decode(raw, p.packetSize)
	if err != nil {
		p.obs.OnDrop(peer, DropMalformed)
		return
	}
	src := vo.NewSourceID(peer, cell.Segment)
	switch cell.Cmd {
	case vo.CmdCreateRequest:
		p.handleCreateRequest(src, cell.Payload)
	case vo.CmdCreateResponse:
		p.handleCreateResponse(src, cell.Payload)
	case vo.CmdData:
		p.handleData(src, cell.Payload)
	case vo.CmdDestroy:
		p.handleDestroy(src)
	}
}

func (p *SegmentProtocol) handleCreateRequest(src vo.SourceID, handshake []byte) {
	if p.segments.Exists(src) {
		p.obs.OnDrop(src.Address, DropCollision)
		return
	}
	if p.segments.CountPending(src.Address) >= p.maxPending {
		p.obs.OnDrop(src.Address, DropTooManyPending)
		return
	}
	if len(handshake) == 0 {
		p.obs.OnDrop(src.Address, DropMalformed)
		return
	}
	seg := entity.NewIncomingSegment(src)
	if err := p.segments.Add(seg); err != nil {
		p.obs.OnDrop(src.Address, DropCollision)
		return
	}
	p.obs.OnBuildRequest(src, handshake)
	if seg.State() == entity.SegmentPendingIncoming {
		_ = p.segments.Delete(src)
		p.obs.OnDrop(src.Address, DropRejected)
	}
}

func (p *SegmentProtocol) handleCreateResponse(src vo.SourceID, handshake []byte) {
	seg, err := p.segments.Find(src)
	if err != nil {
		p.obs.OnDrop(src.Address, DropUnknownSegment)
		return
	}
	if seg.State() != entity.SegmentPendingOutgoing {
		p.obs.OnDrop(src.Address, DropUnexpected)
		return
	}
	switch seg.Role() {
	case entity.RoleInitiator:
		p.obs.OnBuildResponse(src, handshake)
	case entity.RoleExtension:
		p.completeExtension(seg, handshake)
	}
}

func (p *SegmentProtocol) handleData(src vo.SourceID, blob []byte) {
	if len(blob) != vo.BlobSize(p.packetSize) {
		p.obs.OnDrop(src.Address, DropMalformed)
		return
	}
	seg, err := p.segments.Find(src)
	if err != nil {
		p.obs.OnDrop(src.Address, DropUnknownSegment)
		return
	}
	if !seg.IsEstablished() {
		p.obs.OnDrop(src.Address, DropUnexpected)
		return
	}
	switch seg.Role() {
	case entity.RoleInitiator:
		p.handleBackward(seg, blob)
	case entity.RoleResponder:
		p.handleForward(seg, blob)
	case entity.RoleExtension:
		p.relayBackward(seg, blob)
	}
}

func (p *SegmentProtocol) handleDestroy(src vo.SourceID) {
	seg, err := p.segments.Find(src)
	if err != nil {
		p.obs.OnDrop(src.Address, DropUnknownSegment)
		return
	}
	if seg.State() == entity.SegmentDestroyed {
		return
	}
	owner := src
	if link, ok := seg.Link(); ok {
		if l, err := p.segments.Find(link); err == nil && l.State() != entity.SegmentDestroyed {
			_ = p.send(link, vo.CmdDestroy, nil)
		}
		_ = p.segments.Delete(link)
		if seg.Role() == entity.RoleExtension {
			owner = link
		}
	}
	_ = p.segments.Delete(src)
	p.obs.OnDestroy(owner)
}

// initiator side: trial-decrypt hop by hop, peeling one rewrap layer after
// each miss.
func (p *SegmentProtocol) handleBackward(seg *entity.Segment, blob []byte) {
	src := seg.Source()
	for _, hop := range seg.Path() {
		if plain, err := p.crypto.Decrypt(src, hop, blob); err == nil {
			p.dispatchFromHop(seg, hop, plain)
			return
		}
		next, err := p.crypto.Unwrap(src, hop, blob)
		if err != nil {
			break
		}
		blob = next
	}
	p.obs.OnDrop(src.Address, DropUndecryptable)
}

func (p *SegmentProtocol) dispatchFromHop(seg *entity.Segment, hop vo.NodeAddress, plain []byte) {
	src := seg.Source()
	rc, err := vo.DecodeRouted(plain)
	if err != nil {
		p.obs.OnDrop(src.Address, DropMalformed)
		return
	}
	p.obs.OnActivity(src)
	switch rc.Kind {
	case vo.RoutedExtendResponse:
		last, _ := seg.LastHop()
		pending, ok := seg.PendingHop()
		if !ok || hop != last {
			p.obs.OnDrop(src.Address, DropUnexpected)
			return
		}
		p.obs.OnExtendResponse(src, pending, rc.Data)
	case vo.RoutedData:
		// 経路上のデータは終端ノードからのみ受け付ける
		if last, _ := seg.LastHop(); hop != last {
			p.obs.OnDrop(src.Address, DropNotTerminal)
			return
		}
		p.obs.OnData(src, hop, rc.Tag, rc.Data)
	default:
		p.obs.OnDrop(src.Address, DropUnexpected)
	}
}

// relay side, forward direction: either the cell is for this hop or it is
// unwrapped and passed on to the extension segment.
func (p *SegmentProtocol) handleForward(seg *entity.Segment, blob []byte) {
	src := seg.Source()
	if plain, err := p.crypto.Decrypt(src, p.local, blob); err == nil {
		rc, err := vo.DecodeRouted(plain)
		if err != nil {
			p.obs.OnDrop(src.Address, DropMalformed)
			return
		}
		p.obs.OnActivity(src)
		switch rc.Kind {
		case vo.RoutedExtendRequest:
			p.extend(seg, rc.Data)
		case vo.RoutedData:
			p.obs.OnData(src, src.Address, rc.Tag, rc.Data)
		default:
			p.obs.OnDrop(src.Address, DropUnexpected)
		}
		return
	}
	link, ok := seg.Link()
	if !ok {
		p.obs.OnDrop(src.Address, DropUndecryptable)
		return
	}
	if ext, err := p.segments.Find(link); err != nil || !ext.IsEstablished() {
		p.obs.OnDrop(src.Address, DropUndecryptable)
		return
	}
	out, err := p.crypto.Unwrap(src, p.local, blob)
	if err != nil {
		p.obs.OnDrop(src.Address, DropUndecryptable)
		return
	}
	if err := p.send(link, vo.CmdData, out); err == nil {
		p.obs.OnActivity(src)
	}
}

// relay side, backward direction: add this hop's layer and pass the cell
// toward the initiator.
func (p *SegmentProtocol) relayBackward(ext *entity.Segment, blob []byte) {
	in, ok := ext.Link()
	if !ok {
		p.obs.OnDrop(ext.Source().Address, DropUnexpected)
		return
	}
	out, err := p.crypto.Wrap(in, p.local, blob)
	if err != nil {
		p.obs.OnDrop(ext.Source().Address, DropUnexpected)
		return
	}
	if err := p.send(in, vo.CmdData, out); err == nil {
		p.obs.OnActivity(in)
	}
}

func (p *SegmentProtocol) extend(in *entity.Segment, payload []byte) {
	src := in.Source()
	if _, linked := in.Link(); linked {
		p.obs.OnDrop(src.Address, DropUnexpected)
		return
	}
	ep, err := vo.DecodeExtendPayload(payload)
	if err != nil || ep.NextHop == p.local {
		p.replyExtend(src, nil)
		return
	}
	ext, err := p.openSegment(ep.NextHop, entity.RoleExtension, &src)
	if err != nil {
		p.replyExtend(src, nil)
		return
	}
	if err := p.send(ext, vo.CmdCreateRequest, ep.Handshake); err != nil {
		_ = p.segments.Delete(ext)
		p.replyExtend(src, nil)
		return
	}
	in.SetLink(ext)
}

func (p *SegmentProtocol) completeExtension(ext *entity.Segment, handshake []byte) {
	inSrc, _ := ext.Link()
	in, err := p.segments.Find(inSrc)
	if err != nil || !in.IsEstablished() {
		_ = p.send(ext.Source(), vo.CmdDestroy, nil)
		_ = p.segments.Delete(ext.Source())
		return
	}
	if len(handshake) == 0 {
		_ = p.segments.Delete(ext.Source())
		in.ClearLink()
		p.replyExtend(inSrc, nil)
		return
	}
	ext.Establish()
	p.replyExtend(inSrc, handshake)
}

func (p *SegmentProtocol) replyExtend(src vo.SourceID, handshake []byte) {
	plain, err := vo.EncodeRouted(vo.RoutedCommand{Kind: vo.RoutedExtendResponse, Data: handshake}, p.packetSize)
	if err != nil {
		return
	}
	blob, err := p.crypto.Encrypt(src, p.local, plain)
	if err != nil {
		return
	}
	_ = p.send(src, vo.CmdData, blob)
}

// ---------------------------------------------------------------------------
// helpers

func (p *SegmentProtocol) openSegment(peer vo.NodeAddress, role entity.SegmentRole, link *vo.SourceID) (vo.SourceID, error) {
	if p.segments.CountPending(peer) >= p.maxPending {
		return vo.SourceID{}, fmt.Errorf("open segment to %s: %w", peer.Short(), ErrTooManyPending)
	}
	id, err := p.allocate(peer)
	if err != nil {
		return vo.SourceID{}, err
	}
	src := vo.NewSourceID(peer, id)
	seg := entity.NewOutgoingSegment(src, role)
	if link != nil {
		seg.SetLink(*link)
	}
	if err := p.segments.Add(seg); err != nil {
		return vo.SourceID{}, err
	}
	return src, nil
}

// allocate picks a segment id not in use with peer in either direction.
func (p *SegmentProtocol) allocate(peer vo.NodeAddress) (vo.SegmentID, error) {
	for range 32 {
		id, err := vo.NewRandomSegmentID()
		if err != nil {
			return 0, err
		}
		if !p.segments.Exists(vo.NewSourceID(peer, id)) {
			return id, nil
		}
	}
	for id := 0; id <= 0xFFFF; id++ {
		if !p.segments.Exists(vo.NewSourceID(peer, vo.SegmentID(id))) {
			return vo.SegmentID(id), nil
		}
	}
	return 0, ErrNoFreeSegmentID
}

// onion encrypts plain for target and adds the rewrap layer of every hop in
// front of it.
func (p *SegmentProtocol) onion(seg *entity.Segment, target vo.NodeAddress, plain []byte) ([]byte, error) {
	path := seg.Path()
	idx := -1
	for i, h := range path {
		if h == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHop, target.Short())
	}
	src := seg.Source()
	blob, err := p.crypto.Encrypt(src, target, plain)
	if err != nil {
		return nil, err
	}
	for i := idx - 1; i >= 0; i-- {
		if blob, err = p.crypto.Wrap(src, path[i], blob); err != nil {
			return nil, err
		}
	}
	return blob, nil
}

func (p *SegmentProtocol) send(src vo.SourceID, cmd vo.CellCommand, payload []byte) error {
	buf, err := vo.Encode(vo.Cell{Cmd: cmd, Version: vo.ProtocolV1, Segment: src.Segment, Payload: payload}, p.packetSize)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd, err)
	}
	p.obs.OnSend(src.Address, buf)
	return nil
}
