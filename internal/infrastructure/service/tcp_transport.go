package service

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/infrastructure/util"
	"ikedadada/go-anonroute/internal/usecase/service"
)

// Link frame: | length (4, BE) | kind (1) | body |
const (
	frameHeader  = 5
	maxFrameBody = 1 << 20

	FrameRouting byte = 0
	FrameDHT     byte = 1
	frameHello   byte = 2

	helloContext = "anonroute link hello v1"
	helloSkew    = 2 * time.Minute
	dialTimeout  = 10 * time.Second
)

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrBadHello      = errors.New("invalid link hello")
	ErrNoEndpoint    = errors.New("no endpoint for peer")
	ErrClosed        = errors.New("transport closed")
)

// Hello is the first frame on every link. Each side proves it owns its
// address by signing the pair of addresses and a timestamp.
type Hello struct {
	Address   []byte
	Peer      []byte
	Timestamp int64
	Signature []byte
}

func helloMessage(from, to []byte, ts int64) []byte {
	msg := make([]byte, 0, len(helloContext)+2*vo.AddressSize+8)
	msg = append(msg, helloContext...)
	msg = append(msg, from...)
	msg = append(msg, to...)
	return binary.BigEndian.AppendUint64(msg, uint64(ts))
}

// DHTHandler receives DHT frames sharing a link with routing traffic.
type DHTHandler func(peer vo.NodeAddress, data []byte)

type TCPConfig struct {
	Identity ed25519.PrivateKey
	Listen   string
	// Peers maps node addresses to host:port endpoints for outgoing links.
	Peers map[vo.NodeAddress]vo.Endpoint
	Now   func() time.Time
}

type tcpLink struct {
	mu     sync.Mutex
	conn   net.Conn
	dialed bool
}

func (l *tcpLink) write(kind byte, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeFrame(l.conn, kind, body)
}

// TCPTransport carries cells between nodes over authenticated TCP links.
// One link per peer is shared by routing cells and DHT frames.
type TCPTransport struct {
	identity ed25519.PrivateKey
	local    vo.NodeAddress
	crypto   service.CryptoService
	peers    map[vo.NodeAddress]vo.Endpoint
	listen   string
	now      func() time.Time
	log      *logging.Logger

	recv service.PacketReceiver
	dht  DHTHandler

	ln     net.Listener
	wg     sync.WaitGroup
	mu     sync.Mutex
	links  map[vo.NodeAddress]*tcpLink
	closed bool
}

func NewTCPTransport(cfg TCPConfig, crypto service.CryptoService, log *logging.Logger) (*TCPTransport, error) {
	if len(cfg.Identity) != ed25519.PrivateKeySize {
		return nil, errors.New("tcp transport: identity required")
	}
	local, err := vo.NodeAddressFromPublicKey(cfg.Identity.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	peers := make(map[vo.NodeAddress]vo.Endpoint, len(cfg.Peers))
	for a, e := range cfg.Peers {
		peers[a] = e
	}
	return &TCPTransport{
		identity: cfg.Identity,
		local:    local,
		crypto:   crypto,
		peers:    peers,
		listen:   cfg.Listen,
		now:      now,
		log:      log,
		links:    make(map[vo.NodeAddress]*tcpLink),
	}, nil
}

// AddPeer sets the endpoint used to dial peer.
func (t *TCPTransport) AddPeer(peer vo.NodeAddress, ep vo.Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peer] = ep
}

// HandleDHT installs the handler for DHT frames. Without one they are
// discarded.
func (t *TCPTransport) HandleDHT(h DHTHandler) { t.dht = h }

// Start listens for incoming links and delivers routing frames to recv.
func (t *TCPTransport) Start(recv service.PacketReceiver) error {
	t.recv = recv
	if t.listen == "" {
		return nil
	}
	ln, err := net.Listen("tcp", t.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.listen, err)
	}
	t.ln = ln
	t.log.Noticef("listening on %s", ln.Addr())
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Addr is the bound listen address, nil before Start.
func (t *TCPTransport) Addr() net.Addr {
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			peer, err := t.handshake(conn, nil)
			if err != nil {
				t.log.Debugf("reject link from %s: %v", conn.RemoteAddr(), err)
				conn.Close()
				return
			}
			if _, ok := t.register(peer, conn, false); !ok {
				conn.Close()
				return
			}
			t.readLoop(peer, conn)
		}()
	}
}

func (t *TCPTransport) SendPacket(peer vo.NodeAddress, packet []byte) error {
	return t.send(peer, FrameRouting, packet)
}

// SendDHT writes a DHT frame on the link to peer.
func (t *TCPTransport) SendDHT(peer vo.NodeAddress, data []byte) error {
	return t.send(peer, FrameDHT, data)
}

func (t *TCPTransport) send(peer vo.NodeAddress, kind byte, body []byte) error {
	l, err := t.link(peer)
	if err != nil {
		return err
	}
	if err := l.write(kind, body); err != nil {
		t.drop(peer, l)
		return err
	}
	return nil
}

func (t *TCPTransport) link(peer vo.NodeAddress) (*tcpLink, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if l, ok := t.links[peer]; ok {
		t.mu.Unlock()
		return l, nil
	}
	ep, ok := t.peers[peer]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, peer.Short())
	}

	conn, err := net.DialTimeout("tcp", ep.String(), dialTimeout)
	if err != nil {
		return nil, err
	}
	if _, err := t.handshake(conn, &peer); err != nil {
		conn.Close()
		return nil, err
	}
	l, ok := t.register(peer, conn, true)
	if !ok {
		conn.Close()
		if l == nil {
			return nil, ErrClosed
		}
		return l, nil
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(peer, conn)
	}()
	t.log.Infof("link up to %s (%s)", peer.Short(), ep)
	return l, nil
}

// register installs conn as the link to peer. When both sides dialled at
// once, the link dialled by the lower address wins on both ends. On failure
// the surviving link, if any, is returned.
func (t *TCPTransport) register(peer vo.NodeAddress, conn net.Conn, dialed bool) (*tcpLink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false
	}
	cur, ok := t.links[peer]
	if ok {
		lowerDials := bytes.Compare(t.local[:], peer[:]) < 0
		if cur.dialed == dialed || cur.dialed == lowerDials {
			return cur, false
		}
		cur.conn.Close()
	}
	l := &tcpLink{conn: conn, dialed: dialed}
	t.links[peer] = l
	return l, true
}

func (t *TCPTransport) drop(peer vo.NodeAddress, l *tcpLink) {
	t.mu.Lock()
	if cur, ok := t.links[peer]; ok && cur == l {
		delete(t.links, peer)
	}
	t.mu.Unlock()
	l.conn.Close()
}

// handshake exchanges hellos. expect is the dialled peer, nil when
// accepting.
func (t *TCPTransport) handshake(conn net.Conn, expect *vo.NodeAddress) (vo.NodeAddress, error) {
	if err := conn.SetDeadline(t.now().Add(dialTimeout)); err != nil {
		return vo.NodeAddress{}, err
	}
	defer conn.SetDeadline(time.Time{})

	var to []byte
	if expect != nil {
		to = expect.Bytes()
		if err := t.writeHello(conn, to); err != nil {
			return vo.NodeAddress{}, err
		}
	}
	kind, body, err := readFrame(conn)
	if err != nil {
		return vo.NodeAddress{}, err
	}
	if kind != frameHello {
		return vo.NodeAddress{}, fmt.Errorf("%w: unexpected frame %d", ErrBadHello, kind)
	}
	peer, err := t.verifyHello(body)
	if err != nil {
		return vo.NodeAddress{}, err
	}
	if expect != nil {
		if peer != *expect {
			return vo.NodeAddress{}, fmt.Errorf("%w: expected %s, got %s", ErrBadHello, expect.Short(), peer.Short())
		}
		return peer, nil
	}
	return peer, t.writeHello(conn, peer.Bytes())
}

func (t *TCPTransport) writeHello(conn net.Conn, to []byte) error {
	ts := t.now().Unix()
	from := t.local.Bytes()
	h := Hello{
		Address:   from,
		Peer:      to,
		Timestamp: ts,
		Signature: t.crypto.Sign(helloMessage(from, to, ts), t.identity),
	}
	body, err := util.EncodePayload(h)
	if err != nil {
		return err
	}
	return writeFrame(conn, frameHello, body)
}

func (t *TCPTransport) verifyHello(body []byte) (vo.NodeAddress, error) {
	h, err := util.DecodePayload[Hello](body)
	if err != nil {
		return vo.NodeAddress{}, fmt.Errorf("%w: %v", ErrBadHello, err)
	}
	peer, err := vo.NodeAddressFrom(h.Address)
	if err != nil {
		return vo.NodeAddress{}, fmt.Errorf("%w: %v", ErrBadHello, err)
	}
	if !t.local.Equal(mustAddress(h.Peer)) {
		return vo.NodeAddress{}, fmt.Errorf("%w: addressed to another node", ErrBadHello)
	}
	skew := t.now().Sub(time.Unix(h.Timestamp, 0))
	if skew > helloSkew || skew < -helloSkew {
		return vo.NodeAddress{}, fmt.Errorf("%w: timestamp skew %s", ErrBadHello, skew)
	}
	if !t.crypto.Verify(h.Signature, helloMessage(h.Address, h.Peer, h.Timestamp), peer.PublicKey()) {
		return vo.NodeAddress{}, fmt.Errorf("%w: bad signature", ErrBadHello)
	}
	return peer, nil
}

func mustAddress(b []byte) vo.NodeAddress {
	a, _ := vo.NodeAddressFrom(b)
	return a
}

func (t *TCPTransport) readLoop(peer vo.NodeAddress, conn net.Conn) {
	defer func() {
		t.mu.Lock()
		if l, ok := t.links[peer]; ok && l.conn == conn {
			delete(t.links, peer)
		}
		t.mu.Unlock()
		conn.Close()
		t.log.Infof("link down to %s", peer.Short())
	}()
	for {
		kind, body, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.log.Debugf("read from %s: %v", peer.Short(), err)
			}
			return
		}
		switch kind {
		case FrameRouting:
			if t.recv != nil {
				t.recv.ProcessPacket(peer, body)
			}
		case FrameDHT:
			if t.dht != nil {
				t.dht(peer, body)
			}
		default:
			t.log.Debugf("unknown frame kind %d from %s", kind, peer.Short())
		}
	}
}

// Close shuts the listener and every link.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := t.links
	t.links = make(map[vo.NodeAddress]*tcpLink)
	t.mu.Unlock()

	var err error
	if t.ln != nil {
		err = t.ln.Close()
	}
	for _, l := range links {
		l.conn.Close()
	}
	t.wg.Wait()
	return err
}

func writeFrame(w io.Writer, kind byte, body []byte) error {
	if len(body) > maxFrameBody {
		return ErrFrameTooLarge
	}
	buf := make([]byte, frameHeader+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	buf[4] = kind
	copy(buf[frameHeader:], body)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (byte, []byte, error) {
	var hdr [frameHeader]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:4])
	if n > maxFrameBody {
		return 0, nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return hdr[4], body, nil
}
