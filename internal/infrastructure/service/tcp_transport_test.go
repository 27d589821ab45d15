package service_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/infrastructure/log"
	"ikedadada/go-anonroute/internal/infrastructure/service"
	"ikedadada/go-anonroute/internal/infrastructure/util"
)

type tcpNode struct {
	addr vo.NodeAddress
	priv ed25519.PrivateKey
	tr   *service.TCPTransport
	recv *chanReceiver
}

func startTCPNode(t *testing.T) *tcpNode {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr, err := vo.NodeAddressFromPublicKey(pub)
	require.NoError(t, err)
	tr, err := service.NewTCPTransport(service.TCPConfig{Identity: priv, Listen: "127.0.0.1:0"},
		service.NewCryptoService(), log.Discard().GetLogger("transport"))
	require.NoError(t, err)
	recv := newChanReceiver()
	require.NoError(t, tr.Start(recv))
	t.Cleanup(func() { tr.Close() })
	return &tcpNode{addr: addr, priv: priv, tr: tr, recv: recv}
}

func endpointOf(t *testing.T, n *tcpNode) vo.Endpoint {
	t.Helper()
	ep, err := vo.ParseEndpoint(n.tr.Addr().String())
	require.NoError(t, err)
	return ep
}

func TestTCPTransport_RoutingBothWays(t *testing.T) {
	a, b := startTCPNode(t), startTCPNode(t)
	a.tr.AddPeer(b.addr, endpointOf(t, b))

	require.NoError(t, a.tr.SendPacket(b.addr, []byte("ping")))
	got := b.recv.next(t)
	assert.Equal(t, a.addr, got.peer)
	assert.Equal(t, []byte("ping"), got.packet)

	// b has no endpoint for a and answers over the accepted link
	require.Eventually(t, func() bool {
		return b.tr.SendPacket(a.addr, []byte("pong")) == nil
	}, 2*time.Second, 10*time.Millisecond)
	got = a.recv.next(t)
	assert.Equal(t, b.addr, got.peer)
	assert.Equal(t, []byte("pong"), got.packet)
}

func TestTCPTransport_DHTFrames(t *testing.T) {
	a, b := startTCPNode(t), startTCPNode(t)
	dht := make(chan []byte, 1)
	b.tr.HandleDHT(func(peer vo.NodeAddress, data []byte) {
		assert.Equal(t, a.addr, peer)
		dht <- data
	})
	a.tr.AddPeer(b.addr, endpointOf(t, b))

	require.NoError(t, a.tr.SendDHT(b.addr, []byte("find_node")))
	require.NoError(t, a.tr.SendPacket(b.addr, []byte("cell")))
	select {
	case d := <-dht:
		assert.Equal(t, []byte("find_node"), d)
	case <-time.After(2 * time.Second):
		t.Fatal("no dht frame")
	}
	assert.Equal(t, []byte("cell"), b.recv.next(t).packet)
}

func TestTCPTransport_WrongPeerRejected(t *testing.T) {
	a, b, c := startTCPNode(t), startTCPNode(t), startTCPNode(t)
	// c's address mapped to b's endpoint
	a.tr.AddPeer(c.addr, endpointOf(t, b))
	assert.Error(t, a.tr.SendPacket(c.addr, []byte("x")))

	assert.ErrorIs(t, a.tr.SendPacket(randAddr(t), []byte("x")), service.ErrNoEndpoint)
}

func TestTCPTransport_ForgedHelloRejected(t *testing.T) {
	b := startTCPNode(t)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", b.tr.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	h := service.Hello{
		Address:   priv.Public().(ed25519.PublicKey),
		Peer:      b.addr.Bytes(),
		Timestamp: time.Now().Unix(),
		Signature: make([]byte, ed25519.SignatureSize),
	}
	body, err := util.EncodePayload(h)
	require.NoError(t, err)
	frame := append([]byte{0, 0, 0, byte(len(body)), 2}, body...)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "link must be closed without a hello")
}

func TestTCPTransport_Closed(t *testing.T) {
	a, b := startTCPNode(t), startTCPNode(t)
	a.tr.AddPeer(b.addr, endpointOf(t, b))
	require.NoError(t, a.tr.Close())
	assert.ErrorIs(t, a.tr.SendPacket(b.addr, []byte("x")), service.ErrClosed)
}
