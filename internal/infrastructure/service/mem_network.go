package service

import (
	"errors"
	"sync"

	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/usecase/service"
)

var ErrUnknownPeer = errors.New("unknown peer")

// MemNetwork connects routers inside one process. デバッグとテスト用.
type MemNetwork struct {
	mu      sync.RWMutex
	nodes   map[vo.NodeAddress]service.PacketReceiver
	blocked map[vo.NodeAddress]bool
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		nodes:   make(map[vo.NodeAddress]service.PacketReceiver),
		blocked: make(map[vo.NodeAddress]bool),
	}
}

// Attach registers the receiver for addr.
func (n *MemNetwork) Attach(addr vo.NodeAddress, r service.PacketReceiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[addr] = r
}

func (n *MemNetwork) Detach(addr vo.NodeAddress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

// Block silently swallows every packet sent to addr while set.
func (n *MemNetwork) Block(addr vo.NodeAddress, blocked bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if blocked {
		n.blocked[addr] = true
	} else {
		delete(n.blocked, addr)
	}
}

// Transport returns the PacketTransport used by the node at from.
func (n *MemNetwork) Transport(from vo.NodeAddress) service.PacketTransport {
	return memLink{net: n, from: from}
}

type memLink struct {
	net  *MemNetwork
	from vo.NodeAddress
}

func (l memLink) SendPacket(peer vo.NodeAddress, packet []byte) error {
	l.net.mu.RLock()
	r, ok := l.net.nodes[peer]
	blocked := l.net.blocked[peer]
	l.net.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}
	if blocked {
		return nil
	}
	cp := make([]byte, len(packet))
	copy(cp, packet)
	r.ProcessPacket(l.from, cp)
	return nil
}
