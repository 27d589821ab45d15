package service

import (
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// PacketTransport carries raw cells to a peer.
type PacketTransport interface {
	SendPacket(peer vo.NodeAddress, packet []byte) error
}

// PacketReceiver accepts raw cells from a peer.
type PacketReceiver interface {
	ProcessPacket(peer vo.NodeAddress, packet []byte)
}

// CellSender queues cells for paced transmission.
type CellSender interface {
	// Send queues packet for peer and never blocks on the network.
	Send(peer vo.NodeAddress, packet []byte)
	// Flush returns a channel closed once every packet queued for peer so
	// far has been handed to the transport.
	Flush(peer vo.NodeAddress) <-chan struct{}
}
