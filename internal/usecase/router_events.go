package usecase

import (
	domainsvc "ikedadada/go-anonroute/internal/domain/service"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// protocolEvents feeds segment protocol events into the router. Every call
// arrives on the loop goroutine.
type protocolEvents struct{ r *Router }

var _ domainsvc.ProtocolObserver = protocolEvents{}

func (e protocolEvents) OnSend(peer vo.NodeAddress, packet []byte) {
	e.r.sender.Send(peer, packet)
	e.r.metrics.CellSent()
}

func (e protocolEvents) OnBuildRequest(src vo.SourceID, handshake []byte) {
	e.r.onBuildRequest(src, handshake)
}

func (e protocolEvents) OnBuildResponse(src vo.SourceID, handshake []byte) {
	e.r.onBuildResponse(src, handshake)
}

func (e protocolEvents) OnExtendResponse(src vo.SourceID, hop vo.NodeAddress, handshake []byte) {
	e.r.onExtendResponse(src, hop, handshake)
}

// origin is the hop that produced the data. The application only ever sees
// the link peer.
func (e protocolEvents) OnData(src vo.SourceID, _ vo.NodeAddress, _ byte, data []byte) {
	e.r.onData(src, data)
}

func (e protocolEvents) OnDestroy(src vo.SourceID) { e.r.onDestroy(src) }

func (e protocolEvents) OnActivity(src vo.SourceID) {
	e.r.events.push(func() { e.r.obs.OnActivity(src.Address, src.Segment) })
}

func (e protocolEvents) OnDrop(peer vo.NodeAddress, reason domainsvc.DropReason) {
	e.r.log.Debugf("dropped cell from %s: %s", peer.Short(), reason)
	e.r.metrics.CellDropped(string(reason))
}
