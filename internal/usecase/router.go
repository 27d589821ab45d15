package usecase

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"ikedadada/go-anonroute/internal/domain/entity"
	"ikedadada/go-anonroute/internal/domain/repository"
	domainsvc "ikedadada/go-anonroute/internal/domain/service"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/usecase/service"
)

// MaxDataSize is the largest SendData payload. One byte of every
// multiplexed message carries the command.
const MaxDataSize = domainsvc.MaxMessageSize - 1

const (
	DefaultHopTimeout         = 10 * time.Second
	DefaultMaxPendingSegments = 10
)

var (
	ErrHandshakeFailed    = errors.New("handshake failed")
	ErrBuildTimeout       = errors.New("routing path build timed out")
	ErrDataTooLarge       = errors.New("data too large")
	ErrUnknownRoute       = errors.New("unknown route")
	ErrInvalidPath        = errors.New("invalid routing path")
	ErrPathDestroyed      = errors.New("routing path destroyed")
	ErrRouterClosed       = errors.New("router closed")
	ErrPacketSizeTooSmall = domainsvc.ErrPacketSizeTooSmall
)

// CircuitObserver receives application events. Calls are made from a single
// dispatcher goroutine in the order the router produced them, so it is safe
// to call back into the Router.
type CircuitObserver interface {
	OnData(peer vo.NodeAddress, routeID vo.SegmentID, command byte, data []byte)
	OnDestroyed(peer vo.NodeAddress, routeID vo.SegmentID)
	OnActivity(peer vo.NodeAddress, routeID vo.SegmentID)
}

type RouterConfig struct {
	Identity           ed25519.PrivateKey
	PacketSize         int
	MaxPendingSegments int
	HopTimeout         time.Duration

	Log     *logging.Logger
	Metrics service.MetricsRecorder
}

type multiplexState struct {
	mux   *domainsvc.CellMultiplexer
	demux *domainsvc.CellDemultiplexer
}

// Router builds and serves anonymous routing paths over a paced link layer.
//
// All protocol state is owned by one goroutine. Public methods hand closures
// to it and wait for the outcome.
type Router struct {
	local      vo.NodeAddress
	hopTimeout time.Duration

	proto    *domainsvc.SegmentProtocol
	layer    *service.LayerCryptoService
	segments repository.SegmentRepository
	circuits repository.CircuitRepository
	sender   service.CellSender
	obs      CircuitObserver
	metrics  service.MetricsRecorder
	log      *logging.Logger
	events   *dispatcher

	// owned by the loop goroutine
	builds map[vo.SourceID]*entity.PendingBuild
	muxes  map[vo.SourceID]*multiplexState

	ops       chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

func NewRouter(
	cfg RouterConfig,
	circuits repository.CircuitRepository,
	segments repository.SegmentRepository,
	hops repository.HopCryptoRepository,
	crypto service.CryptoService,
	sender service.CellSender,
	obs CircuitObserver,
) (*Router, error) {
	if len(cfg.Identity) != ed25519.PrivateKeySize {
		return nil, errors.New("router: identity key required")
	}
	if circuits == nil || segments == nil || hops == nil || crypto == nil || sender == nil {
		return nil, errors.New("router: nil dependency")
	}
	if cfg.MaxPendingSegments == 0 {
		cfg.MaxPendingSegments = DefaultMaxPendingSegments
	}
	if cfg.HopTimeout <= 0 {
		cfg.HopTimeout = DefaultHopTimeout
	}
	if cfg.Log == nil {
		cfg.Log = discardLogger("router")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = service.NopMetrics()
	}
	if obs == nil {
		obs = nopObserver{}
	}

	layer, err := service.NewLayerCryptoService(cfg.Identity, crypto, hops)
	if err != nil {
		return nil, err
	}
	local, err := vo.NodeAddressFromPublicKey(cfg.Identity.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	r := &Router{
		local:      local,
		hopTimeout: cfg.HopTimeout,
		layer:      layer,
		segments:   segments,
		circuits:   circuits,
		sender:     sender,
		obs:        obs,
		metrics:    cfg.Metrics,
		log:        cfg.Log,
		builds:     make(map[vo.SourceID]*entity.PendingBuild),
		muxes:      make(map[vo.SourceID]*multiplexState),
		ops:        make(chan func()),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	r.proto, err = domainsvc.NewSegmentProtocol(domainsvc.ProtocolConfig{
		Local:              local,
		PacketSize:         cfg.PacketSize,
		MaxPendingSegments: cfg.MaxPendingSegments,
	}, segments, layer, protocolEvents{r})
	if err != nil {
		layer.Close()
		return nil, err
	}
	r.events = newDispatcher()
	go r.loop()
	return r, nil
}

// Address is the local node address.
func (r *Router) Address() vo.NodeAddress { return r.local }

// MaxCommandDataLength is the multiplexer block carried by one cell.
func (r *Router) MaxCommandDataLength() int { return r.proto.MaxCommandDataLength() }

func (r *Router) loop() {
	defer close(r.loopDone)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.quit:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (r *Router) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case r.ops <- func() { fn(); close(done) }:
	case <-r.quit:
		return ErrRouterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post hands fn to the loop without waiting for it to run.
func (r *Router) post(fn func()) bool {
	select {
	case r.ops <- fn:
		return true
	case <-r.quit:
		return false
	}
}

// ProcessPacket accepts one raw cell from the link layer.
func (r *Router) ProcessPacket(peer vo.NodeAddress, packet []byte) {
	r.post(func() { r.proto.ProcessPacket(peer, packet) })
}

// EstablishedRoutingPaths counts the paths built by this node that are
// currently usable.
func (r *Router) EstablishedRoutingPaths() int { return r.circuits.Count() }

// ---------------------------------------------------------------------------
// building

// ConstructRoutingPath builds a path through nodes, the last of which is the
// responder. It returns the route id, which together with nodes[0] names the
// path in every later call.
func (r *Router) ConstructRoutingPath(ctx context.Context, nodes []vo.NodeAddress) (vo.SegmentID, error) {
	if err := r.validatePath(nodes); err != nil {
		return 0, err
	}
	pb := entity.NewPendingBuild(nodes)
	var startErr error
	if err := r.do(ctx, func() { startErr = r.startBuild(pb) }); err != nil {
		return 0, err
	}
	if startErr != nil {
		return 0, startErr
	}
	select {
	case res := <-pb.Result():
		return res.RouteID, res.Err
	case <-ctx.Done():
		_ = r.do(context.Background(), func() { r.failBuild(pb, ctx.Err(), "canceled") })
		res := <-pb.Result()
		return res.RouteID, res.Err
	}
}

func (r *Router) validatePath(nodes []vo.NodeAddress) error {
	if len(nodes) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	seen := make(map[vo.NodeAddress]struct{}, len(nodes))
	for i, n := range nodes {
		switch {
		case n.IsZero():
			return fmt.Errorf("%w: zero address at %d", ErrInvalidPath, i)
		case n == r.local:
			return fmt.Errorf("%w: local node at %d", ErrInvalidPath, i)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: %s repeated", ErrInvalidPath, n.Short())
		}
		seen[n] = struct{}{}
	}
	return nil
}

func (r *Router) startBuild(pb *entity.PendingBuild) error {
	first, _ := pb.Pop()
	hc, msg, err := r.layer.Initiate(first)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	seg, err := r.proto.BuildRequest(first, msg)
	if err != nil {
		hc.Destroy()
		return err
	}
	src := vo.NewSourceID(first, seg)
	if err := r.layer.Attach(src, hc); err != nil {
		hc.Destroy()
		r.destroySegment(src)
		r.proto.Forget(src)
		return err
	}
	pb.SetSource(src)
	r.builds[src] = pb
	r.arm(pb)
	r.updateGauge()
	r.log.Infof("build %s: requesting %s", pb.ID(), src)
	return nil
}

func (r *Router) arm(pb *entity.PendingBuild) {
	pb.Arm(r.hopTimeout, func(step uint64) {
		r.post(func() {
			if cur, ok := r.builds[pb.Source()]; ok && cur == pb && pb.Step() == step {
				r.failBuild(pb, fmt.Errorf("%w: no answer from %s", ErrBuildTimeout, pb.Current().Short()), "timeout")
			}
		})
	})
}

func (r *Router) onBuildResponse(src vo.SourceID, handshake []byte) {
	pb, ok := r.builds[src]
	if !ok {
		r.log.Debugf("build response for unknown attempt %s", src)
		return
	}
	if len(handshake) == 0 {
		r.failBuild(pb, fmt.Errorf("%w: refused by %s", ErrHandshakeFailed, src.Address.Short()), "refused")
		return
	}
	if err := r.layer.Complete(src, src.Address, handshake); err != nil {
		r.failBuild(pb, fmt.Errorf("%w: %v", ErrHandshakeFailed, err), "handshake")
		return
	}
	r.proto.ConfirmOutgoingSegmentEstablished(src)
	if err := r.openMultiplex(src); err != nil {
		r.failBuild(pb, err, "error")
		return
	}
	r.advance(pb)
}

func (r *Router) onExtendResponse(src vo.SourceID, hop vo.NodeAddress, handshake []byte) {
	pb, ok := r.builds[src]
	if !ok || pb.Current() != hop {
		r.log.Debugf("extend response for unknown attempt %s", src)
		return
	}
	if len(handshake) == 0 {
		r.failBuild(pb, fmt.Errorf("%w: could not extend to %s", ErrHandshakeFailed, hop.Short()), "refused")
		return
	}
	if err := r.layer.Complete(src, hop, handshake); err != nil {
		r.failBuild(pb, fmt.Errorf("%w: %v", ErrHandshakeFailed, err), "handshake")
		return
	}
	r.proto.ConfirmExtendedPath(src)
	r.advance(pb)
}

// advance extends toward the next node or finishes the build.
func (r *Router) advance(pb *entity.PendingBuild) {
	src := pb.Source()
	next, ok := pb.Pop()
	if !ok {
		r.finishBuild(pb)
		return
	}
	hc, msg, err := r.layer.Initiate(next)
	if err != nil {
		r.failBuild(pb, fmt.Errorf("%w: %v", ErrHandshakeFailed, err), "handshake")
		return
	}
	if err := r.layer.Attach(src, hc); err != nil {
		hc.Destroy()
		r.failBuild(pb, err, "error")
		return
	}
	if err := r.proto.ExtendRequest(src, next, msg); err != nil {
		r.failBuild(pb, err, "error")
		return
	}
	r.arm(pb)
	r.log.Debugf("build %s: extending to %s", pb.ID(), next.Short())
}

func (r *Router) finishBuild(pb *entity.PendingBuild) {
	src := pb.Source()
	seg, ok := r.proto.Lookup(src)
	if !ok {
		r.failBuild(pb, fmt.Errorf("%w: segment %s vanished", ErrPathDestroyed, src), "error")
		return
	}
	c, err := entity.NewCircuit(pb.ID(), src, seg.Path())
	if err == nil {
		err = r.circuits.Save(c)
	}
	if err != nil {
		r.failBuild(pb, err, "error")
		return
	}
	delete(r.builds, src)
	r.metrics.CircuitBuilt()
	r.log.Noticef("routing path %s established: %d hops via %s", pb.ID(), len(c.Hops()), src)
	pb.Resolve(entity.BuildResult{RouteID: src.Segment})
}

// failBuild rolls back everything the attempt created. It is a no-op for a
// build that already finished.
func (r *Router) failBuild(pb *entity.PendingBuild, err error, reason string) {
	src := pb.Source()
	if cur, ok := r.builds[src]; !ok || cur != pb {
		return
	}
	delete(r.builds, src)
	pb.StopTimer()
	r.release(src, true)
	r.metrics.CircuitBuildFailed(reason)
	r.log.Infof("build %s failed: %v", pb.ID(), err)
	pb.Resolve(entity.BuildResult{Err: err})
}

func (r *Router) openMultiplex(src vo.SourceID) error {
	bs := r.proto.MaxCommandDataLength()
	mux, err := domainsvc.NewCellMultiplexer(bs)
	if err != nil {
		return err
	}
	demux, err := domainsvc.NewCellDemultiplexer(bs)
	if err != nil {
		return err
	}
	r.muxes[src] = &multiplexState{mux: mux, demux: demux}
	return nil
}

// release drops every piece of state kept for src. With destroy set a
// DESTROY is emitted first.
func (r *Router) release(src vo.SourceID, destroy bool) {
	if destroy {
		r.destroySegment(src)
	}
	r.proto.Forget(src)
	r.layer.DestroySource(src)
	delete(r.muxes, src)
	if err := r.circuits.Delete(src); err != nil && !repository.IsNotFound(err) {
		r.log.Warningf("release %s: %v", src, err)
	}
	r.updateGauge()
}

// destroySegment emits DESTROY for src.
func (r *Router) destroySegment(src vo.SourceID) {
	if err := r.proto.Destroy(src); err != nil {
		r.log.Warningf("destroy %s: %v", src, err)
	}
}

func (r *Router) updateGauge() { r.metrics.SetActiveSegments(len(r.segments.List())) }

// ---------------------------------------------------------------------------
// data

// SendData sends one message on a routing path. On a path built by this node
// it reaches the responder; on a path that ends here it goes back to the
// initiator.
func (r *Router) SendData(peer vo.NodeAddress, routeID vo.SegmentID, command byte, data []byte) error {
	if len(data) > MaxDataSize {
		return fmt.Errorf("%w: %d > %d", ErrDataTooLarge, len(data), MaxDataSize)
	}
	msg := make([]byte, 0, len(data)+1)
	msg = append(msg, command)
	msg = append(msg, data...)

	var sendErr error
	if err := r.do(context.Background(), func() { sendErr = r.sendData(vo.NewSourceID(peer, routeID), msg) }); err != nil {
		return err
	}
	return sendErr
}

func (r *Router) sendData(src vo.SourceID, msg []byte) error {
	m, ok := r.muxes[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, src)
	}
	if _, building := r.builds[src]; building {
		return fmt.Errorf("%w: %s still building", ErrUnknownRoute, src)
	}
	target := r.local
	if c, err := r.circuits.Find(src); err == nil {
		target = c.LastHop()
	}
	if err := m.mux.Feed(msg); err != nil {
		return err
	}
	for m.mux.HaveMoreBlocks() {
		if err := r.proto.Data(src, target, 0, m.mux.GetBlock()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) onData(src vo.SourceID, block []byte) {
	m, ok := r.muxes[src]
	if !ok {
		r.log.Debugf("data on %s without multiplexer", src)
		return
	}
	if err := m.demux.Feed(block); err != nil {
		r.log.Debugf("data on %s: %v", src, err)
		return
	}
	for m.demux.HaveMoreData() {
		msg := m.demux.GetData()
		if len(msg) == 0 {
			continue
		}
		cmd, data := msg[0], msg[1:]
		r.events.push(func() { r.obs.OnData(src.Address, src.Segment, cmd, data) })
	}
}

// ---------------------------------------------------------------------------
// relay side

func (r *Router) onBuildRequest(src vo.SourceID, handshake []byte) {
	resp, err := r.layer.Respond(src, handshake)
	if err != nil {
		r.log.Debugf("reject build request %s: %v", src, err)
		return
	}
	if err := r.proto.BuildResponse(src, resp); err != nil {
		r.layer.DestroySource(src)
		return
	}
	r.proto.ConfirmIncomingSegmentEstablished(src)
	if err := r.openMultiplex(src); err != nil {
		r.release(src, true)
		return
	}
	r.updateGauge()
}

// onDestroy handles a DESTROY from a peer. The protocol already removed the
// segments.
func (r *Router) onDestroy(src vo.SourceID) {
	if pb, ok := r.builds[src]; ok {
		r.failBuild(pb, fmt.Errorf("%w by %s", ErrPathDestroyed, src.Address.Short()), "destroyed")
		return
	}
	if !r.layer.HasSource(src) {
		r.updateGauge()
		return
	}
	r.release(src, false)
	r.log.Infof("routing path %s destroyed by peer", src)
	r.events.push(func() { r.obs.OnDestroyed(src.Address, src.Segment) })
}

// ---------------------------------------------------------------------------
// teardown

// DestroyRoutingPath tears down a path and waits until the DESTROY cell has
// left before releasing its state. Unknown paths are ignored.
func (r *Router) DestroyRoutingPath(ctx context.Context, peer vo.NodeAddress, routeID vo.SegmentID) error {
	src := vo.NewSourceID(peer, routeID)
	var flush <-chan struct{}
	err := r.do(ctx, func() {
		if pb, ok := r.builds[src]; ok {
			r.failBuild(pb, fmt.Errorf("%w locally", ErrPathDestroyed), "destroyed")
			return
		}
		if _, ok := r.muxes[src]; !ok {
			return
		}
		r.destroySegment(src)
		flush = r.sender.Flush(peer)
	})
	if err != nil || flush == nil {
		return err
	}
	select {
	case <-flush:
	case <-ctx.Done():
	}
	err = r.do(context.Background(), func() {
		r.release(src, false)
		r.log.Infof("routing path %s destroyed", src)
	})
	if err != nil && !errors.Is(err, ErrRouterClosed) {
		return err
	}
	return ctx.Err()
}

// Destroy fails every build in progress and tears down every path built by
// this node. Like DestroyRoutingPath it waits, bounded by ctx, for the
// DESTROY cells to leave before the paths are released.
func (r *Router) Destroy(ctx context.Context) error {
	var (
		owned   []vo.SourceID
		flushes []<-chan struct{}
	)
	err := r.do(ctx, func() { owned, flushes = r.destroyOwned(fmt.Errorf("%w locally", ErrPathDestroyed)) })
	if err != nil {
		return err
	}
wait:
	for _, f := range flushes {
		select {
		case <-f:
		case <-ctx.Done():
			break wait
		}
	}
	err = r.do(context.Background(), func() {
		for _, src := range owned {
			r.release(src, false)
			r.log.Infof("routing path %s destroyed", src)
		}
	})
	if err != nil && !errors.Is(err, ErrRouterClosed) {
		return err
	}
	return ctx.Err()
}

// destroyOwned fails pending builds with cause and emits DESTROY on every
// path built here. The paths stay registered until released; it returns
// them with one flush channel per first hop.
func (r *Router) destroyOwned(cause error) ([]vo.SourceID, []<-chan struct{}) {
	for _, pb := range r.pendingBuilds() {
		r.failBuild(pb, cause, "destroyed")
	}
	circuits, _ := r.circuits.ListActive()
	owned := make([]vo.SourceID, 0, len(circuits))
	peers := make(map[vo.NodeAddress]struct{})
	for _, c := range circuits {
		r.destroySegment(c.Source())
		owned = append(owned, c.Source())
		peers[c.FirstHop()] = struct{}{}
	}
	flushes := make([]<-chan struct{}, 0, len(peers))
	for p := range peers {
		flushes = append(flushes, r.sender.Flush(p))
	}
	return owned, flushes
}

func (r *Router) pendingBuilds() []*entity.PendingBuild {
	out := make([]*entity.PendingBuild, 0, len(r.builds))
	for _, pb := range r.builds {
		out = append(out, pb)
	}
	return out
}

// Close destroys every path including the ones relayed through this node and
// stops the router. It does not wait for DESTROY cells to leave.
func (r *Router) Close() error {
	r.closeOnce.Do(func() {
		_ = r.do(context.Background(), func() {
			owned, _ := r.destroyOwned(ErrRouterClosed)
			for _, src := range owned {
				r.release(src, false)
			}
			for _, src := range r.proto.Sources(entity.RoleResponder) {
				r.release(src, true)
			}
		})
		close(r.quit)
		<-r.loopDone
		r.events.close()
		r.layer.Close()
	})
	return nil
}

type nopObserver struct{}

func (nopObserver) OnData(vo.NodeAddress, vo.SegmentID, byte, []byte) {}
func (nopObserver) OnDestroyed(vo.NodeAddress, vo.SegmentID)          {}
func (nopObserver) OnActivity(vo.NodeAddress, vo.SegmentID)           {}

func discardLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	b := logging.AddModuleLevel(logging.NewLogBackend(io.Discard, "", 0))
	b.SetLevel(logging.CRITICAL, "")
	l.SetBackend(b)
	return l
}
