package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/op/go-logging.v1"

	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/usecase/service"
)

// DefaultPeerIdle is how long an empty peer queue lives before its goroutine
// exits.
const DefaultPeerIdle = 30 * time.Second

type pacedItem struct {
	packet []byte
	flush  chan struct{}
}

type peerQueue struct {
	items   []pacedItem
	wake    chan struct{}
	limiter *rate.Limiter
}

// PacedSender hands cells to a PacketTransport at a fixed rate per peer.
// Each peer has its own FIFO drained by one goroutine, retired once the
// queue stayed empty for the idle period.
type PacedSender struct {
	tx    service.PacketTransport
	limit rate.Limit
	idle  time.Duration
	log   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	peers  map[vo.NodeAddress]*peerQueue
	closed bool
}

// NewPacedSender paces at packetsPerSecond per peer. Zero or less disables
// pacing.
func NewPacedSender(tx service.PacketTransport, packetsPerSecond int, log *logging.Logger) *PacedSender {
	limit := rate.Inf
	if packetsPerSecond > 0 {
		limit = rate.Limit(packetsPerSecond)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PacedSender{
		tx:     tx,
		limit:  limit,
		idle:   idleFor(limit, DefaultPeerIdle),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[vo.NodeAddress]*peerQueue),
	}
}

// idleFor never retires a queue before its limiter would have refilled, so a
// recreated queue cannot send faster than the configured rate.
func idleFor(limit rate.Limit, idle time.Duration) time.Duration {
	if limit == rate.Inf || limit <= 0 {
		return idle
	}
	if refill := time.Duration(float64(time.Second) / float64(limit)); refill > idle {
		return refill
	}
	return idle
}

func (s *PacedSender) Send(peer vo.NodeAddress, packet []byte) {
	s.enqueue(peer, pacedItem{packet: packet})
}

func (s *PacedSender) Flush(peer vo.NodeAddress) <-chan struct{} {
	ch := make(chan struct{})
	if !s.enqueue(peer, pacedItem{flush: ch}) {
		close(ch)
	}
	return ch
}

func (s *PacedSender) enqueue(peer vo.NodeAddress, it pacedItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	q, ok := s.peers[peer]
	if !ok {
		q = &peerQueue{
			wake:    make(chan struct{}, 1),
			limiter: rate.NewLimiter(s.limit, 1),
		}
		s.peers[peer] = q
		s.wg.Add(1)
		go s.drain(peer, q)
	}
	q.items = append(q.items, it)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *PacedSender) next(q *peerQueue) (pacedItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(q.items) == 0 {
		return pacedItem{}, false
	}
	it := q.items[0]
	q.items[0] = pacedItem{}
	q.items = q.items[1:]
	return it, true
}

func (s *PacedSender) drain(peer vo.NodeAddress, q *peerQueue) {
	defer s.wg.Done()
	idle := time.NewTimer(s.idle)
	defer idle.Stop()
	for {
		it, ok := s.next(q)
		if !ok {
			select {
			case <-q.wake:
			case <-idle.C:
				if s.retire(peer, q) {
					return
				}
				idle.Reset(s.idle)
			case <-s.ctx.Done():
				return
			}
			continue
		}
		idle.Reset(s.idle)
		if it.flush != nil {
			close(it.flush)
			continue
		}
		if err := q.limiter.Wait(s.ctx); err != nil {
			return
		}
		if err := s.tx.SendPacket(peer, it.packet); err != nil {
			s.log.Warningf("send to %s: %v", peer.Short(), err)
		}
	}
}

// retire removes q when nothing was queued since the last check.
func (s *PacedSender) retire(peer vo.NodeAddress, q *peerQueue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(q.items) > 0 || s.peers[peer] != q {
		return false
	}
	delete(s.peers, peer)
	return true
}

// Close stops every queue. Pending packets are dropped and pending Flush
// channels are released.
func (s *PacedSender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.peers {
		for _, it := range q.items {
			if it.flush != nil {
				close(it.flush)
			}
		}
		q.items = nil
	}
}
