package service

import "time"

// SetPeerIdle overrides the idle period; call before the first Send.
func (s *PacedSender) SetPeerIdle(d time.Duration) { s.idle = d }

// Queues reports the number of live peer queues.
func (s *PacedSender) Queues() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}
