package entity

import (
	"time"

	"ikedadada/go-anonroute/internal/domain/value_object"
)

// BuildResult is delivered exactly once per PendingBuild.
type BuildResult struct {
	RouteID value_object.SegmentID
	Err     error
}

// PendingBuild tracks one in-flight routing path construction.
type PendingBuild struct {
	id        value_object.CircuitID
	src       value_object.SourceID
	nodes     []value_object.NodeAddress
	next      int
	step      uint64
	timer     *time.Timer
	result    chan BuildResult
	delivered bool
}

func NewPendingBuild(nodes []value_object.NodeAddress) *PendingBuild {
	return &PendingBuild{
		id:     value_object.NewCircuitID(),
		nodes:  append([]value_object.NodeAddress(nil), nodes...),
		result: make(chan BuildResult, 1),
	}
}

func (p *PendingBuild) ID() value_object.CircuitID       { return p.id }
func (p *PendingBuild) Source() value_object.SourceID    { return p.src }
func (p *PendingBuild) SetSource(s value_object.SourceID) { p.src = s }
func (p *PendingBuild) Nodes() []value_object.NodeAddress {
	return append([]value_object.NodeAddress(nil), p.nodes...)
}

// Pop returns the next node to add to the path.
func (p *PendingBuild) Pop() (value_object.NodeAddress, bool) {
	if p.next >= len(p.nodes) {
		return value_object.NodeAddress{}, false
	}
	n := p.nodes[p.next]
	p.next++
	return n, true
}

// Current is the node most recently popped.
func (p *PendingBuild) Current() value_object.NodeAddress {
	if p.next == 0 {
		return value_object.NodeAddress{}
	}
	return p.nodes[p.next-1]
}

func (p *PendingBuild) Remaining() int { return len(p.nodes) - p.next }

// Step identifies the current hop attempt so stale timers can be ignored.
func (p *PendingBuild) Step() uint64 { return p.step }

// Arm replaces the step timer. fire receives the step it was armed for.
func (p *PendingBuild) Arm(d time.Duration, fire func(step uint64)) {
	p.StopTimer()
	p.step++
	step := p.step
	p.timer = time.AfterFunc(d, func() { fire(step) })
}

func (p *PendingBuild) StopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Result returns the channel the outcome is delivered on.
func (p *PendingBuild) Result() <-chan BuildResult { return p.result }

// Resolve delivers the outcome once. Later calls are ignored.
func (p *PendingBuild) Resolve(r BuildResult) {
	if p.delivered {
		return
	}
	p.delivered = true
	p.StopTimer()
	p.result <- r
}
