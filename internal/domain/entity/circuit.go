package entity

import (
	"errors"
	"fmt"
	"time"

	"ikedadada/go-anonroute/internal/domain/value_object"
)

// Circuit is an established routing path owned by the node that built it.
// It is addressed externally by (first hop, route id).
type Circuit struct {
	id      value_object.CircuitID
	src     value_object.SourceID
	hops    []value_object.NodeAddress
	created time.Time
}

func NewCircuit(id value_object.CircuitID, src value_object.SourceID, hops []value_object.NodeAddress) (*Circuit, error) {
	if len(hops) == 0 {
		return nil, errors.New("circuit needs at least one hop")
	}
	if hops[0] != src.Address {
		return nil, errors.New("first hop does not match segment peer")
	}
	return &Circuit{
		id:      id,
		src:     src,
		hops:    append([]value_object.NodeAddress(nil), hops...),
		created: time.Now(),
	}, nil
}

// ----------------------------------------------------------------------------
// 不変部

func (c *Circuit) ID() value_object.CircuitID        { return c.id }
func (c *Circuit) Source() value_object.SourceID     { return c.src }
func (c *Circuit) FirstHop() value_object.NodeAddress { return c.src.Address }
func (c *Circuit) RouteID() value_object.SegmentID   { return c.src.Segment }
func (c *Circuit) LastHop() value_object.NodeAddress  { return c.hops[len(c.hops)-1] }
func (c *Circuit) Created() time.Time                 { return c.created }
func (c *Circuit) Hops() []value_object.NodeAddress {
	return append([]value_object.NodeAddress(nil), c.hops...)
}

func (c *Circuit) String() string {
	return fmt.Sprintf("Circuit(%s) route=%s hops=%d", c.id, c.src, len(c.hops))
}
