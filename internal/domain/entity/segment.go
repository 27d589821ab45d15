package entity

import (
	"fmt"

	"ikedadada/go-anonroute/internal/domain/value_object"
)

type SegmentState uint8

const (
	// SegmentPendingIncoming: CREATE_REQUEST seen, response not yet sent.
	SegmentPendingIncoming SegmentState = iota
	// SegmentPendingOutgoing: CREATE_REQUEST sent, response not yet received.
	SegmentPendingOutgoing
	SegmentEstablished
	SegmentDestroyed
)

func (s SegmentState) String() string {
	switch s {
	case SegmentPendingIncoming:
		return "pending-incoming"
	case SegmentPendingOutgoing:
		return "pending-outgoing"
	case SegmentEstablished:
		return "established"
	case SegmentDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// SegmentRole tells which end of a circuit this node is for a segment.
type SegmentRole uint8

const (
	// RoleInitiator: the first segment of a circuit built by this node.
	RoleInitiator SegmentRole = iota
	// RoleResponder: a segment built toward this node. This node terminates
	// one hop of the circuit and may extend it further.
	RoleResponder
	// RoleExtension: an outgoing segment opened on behalf of a responder
	// segment to extend its circuit by one hop.
	RoleExtension
)

func (r SegmentRole) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	case RoleExtension:
		return "extension"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Segment は 1 本のリンク上の回線区間の状態
type Segment struct {
	src   value_object.SourceID
	role  SegmentRole
	state SegmentState

	// initiator only: confirmed hops in order and the hop being extended to.
	path       []value_object.NodeAddress
	pendingHop *value_object.NodeAddress

	// responder: the extension segment. extension: the responder segment.
	link *value_object.SourceID
}

func NewOutgoingSegment(src value_object.SourceID, role SegmentRole) *Segment {
	return &Segment{src: src, role: role, state: SegmentPendingOutgoing}
}

func NewIncomingSegment(src value_object.SourceID) *Segment {
	return &Segment{src: src, role: RoleResponder, state: SegmentPendingIncoming}
}

func (s *Segment) Source() value_object.SourceID { return s.src }
func (s *Segment) Role() SegmentRole             { return s.role }
func (s *Segment) State() SegmentState           { return s.state }
func (s *Segment) IsPending() bool {
	return s.state == SegmentPendingIncoming || s.state == SegmentPendingOutgoing
}
func (s *Segment) IsEstablished() bool { return s.state == SegmentEstablished }

// Establish moves a pending segment to Established. It is a no-op on any
// other state.
func (s *Segment) Establish() bool {
	if !s.IsPending() {
		return false
	}
	s.state = SegmentEstablished
	return true
}

func (s *Segment) MarkDestroyed() { s.state = SegmentDestroyed }

// Path returns the confirmed hops of an initiator segment, first hop first.
func (s *Segment) Path() []value_object.NodeAddress {
	return append([]value_object.NodeAddress(nil), s.path...)
}

// LastHop returns the far end of the confirmed path.
func (s *Segment) LastHop() (value_object.NodeAddress, bool) {
	if len(s.path) == 0 {
		return value_object.NodeAddress{}, false
	}
	return s.path[len(s.path)-1], true
}

func (s *Segment) HasHop(a value_object.NodeAddress) bool {
	for _, h := range s.path {
		if h == a {
			return true
		}
	}
	return false
}

// AppendHop records a confirmed hop.
func (s *Segment) AppendHop(a value_object.NodeAddress) { s.path = append(s.path, a) }

func (s *Segment) SetPendingHop(a value_object.NodeAddress) { s.pendingHop = &a }
func (s *Segment) ClearPendingHop()                         { s.pendingHop = nil }
func (s *Segment) PendingHop() (value_object.NodeAddress, bool) {
	if s.pendingHop == nil {
		return value_object.NodeAddress{}, false
	}
	return *s.pendingHop, true
}

func (s *Segment) Link() (value_object.SourceID, bool) {
	if s.link == nil {
		return value_object.SourceID{}, false
	}
	return *s.link, true
}
func (s *Segment) SetLink(o value_object.SourceID) { s.link = &o }
func (s *Segment) ClearLink()                      { s.link = nil }

func (s *Segment) String() string {
	return fmt.Sprintf("Segment(%s) role=%s state=%s hops=%d", s.src, s.role, s.state, len(s.path))
}
