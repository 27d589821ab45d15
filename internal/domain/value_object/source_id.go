package value_object

import "fmt"

// SourceID is the (peer address, segment id) pair that keys every
// per-segment table. It is comparable and used directly as a map key.
type SourceID struct {
	Address NodeAddress
	Segment SegmentID
}

func NewSourceID(addr NodeAddress, seg SegmentID) SourceID {
	return SourceID{Address: addr, Segment: seg}
}

func (s SourceID) Equal(o SourceID) bool { return s == o }

func (s SourceID) String() string {
	return fmt.Sprintf("%s/%s", s.Address.Short(), s.Segment)
}
