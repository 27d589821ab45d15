package value_object

import "github.com/google/uuid"

// CircuitID names one build attempt in logs and follows it into the Circuit
// it produces. It never goes on the wire.
type CircuitID struct{ val uuid.UUID }

// NewCircuitID returns a time ordered id, so log lines sort by build start.
func NewCircuitID() CircuitID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return CircuitID{val: id}
}

func ParseCircuitID(s string) (CircuitID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CircuitID{}, err
	}
	return CircuitID{val: id}, nil
}

func (c CircuitID) String() string         { return c.val.String() }
func (c CircuitID) Equal(o CircuitID) bool { return c.val == o.val }
func (c CircuitID) IsZero() bool           { return c.val == uuid.Nil }
