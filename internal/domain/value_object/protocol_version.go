package value_object

import "strconv"

// ProtocolVersion is the ver byte carried by every link cell.
type ProtocolVersion byte

// ProtocolV1 is the only version spoken here; cells with any other value are
// dropped on decode.
const ProtocolV1 ProtocolVersion = 0x01

func (v ProtocolVersion) IsSupported() bool { return v == ProtocolV1 }

func (v ProtocolVersion) String() string { return "v" + strconv.Itoa(int(v)) }
