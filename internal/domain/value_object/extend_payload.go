package value_object

import "fmt"

// ExtendPayload carries the information needed to extend a circuit to the next hop.
type ExtendPayload struct {
	NextHop   NodeAddress
	Handshake []byte
}

// EncodeExtendPayload serializes p as NEXT_HOP(32) || HANDSHAKE.
func EncodeExtendPayload(p *ExtendPayload) []byte {
	out := make([]byte, 0, AddressSize+len(p.Handshake))
	out = append(out, p.NextHop[:]...)
	return append(out, p.Handshake...)
}

// DecodeExtendPayload decodes from the EncodeExtendPayload layout.
func DecodeExtendPayload(b []byte) (*ExtendPayload, error) {
	if len(b) <= AddressSize {
		return nil, fmt.Errorf("extend payload too short: %d", len(b))
	}
	next, err := NodeAddressFrom(b[:AddressSize])
	if err != nil {
		return nil, err
	}
	hs := make([]byte, len(b)-AddressSize)
	copy(hs, b[AddressSize:])
	return &ExtendPayload{NextHop: next, Handshake: hs}, nil
}
