package util

import (
	"github.com/fxamacker/cbor/v2"
)

// EncodePayload serializes any type using CBOR
func EncodePayload(payload any) ([]byte, error) {
	return cbor.Marshal(payload)
}

// DecodePayload deserializes CBOR bytes into the specified type
func DecodePayload[T any](data []byte) (*T, error) {
	var result T
	if err := cbor.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
