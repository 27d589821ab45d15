package value_object_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikedadada/go-anonroute/internal/domain/value_object"
)

func TestEndpoint_Table(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		port       uint16
		expectsErr bool
	}{
		{"valid endpoint", "127.0.0.1", 5000, false},
		{"invalid port 0", "127.0.0.1", 0, true},
		{"invalid host", "", 5000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := value_object.NewEndpoint(tt.host, tt.port)
			if tt.expectsErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := value_object.ParseEndpoint("[::1]:7001")
	require.NoError(t, err)
	assert.Equal(t, "::1", ep.Host())
	assert.Equal(t, uint16(7001), ep.Port())
	assert.Equal(t, "[::1]:7001", ep.String())

	_, err = value_object.ParseEndpoint("localhost")
	assert.Error(t, err)
	_, err = value_object.ParseEndpoint("localhost:99999")
	assert.Error(t, err)
}
