package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ikedadada/go-anonroute/internal/infrastructure/crypto"
)

func TestGenerate(t *testing.T) {
	out := filepath.Join(t.TempDir(), "id.key")
	var buf bytes.Buffer
	require.NoError(t, generate(out, &buf))

	priv, err := crypto.LoadIdentity(out)
	require.NoError(t, err)
	addr := strings.TrimSpace(buf.String())
	assert.Len(t, addr, 2*ed25519.PublicKeySize)

	pub, err := os.ReadFile(out + ".pub")
	require.NoError(t, err)
	assert.Equal(t, addr, strings.TrimSpace(string(pub)))
	assert.Equal(t, hex.EncodeToString(priv.Public().(ed25519.PublicKey)), addr)

	assert.Error(t, generate(out, &buf), "existing identity is never overwritten")
}

func TestRootCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "node.key")
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--out", out})
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, out)
	assert.NotEmpty(t, buf.String())
}
