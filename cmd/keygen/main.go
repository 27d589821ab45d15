package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/infrastructure/crypto"
)

func newRootCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node identity",
		Long: `keygen writes a fresh Ed25519 identity (PKCS#8 PEM) and prints the node
address other nodes use to route through this node.`,
		Example: `  keygen --out identity.key`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(out, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "identity.key", "output private key file")
	return cmd
}

// generate writes the identity to path and the hex address to path.pub and w.
func generate(path string, w io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	if err := crypto.SaveIdentity(path, priv); err != nil {
		return err
	}
	addr, err := vo.NodeAddressFromPublicKey(pub)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".pub", []byte(addr.String()+"\n"), 0o644); err != nil {
		return err
	}
	fmt.Fprintln(w, addr)
	return nil
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCommand(),
		fang.WithVersion(versioninfo.Short()),
	); err != nil {
		os.Exit(1)
	}
}
