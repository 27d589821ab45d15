package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"ikedadada/go-anonroute/internal/config"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
)

// printer writes received messages to out.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	echo func(peer vo.NodeAddress, routeID vo.SegmentID, command byte, data []byte)
	recv chan []byte
}

func (p *printer) OnData(peer vo.NodeAddress, routeID vo.SegmentID, command byte, data []byte) {
	p.mu.Lock()
	fmt.Fprintf(p.out, "%s/%s cmd=%d %q\n", peer.Short(), routeID, command, data)
	echo := p.echo
	p.mu.Unlock()
	if echo != nil {
		echo(peer, routeID, command, data)
	}
	if p.recv != nil {
		select {
		case p.recv <- data:
		default:
		}
	}
}

func (p *printer) OnDestroyed(peer vo.NodeAddress, routeID vo.SegmentID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s/%s destroyed\n", peer.Short(), routeID)
}

func (p *printer) OnActivity(vo.NodeAddress, vo.SegmentID) {}

func newRootCommand() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:   "node",
		Short: "Anonymous circuit router node",
		Long: `node runs a circuit router over authenticated TCP links. It relays cells
for other nodes, answers as the far end of routing paths and can build its
own paths to send messages.`,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "f", "node.toml", "path to the node configuration file (TOML format)")
	root.AddCommand(newRunCommand(&cfgFile), newSendCommand(&cfgFile))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", path, err)
	}
	return cfg, nil
}

func newRunCommand(cfgFile *string) *cobra.Command {
	var echo bool
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Serve as relay and responder until interrupted",
		Example: "  node run -f node.toml --echo",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			p := &printer{out: cmd.OutOrStdout()}
			n, err := startNode(cfg, p)
			if err != nil {
				return err
			}
			defer n.Close()
			if echo {
				p.mu.Lock()
				p.echo = func(peer vo.NodeAddress, routeID vo.SegmentID, command byte, data []byte) {
					_ = n.router.SendData(peer, routeID, command, data)
				}
				p.mu.Unlock()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&echo, "echo", false, "send every received message back on its path")
	return cmd
}

func newSendCommand(cfgFile *string) *cobra.Command {
	var (
		path    []string
		command uint8
		data    string
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:     "send",
		Short:   "Build a routing path, send one message and wait for a reply",
		Example: "  node send -f node.toml --path <hex>,<hex>,<hex> --command 1 --data hello",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := parsePath(path)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(*cfgFile)
			if err != nil {
				return err
			}
			p := &printer{out: cmd.OutOrStdout(), recv: make(chan []byte, 1)}
			n, err := startNode(cfg, p)
			if err != nil {
				return err
			}
			defer n.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			route, err := n.router.ConstructRoutingPath(ctx, nodes)
			if err != nil {
				return fmt.Errorf("construct routing path: %w", err)
			}
			defer n.router.DestroyRoutingPath(context.Background(), nodes[0], route)

			if err := n.router.SendData(nodes[0], route, command, []byte(data)); err != nil {
				return err
			}
			select {
			case <-p.recv:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("no reply: %w", ctx.Err())
			}
		},
	}
	cmd.Flags().StringSliceVar(&path, "path", nil, "comma separated hex node addresses, responder last")
	cmd.Flags().Uint8Var(&command, "command", 1, "command byte")
	cmd.Flags().StringVar(&data, "data", "", "message body")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "overall deadline")
	_ = cmd.MarkFlagRequired("path")
	return cmd
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
