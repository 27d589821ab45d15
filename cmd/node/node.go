package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ikedadada/go-anonroute/internal/config"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/infrastructure/crypto"
	"ikedadada/go-anonroute/internal/infrastructure/log"
	"ikedadada/go-anonroute/internal/infrastructure/metrics"
	repoimpl "ikedadada/go-anonroute/internal/infrastructure/repository"
	infraservice "ikedadada/go-anonroute/internal/infrastructure/service"
	"ikedadada/go-anonroute/internal/usecase"
	"ikedadada/go-anonroute/internal/usecase/service"
)

// node wires one router to its TCP links, pacing, logging and metrics.
type node struct {
	backend   *log.Backend
	transport *infraservice.TCPTransport
	sender    *infraservice.PacedSender
	router    *usecase.Router
	httpSrv   *http.Server
}

func startNode(cfg *config.Config, obs usecase.CircuitObserver) (*node, error) {
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	n := &node{backend: backend}
	if err := n.start(cfg, obs); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) start(cfg *config.Config, obs usecase.CircuitObserver) error {
	identity, err := crypto.LoadIdentity(cfg.Node.Identity)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	peers, err := cfg.PeerMap()
	if err != nil {
		return err
	}

	var rec service.MetricsRecorder = service.NopMetrics()
	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		p, err := metrics.New(reg)
		if err != nil {
			return err
		}
		rec = p
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		n.httpSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		mlog := n.backend.GetLogger("metrics")
		go func() {
			if err := n.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mlog.Errorf("metrics endpoint: %v", err)
			}
		}()
	}

	cs := infraservice.NewCryptoService()
	n.transport, err = infraservice.NewTCPTransport(infraservice.TCPConfig{
		Identity: identity,
		Listen:   cfg.Node.Listen,
		Peers:    peers,
	}, cs, n.backend.GetLogger("transport"))
	if err != nil {
		return err
	}
	n.sender = infraservice.NewPacedSender(n.transport, cfg.Router.PacketsPerSecond, n.backend.GetLogger("sender"))
	n.router, err = usecase.NewRouter(usecase.RouterConfig{
		Identity:           identity,
		PacketSize:         cfg.Router.PacketSize,
		MaxPendingSegments: cfg.Router.MaxPendingSegments,
		HopTimeout:         cfg.Router.HopTimeout(),
		Log:                n.backend.GetLogger("router"),
		Metrics:            rec,
	}, repoimpl.NewCircuitRepo(), repoimpl.NewSegmentRepository(), repoimpl.NewHopCryptoRepository(), cs, n.sender, obs)
	if err != nil {
		return err
	}
	if err := n.transport.Start(n.router); err != nil {
		return err
	}
	n.backend.GetLogger("node").Noticef("node %s up", n.router.Address())
	return nil
}

func (n *node) Close() {
	if n.router != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = n.router.Destroy(ctx)
		cancel()
		n.router.Close()
	}
	if n.sender != nil {
		n.sender.Close()
	}
	if n.transport != nil {
		n.transport.Close()
	}
	if n.httpSrv != nil {
		n.httpSrv.Close()
	}
	n.backend.Close()
}

func parsePath(s []string) ([]vo.NodeAddress, error) {
	out := make([]vo.NodeAddress, 0, len(s))
	for _, h := range s {
		a, err := vo.NodeAddressFromHex(h)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", h, err)
		}
		out = append(out, a)
	}
	return out, nil
}
