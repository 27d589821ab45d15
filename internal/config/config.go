// Package config loads the node configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	domainsvc "ikedadada/go-anonroute/internal/domain/service"
	vo "ikedadada/go-anonroute/internal/domain/value_object"
	"ikedadada/go-anonroute/internal/infrastructure/util"
)

const (
	defaultPacketSize         = 512
	defaultPacketsPerSecond   = 50
	defaultMaxPendingSegments = 10
	defaultHopTimeoutSeconds  = 10
	defaultIdentity           = "identity.key"
	defaultListen             = "127.0.0.1:7000"
	defaultLogLevel           = "NOTICE"
)

// Router is the circuit router tuning.
type Router struct {
	PacketSize         int
	PacketsPerSecond   int
	MaxPendingSegments int
	HopTimeoutSeconds  int
}

func (r *Router) applyDefaults() {
	if r.PacketSize == 0 {
		r.PacketSize = defaultPacketSize
	}
	if r.PacketsPerSecond == 0 {
		r.PacketsPerSecond = defaultPacketsPerSecond
	}
	if r.MaxPendingSegments == 0 {
		r.MaxPendingSegments = defaultMaxPendingSegments
	}
	if r.HopTimeoutSeconds == 0 {
		r.HopTimeoutSeconds = defaultHopTimeoutSeconds
	}
}

func (r *Router) validate() error {
	if err := util.ValidateRange(r.PacketSize, domainsvc.MinPacketSize(), vo.CellHeaderSize+0xFFFF, "Router.PacketSize"); err != nil {
		return err
	}
	if err := util.ValidatePositive(r.PacketsPerSecond, "Router.PacketsPerSecond"); err != nil {
		return err
	}
	if err := util.ValidatePositive(r.MaxPendingSegments, "Router.MaxPendingSegments"); err != nil {
		return err
	}
	return util.ValidatePositive(r.HopTimeoutSeconds, "Router.HopTimeoutSeconds")
}

// HopTimeout is the per build step timer.
func (r *Router) HopTimeout() time.Duration {
	return time.Duration(r.HopTimeoutSeconds) * time.Second
}

// Node is the local identity and listener.
type Node struct {
	// Identity is the PEM encoded Ed25519 private key file.
	Identity string
	Listen   string
}

// Peer is a statically known link endpoint.
type Peer struct {
	Address  string
	Endpoint string
}

// Logging mirrors the log backend options.
type Logging struct {
	Disable bool
	File    string
	Level   string
}

func (l *Logging) validate() error {
	lvl := strings.ToUpper(l.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", l.Level)
	}
	l.Level = lvl
	return nil
}

// Metrics enables the Prometheus endpoint when Listen is set.
type Metrics struct {
	Listen string
}

type Config struct {
	Router  *Router
	Node    *Node
	Peers   []Peer
	Logging *Logging
	Metrics *Metrics
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Router == nil {
		cfg.Router = &Router{}
	}
	if cfg.Node == nil {
		cfg.Node = &Node{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &Logging{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	cfg.Router.applyDefaults()
	if cfg.Node.Identity == "" {
		cfg.Node.Identity = defaultIdentity
	}
	if cfg.Node.Listen == "" {
		cfg.Node.Listen = defaultListen
	}

	if err := cfg.Router.validate(); err != nil {
		return err
	}
	if err := util.ValidateEndpoint(cfg.Node.Listen, "Node.Listen"); err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		if err := util.ValidateEndpoint(cfg.Metrics.Listen, "Metrics.Listen"); err != nil {
			return err
		}
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	peers, err := cfg.PeerMap()
	if err != nil {
		return err
	}
	addrs := make([]vo.NodeAddress, 0, len(peers))
	for _, p := range cfg.Peers {
		a, _ := vo.NodeAddressFromHex(p.Address)
		addrs = append(addrs, a)
	}
	return util.ValidateUnique(addrs, "Peers")
}

// PeerMap parses the peer table.
func (cfg *Config) PeerMap() (map[vo.NodeAddress]vo.Endpoint, error) {
	out := make(map[vo.NodeAddress]vo.Endpoint, len(cfg.Peers))
	for i, p := range cfg.Peers {
		a, err := vo.NodeAddressFromHex(p.Address)
		if err != nil {
			return nil, fmt.Errorf("config: Peers[%d].Address: %w", i, err)
		}
		ep, err := vo.ParseEndpoint(p.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("config: Peers[%d].Endpoint: %w", i, err)
		}
		out[a] = ep
	}
	return out, nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("config: nil buffer")
	}
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
