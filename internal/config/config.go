// Package config loads the peer configuration from YAML with PEERSYNC_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/internal/core/replication"
	"github.com/zeusync/peersync/internal/core/transport"
)

// EnvPrefix prefixes every environment override, e.g.
// PEERSYNC_NETWORKING_APP_ID or PEERSYNC_TRANSPORT_PEERS=a:1,b:2.
const EnvPrefix = "PEERSYNC_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Networking Networking `yaml:"networking" envPrefix:"NETWORKING_"`
	Transport  Transport  `yaml:"transport" envPrefix:"TRANSPORT_"`
	Log        Log        `yaml:"log" envPrefix:"LOG_"`
}

type Networking struct {
	MaxPlayers             int           `yaml:"max_players" env:"MAX_PLAYERS"`
	MaxSyncedObjects       int           `yaml:"max_synced_objects" env:"MAX_SYNCED_OBJECTS"`
	AppID                  uint32        `yaml:"app_id" env:"APP_ID"`
	PacketPerFrameLimit    int           `yaml:"packet_per_frame_limit" env:"PACKET_PER_FRAME_LIMIT"`
	MaxComponentsPerEntity int           `yaml:"max_components_per_entity" env:"MAX_COMPONENTS_PER_ENTITY"`
	EventQueueSize         int           `yaml:"event_queue_size" env:"EVENT_QUEUE_SIZE"`
	PeerFailureThreshold   int           `yaml:"peer_failure_threshold" env:"PEER_FAILURE_THRESHOLD"`
	TickInterval           time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// MetricsInterval is how often the node logs its diagnostic counters.
	// Zero disables the log line.
	MetricsInterval time.Duration `yaml:"metrics_interval" env:"METRICS_INTERVAL"`
}

type Transport struct {
	Kind             transport.Kind `yaml:"kind" env:"KIND"`
	ListenAddr       string         `yaml:"listen_addr" env:"LISTEN_ADDR"`
	Peers            []string       `yaml:"peers" env:"PEERS" envSeparator:","`
	PeerID           uint64         `yaml:"peer_id" env:"PEER_ID"`
	InboxSize        int            `yaml:"inbox_size" env:"INBOX_SIZE"`
	HandshakeTimeout time.Duration  `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	WriteTimeout     time.Duration  `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type Log struct {
	Level string `yaml:"level" env:"LEVEL"`
}

func Default() *Config {
	rc := replication.DefaultConfig()
	return &Config{
		Networking: Networking{
			MaxPlayers:             rc.MaxPlayers,
			MaxSyncedObjects:       rc.MaxSyncedObjects,
			AppID:                  rc.AppID,
			PacketPerFrameLimit:    rc.PacketPerFrameLimit,
			MaxComponentsPerEntity: rc.MaxComponentsPerEntity,
			EventQueueSize:         rc.EventQueueSize,
			PeerFailureThreshold:   rc.PeerFailureThreshold,
			TickInterval:           16 * time.Millisecond,
			MetricsInterval:        10 * time.Second,
		},
		Transport: Transport{
			Kind:             transport.KindQUIC,
			ListenAddr:       "127.0.0.1:7777",
			InboxSize:        4096,
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer func() { _ = f.Close() }()

		if cfg, err = LoadYAML(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML decodes r over the defaults. Unknown keys are rejected; an empty
// document yields the defaults.
func LoadYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PEERSYNC_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(env.Options{Prefix: EnvPrefix})
}

func (c *Config) applyEnv(opts env.Options) error {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports every invalid option at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	n := c.Networking
	check(n.MaxPlayers > 1 && n.MaxPlayers <= 65535, "networking.max_players must be in 2..65535, got %d", n.MaxPlayers)
	check(n.MaxSyncedObjects > 0, "networking.max_synced_objects must be positive, got %d", n.MaxSyncedObjects)
	check(n.PacketPerFrameLimit > 0, "networking.packet_per_frame_limit must be positive, got %d", n.PacketPerFrameLimit)
	check(n.MaxComponentsPerEntity > 0 && n.MaxComponentsPerEntity <= protocol.MaxComponentsPerEntityLimit,
		"networking.max_components_per_entity must be in 1..%d, got %d", protocol.MaxComponentsPerEntityLimit, n.MaxComponentsPerEntity)
	check(n.EventQueueSize > 0, "networking.event_queue_size must be positive, got %d", n.EventQueueSize)
	check(n.PeerFailureThreshold > 0, "networking.peer_failure_threshold must be positive, got %d", n.PeerFailureThreshold)
	check(n.TickInterval > 0, "networking.tick_interval must be positive, got %s", n.TickInterval)
	check(n.MetricsInterval >= 0, "networking.metrics_interval must not be negative, got %s", n.MetricsInterval)

	t := c.Transport
	switch t.Kind {
	case transport.KindQUIC, transport.KindWebSocket:
		check(t.ListenAddr != "" || len(t.Peers) > 0, "transport.%s needs listen_addr or peers", t.Kind)
	case transport.KindMemory:
	default:
		errs = append(errs, fmt.Errorf("transport.kind: %w %q", transport.ErrUnknownKind, t.Kind))
	}
	check(t.InboxSize >= 0, "transport.inbox_size must not be negative, got %d", t.InboxSize)
	check(t.HandshakeTimeout > 0, "transport.handshake_timeout must be positive, got %s", t.HandshakeTimeout)
	check(t.WriteTimeout > 0, "transport.write_timeout must be positive, got %s", t.WriteTimeout)

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Replication returns the session options.
func (c *Config) Replication() replication.Config {
	n := c.Networking
	return replication.Config{
		MaxPlayers:             n.MaxPlayers,
		MaxSyncedObjects:       n.MaxSyncedObjects,
		AppID:                  n.AppID,
		PacketPerFrameLimit:    n.PacketPerFrameLimit,
		MaxComponentsPerEntity: n.MaxComponentsPerEntity,
		EventQueueSize:         n.EventQueueSize,
		PeerFailureThreshold:   n.PeerFailureThreshold,
	}
}

// LogLevel parses Log.Level, falling back to info.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.LevelInfo
	}
	return level
}
