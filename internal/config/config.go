// Package config loads match server settings from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a match server process.
type Config struct {
	Server struct {
		// Addr is the TCP listen address for player/spectator connections.
		Addr string `yaml:"addr"`
		// RoomID identifies the room this process serves.
		RoomID string `yaml:"room_id"`
		// MaxFrameSize bounds a single wire frame in bytes.
		MaxFrameSize uint32 `yaml:"max_frame_size"`
	} `yaml:"server"`

	Lobby struct {
		// Addr is where match results are reported. Empty disables reporting.
		Addr string `yaml:"addr"`
	} `yaml:"lobby"`

	Match MatchConfig `yaml:"match"`

	Log struct {
		Level string `yaml:"level"` // debug, info, warn, error
	} `yaml:"log"`
}

// MatchConfig holds the timing knobs of a single match.
type MatchConfig struct {
	RoundDuration    time.Duration
	TickInterval     time.Duration
	SnapshotInterval time.Duration
	JoinTimeout      time.Duration
	// GracePeriod is how long an empty started match lingers before
	// being aborted.
	GracePeriod time.Duration
	// Seed drives piece sequencing; 0 picks a random seed per match.
	Seed int64
}

// UnmarshalYAML accepts durations in time.ParseDuration notation ("90s",
// "25ms"). Absent keys keep whatever value the field already holds.
func (m *MatchConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		RoundDuration    string `yaml:"round_duration"`
		TickInterval     string `yaml:"tick_interval"`
		SnapshotInterval string `yaml:"snapshot_interval"`
		JoinTimeout      string `yaml:"join_timeout"`
		GracePeriod      string `yaml:"grace_period"`
		Seed             *int64 `yaml:"seed"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	fields := []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"round_duration", raw.RoundDuration, &m.RoundDuration},
		{"tick_interval", raw.TickInterval, &m.TickInterval},
		{"snapshot_interval", raw.SnapshotInterval, &m.SnapshotInterval},
		{"join_timeout", raw.JoinTimeout, &m.JoinTimeout},
		{"grace_period", raw.GracePeriod, &m.GracePeriod},
	}
	for _, f := range fields {
		if f.val == "" {
			continue
		}
		d, err := time.ParseDuration(f.val)
		if err != nil {
			return fmt.Errorf("config: %s: %w", f.name, err)
		}
		*f.dst = d
	}
	if raw.Seed != nil {
		m.Seed = *raw.Seed
	}
	return nil
}

// Default returns the reference configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":7000"
	cfg.Server.MaxFrameSize = 50 * 1024 * 1024
	cfg.Lobby.Addr = "localhost:6000"
	cfg.Match.RoundDuration = 90 * time.Second
	cfg.Match.TickInterval = 50 * time.Millisecond
	cfg.Match.SnapshotInterval = time.Second
	cfg.Match.JoinTimeout = 30 * time.Second
	cfg.Match.GracePeriod = 10 * time.Second
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path over the defaults. A missing file is not an error when
// path is empty. Environment variables BLOCKBATTLE_ADDR, BLOCKBATTLE_ROOM
// and BLOCKBATTLE_LOBBY override both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("BLOCKBATTLE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BLOCKBATTLE_ROOM"); v != "" {
		cfg.Server.RoomID = v
	}
	if v := os.Getenv("BLOCKBATTLE_LOBBY"); v != "" {
		cfg.Lobby.Addr = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Match.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive, got %s", c.Match.TickInterval)
	}
	if c.Match.RoundDuration <= 0 {
		return fmt.Errorf("config: round_duration must be positive, got %s", c.Match.RoundDuration)
	}
	if c.Server.MaxFrameSize == 0 {
		return fmt.Errorf("config: max_frame_size must be positive")
	}
	return nil
}
