package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config defines behavior and resource limits for the game server.
type Config struct {
	// ========== Networking ==========

	// Port is the UDP port the server listens on for peer datagrams.
	Port uint16

	// MaxClients caps the number of simultaneously connected peers.
	// Connection attempts beyond the cap are ignored.
	MaxClients int

	// PollTimeout bounds how long a single transport poll may block
	// waiting for datagrams. Keep this small; it is the only I/O wait
	// on the simulation path.
	PollTimeout time.Duration

	// PeerTimeout is how long a peer may stay silent before the
	// transport declares it gone and synthesizes a disconnect.
	PeerTimeout time.Duration

	// RetransmitTimeout is the delay before an unacknowledged reliable
	// datagram is sent again.
	RetransmitTimeout time.Duration

	// MaxRetransmits is the number of resends of a reliable datagram
	// before the peer is considered unreachable.
	MaxRetransmits int

	// ========== Simulation ==========

	// TickRate is the fixed simulation rate in ticks per second.
	TickRate int

	// StateBroadcastPeriod is how often the authoritative world
	// snapshot is broadcast to all peers.
	StateBroadcastPeriod time.Duration

	// PersistPeriod is how often player positions are queued for
	// persistence.
	PersistPeriod time.Duration

	// PerfReportPeriod is how often the performance report is logged.
	PerfReportPeriod time.Duration

	// CellSize is the spatial grid cell edge length in world units.
	CellSize float64

	// IdleSweepInterval is the cadence of the inactive-player sweep.
	IdleSweepInterval time.Duration

	// IdleCutoff is how long a player may be inactive before the sweep
	// reports it.
	IdleCutoff time.Duration

	// ========== Anti-cheat ==========

	// AntiCheatEnabled toggles movement and action-rate validation.
	AntiCheatEnabled bool

	// MaxSpeed is the maximum allowed movement speed in units/second.
	MaxSpeed float64

	// MaxActionsPerSecond caps the per-peer action rate.
	MaxActionsPerSecond int

	// SuspiciousThreshold is the number of flagged violations after
	// which a peer is disconnected.
	SuspiciousThreshold int

	// ========== Persistence ==========

	// DBConnection is the database DSN (a sqlite path by default).
	DBConnection string

	// PersistQueueSize bounds the pending-write queue between the
	// simulation and the persistence worker. Writes beyond the bound
	// are dropped and counted.
	PersistQueueSize int

	// ========== Scripting ==========

	// ScriptsPath points at the JavaScript rules file. Empty disables
	// scripting; the server runs with no-op hooks.
	ScriptsPath string

	// ========== Metrics ==========

	// MetricsEnabled toggles the Prometheus metrics endpoint.
	MetricsEnabled bool

	// MetricsBindAddr is the HTTP address for metrics (e.g. ":9090").
	MetricsBindAddr string
}

// Default returns the built-in configuration values.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Port:                 7777,
		MaxClients:           32,
		PollTimeout:          time.Millisecond,
		PeerTimeout:          10 * time.Second,
		RetransmitTimeout:    200 * time.Millisecond,
		MaxRetransmits:       10,
		TickRate:             30,
		StateBroadcastPeriod: 50 * time.Millisecond,
		PersistPeriod:        5 * time.Second,
		PerfReportPeriod:     60 * time.Second,
		CellSize:             50.0,
		IdleSweepInterval:    30 * time.Second,
		IdleCutoff:           5 * time.Minute,
		AntiCheatEnabled:     true,
		MaxSpeed:             15.0,
		MaxActionsPerSecond:  20,
		SuspiciousThreshold:  10,
		DBConnection:         "arena.db",
		PersistQueueSize:     1024,
		MetricsEnabled:       false,
		MetricsBindAddr:      ":9090",
	}
}

// fileConfig is the on-disk JSON shape. Pointer fields distinguish "absent"
// from zero values; durations are in milliseconds.
type fileConfig struct {
	Port                 *uint16  `json:"port"`
	MaxClients           *int     `json:"max_clients"`
	TickRate             *int     `json:"tick_rate"`
	StateBroadcastMillis *int64   `json:"state_broadcast_ms"`
	PersistMillis        *int64   `json:"persist_ms"`
	CellSize             *float64 `json:"cell_size"`
	AntiCheatEnabled     *bool    `json:"anti_cheat_enabled"`
	MaxSpeed             *float64 `json:"max_speed"`
	MaxActionsPerSecond  *int     `json:"max_actions_per_second"`
	SuspiciousThreshold  *int     `json:"suspicious_threshold"`
	DBConnection         *string  `json:"db_connection"`
	ScriptsPath          *string  `json:"scripts_path"`
	MetricsEnabled       *bool    `json:"metrics_enabled"`
	MetricsBindAddr      *string  `json:"metrics_bind_addr"`
}

// LoadFile merges the JSON file at path into c.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.MaxClients != nil {
		c.MaxClients = *fc.MaxClients
	}
	if fc.TickRate != nil {
		c.TickRate = *fc.TickRate
	}
	if fc.StateBroadcastMillis != nil {
		c.StateBroadcastPeriod = time.Duration(*fc.StateBroadcastMillis) * time.Millisecond
	}
	if fc.PersistMillis != nil {
		c.PersistPeriod = time.Duration(*fc.PersistMillis) * time.Millisecond
	}
	if fc.CellSize != nil {
		c.CellSize = *fc.CellSize
	}
	if fc.AntiCheatEnabled != nil {
		c.AntiCheatEnabled = *fc.AntiCheatEnabled
	}
	if fc.MaxSpeed != nil {
		c.MaxSpeed = *fc.MaxSpeed
	}
	if fc.MaxActionsPerSecond != nil {
		c.MaxActionsPerSecond = *fc.MaxActionsPerSecond
	}
	if fc.SuspiciousThreshold != nil {
		c.SuspiciousThreshold = *fc.SuspiciousThreshold
	}
	if fc.DBConnection != nil {
		c.DBConnection = *fc.DBConnection
	}
	if fc.ScriptsPath != nil {
		c.ScriptsPath = *fc.ScriptsPath
	}
	if fc.MetricsEnabled != nil {
		c.MetricsEnabled = *fc.MetricsEnabled
	}
	if fc.MetricsBindAddr != nil {
		c.MetricsBindAddr = *fc.MetricsBindAddr
	}

	return nil
}

// ApplyEnv merges supported environment overrides into c.
//
//	GAME_PORT, GAME_MAX_CLIENTS, GAME_DB_CONNECTION, GAME_SCRIPTS_PATH
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("GAME_PORT"); ok {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("GAME_PORT: %w", err)
		}
		c.Port = uint16(port)
	}
	if v, ok := os.LookupEnv("GAME_MAX_CLIENTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GAME_MAX_CLIENTS: %w", err)
		}
		c.MaxClients = n
	}
	if v, ok := os.LookupEnv("GAME_DB_CONNECTION"); ok {
		c.DBConnection = v
	}
	if v, ok := os.LookupEnv("GAME_SCRIPTS_PATH"); ok {
		c.ScriptsPath = v
	}

	return nil
}

// TickInterval is the wall-clock duration of one tick.
func (c *Config) TickInterval() time.Duration {
	rate := c.TickRate
	if rate <= 0 {
		rate = defaultConfig().TickRate
	}
	return time.Duration(float64(time.Second) / float64(rate))
}
