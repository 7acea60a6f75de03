// Package config loads PlayHouse server configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Role identifies whether a server process hosts stages (Play) or
// stateless handlers (Api).
type Role string

const (
	RolePlay Role = "play"
	RoleApi  Role = "api"
)

// PoolConfig controls the bucketed byte-array pool (C1).
type PoolConfig struct {
	WarmUpCounts map[int]int `yaml:"warm_up_counts"` // bucket size -> pre-allocated count
	MaxCounts    map[int]int `yaml:"max_counts"`      // bucket size -> max retained count; not read: the pool applies its default bound to every bucket
	IdleTrim     time.Duration `yaml:"idle_trim"`     // how long a bucket can sit idle before trimming
}

// GameLoopConfig holds game-loop timing settings. No code reads it:
// StartGameLoop takes its timestep and cap as arguments and applies its
// own defaults.
type GameLoopConfig struct {
	FixedTimestep     time.Duration `yaml:"fixed_timestep"`
	MaxAccumulatorCap time.Duration `yaml:"max_accumulator_cap"`
}

// CompressionConfig controls the LZ4 codec threshold (C2).
type CompressionConfig struct {
	Threshold int `yaml:"threshold"`
}

// ZmqConfig holds high-water marks for the mesh socket (C5). The mesh
// socket does not read them.
type ZmqConfig struct {
	SendHWM int `yaml:"send_hwm"`
	RecvHWM int `yaml:"recv_hwm"`
}

// MetricsConfig holds the metrics switch. Nothing reads it; the
// in-process Prometheus registry is always populated.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the full recognized configuration surface for a PlayHouse
// server process, covering both Play and Api roles (§6).
type Config struct {
	Role Role `yaml:"role"`

	// Client transport (C3)
	TCPPort       int    `yaml:"tcp_port"` // 0 = pick any free port
	TLSCertPath   string `yaml:"tls_cert_path"`
	TLSKeyPath    string `yaml:"tls_key_path"`
	WebSocketPath string `yaml:"websocket_path"` // "" disables the WS listener
	WebSocketPort int    `yaml:"websocket_port"` // distinct port; TCP and WS bind separately

	// Mesh (C5/C6)
	BindEndpoint     string   `yaml:"bind_endpoint"` // e.g. tcp://0.0.0.0:17001
	ServerID         string   `yaml:"server_id"`
	ServiceID        uint16   `yaml:"service_id"`
	Peers            []string `yaml:"peers"` // static peers as "serverId@endpoint"; entries without '@' are skipped
	HeartbeatMs      int      `yaml:"heartbeat_interval_ms"`
	DiscoveryRefresh int      `yaml:"discovery_refresh_ms"`
	Zmq              ZmqConfig `yaml:"zmq"`

	// Request correlation (C4)
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
	SweepIntervalMs  int `yaml:"sweep_interval_ms"`

	// Actor / authentication (C8)
	AuthenticateMessageID string `yaml:"authenticate_message_id"`

	// Stage (C9/C10)
	DefaultStageType string `yaml:"default_stage_type"`
	MailboxDrainCap  int    `yaml:"mailbox_drain_cap"`
	DrainDeadlineMs  int    `yaml:"drain_deadline_ms"`

	Pool        PoolConfig        `yaml:"pool"`
	GameLoop    GameLoopConfig    `yaml:"game_loop"`
	Compression CompressionConfig `yaml:"compression"`
	Metrics     MetricsConfig     `yaml:"metrics"`

	MaxPacketBytes int `yaml:"max_packet_bytes"`
	MaxMsgIDLen    int `yaml:"max_msg_id_len"`

	SendQueueCap int `yaml:"send_queue_cap"` // per-session outbound queue capacity (C3 back-pressure)

	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// Default returns a Config populated with the defaults named in §6 of
// the specification.
func Default() Config {
	return Config{
		Role:             RolePlay,
		TCPPort:          0,
		BindEndpoint:     "tcp://0.0.0.0:17001",
		ServiceID:        1,
		HeartbeatMs:      2000,
		DiscoveryRefresh: 5000,
		Zmq: ZmqConfig{
			SendHWM: 1000,
			RecvHWM: 1000,
		},
		RequestTimeoutMs: 30000,
		SweepIntervalMs:  1000,
		DefaultStageType: "default",
		MailboxDrainCap:  256,
		DrainDeadlineMs:  5000,
		Pool: PoolConfig{
			IdleTrim: 30 * time.Second,
		},
		GameLoop: GameLoopConfig{
			FixedTimestep:     50 * time.Millisecond,
			MaxAccumulatorCap: 0, // zero means 5x fixed timestep, as stage.BaseStage.StartGameLoop resolves it
		},
		Compression: CompressionConfig{
			Threshold: 1024,
		},
		Metrics:        MetricsConfig{Enabled: true},
		MaxPacketBytes: 10 * 1024 * 1024,
		MaxMsgIDLen:    128,
		SendQueueCap:   1024,
		LogLevel:       "info",
	}
}

// Load reads a YAML config file, overlaying it onto Default(). A
// missing file is not an error — it yields the defaults, matching the
// teacher's LoadGameServer behavior.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// An operator running a quick standalone instance without a
	// configured server_id still needs a stable, unique mesh identity.
	if cfg.ServerID == "" {
		cfg.ServerID = "server-" + uuid.NewString()
	}

	return cfg, nil
}

// LoadFromEnvOrPath loads from envVar if set, otherwise from
// defaultPath, mirroring cmd/gameserver's LA2GO_GAME_CONFIG override.
func LoadFromEnvOrPath(envVar, defaultPath string) (Config, error) {
	path := defaultPath
	if p := os.Getenv(envVar); p != "" {
		path = p
	}
	return Load(path)
}
