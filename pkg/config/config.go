package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration for the bridge
// validator node.
type Config struct {
	ChainA     ChainAConfig     `yaml:"chain_a"`
	ChainB     ChainBConfig     `yaml:"chain_b"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Overlay    OverlayConfig    `yaml:"overlay"`
	Database   DatabaseConfig   `yaml:"database"`
	StatusHTTP StatusHTTPConfig `yaml:"status_http"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Logging    LoggingConfig    `yaml:"logging"`

	DataDir string `yaml:"data_dir" validate:"required"`
}

// ChainAConfig contains the ed25519/Base58 L0 chain client settings.
type ChainAConfig struct {
	NodeURL       string `yaml:"node_url" validate:"required,url"`
	NetworkTag    string `yaml:"network_tag" validate:"required,len=1"`
	Confirmations int    `yaml:"confirmations" default:"10"`
	BridgeAddress string `yaml:"bridge_address" validate:"required"`

	PollInterval   time.Duration `yaml:"poll_interval" default:"15s"`
	BatchCap       uint64        `yaml:"batch_cap" default:"50"`
	LookbackBlocks uint64        `yaml:"lookback_blocks" default:"20"`
	StartBlock     *uint64       `yaml:"start_block"`
}

// ChainBConfig contains the secp256k1/EVM L1 chain client settings.
type ChainBConfig struct {
	RPCURL        string `yaml:"rpc_url" validate:"required,url"`
	ChainID       int64  `yaml:"chain_id" validate:"required"`
	Confirmations int    `yaml:"confirmations" default:"32"`
	BridgeAddress string `yaml:"bridge_address" validate:"required"`

	PollInterval   time.Duration `yaml:"poll_interval" default:"15s"`
	BatchCap       uint64        `yaml:"batch_cap" default:"500"`
	LookbackBlocks uint64        `yaml:"lookback_blocks" default:"20"`
	StartBlock     *uint64       `yaml:"start_block"`
}

// ValidatorConfig holds this node's own key material.
type ValidatorConfig struct {
	Secp256k1Key string `yaml:"secp256k1_key" validate:"required"`
	// Ed25519Seed is optional; without it A-destination relay is
	// disabled (spec.md §6).
	Ed25519Seed string `yaml:"ed25519_seed"`
}

// OverlayConfig holds gossip transport settings.
type OverlayConfig struct {
	ListenPort     int           `yaml:"listen_port" default:"7946"`
	BootstrapPeers []string      `yaml:"bootstrap_peers"`
	IdentitySeed   string        `yaml:"identity_seed"`
	DriftHorizon   time.Duration `yaml:"drift_horizon" default:"10m"`
}

// DatabaseConfig contains PostgreSQL connection settings for persistence.
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// StatusHTTPConfig controls the read-only monitoring surface.
type StatusHTTPConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
	Port    int  `yaml:"port" default:"8080"`
}

// BridgeConfig contains bridge-operation tunables that are not part of
// the on-chain verifier contract itself.
type BridgeConfig struct {
	SweepInterval     time.Duration `yaml:"sweep_interval" default:"5s"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" default:"30s"`
	ThresholdCacheTTL time.Duration `yaml:"threshold_cache_ttl" default:"60s"`
	MaxRelayAttempts  int           `yaml:"max_relay_attempts" default:"10"`
	RelayTimeoutA     time.Duration `yaml:"relay_timeout_a" default:"60s"`
	RelayTimeoutB     time.Duration `yaml:"relay_timeout_b" default:"60s"`
	// AssertNetAmounts is parsed from the config file but nothing reads
	// it: no startup check samples or compares event amounts.
	AssertNetAmounts bool `yaml:"assert_net_amounts" default:"false"`
}

// LoggingConfig mirrors the teacher's logging config shape.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

var validate = validator.New()

// Load reads, defaults and validates a Config from path, applying
// BRIDGE_-prefixed environment overrides for the handful of secrets that
// operators should not have to keep in a file on disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets secrets that shouldn't live in a checked-in YAML
// file be supplied out of band, matching spec.md §6's "from environment
// or file" framing.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_VALIDATOR_SECP256K1_KEY"); v != "" {
		cfg.Validator.Secp256k1Key = v
	}
	if v := os.Getenv("BRIDGE_VALIDATOR_ED25519_SEED"); v != "" {
		cfg.Validator.Ed25519Seed = v
	}
	if v := os.Getenv("BRIDGE_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
}
