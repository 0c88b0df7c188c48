package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"projectledger/native/fees"
	"projectledger/native/prices"
)

const (
	DefaultListenAddress = ":8080"
	DefaultDataDir       = "./ledger-data"
	DefaultAuditDriver   = "sqlite"
	DefaultAuthSecretEnv = "LEDGERD_AUTH_SECRET"
	DefaultAdminScope    = "ledger:admin"
	// DefaultTerminalAddress is the conventional address of the native token
	// terminal when none is configured.
	DefaultTerminalAddress = "0x000000000000000000000000000000000000d00d"
	// DefaultToken is the sentinel address of the native token.
	DefaultToken = "0x000000000000000000000000000000000000EEEe"
)

type Config struct {
	ListenAddress string          `toml:"ListenAddress"`
	DataDir       string          `toml:"DataDir"`
	Environment   string          `toml:"Environment"`
	BootstrapFile string          `toml:"BootstrapFile"`
	Terminal      TerminalConfig  `toml:"terminal"`
	Audit         AuditConfig     `toml:"audit"`
	Telemetry     TelemetryConfig `toml:"telemetry"`
	Logging       LoggingConfig   `toml:"logging"`
	RateLimit     RateLimitConfig `toml:"rate_limit"`
	Auth          AuthConfig      `toml:"auth"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration written to path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if !meta.IsDefined("terminal", "Fee") {
		cfg.Terminal.Fee = fees.DefaultFee
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.Terminal.Address) == "" {
		cfg.Terminal.Address = DefaultTerminalAddress
	}
	if strings.TrimSpace(cfg.Terminal.Token) == "" {
		cfg.Terminal.Token = DefaultToken
	}
	if cfg.Terminal.Decimals == 0 {
		cfg.Terminal.Decimals = 18
	}
	if cfg.Terminal.Currency == 0 {
		cfg.Terminal.Currency = prices.CurrencyETH
	}
	if cfg.Terminal.FeelessAddresses == nil {
		cfg.Terminal.FeelessAddresses = []string{}
	}
	if strings.TrimSpace(cfg.Audit.Driver) == "" {
		cfg.Audit.Driver = DefaultAuditDriver
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" && cfg.Audit.Driver == DefaultAuditDriver {
		cfg.Audit.DSN = filepath.Join(cfg.DataDir, "audit.db")
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups <= 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays <= 0 {
		cfg.Logging.MaxAgeDays = 28
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
	if strings.TrimSpace(cfg.Auth.HMACSecretEnv) == "" {
		cfg.Auth.HMACSecretEnv = DefaultAuthSecretEnv
	}
	if strings.TrimSpace(cfg.Auth.ScopeClaim) == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if strings.TrimSpace(cfg.Auth.AdminScope) == "" {
		cfg.Auth.AdminScope = DefaultAdminScope
	}
	if cfg.Auth.ClockSkewSeconds <= 0 {
		cfg.Auth.ClockSkewSeconds = 120
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		DataDir:       DefaultDataDir,
		Terminal: TerminalConfig{
			Fee: fees.DefaultFee,
		},
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
