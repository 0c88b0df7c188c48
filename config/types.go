package config

import (
	"os"
	"strings"

	"projectledger/native/fees"
)

// TerminalConfig describes the payment terminal served by ledgerd.
type TerminalConfig struct {
	Address          string         `toml:"Address"`
	Token            string         `toml:"Token"`
	Decimals         uint8          `toml:"Decimals"`
	Currency         uint64         `toml:"Currency"`
	Owner            string         `toml:"Owner"`
	Fee              uint64         `toml:"Fee"`
	FeeGauge         string         `toml:"FeeGauge"`
	FeeGaugeDefault  uint64         `toml:"FeeGaugeDefault"`
	FeelessAddresses []string       `toml:"FeelessAddresses"`
	FeeDiscounts     fees.Discounts `toml:"fee_discounts"`
}

// AuditConfig selects the SQL backend of the event audit log.
type AuditConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `toml:"Endpoint"`
	Insecure bool              `toml:"Insecure"`
	Headers  map[string]string `toml:"Headers"`
	Metrics  bool              `toml:"Metrics"`
	Traces   bool              `toml:"Traces"`
}

// LoggingConfig controls where structured logs are written. An empty File
// logs to stdout.
type LoggingConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// RateLimitConfig bounds query API traffic per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// AuthConfig controls bearer token verification on mutating routes. The
// secret is read from the environment variable named by HMACSecretEnv when
// HMACSecret is empty.
type AuthConfig struct {
	HMACSecret       string `toml:"HMACSecret"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ScopeClaim       string `toml:"ScopeClaim"`
	AdminScope       string `toml:"AdminScope"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

// Secret resolves the configured HMAC secret.
func (a AuthConfig) Secret() string {
	if secret := strings.TrimSpace(a.HMACSecret); secret != "" {
		return secret
	}
	if a.HMACSecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(a.HMACSecretEnv))
}
