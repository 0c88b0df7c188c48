package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"projectledger/native/fees"
	"projectledger/native/prices"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesSections(t *testing.T) {
	path := writeFile(t, "ledgerd.toml", `ListenAddress = "127.0.0.1:9090"
DataDir = "/var/lib/ledger"
Environment = "staging"
BootstrapFile = "seed.yaml"

[terminal]
Address = "0x1000000000000000000000000000000000000001"
Token = "0x000000000000000000000000000000000000EEEe"
Decimals = 18
Currency = 1
Owner = "0x2000000000000000000000000000000000000001"
Fee = 10000000
FeeGauge = "0x4000000000000000000000000000000000000004"
FeeGaugeDefault = 250000000
FeelessAddresses = ["0x3000000000000000000000000000000000000005"]

[terminal.fee_discounts]
"2" = 500000000

[audit]
Driver = "postgres"
DSN = "postgres://ledger@localhost/ledger"

[telemetry]
Endpoint = "otel-collector:4318"
Insecure = true
Traces = true
Headers = { authorization = "Bearer abc" }

[logging]
File = "/var/log/ledgerd.log"
MaxSizeMB = 10

[rate_limit]
RequestsPerSecond = 5.5
Burst = 11
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.ListenAddress)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "seed.yaml", cfg.BootstrapFile)
	require.Equal(t, uint64(10_000_000), cfg.Terminal.Fee)
	require.Equal(t, uint64(250_000_000), cfg.Terminal.FeeGaugeDefault)
	require.Equal(t, fees.Discounts{2: 500_000_000}, cfg.Terminal.FeeDiscounts)
	require.Equal(t, []string{"0x3000000000000000000000000000000000000005"}, cfg.Terminal.FeelessAddresses)
	require.Equal(t, "postgres", cfg.Audit.Driver)
	require.Equal(t, "Bearer abc", cfg.Telemetry.Headers["authorization"])
	require.True(t, cfg.Telemetry.Traces)
	require.False(t, cfg.Telemetry.Metrics)
	require.Equal(t, 10, cfg.Logging.MaxSizeMB)
	require.Equal(t, 5, cfg.Logging.MaxBackups)
	require.Equal(t, 5.5, cfg.RateLimit.RequestsPerSecond)
	require.Equal(t, 11, cfg.RateLimit.Burst)
	require.Equal(t, "0x2000000000000000000000000000000000000001", Address(cfg.Terminal.Owner).Hex())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "ledgerd.toml", `DataDir = "data"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, fees.DefaultFee, cfg.Terminal.Fee)
	require.Equal(t, uint8(18), cfg.Terminal.Decimals)
	require.Equal(t, prices.CurrencyETH, cfg.Terminal.Currency)
	require.Equal(t, DefaultTerminalAddress, cfg.Terminal.Address)
	require.Equal(t, "sqlite", cfg.Audit.Driver)
	require.Equal(t, filepath.Join("data", "audit.db"), cfg.Audit.DSN)
	require.Equal(t, 20.0, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadKeepsExplicitZeroFee(t *testing.T) {
	path := writeFile(t, "ledgerd.toml", "[terminal]\nFee = 0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Zero(t, cfg.Terminal.Fee)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"fee above cap":   "[terminal]\nFee = 50000001\n",
		"bad owner":       "[terminal]\nOwner = \"nope\"\n",
		"bad feeless":     "[terminal]\nFeelessAddresses = [\"0x12\"]\n",
		"bad listen":      "ListenAddress = \"8080\"\n",
		"unknown driver":  "[audit]\nDriver = \"mysql\"\nDSN = \"x\"\n",
		"postgres no dsn": "[audit]\nDriver = \"postgres\"\n",
		"unknown key":     "Bogus = 1\n",
		"gauge default":   "[terminal]\nFeeGaugeDefault = 1000000001\n",
		"discount range":  "[terminal.fee_discounts]\n\"3\" = 1000000001\n",
		"short secret":    "[auth]\nHMACSecret = \"too-short\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "ledgerd.toml", contents))
			require.Error(t, err)
		})
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledgerd.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, fees.DefaultFee, cfg.Terminal.Fee)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, reloaded.ListenAddress)
	require.Equal(t, cfg.Terminal.Fee, reloaded.Terminal.Fee)
	require.Equal(t, cfg.Audit.DSN, reloaded.Audit.DSN)
}

func TestLoadAuthSection(t *testing.T) {
	cfg, err := Load(writeFile(t, "ledgerd.toml", "[auth]\nIssuer = \"ledger-issuer\"\n"))
	require.NoError(t, err)
	require.Equal(t, DefaultAuthSecretEnv, cfg.Auth.HMACSecretEnv)
	require.Equal(t, DefaultAdminScope, cfg.Auth.AdminScope)
	require.Equal(t, "scope", cfg.Auth.ScopeClaim)
	require.Equal(t, 120, cfg.Auth.ClockSkewSeconds)
	require.Equal(t, "ledger-issuer", cfg.Auth.Issuer)

	t.Setenv("LEDGERD_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	cfg, err = Load(writeFile(t, "ledgerd.toml", "[auth]\nHMACSecretEnv = \"LEDGERD_TEST_SECRET\"\n"))
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Auth.Secret())

	explicit := AuthConfig{HMACSecret: " inline ", HMACSecretEnv: "LEDGERD_TEST_SECRET"}
	require.Equal(t, "inline", explicit.Secret())
}
