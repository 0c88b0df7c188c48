package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("ledgerd", "test", Options{Output: &buf})
	defer closer.Close()
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	logger.Info("audit opened", slog.String("dsn", "postgres://user:pw@db/ledger"), slog.String("driver", "postgres"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "audit opened", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "ledgerd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["dsn"])
	require.Equal(t, "postgres", line["driver"])
	require.Contains(t, line, "timestamp")
}

func TestSetupBridgesStandardLogger(t *testing.T) {
	var buf bytes.Buffer
	_, closer := Setup("ledgerd", "", Options{Output: &buf})
	defer closer.Close()
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	log.Print("legacy line")
	require.Contains(t, buf.String(), `"message":"legacy line"`)
	require.NotContains(t, buf.String(), `"env"`)
}

func TestSetupRotatesIntoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerd.log")
	logger, closer := Setup("ledgerd", "test", Options{File: path, MaxSizeMB: 1})
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	logger.Warn("disk logging")
	require.NoError(t, closer.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"severity":"WARN"`)
}

func TestMaskValue(t *testing.T) {
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, RedactedValue, MaskValue("secret"))
	require.True(t, IsSensitive(" Authorization "))
	require.False(t, IsSensitive("projectId"))
}
