package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitRejectsSampleRatio(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "ledgerd", SampleRatio: 1.5})
	require.Error(t, err)
}

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "ledgerd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracesInstallsProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "ledgerd",
		Environment: "test",
		Endpoint:    "127.0.0.1:1",
		Insecure:    true,
		Traces:      true,
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing was recorded so the batcher has nothing to flush
	_ = shutdown(ctx)
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,bad, =empty,tenant=ledger")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "ledger"}, headers)
}
