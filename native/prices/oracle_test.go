package prices

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"projectledger/core/state"
	"projectledger/storage"
)

func newTestOracle() *Oracle {
	return NewOracle(state.NewManager(storage.NewMemDB()))
}

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), pow10(18))
}

func TestPriceForSameCurrency(t *testing.T) {
	oracle := newTestOracle()
	price, err := oracle.PriceFor(1, CurrencyETH, CurrencyETH, 18)
	require.NoError(t, err)
	require.Equal(t, 0, price.Cmp(pow10(18)))
}

func TestPriceForDirectAndInverse(t *testing.T) {
	oracle := newTestOracle()
	// one ETH costs 2000 USD
	require.NoError(t, oracle.AddFeedFor(0, CurrencyUSD, CurrencyETH, FixedFeed{Price: ether(2000), Decimals: 18}))

	direct, err := oracle.PriceFor(7, CurrencyUSD, CurrencyETH, 18)
	require.NoError(t, err)
	require.Equal(t, 0, direct.Cmp(ether(2000)))

	inverse, err := oracle.PriceFor(7, CurrencyETH, CurrencyUSD, 18)
	require.NoError(t, err)
	// 1e36 / 2000e18 = 5e14 (0.0005 ETH per USD)
	require.Equal(t, "500000000000000", inverse.String())
}

func TestFeedRescaling(t *testing.T) {
	feed := FixedFeed{Price: big.NewInt(200_000_000), Decimals: 8}
	require.Equal(t, "2000000000000000000", feed.CurrentPrice(18).String())
	require.Equal(t, "200", feed.CurrentPrice(2).String())
}

func TestAddFeedRejectsDuplicatePair(t *testing.T) {
	oracle := newTestOracle()
	require.NoError(t, oracle.AddFeedFor(0, CurrencyUSD, CurrencyETH, FixedFeed{Price: ether(2000), Decimals: 18}))
	err := oracle.AddFeedFor(0, CurrencyETH, CurrencyUSD, FixedFeed{Price: big.NewInt(1), Decimals: 18})
	require.ErrorIs(t, err, ErrPriceFeedAlreadyExists)

	// a project-specific feed can shadow the default
	require.NoError(t, oracle.AddFeedFor(3, CurrencyUSD, CurrencyETH, FixedFeed{Price: ether(1000), Decimals: 18}))
	price, err := oracle.PriceFor(3, CurrencyUSD, CurrencyETH, 18)
	require.NoError(t, err)
	require.Equal(t, 0, price.Cmp(ether(1000)))
}

func TestPriceForMissingFeed(t *testing.T) {
	_, err := newTestOracle().PriceFor(1, CurrencyUSD, CurrencyETH, 18)
	require.True(t, errors.Is(err, ErrPriceFeedNotFound))
}
