package fundaccess

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"projectledger/core/state"
	"projectledger/storage"
)

var (
	terminalAddr = common.HexToAddress("0x7e")
	tokenAddr    = common.HexToAddress("0x000000000000000000000000000000000000EEEe")
)

func TestUnsetConstraintIsZero(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	limit, currency, err := store.DistributionLimitOf(1, 100, terminalAddr, tokenAddr)
	require.NoError(t, err)
	require.Equal(t, 0, limit.Sign())
	require.Zero(t, currency)

	allowance, currency, err := store.OverflowAllowanceOf(1, 100, terminalAddr, tokenAddr)
	require.NoError(t, err)
	require.Equal(t, 0, allowance.Sign())
	require.Zero(t, currency)
}

func TestSetForRoundTrip(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	require.NoError(t, store.SetFor(1, 100, terminalAddr, tokenAddr, Constraint{
		DistributionLimit:         big.NewInt(100),
		DistributionLimitCurrency: 2,
		OverflowAllowance:         big.NewInt(7),
		OverflowAllowanceCurrency: 1,
	}))

	limit, currency, err := store.DistributionLimitOf(1, 100, terminalAddr, tokenAddr)
	require.NoError(t, err)
	require.Equal(t, "100", limit.String())
	require.Equal(t, uint64(2), currency)

	allowance, currency, err := store.OverflowAllowanceOf(1, 100, terminalAddr, tokenAddr)
	require.NoError(t, err)
	require.Equal(t, "7", allowance.String())
	require.Equal(t, uint64(1), currency)

	// other configurations stay unset
	limit, _, err = store.DistributionLimitOf(1, 101, terminalAddr, tokenAddr)
	require.NoError(t, err)
	require.Equal(t, 0, limit.Sign())
}

func TestSetForRejectsOutOfRangeValues(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	tooBig := new(big.Int).Add(MaxAccumulator, big.NewInt(1))

	require.ErrorIs(t, store.SetFor(1, 1, terminalAddr, tokenAddr, Constraint{DistributionLimit: tooBig}), ErrInvalidDistributionLimit)
	require.ErrorIs(t, store.SetFor(1, 1, terminalAddr, tokenAddr, Constraint{OverflowAllowance: tooBig}), ErrInvalidOverflowAllowance)
	require.ErrorIs(t, store.SetFor(1, 1, terminalAddr, tokenAddr, Constraint{DistributionLimitCurrency: MaxCurrencyID + 1}), ErrInvalidDistributionLimitCurrency)
	require.ErrorIs(t, store.SetFor(1, 1, terminalAddr, tokenAddr, Constraint{OverflowAllowanceCurrency: MaxCurrencyID + 1}), ErrInvalidOverflowAllowanceCurrency)
	require.NoError(t, store.SetFor(1, 1, terminalAddr, tokenAddr, Constraint{DistributionLimit: MaxAccumulator}))
}
