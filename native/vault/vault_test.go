package vault

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"projectledger/core/state"
	"projectledger/storage"
)

var (
	token = common.HexToAddress("0x000000000000000000000000000000000000EEEe")
	alice = common.HexToAddress("0x01")
	bob   = common.HexToAddress("0x02")
)

func TestTransferMovesFunds(t *testing.T) {
	v := New(state.NewManager(storage.NewMemDB()))
	require.NoError(t, v.Deposit(alice, token, big.NewInt(100)))
	require.NoError(t, v.Transfer(alice, bob, token, big.NewInt(40)))

	a, err := v.BalanceOf(alice, token)
	require.NoError(t, err)
	require.Equal(t, "60", a.String())
	b, err := v.BalanceOf(bob, token)
	require.NoError(t, err)
	require.Equal(t, "40", b.String())
}

func TestTransferRejectsOverdraft(t *testing.T) {
	v := New(state.NewManager(storage.NewMemDB()))
	require.NoError(t, v.Deposit(alice, token, big.NewInt(10)))
	require.ErrorIs(t, v.Transfer(alice, bob, token, big.NewInt(11)), ErrInsufficientBalance)
	require.ErrorIs(t, v.Transfer(alice, alice, token, big.NewInt(11)), ErrInsufficientBalance)
	require.ErrorIs(t, v.Transfer(alice, bob, token, big.NewInt(-1)), ErrInvalidAmount)
	require.NoError(t, v.Transfer(alice, bob, token, big.NewInt(0)))
}
