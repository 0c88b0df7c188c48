package operators

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"projectledger/core/state"
	"projectledger/storage"
)

func TestOperatorPermissions(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	account := common.HexToAddress("0x01")
	operator := common.HexToAddress("0x02")

	ok, err := store.HasPermission(operator, account, 7, PermissionRedeem)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetOperator(account, operator, 7, []uint8{PermissionRedeem}))
	ok, err = store.HasPermission(operator, account, 7, PermissionRedeem)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.HasPermission(operator, account, 8, PermissionRedeem)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.HasPermission(operator, account, 7, PermissionUseAllowance)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWildcardDomain(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	account := common.HexToAddress("0x01")
	operator := common.HexToAddress("0x02")
	require.NoError(t, store.SetOperator(account, operator, WildcardDomain, []uint8{PermissionUseAllowance, 255}))

	ok, err := store.HasPermission(operator, account, 42, PermissionUseAllowance)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.HasPermission(operator, account, 42, 255)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.RequirePermission(account, account, 42, PermissionProcessFees)
	require.NoError(t, err)
	require.True(t, ok)
}
