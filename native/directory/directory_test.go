package directory

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"projectledger/core/state"
	"projectledger/storage"
)

type tokenMap map[common.Address]common.Address

func (m tokenMap) AcceptsToken(terminal, token common.Address) bool {
	return m[terminal] == token
}

var (
	owner     = common.HexToAddress("0xa1")
	stranger  = common.HexToAddress("0xa2")
	ethToken  = common.HexToAddress("0x000000000000000000000000000000000000EEEe")
	usdToken  = common.HexToAddress("0xd0")
	terminalA = common.HexToAddress("0x7a")
	terminalB = common.HexToAddress("0x7b")
)

func newTestDirectory() *Directory {
	dir := New(state.NewManager(storage.NewMemDB()))
	dir.SetTokenView(tokenMap{terminalA: usdToken, terminalB: ethToken})
	return dir
}

func TestCreateForAssignsSequentialIDs(t *testing.T) {
	dir := newTestDirectory()
	first, err := dir.CreateFor(owner)
	require.NoError(t, err)
	second, err := dir.CreateFor(stranger)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)

	got, err := dir.OwnerOf(2)
	require.NoError(t, err)
	require.Equal(t, stranger, got)

	_, err = dir.OwnerOf(3)
	require.ErrorIs(t, err, ErrProjectNotFound)

	_, err = dir.CreateFor(common.Address{})
	require.ErrorIs(t, err, ErrZeroOwner)
}

func TestTransferOwnership(t *testing.T) {
	dir := newTestDirectory()
	id, err := dir.CreateFor(owner)
	require.NoError(t, err)
	require.ErrorIs(t, dir.TransferOwnership(stranger, id, stranger), ErrUnauthorized)
	require.NoError(t, dir.TransferOwnership(owner, id, stranger))
	got, err := dir.OwnerOf(id)
	require.NoError(t, err)
	require.Equal(t, stranger, got)
}

func TestPrimaryTerminalFallsBackToAcceptingTerminal(t *testing.T) {
	dir := newTestDirectory()
	id, err := dir.CreateFor(owner)
	require.NoError(t, err)
	require.NoError(t, dir.SetTerminalsOf(id, []common.Address{terminalA, terminalB}))

	primary, err := dir.PrimaryTerminalOf(id, ethToken)
	require.NoError(t, err)
	require.Equal(t, terminalB, primary)

	none, err := dir.PrimaryTerminalOf(id, common.HexToAddress("0xff"))
	require.NoError(t, err)
	require.Equal(t, common.Address{}, none)

	require.ErrorIs(t, dir.SetPrimaryTerminalOf(id, ethToken, terminalA), ErrTokenNotAccepted)
	require.ErrorIs(t, dir.SetTerminalsOf(id, []common.Address{terminalA, terminalA}), ErrDuplicateTerminal)
}

func TestSetPrimaryTerminalRegistersTerminal(t *testing.T) {
	dir := newTestDirectory()
	id, err := dir.CreateFor(owner)
	require.NoError(t, err)
	require.NoError(t, dir.SetPrimaryTerminalOf(id, ethToken, terminalB))

	ok, err := dir.IsTerminalOf(id, terminalB)
	require.NoError(t, err)
	require.True(t, ok)

	primary, err := dir.PrimaryTerminalOf(id, ethToken)
	require.NoError(t, err)
	require.Equal(t, terminalB, primary)

	require.NoError(t, dir.SetControllerOf(id, stranger))
	controller, err := dir.ControllerOf(id)
	require.NoError(t, err)
	require.Equal(t, stranger, controller)
}
