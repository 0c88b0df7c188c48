package tokens

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"projectledger/core/state"
	"projectledger/native/directory"
	"projectledger/native/fundingcycles"
	"projectledger/storage"
)

var (
	owner    = common.HexToAddress("0xa1")
	holder   = common.HexToAddress("0xa2")
	terminal = common.HexToAddress("0x7e")
)

type fixture struct {
	controller *Controller
	cycles     *fundingcycles.Store
	projectID  uint64
}

func newFixture(t *testing.T, metadata fundingcycles.Metadata) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	cycles := fundingcycles.NewStore(mgr)
	cycles.SetClock(func() time.Time { return time.Unix(1_000, 0) })
	dir := directory.New(mgr)
	projectID, err := dir.CreateFor(owner)
	require.NoError(t, err)
	require.NoError(t, dir.SetTerminalsOf(projectID, []common.Address{terminal}))
	_, err = cycles.Configure(projectID, fundingcycles.Data{Weight: big.NewInt(1)}, metadata, 0)
	require.NoError(t, err)
	return &fixture{controller: NewController(mgr, cycles, dir), cycles: cycles, projectID: projectID}
}

func TestMintAppliesReservedRate(t *testing.T) {
	f := newFixture(t, fundingcycles.Metadata{ReservedRate: 2_500})
	minted, err := f.controller.MintTokensOf(terminal, f.projectID, big.NewInt(1_000), holder, "", false, true)
	require.NoError(t, err)
	require.Equal(t, "750", minted.String())

	balance, err := f.controller.BalanceOf(holder, f.projectID)
	require.NoError(t, err)
	require.Equal(t, "750", balance.String())

	outstanding, err := f.controller.TotalOutstandingTokensOf(f.projectID)
	require.NoError(t, err)
	require.Equal(t, "1000", outstanding.String())

	distributed, err := f.controller.DistributeReservedTokensOf(f.projectID, "")
	require.NoError(t, err)
	require.Equal(t, "250", distributed.String())
	ownerBalance, err := f.controller.BalanceOf(owner, f.projectID)
	require.NoError(t, err)
	require.Equal(t, "250", ownerBalance.String())

	supply, err := f.controller.TotalSupplyOf(f.projectID)
	require.NoError(t, err)
	require.Equal(t, "1000", supply.String())
}

func TestOwnerMintRequiresAllowMinting(t *testing.T) {
	f := newFixture(t, fundingcycles.Metadata{})
	_, err := f.controller.MintTokensOf(owner, f.projectID, big.NewInt(1), holder, "", false, false)
	require.ErrorIs(t, err, ErrMintNotAllowed)
	_, err = f.controller.MintTokensOf(holder, f.projectID, big.NewInt(1), holder, "", false, false)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestBurnOrderAndPause(t *testing.T) {
	f := newFixture(t, fundingcycles.Metadata{PauseBurn: true})
	_, err := f.controller.MintTokensOf(terminal, f.projectID, big.NewInt(100), holder, "", false, false)
	require.NoError(t, err)
	require.NoError(t, f.controller.ClaimTokensOf(holder, f.projectID, big.NewInt(40)))

	require.ErrorIs(t, f.controller.BurnTokensOf(holder, holder, f.projectID, big.NewInt(1), "", false), ErrBurnPaused)
	require.ErrorIs(t, f.controller.BurnTokensOf(terminal, holder, f.projectID, big.NewInt(101), "", false), ErrInsufficientFunds)

	require.NoError(t, f.controller.BurnTokensOf(terminal, holder, f.projectID, big.NewInt(70), "", false))
	claimed, err := f.controller.ClaimedBalanceOf(holder, f.projectID)
	require.NoError(t, err)
	require.Equal(t, "30", claimed.String())

	supply, err := f.controller.TotalSupplyOf(f.projectID)
	require.NoError(t, err)
	require.Equal(t, "30", supply.String())
}
