package terminal

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"projectledger/core/events"
	"projectledger/core/state"
	"projectledger/native/directory"
	"projectledger/native/fees"
	"projectledger/native/fundaccess"
	"projectledger/native/fundingcycles"
	"projectledger/native/operators"
	"projectledger/native/prices"
	"projectledger/native/splits"
	"projectledger/native/tokens"
	"projectledger/native/vault"
	"projectledger/storage"
)

var (
	ethTerminal    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	feeTerminal    = common.HexToAddress("0x1000000000000000000000000000000000000002")
	terminalOwner  = common.HexToAddress("0x2000000000000000000000000000000000000001")
	protocolOwner  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	projectOwner   = common.HexToAddress("0x3000000000000000000000000000000000000001")
	payer          = common.HexToAddress("0x3000000000000000000000000000000000000002")
	holder         = common.HexToAddress("0x3000000000000000000000000000000000000003")
	stranger       = common.HexToAddress("0x3000000000000000000000000000000000000004")
	splitRecipient = common.HexToAddress("0x3000000000000000000000000000000000000005")
	dataSourceAddr = common.HexToAddress("0x4000000000000000000000000000000000000001")
	delegateAddr   = common.HexToAddress("0x4000000000000000000000000000000000000002")
	allocatorAddr  = common.HexToAddress("0x4000000000000000000000000000000000000003")
	gaugeAddr      = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(18))
}

// milliEther returns n thousandths of an ether.
func milliEther(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(15))
}

type testClock struct{ now int64 }

func (c *testClock) Now() time.Time { return time.Unix(c.now, 0) }

type harness struct {
	clock    *testClock
	state    *state.Manager
	cycles   *fundingcycles.Store
	access   *fundaccess.Store
	oracle   *prices.Oracle
	dir      *directory.Directory
	ops      *operators.Store
	splits   *splits.Store
	tokens   *tokens.Controller
	vault    *vault.Vault
	registry *Registry
	ledger   *Ledger
	exec     *Executor
	sink     *events.Buffer
	terminal *Terminal
}

// newHarness wires a terminal over in-memory state. Project 1, the fee
// project, exists with a funding cycle but no terminal so fees are waived
// until enableFees is called.
func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: 1_000}
	manager := state.NewManager(storage.NewMemDB())
	h := &harness{clock: clock, state: manager, sink: &events.Buffer{}}
	h.cycles = fundingcycles.NewStore(manager)
	h.cycles.SetClock(clock.Now)
	h.access = fundaccess.NewStore(manager)
	h.oracle = prices.NewOracle(manager)
	h.dir = directory.New(manager)
	h.ops = operators.NewStore(manager)
	h.splits = splits.NewStore(manager)
	h.splits.SetClock(clock.Now)
	h.tokens = tokens.NewController(manager, h.cycles, h.dir)
	h.vault = vault.New(manager)
	h.registry = NewRegistry()
	h.dir.SetTokenView(h.registry)
	h.ledger = NewLedger(manager, LedgerDeps{
		Cycles:     h.cycles,
		Access:     h.access,
		Prices:     h.oracle,
		Directory:  h.dir,
		Controller: h.tokens,
		Registry:   h.registry,
	})
	h.exec = NewExecutor(manager, h.sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.terminal = h.newTerminal(t, TerminalInfo{Address: ethTerminal, Token: TokenETH, Decimals: 18, Currency: prices.CurrencyETH})

	id, err := h.dir.CreateFor(protocolOwner)
	require.NoError(t, err)
	require.Equal(t, FeeBeneficiaryProjectID, id)
	_, err = h.cycles.Configure(id, fundingcycles.Data{Weight: ether(1)}, fundingcycles.Metadata{}, 0)
	require.NoError(t, err)
	require.NoError(t, manager.Commit())
	return h
}

func (h *harness) newTerminal(t *testing.T, info TerminalInfo) *Terminal {
	t.Helper()
	term, err := New(info, terminalOwner, Deps{
		Executor:    h.exec,
		Ledger:      h.ledger,
		Cycles:      h.cycles,
		Directory:   h.dir,
		Controller:  h.tokens,
		Splits:      h.splits,
		Vault:       h.vault,
		Permissions: h.ops,
		Registry:    h.registry,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return term
}

// enableFees routes fees of the token to the fee project through term.
func (h *harness) enableFees(t *testing.T, term *Terminal) {
	t.Helper()
	require.NoError(t, h.dir.SetPrimaryTerminalOf(FeeBeneficiaryProjectID, TokenETH, term.Info().Address))
	require.NoError(t, h.state.Commit())
}

type projectSetup struct {
	data       fundingcycles.Data
	metadata   fundingcycles.Metadata
	constraint fundaccess.Constraint
}

// createProject registers a project served by the harness terminal and
// configures its first funding cycle.
func (h *harness) createProject(t *testing.T, setup projectSetup) uint64 {
	t.Helper()
	id, err := h.dir.CreateFor(projectOwner)
	require.NoError(t, err)
	require.NoError(t, h.dir.SetTerminalsOf(id, []common.Address{ethTerminal}))
	cycle, err := h.cycles.Configure(id, setup.data, setup.metadata, 0)
	require.NoError(t, err)
	require.NoError(t, h.access.SetFor(id, cycle.Configuration, ethTerminal, TokenETH, setup.constraint))
	require.NoError(t, h.state.Commit())
	return id
}

func (h *harness) fund(t *testing.T, account common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, h.vault.Deposit(account, TokenETH, amount))
	require.NoError(t, h.state.Commit())
}

func (h *harness) pay(t *testing.T, projectID uint64, from common.Address, amount *big.Int) *big.Int {
	t.Helper()
	h.fund(t, from, amount)
	minted, err := h.terminal.Pay(context.Background(), PayParams{
		Payer:     from,
		ProjectID: projectID,
		Amount:    amount,
		Token:     TokenETH,
	})
	require.NoError(t, err)
	return minted
}

func (h *harness) balanceOf(t *testing.T, term common.Address, projectID uint64) *big.Int {
	t.Helper()
	balance, err := h.ledger.BalanceOf(term, projectID)
	require.NoError(t, err)
	return balance
}

func (h *harness) vaultOf(t *testing.T, account common.Address) *big.Int {
	t.Helper()
	balance, err := h.vault.BalanceOf(account, TokenETH)
	require.NoError(t, err)
	return balance
}

func (h *harness) tokenBalance(t *testing.T, account common.Address, projectID uint64) *big.Int {
	t.Helper()
	balance, err := h.tokens.BalanceOf(account, projectID)
	require.NoError(t, err)
	return balance
}

// requireConserved checks that the vault account of term holds exactly the
// ledger balances of the projects plus the fees it is holding for them.
func (h *harness) requireConserved(t *testing.T, term *Terminal, projectIDs ...uint64) {
	t.Helper()
	expected := new(big.Int)
	for _, id := range projectIDs {
		expected.Add(expected, h.balanceOf(t, term.Info().Address, id))
		held, err := term.HeldFeesOf(context.Background(), id)
		require.NoError(t, err)
		for _, fee := range held {
			expected.Add(expected, fees.FeeAmount(fee.Amount, fee.Fee, fee.FeeDiscount))
		}
	}
	require.Equal(t, expected.String(), h.vaultOf(t, term.Info().Address).String())
}

func eventTypes(evts []events.Event) []string {
	out := make([]string, 0, len(evts))
	for _, evt := range evts {
		out = append(out, evt.EventType())
	}
	return out
}

type payDataSource struct {
	weight      *big.Int
	memo        string
	allocations []PayDelegateAllocation
	seen        []PayParamsData
}

func (s *payDataSource) PayParams(_ context.Context, data PayParamsData) (*big.Int, string, []PayDelegateAllocation, error) {
	s.seen = append(s.seen, data)
	return s.weight, s.memo, s.allocations, nil
}

type redeemDataSource struct {
	reclaim     *big.Int
	memo        string
	allocations []RedemptionDelegateAllocation
}

func (s *redeemDataSource) RedeemParams(_ context.Context, data RedeemParamsData) (*big.Int, string, []RedemptionDelegateAllocation, error) {
	reclaim := s.reclaim
	if reclaim == nil {
		reclaim = data.ReclaimAmount.Value
	}
	return reclaim, s.memo, s.allocations, nil
}

type recordingDelegate struct {
	paid     []DidPayData
	redeemed []DidRedeemData
	fail     error
}

func (d *recordingDelegate) DidPay(_ context.Context, data DidPayData) error {
	if d.fail != nil {
		return d.fail
	}
	d.paid = append(d.paid, data)
	return nil
}

func (d *recordingDelegate) DidRedeem(_ context.Context, data DidRedeemData) error {
	if d.fail != nil {
		return d.fail
	}
	d.redeemed = append(d.redeemed, data)
	return nil
}

type recordingAllocator struct {
	allocations []SplitAllocationData
}

func (a *recordingAllocator) Allocate(_ context.Context, data SplitAllocationData) error {
	a.allocations = append(a.allocations, data)
	return nil
}

type fixedGauge struct {
	discount uint64
	err      error
}

func (g fixedGauge) CurrentDiscountFor(uint64, fees.FeeType) (uint64, error) {
	return g.discount, g.err
}
