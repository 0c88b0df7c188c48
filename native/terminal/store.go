package terminal

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/native/fundingcycles"
	"projectledger/native/prices"
)

// LedgerDeps bundles the collaborators consulted while recording.
type LedgerDeps struct {
	Cycles     CycleSource
	Access     AccessSource
	Prices     PriceOracle
	Directory  Directory
	Controller Controller
	Registry   *Registry
}

// Ledger is the single source of truth for project balances held by
// terminals and for the distribution limit and overflow allowance already used
// in a funding cycle. Terminals only mutate accounting through it.
type Ledger struct {
	state      Storage
	cycles     CycleSource
	access     AccessSource
	prices     PriceOracle
	directory  Directory
	controller Controller
	registry   *Registry
}

// NewLedger constructs a ledger reading and writing through store.
func NewLedger(store Storage, deps LedgerDeps) *Ledger {
	return &Ledger{
		state:      store,
		cycles:     deps.Cycles,
		access:     deps.Access,
		prices:     deps.Prices,
		directory:  deps.Directory,
		controller: deps.Controller,
		registry:   deps.Registry,
	}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(store Storage) { l.state = store }

func terminalSegment(terminal common.Address) string {
	return strings.ToLower(terminal.Hex())
}

func balanceKey(terminal common.Address, projectID uint64) []byte {
	return []byte(fmt.Sprintf("terminal/balance/%s/%d", terminalSegment(terminal), projectID))
}

func usedDistributionKey(terminal common.Address, projectID, number, currency uint64) []byte {
	return []byte(fmt.Sprintf("terminal/used-distribution/%s/%d/%d/%d", terminalSegment(terminal), projectID, number, currency))
}

func usedAllowanceKey(terminal common.Address, projectID, configuration, currency uint64) []byte {
	return []byte(fmt.Sprintf("terminal/used-allowance/%s/%d/%d/%d", terminalSegment(terminal), projectID, configuration, currency))
}

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	if _, err := l.state.KVGet(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (l *Ledger) storeAmount(key []byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.KVPut(key, amount)
}

// BalanceOf returns the balance the terminal holds for the project.
func (l *Ledger) BalanceOf(terminal common.Address, projectID uint64) (*big.Int, error) {
	return l.loadAmount(balanceKey(terminal, projectID))
}

// UsedDistributionLimitOf returns the distribution limit used by the terminal
// during the funding cycle number, denominated in the limit currency.
func (l *Ledger) UsedDistributionLimitOf(terminal common.Address, projectID, number, currency uint64) (*big.Int, error) {
	return l.loadAmount(usedDistributionKey(terminal, projectID, number, currency))
}

// UsedOverflowAllowanceOf returns the overflow allowance used by the terminal
// during the configuration, denominated in the allowance currency.
func (l *Ledger) UsedOverflowAllowanceOf(terminal common.Address, projectID, configuration, currency uint64) (*big.Int, error) {
	return l.loadAmount(usedAllowanceKey(terminal, projectID, configuration, currency))
}

func (l *Ledger) addToBalance(terminal common.Address, projectID uint64, amount *big.Int) error {
	balance, err := l.BalanceOf(terminal, projectID)
	if err != nil {
		return err
	}
	updated, err := addChecked(balance, amount)
	if err != nil {
		return err
	}
	return l.storeAmount(balanceKey(terminal, projectID), updated)
}

func (l *Ledger) subtractFromBalance(terminal common.Address, projectID uint64, amount *big.Int) error {
	balance, err := l.BalanceOf(terminal, projectID)
	if err != nil {
		return err
	}
	if balance.Cmp(orZero(amount)) < 0 {
		return ErrInadequateStoreBalance
	}
	return l.storeAmount(balanceKey(terminal, projectID), balance.Sub(balance, orZero(amount)))
}

func (l *Ledger) requireTerminalOf(t TerminalInfo, projectID uint64) error {
	ok, err := l.directory.IsTerminalOf(projectID, t.Address)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s for project %d", ErrUnauthorizedTerminal, t.Address.Hex(), projectID)
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(maxUint256) > 0 {
		return ErrMathOverflow
	}
	return nil
}

// RecordAddedBalanceFor credits amount to the project's balance in the
// calling terminal.
func (l *Ledger) RecordAddedBalanceFor(t TerminalInfo, projectID uint64, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := l.requireTerminalOf(t, projectID); err != nil {
		return err
	}
	return l.addToBalance(t.Address, projectID, amount)
}

// PaymentRecord is the outcome of RecordPaymentFrom.
type PaymentRecord struct {
	FundingCycle *fundingcycles.FundingCycle
	TokenCount   *big.Int
	Allocations  []PayDelegateAllocation
	Memo         string
}

// RecordPaymentFrom records a payment and returns the number of project
// tokens it is worth at the current funding cycle weight. A configured pay
// data source may override the weight and memo and route part of the amount
// to delegates; only the remainder is credited to the balance.
func (l *Ledger) RecordPaymentFrom(ctx context.Context, t TerminalInfo, payer common.Address, amount TokenAmount, projectID uint64, baseWeightCurrency uint64, beneficiary common.Address, memo string, metadata []byte) (*PaymentRecord, error) {
	if err := checkAmount(amount.Value); err != nil {
		return nil, err
	}
	if err := l.requireTerminalOf(t, projectID); err != nil {
		return nil, err
	}
	cycle, err := l.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, err
	}
	meta := cycle.Metadata
	useDataSource := meta.UseDataSourceForPay && meta.DataSource != (common.Address{})
	if meta.PausePay && !(useDataSource && meta.DataSourceOverridesPayPause) {
		return nil, ErrPaymentPaused
	}

	record := &PaymentRecord{FundingCycle: cycle, TokenCount: new(big.Int), Memo: memo}
	weight := clone(cycle.Weight)
	if useDataSource {
		source, err := l.registry.PayDataSource(meta.DataSource)
		if err != nil {
			return nil, err
		}
		err = callOut(ctx, func() (callErr error) {
			weight, record.Memo, record.Allocations, callErr = source.PayParams(ctx, PayParamsData{
				Terminal:                         t.Address,
				Payer:                            payer,
				Amount:                           amount,
				ProjectID:                        projectID,
				CurrentFundingCycleConfiguration: cycle.Configuration,
				Beneficiary:                      beneficiary,
				Weight:                           clone(cycle.Weight),
				ReservedRate:                     meta.ReservedRate,
				Memo:                             memo,
				Metadata:                         metadata,
			})
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("pay data source: %w", err)
		}
		weight = orZero(weight)
	}

	remaining := clone(amount.Value)
	for _, allocation := range record.Allocations {
		portion := orZero(allocation.Amount)
		if portion.Sign() < 0 || portion.Cmp(remaining) > 0 {
			return nil, ErrInvalidAmountToSendDelegate
		}
		remaining.Sub(remaining, portion)
	}
	if amount.Value.Sign() == 0 {
		return record, nil
	}
	if remaining.Sign() > 0 {
		if err := l.addToBalance(t.Address, projectID, remaining); err != nil {
			return nil, err
		}
	}
	if weight.Sign() == 0 {
		return record, nil
	}

	weightRatio := pow10(amount.Decimals)
	if amount.Currency != baseWeightCurrency {
		weightRatio, err = l.prices.PriceFor(projectID, amount.Currency, baseWeightCurrency, amount.Decimals)
		if err != nil {
			return nil, err
		}
	}
	record.TokenCount, err = mulDiv(amount.Value, weight, weightRatio)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// RecordDistributionFor records a payout of amount, denominated in currency,
// against the distribution limit of the current funding cycle number. It
// returns the amount leaving the balance in the terminal's token.
func (l *Ledger) RecordDistributionFor(t TerminalInfo, projectID uint64, amount *big.Int, currency uint64) (*fundingcycles.FundingCycle, *big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, nil, err
	}
	cycle, err := l.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, nil, err
	}
	if cycle.Metadata.PauseDistributions {
		return nil, nil, ErrDistributionPaused
	}
	limit, limitCurrency, err := l.access.DistributionLimitOf(projectID, cycle.Configuration, t.Address, t.Token)
	if err != nil {
		return nil, nil, err
	}
	if limit.Sign() == 0 {
		return nil, nil, ErrDistributionAmountLimitReached
	}
	inLimitCurrency, err := convertCurrency(l.prices, projectID, amount, currency, limitCurrency)
	if err != nil {
		return nil, nil, err
	}
	used, err := l.UsedDistributionLimitOf(t.Address, projectID, cycle.Number, limitCurrency)
	if err != nil {
		return nil, nil, err
	}
	newUsed, err := addChecked(used, inLimitCurrency)
	if err != nil {
		return nil, nil, err
	}
	if newUsed.Cmp(limit) > 0 {
		return nil, nil, ErrDistributionAmountLimitReached
	}
	distributed, err := convertCurrency(l.prices, projectID, amount, currency, t.Currency)
	if err != nil {
		return nil, nil, err
	}
	if err := l.subtractFromBalance(t.Address, projectID, distributed); err != nil {
		return nil, nil, err
	}
	if err := l.storeAmount(usedDistributionKey(t.Address, projectID, cycle.Number, limitCurrency), newUsed); err != nil {
		return nil, nil, err
	}
	return cycle, distributed, nil
}

// RecordUsedAllowanceOf records a discretionary draw of amount, denominated in
// currency, against the overflow allowance of the current configuration. The
// draw may only touch funds beyond what remains earmarked for payouts.
func (l *Ledger) RecordUsedAllowanceOf(t TerminalInfo, projectID uint64, amount *big.Int, currency uint64) (*fundingcycles.FundingCycle, *big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, nil, err
	}
	cycle, err := l.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, nil, err
	}
	allowance, allowanceCurrency, err := l.access.OverflowAllowanceOf(projectID, cycle.Configuration, t.Address, t.Token)
	if err != nil {
		return nil, nil, err
	}
	if allowance.Sign() == 0 {
		return nil, nil, ErrInadequateControllerAllowance
	}
	inAllowanceCurrency, err := convertCurrency(l.prices, projectID, amount, currency, allowanceCurrency)
	if err != nil {
		return nil, nil, err
	}
	used, err := l.UsedOverflowAllowanceOf(t.Address, projectID, cycle.Configuration, allowanceCurrency)
	if err != nil {
		return nil, nil, err
	}
	newUsed, err := addChecked(used, inAllowanceCurrency)
	if err != nil {
		return nil, nil, err
	}
	if newUsed.Cmp(allowance) > 0 {
		return nil, nil, ErrInadequateControllerAllowance
	}
	usedAmount, err := convertCurrency(l.prices, projectID, amount, currency, t.Currency)
	if err != nil {
		return nil, nil, err
	}
	overflow, err := l.overflowDuring(t, projectID, cycle)
	if err != nil {
		return nil, nil, err
	}
	if usedAmount.Cmp(overflow) > 0 {
		return nil, nil, ErrInadequateStoreBalance
	}
	if err := l.subtractFromBalance(t.Address, projectID, usedAmount); err != nil {
		return nil, nil, err
	}
	if err := l.storeAmount(usedAllowanceKey(t.Address, projectID, cycle.Configuration, allowanceCurrency), newUsed); err != nil {
		return nil, nil, err
	}
	return cycle, usedAmount, nil
}

// RedemptionRecord is the outcome of RecordRedemptionFor.
type RedemptionRecord struct {
	FundingCycle  *fundingcycles.FundingCycle
	ReclaimAmount *big.Int
	Allocations   []RedemptionDelegateAllocation
	Memo          string
}

// RecordRedemptionFor records a redemption of tokenCount project tokens and
// returns the amount reclaimable along the bonding curve. The total supply is
// read before any tokens are burnt.
func (l *Ledger) RecordRedemptionFor(ctx context.Context, t TerminalInfo, holder common.Address, projectID uint64, tokenCount *big.Int, memo string, metadata []byte) (*RedemptionRecord, error) {
	if err := checkAmount(tokenCount); err != nil {
		return nil, err
	}
	cycle, err := l.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, err
	}
	meta := cycle.Metadata
	if meta.PauseRedeem {
		return nil, ErrRedeemPaused
	}

	var overflow *big.Int
	if meta.UseTotalOverflowForRedemptions {
		overflow, err = l.CurrentTotalOverflowOf(projectID, t.Decimals, t.Currency)
	} else {
		overflow, err = l.overflowDuring(t, projectID, cycle)
	}
	if err != nil {
		return nil, err
	}
	totalSupply, err := l.controller.TotalOutstandingTokensOf(projectID)
	if err != nil {
		return nil, err
	}
	if tokenCount.Cmp(totalSupply) > 0 {
		return nil, ErrInsufficientTokens
	}
	rate, err := l.redemptionRateOf(projectID, cycle)
	if err != nil {
		return nil, err
	}
	reclaim := new(big.Int)
	if overflow.Sign() > 0 {
		reclaim, err = ReclaimableOverflow(overflow, tokenCount, totalSupply, rate)
		if err != nil {
			return nil, err
		}
	}

	record := &RedemptionRecord{FundingCycle: cycle, ReclaimAmount: reclaim, Memo: memo}
	if meta.UseDataSourceForRedeem && meta.DataSource != (common.Address{}) {
		source, err := l.registry.RedeemDataSource(meta.DataSource)
		if err != nil {
			return nil, err
		}
		var overridden *big.Int
		err = callOut(ctx, func() (callErr error) {
			overridden, record.Memo, record.Allocations, callErr = source.RedeemParams(ctx, RedeemParamsData{
				Terminal:                         t.Address,
				Holder:                           holder,
				ProjectID:                        projectID,
				CurrentFundingCycleConfiguration: cycle.Configuration,
				TokenCount:                       clone(tokenCount),
				TotalSupply:                      clone(totalSupply),
				Overflow:                         clone(overflow),
				ReclaimAmount:                    TokenAmount{Token: t.Token, Value: clone(reclaim), Decimals: t.Decimals, Currency: t.Currency},
				UseTotalOverflow:                 meta.UseTotalOverflowForRedemptions,
				RedemptionRate:                   rate,
				Memo:                             memo,
				Metadata:                         metadata,
			})
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("redeem data source: %w", err)
		}
		record.ReclaimAmount = orZero(overridden)
		if record.ReclaimAmount.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
	}

	total := clone(record.ReclaimAmount)
	for _, allocation := range record.Allocations {
		portion := orZero(allocation.Amount)
		if portion.Sign() < 0 {
			return nil, ErrInvalidAmountToSendDelegate
		}
		if total, err = addChecked(total, portion); err != nil {
			return nil, err
		}
	}
	if total.Cmp(overflow) > 0 {
		return nil, ErrInadequateStoreBalance
	}
	if total.Sign() > 0 {
		if err := l.subtractFromBalance(t.Address, projectID, total); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// redemptionRateOf returns the ballot redemption rate while a reconfiguration
// awaits approval and the cycle redemption rate otherwise.
func (l *Ledger) redemptionRateOf(projectID uint64, cycle *fundingcycles.FundingCycle) (uint64, error) {
	state, err := l.cycles.BallotStateOf(projectID)
	if err != nil {
		return 0, err
	}
	if state == fundingcycles.BallotActive {
		return cycle.Metadata.BallotRedemptionRate, nil
	}
	return cycle.Metadata.RedemptionRate, nil
}

// overflowDuring returns the balance the terminal holds for the project beyond
// the distribution limit still outstanding in the cycle, in the terminal's
// currency.
func (l *Ledger) overflowDuring(t TerminalInfo, projectID uint64, cycle *fundingcycles.FundingCycle) (*big.Int, error) {
	balance, err := l.BalanceOf(t.Address, projectID)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return balance, nil
	}
	limit, limitCurrency, err := l.access.DistributionLimitOf(projectID, cycle.Configuration, t.Address, t.Token)
	if err != nil {
		return nil, err
	}
	used, err := l.UsedDistributionLimitOf(t.Address, projectID, cycle.Number, limitCurrency)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int)
	if limit.Cmp(used) > 0 {
		remaining.Sub(limit, used)
	}
	if remaining.Sign() > 0 && limitCurrency != t.Currency {
		remaining, err = convertCurrency(l.prices, projectID, remaining, limitCurrency, t.Currency)
		if err != nil {
			return nil, err
		}
	}
	if balance.Cmp(remaining) <= 0 {
		return new(big.Int), nil
	}
	return balance.Sub(balance, remaining), nil
}

// CurrentOverflowOf returns the overflow the terminal holds for the project in
// the current funding cycle.
func (l *Ledger) CurrentOverflowOf(t TerminalInfo, projectID uint64) (*big.Int, error) {
	cycle, err := l.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, err
	}
	return l.overflowDuring(t, projectID, cycle)
}

// CurrentTotalOverflowOf sums the overflow of every terminal of the project,
// expressed in currency at the requested decimals.
func (l *Ledger) CurrentTotalOverflowOf(projectID uint64, decimals uint8, currency uint64) (*big.Int, error) {
	cycle, err := l.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, err
	}
	terminals, err := l.directory.TerminalsOf(projectID)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, addr := range terminals {
		info, err := l.registry.InfoOf(addr)
		if err != nil {
			return nil, err
		}
		overflow, err := l.overflowDuring(info, projectID, cycle)
		if err != nil {
			return nil, err
		}
		if overflow.Sign() == 0 {
			continue
		}
		normalized := adjustDecimals(overflow, info.Decimals, prices.MaxFixedPointFidelity)
		converted, err := convertCurrency(l.prices, projectID, normalized, info.Currency, currency)
		if err != nil {
			return nil, err
		}
		if total, err = addChecked(total, converted); err != nil {
			return nil, err
		}
	}
	return adjustDecimals(total, prices.MaxFixedPointFidelity, decimals), nil
}

// CurrentReclaimableOverflowOf returns what redeeming tokenCount tokens would
// reclaim from the terminal right now.
func (l *Ledger) CurrentReclaimableOverflowOf(t TerminalInfo, projectID uint64, tokenCount *big.Int, useTotalOverflow bool) (*big.Int, error) {
	cycle, err := l.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, err
	}
	var overflow *big.Int
	if useTotalOverflow {
		overflow, err = l.CurrentTotalOverflowOf(projectID, t.Decimals, t.Currency)
	} else {
		overflow, err = l.overflowDuring(t, projectID, cycle)
	}
	if err != nil {
		return nil, err
	}
	if overflow.Sign() == 0 {
		return overflow, nil
	}
	totalSupply, err := l.controller.TotalOutstandingTokensOf(projectID)
	if err != nil {
		return nil, err
	}
	rate, err := l.redemptionRateOf(projectID, cycle)
	if err != nil {
		return nil, err
	}
	return ReclaimableOverflow(overflow, orZero(tokenCount), totalSupply, rate)
}
