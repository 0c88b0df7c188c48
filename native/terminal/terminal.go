package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/core/events"
	"projectledger/native/fees"
	"projectledger/observability"
)

// Deps bundles the collaborators of a terminal. Every terminal of a
// deployment shares the executor, the ledger and the registry.
type Deps struct {
	Executor    *Executor
	Ledger      *Ledger
	Cycles      CycleSource
	Directory   Directory
	Controller  Controller
	Splits      SplitSource
	Vault       Vault
	Permissions Permissions
	Registry    *Registry
	Logger      *slog.Logger
}

// Terminal accepts a single token on behalf of projects. It moves funds
// through the vault, records accounting through the ledger, mints and burns
// through the controller and dispatches delegates.
type Terminal struct {
	info        TerminalInfo
	owner       common.Address
	exec        *Executor
	ledger      *Ledger
	cycles      CycleSource
	directory   Directory
	controller  Controller
	splits      SplitSource
	vault       Vault
	permissions Permissions
	registry    *Registry
	logger      *slog.Logger
}

type feeConfig struct {
	Fee   uint64
	Gauge common.Address
}

// New constructs a terminal and registers it with the registry.
func New(info TerminalInfo, owner common.Address, deps Deps) (*Terminal, error) {
	if deps.Executor == nil || deps.Ledger == nil {
		return nil, errNilState
	}
	if info.Address == (common.Address{}) {
		return nil, fmt.Errorf("terminal: address required")
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Terminal{
		info:        info,
		owner:       owner,
		exec:        deps.Executor,
		ledger:      deps.Ledger,
		cycles:      deps.Cycles,
		directory:   deps.Directory,
		controller:  deps.Controller,
		splits:      deps.Splits,
		vault:       deps.Vault,
		permissions: deps.Permissions,
		registry:    deps.Registry,
		logger:      logger.With(slog.String("terminal", info.Address.Hex())),
	}
	deps.Registry.registerTerminal(t)
	return t, nil
}

// Info returns the terminal descriptor.
func (t *Terminal) Info() TerminalInfo { return t.info }

// Owner returns the terminal owner allowed to change fee settings.
func (t *Terminal) Owner() common.Address { return t.owner }

// Ledger exposes the ledger the terminal records through.
func (t *Terminal) Ledger() *Ledger { return t.ledger }

func (t *Terminal) feeConfigKey() []byte {
	return []byte(fmt.Sprintf("terminal/fee-config/%s", terminalSegment(t.info.Address)))
}

func (t *Terminal) feelessKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("terminal/feeless/%s/%s", terminalSegment(t.info.Address), strings.ToLower(addr.Hex())))
}

func (t *Terminal) loadFeeConfig() (feeConfig, error) {
	cfg := feeConfig{Fee: fees.DefaultFee}
	if _, err := t.exec.State().KVGet(t.feeConfigKey(), &cfg); err != nil {
		return feeConfig{}, err
	}
	return cfg, nil
}

// Fee returns the fee rate out of fees.MaxFee.
func (t *Terminal) Fee(ctx context.Context) (uint64, error) {
	var fee uint64
	err := t.exec.View(ctx, func() error {
		cfg, err := t.loadFeeConfig()
		fee = cfg.Fee
		return err
	})
	return fee, err
}

// FeeGauge returns the address of the configured fee gauge.
func (t *Terminal) FeeGauge(ctx context.Context) (common.Address, error) {
	var gauge common.Address
	err := t.exec.View(ctx, func() error {
		cfg, err := t.loadFeeConfig()
		gauge = cfg.Gauge
		return err
	})
	return gauge, err
}

func (t *Terminal) isFeeless(addr common.Address) (bool, error) {
	var flag bool
	if _, err := t.exec.State().KVGet(t.feelessKey(addr), &flag); err != nil {
		return false, err
	}
	return flag, nil
}

// IsFeelessAddress reports whether payouts to addr are exempt from fees.
func (t *Terminal) IsFeelessAddress(ctx context.Context, addr common.Address) (bool, error) {
	var flag bool
	err := t.exec.View(ctx, func() error {
		var err error
		flag, err = t.isFeeless(addr)
		return err
	})
	return flag, err
}

func (t *Terminal) requireOwner(caller common.Address) error {
	if caller != t.owner {
		return ErrUnauthorized
	}
	return nil
}

// SetFee changes the fee rate. Only the terminal owner may call it.
func (t *Terminal) SetFee(ctx context.Context, caller common.Address, fee uint64) error {
	return t.exec.Execute(ctx, "set_fee", func(ctx context.Context) error {
		if err := t.requireOwner(caller); err != nil {
			return err
		}
		if err := fees.ValidateFee(fee); err != nil {
			return err
		}
		cfg, err := t.loadFeeConfig()
		if err != nil {
			return err
		}
		cfg.Fee = fee
		if err := t.exec.State().KVPut(t.feeConfigKey(), cfg); err != nil {
			return err
		}
		emitterFrom(ctx).Emit(events.SetFee{Fee: fee, Caller: caller})
		return nil
	})
}

// SetFeeGauge points the terminal at a fee gauge registered in the registry.
// The zero address removes the gauge.
func (t *Terminal) SetFeeGauge(ctx context.Context, caller, gauge common.Address) error {
	return t.exec.Execute(ctx, "set_fee_gauge", func(ctx context.Context) error {
		if err := t.requireOwner(caller); err != nil {
			return err
		}
		cfg, err := t.loadFeeConfig()
		if err != nil {
			return err
		}
		cfg.Gauge = gauge
		if err := t.exec.State().KVPut(t.feeConfigKey(), cfg); err != nil {
			return err
		}
		emitterFrom(ctx).Emit(events.SetFeeGauge{FeeGauge: gauge.Hex(), Caller: caller})
		return nil
	})
}

// SetFeelessAddress exempts or re-subjects payouts to addr from fees.
func (t *Terminal) SetFeelessAddress(ctx context.Context, caller, addr common.Address, flag bool) error {
	return t.exec.Execute(ctx, "set_feeless_address", func(ctx context.Context) error {
		if err := t.requireOwner(caller); err != nil {
			return err
		}
		if err := t.exec.State().KVPut(t.feelessKey(addr), flag); err != nil {
			return err
		}
		emitterFrom(ctx).Emit(events.SetFeelessAddress{Address: addr, Flag: flag, Caller: caller})
		return nil
	})
}

func (t *Terminal) tokenAmount(value *big.Int) TokenAmount {
	return TokenAmount{Token: t.info.Token, Value: clone(value), Decimals: t.info.Decimals, Currency: t.info.Currency}
}

func (t *Terminal) checkToken(token common.Address) error {
	if token != t.info.Token {
		return fmt.Errorf("%w: %s", ErrTokenNotAccepted, token.Hex())
	}
	return nil
}

// Pay contributes Amount of the terminal's token from the payer to the
// project and mints project tokens to the beneficiary. It returns the number
// of tokens the beneficiary received.
func (t *Terminal) Pay(ctx context.Context, params PayParams) (*big.Int, error) {
	var minted *big.Int
	err := t.exec.Execute(ctx, "pay", func(ctx context.Context) error {
		if err := t.checkToken(params.Token); err != nil {
			return err
		}
		if err := checkAmount(params.Amount); err != nil {
			return err
		}
		beneficiary := params.Beneficiary
		if beneficiary == (common.Address{}) {
			beneficiary = params.Payer
		}
		if err := t.vault.Transfer(params.Payer, t.info.Address, t.info.Token, params.Amount); err != nil {
			return err
		}
		var err error
		minted, err = t.pay(ctx, payRequest{
			amount:            params.Amount,
			payer:             params.Payer,
			projectID:         params.ProjectID,
			beneficiary:       beneficiary,
			minReturnedTokens: params.MinReturnedTokens,
			preferClaimed:     params.PreferClaimedTokens,
			memo:              params.Memo,
			metadata:          params.Metadata,
			caller:            params.Payer,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.Terminal().RecordVolume("pay", t.info.Token.Hex(), params.Amount)
	return minted, nil
}

type payRequest struct {
	amount            *big.Int
	payer             common.Address
	projectID         uint64
	beneficiary       common.Address
	minReturnedTokens *big.Int
	preferClaimed     bool
	memo              string
	metadata          []byte
	caller            common.Address
}

// pay records a payment whose funds already sit in the terminal's vault
// account.
func (t *Terminal) pay(ctx context.Context, req payRequest) (*big.Int, error) {
	baseWeightCurrency := t.info.Currency
	cycle, err := t.cycles.CurrentOf(req.projectID)
	if err != nil {
		return nil, err
	}
	if cycle.Metadata.BaseCurrency != 0 {
		baseWeightCurrency = cycle.Metadata.BaseCurrency
	}
	record, err := t.ledger.RecordPaymentFrom(ctx, t.info, req.payer, t.tokenAmount(req.amount), req.projectID, baseWeightCurrency, req.beneficiary, req.memo, req.metadata)
	if err != nil {
		return nil, err
	}
	beneficiaryTokenCount := new(big.Int)
	if record.TokenCount.Sign() > 0 {
		beneficiaryTokenCount, err = t.controller.MintTokensOf(t.info.Address, req.projectID, record.TokenCount, req.beneficiary, "", req.preferClaimed, true)
		if err != nil {
			return nil, err
		}
	}
	if beneficiaryTokenCount.Cmp(orZero(req.minReturnedTokens)) < 0 {
		return nil, ErrInadequateTokenCount
	}

	emitter := emitterFrom(ctx)
	for _, allocation := range record.Allocations {
		amount := orZero(allocation.Amount)
		delegate, err := t.registry.PayDelegate(allocation.Delegate)
		if err != nil {
			return nil, err
		}
		if amount.Sign() > 0 {
			if err := t.vault.Transfer(t.info.Address, allocation.Delegate, t.info.Token, amount); err != nil {
				return nil, err
			}
		}
		data := DidPayData{
			Payer:                     req.payer,
			ProjectID:                 req.projectID,
			FundingCycleConfiguration: record.FundingCycle.Configuration,
			Amount:                    t.tokenAmount(req.amount),
			ForwardedAmount:           t.tokenAmount(amount),
			ProjectTokenCount:         clone(beneficiaryTokenCount),
			Beneficiary:               req.beneficiary,
			PreferClaimedTokens:       req.preferClaimed,
			Memo:                      record.Memo,
			DataSourceMetadata:        allocation.Metadata,
			PayerMetadata:             req.metadata,
		}
		if err := callOut(ctx, func() error { return delegate.DidPay(ctx, data) }); err != nil {
			return nil, fmt.Errorf("delegate %s did pay: %w", allocation.Delegate.Hex(), err)
		}
		emitter.Emit(events.DelegateDidPay{
			Delegate:                  allocation.Delegate,
			Payer:                     req.payer,
			ProjectID:                 req.projectID,
			FundingCycleConfiguration: record.FundingCycle.Configuration,
			Amount:                    clone(req.amount),
			ForwardedAmount:           clone(amount),
			ProjectTokenCount:         clone(beneficiaryTokenCount),
			Beneficiary:               req.beneficiary,
			Memo:                      record.Memo,
			DataSourceMetadata:        allocation.Metadata,
			PayerMetadata:             req.metadata,
			DelegatedAmount:           clone(amount),
			Caller:                    req.caller,
		})
	}

	emitter.Emit(events.Pay{
		FundingCycleConfiguration: record.FundingCycle.Configuration,
		FundingCycleNumber:        record.FundingCycle.Number,
		ProjectID:                 req.projectID,
		Payer:                     req.payer,
		Beneficiary:               req.beneficiary,
		Amount:                    clone(req.amount),
		BeneficiaryTokenCount:     clone(beneficiaryTokenCount),
		Memo:                      record.Memo,
		Metadata:                  req.metadata,
		Caller:                    req.caller,
	})
	return beneficiaryTokenCount, nil
}

// AddToBalanceOf adds funds to the project without minting tokens. When
// ShouldRefundHeldFees is set, fees held from earlier payouts are released
// back to the project in proportion to the amount returned.
func (t *Terminal) AddToBalanceOf(ctx context.Context, params AddToBalanceParams) error {
	err := t.exec.Execute(ctx, "add_to_balance", func(ctx context.Context) error {
		if err := t.checkToken(params.Token); err != nil {
			return err
		}
		if err := checkAmount(params.Amount); err != nil {
			return err
		}
		if err := t.vault.Transfer(params.Caller, t.info.Address, t.info.Token, params.Amount); err != nil {
			return err
		}
		return t.addToBalanceOf(ctx, params.ProjectID, params.Amount, params.ShouldRefundHeldFees, params.Memo, params.Metadata, params.Caller)
	})
	if err != nil {
		return err
	}
	observability.Terminal().RecordVolume("add_to_balance", t.info.Token.Hex(), params.Amount)
	return nil
}

func (t *Terminal) addToBalanceOf(ctx context.Context, projectID uint64, amount *big.Int, shouldRefundHeldFees bool, memo string, metadata []byte, caller common.Address) error {
	refundedFees := new(big.Int)
	if shouldRefundHeldFees {
		var err error
		refundedFees, err = t.refundHeldFees(ctx, projectID, amount, caller)
		if err != nil {
			return err
		}
	}
	if err := t.ledger.RecordAddedBalanceFor(t.info, projectID, new(big.Int).Add(amount, refundedFees)); err != nil {
		return err
	}
	emitterFrom(ctx).Emit(events.AddToBalance{
		ProjectID:    projectID,
		Amount:       clone(amount),
		RefundedFees: refundedFees,
		Memo:         memo,
		Metadata:     metadata,
		Caller:       caller,
	})
	return nil
}

// BalanceOf returns the balance the terminal holds for the project.
func (t *Terminal) BalanceOf(ctx context.Context, projectID uint64) (*big.Int, error) {
	var balance *big.Int
	err := t.exec.View(ctx, func() error {
		var err error
		balance, err = t.ledger.BalanceOf(t.info.Address, projectID)
		return err
	})
	return balance, err
}

// CurrentOverflowOf returns the project's overflow in this terminal.
func (t *Terminal) CurrentOverflowOf(ctx context.Context, projectID uint64) (*big.Int, error) {
	var overflow *big.Int
	err := t.exec.View(ctx, func() error {
		var err error
		overflow, err = t.ledger.CurrentOverflowOf(t.info, projectID)
		return err
	})
	return overflow, err
}

// CurrentReclaimableOverflowOf returns what redeeming tokenCount tokens would
// reclaim right now.
func (t *Terminal) CurrentReclaimableOverflowOf(ctx context.Context, projectID uint64, tokenCount *big.Int, useTotalOverflow bool) (*big.Int, error) {
	var reclaim *big.Int
	err := t.exec.View(ctx, func() error {
		var err error
		reclaim, err = t.ledger.CurrentReclaimableOverflowOf(t.info, projectID, tokenCount, useTotalOverflow)
		return err
	})
	return reclaim, err
}

// UsedDistributionLimitOf returns the used distribution limit of the project
// during the funding cycle number.
func (t *Terminal) UsedDistributionLimitOf(ctx context.Context, projectID, number, currency uint64) (*big.Int, error) {
	var used *big.Int
	err := t.exec.View(ctx, func() error {
		var err error
		used, err = t.ledger.UsedDistributionLimitOf(t.info.Address, projectID, number, currency)
		return err
	})
	return used, err
}

// UsedOverflowAllowanceOf returns the used overflow allowance of the project
// during the configuration.
func (t *Terminal) UsedOverflowAllowanceOf(ctx context.Context, projectID, configuration, currency uint64) (*big.Int, error) {
	var used *big.Int
	err := t.exec.View(ctx, func() error {
		var err error
		used, err = t.ledger.UsedOverflowAllowanceOf(t.info.Address, projectID, configuration, currency)
		return err
	})
	return used, err
}
