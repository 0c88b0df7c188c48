package terminal

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/core/events"
	"projectledger/native/fees"
	"projectledger/native/operators"
	"projectledger/native/splits"
	"projectledger/observability"
)

// DistributePayoutsOf distributes Amount, denominated in Currency, from the
// project's balance to its payout splits within the distribution limit of the
// current funding cycle. Whatever the splits leave goes to the project owner.
// It returns the amount the owner received after fees.
func (t *Terminal) DistributePayoutsOf(ctx context.Context, params DistributeParams) (*big.Int, error) {
	var netLeftover *big.Int
	err := t.exec.Execute(ctx, "distribute_payouts", func(ctx context.Context) error {
		if err := t.checkToken(params.Token); err != nil {
			return err
		}
		cycle, distributed, err := t.ledger.RecordDistributionFor(t.info, params.ProjectID, params.Amount, params.Currency)
		if err != nil {
			return err
		}
		if distributed.Cmp(orZero(params.MinReturnedTokens)) < 0 {
			return ErrInadequateDistributedAmount
		}
		owner, err := t.directory.OwnerOf(params.ProjectID)
		if err != nil {
			return err
		}
		discount, err := t.currentFeeDiscount(params.ProjectID, fees.FeeTypePayout)
		if err != nil {
			return err
		}
		leftover, portions, err := t.distributeToPayoutSplitsOf(ctx, params.ProjectID, cycle.Configuration, distributed, discount, params.Caller)
		if err != nil {
			return err
		}
		netLeftover = clone(leftover)
		if leftover.Sign() > 0 && discount < fees.MaxFeeDiscount {
			portions = append(portions, leftover)
			fee, err := t.feeOf(leftover, discount)
			if err != nil {
				return err
			}
			netLeftover.Sub(netLeftover, fee)
		}
		feeTaken, err := t.takeFees(ctx, params.ProjectID, cycle.Metadata.HoldFees, portions, owner, discount, params.Caller)
		if err != nil {
			return err
		}
		if netLeftover.Sign() > 0 {
			if err := t.vault.Transfer(t.info.Address, owner, t.info.Token, netLeftover); err != nil {
				return err
			}
		}
		emitterFrom(ctx).Emit(events.DistributePayouts{
			FundingCycleConfiguration:     cycle.Configuration,
			FundingCycleNumber:            cycle.Number,
			ProjectID:                     params.ProjectID,
			Beneficiary:                   owner,
			Amount:                        clone(params.Amount),
			DistributedAmount:             clone(distributed),
			Fee:                           feeTaken,
			BeneficiaryDistributionAmount: clone(netLeftover),
			Memo:                          params.Memo,
			Caller:                        params.Caller,
		})
		observability.Terminal().RecordVolume("distribute_payouts", t.info.Token.Hex(), distributed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return netLeftover, nil
}

// distributeToPayoutSplitsOf pays every split its share of amount. It returns
// what is left for the owner and the gross portions fees are charged on.
func (t *Terminal) distributeToPayoutSplitsOf(ctx context.Context, projectID, domain uint64, amount *big.Int, discount uint64, caller common.Address) (*big.Int, []*big.Int, error) {
	group := splits.GroupForToken(t.info.Token)
	list, err := t.splits.SplitsOf(projectID, domain, group)
	if err != nil {
		return nil, nil, err
	}
	leftover := clone(amount)
	var portions []*big.Int
	total := new(big.Int).SetUint64(splits.TotalPercent)
	for _, split := range list {
		payout, err := mulDiv(amount, new(big.Int).SetUint64(split.Percent), total)
		if err != nil {
			return nil, nil, err
		}
		if payout.Sign() == 0 {
			continue
		}
		net, feeEligible, err := t.distributeToPayoutSplit(ctx, split, projectID, group, payout, discount, caller)
		if err != nil {
			return nil, nil, err
		}
		if feeEligible {
			portions = append(portions, payout)
		}
		leftover.Sub(leftover, payout)
		emitterFrom(ctx).Emit(events.DistributeToPayoutSplit{
			ProjectID: projectID,
			Domain:    domain,
			Group:     new(big.Int).Set(group),
			Split: events.PayoutSplit{
				PreferClaimed:      split.PreferClaimed,
				PreferAddToBalance: split.PreferAddToBalance,
				Percent:            split.Percent,
				ProjectID:          split.ProjectID,
				Beneficiary:        split.Beneficiary,
				LockedUntil:        split.LockedUntil,
				Allocator:          split.Allocator,
			},
			Amount:    clone(payout),
			NetAmount: net,
			Caller:    caller,
		})
	}
	return leftover, portions, nil
}

// chargesFeeTo reports whether a payout to addr is subject to the fee.
func (t *Terminal) chargesFeeTo(addr common.Address, discount uint64) (bool, error) {
	if discount >= fees.MaxFeeDiscount {
		return false, nil
	}
	feeless, err := t.isFeeless(addr)
	if err != nil {
		return false, err
	}
	return !feeless, nil
}

// netOf returns amount minus its fee when charged.
func (t *Terminal) netOf(amount *big.Int, charged bool, discount uint64) (*big.Int, error) {
	if !charged {
		return clone(amount), nil
	}
	fee, err := t.feeOf(amount, discount)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(amount, fee), nil
}

// distributeToPayoutSplit routes a single split. Allocators take precedence
// over projects, which take precedence over beneficiaries. Payments to a
// project served by this terminal are never charged a fee.
func (t *Terminal) distributeToPayoutSplit(ctx context.Context, split splits.Split, projectID uint64, group, amount *big.Int, discount uint64, caller common.Address) (*big.Int, bool, error) {
	metadata := common.BigToHash(new(big.Int).SetUint64(projectID)).Bytes()
	switch {
	case split.Allocator != (common.Address{}):
		charged, err := t.chargesFeeTo(split.Allocator, discount)
		if err != nil {
			return nil, false, err
		}
		net, err := t.netOf(amount, charged, discount)
		if err != nil {
			return nil, false, err
		}
		allocator, err := t.registry.SplitAllocator(split.Allocator)
		if err != nil {
			return nil, false, err
		}
		if err := t.vault.Transfer(t.info.Address, split.Allocator, t.info.Token, net); err != nil {
			return nil, false, err
		}
		data := SplitAllocationData{
			Token:     t.info.Token,
			Amount:    clone(net),
			Decimals:  t.info.Decimals,
			ProjectID: projectID,
			Group:     new(big.Int).Set(group),
			Split:     split,
		}
		if err := callOut(ctx, func() error { return allocator.Allocate(ctx, data) }); err != nil {
			return nil, false, fmt.Errorf("split allocator %s: %w", split.Allocator.Hex(), err)
		}
		return net, charged, nil

	case split.ProjectID != 0:
		target, err := t.directory.PrimaryTerminalOf(split.ProjectID, t.info.Token)
		if err != nil {
			return nil, false, err
		}
		if target == (common.Address{}) {
			return nil, false, ErrTerminalInSplitZeroAddress
		}
		beneficiary := split.Beneficiary
		if beneficiary == (common.Address{}) {
			beneficiary = caller
		}
		receiver := t
		charged := false
		if target != t.info.Address {
			if receiver, err = t.registry.Terminal(target); err != nil {
				return nil, false, err
			}
			if charged, err = t.chargesFeeTo(target, discount); err != nil {
				return nil, false, err
			}
		}
		net, err := t.netOf(amount, charged, discount)
		if err != nil {
			return nil, false, err
		}
		if receiver != t {
			if err := t.vault.Transfer(t.info.Address, target, t.info.Token, net); err != nil {
				return nil, false, err
			}
		}
		if split.PreferAddToBalance {
			err = receiver.addToBalanceOf(ctx, split.ProjectID, net, false, "", metadata, caller)
		} else {
			_, err = receiver.pay(ctx, payRequest{
				amount:        net,
				payer:         t.info.Address,
				projectID:     split.ProjectID,
				beneficiary:   beneficiary,
				preferClaimed: split.PreferClaimed,
				metadata:      metadata,
				caller:        caller,
			})
		}
		if err != nil {
			return nil, false, err
		}
		return net, charged, nil

	default:
		beneficiary := split.Beneficiary
		if beneficiary == (common.Address{}) {
			beneficiary = caller
		}
		charged, err := t.chargesFeeTo(beneficiary, discount)
		if err != nil {
			return nil, false, err
		}
		net, err := t.netOf(amount, charged, discount)
		if err != nil {
			return nil, false, err
		}
		if err := t.vault.Transfer(t.info.Address, beneficiary, t.info.Token, net); err != nil {
			return nil, false, err
		}
		return net, charged, nil
	}
}

// UseAllowanceOf draws Amount, denominated in Currency, from the project's
// overflow within the overflow allowance of the current configuration and
// sends it to the beneficiary. Only the project owner or an operator holding
// the use allowance permission may call it. It returns the amount the
// beneficiary received after fees.
func (t *Terminal) UseAllowanceOf(ctx context.Context, params UseAllowanceParams) (*big.Int, error) {
	var net *big.Int
	err := t.exec.Execute(ctx, "use_allowance", func(ctx context.Context) error {
		if err := t.checkToken(params.Token); err != nil {
			return err
		}
		owner, err := t.directory.OwnerOf(params.ProjectID)
		if err != nil {
			return err
		}
		if params.Caller != owner {
			allowed, err := t.permissions.HasPermission(params.Caller, owner, params.ProjectID, operators.PermissionUseAllowance)
			if err != nil {
				return err
			}
			if !allowed {
				return ErrUnauthorized
			}
		}
		cycle, used, err := t.ledger.RecordUsedAllowanceOf(t.info, params.ProjectID, params.Amount, params.Currency)
		if err != nil {
			return err
		}
		if used.Cmp(orZero(params.MinReturnedTokens)) < 0 {
			return ErrInadequateDistributedAmount
		}
		beneficiary := params.Beneficiary
		if beneficiary == (common.Address{}) {
			beneficiary = params.Caller
		}
		discount := fees.MaxFeeDiscount
		feeless, err := t.isFeeless(params.Caller)
		if err != nil {
			return err
		}
		if !feeless {
			if discount, err = t.currentFeeDiscount(params.ProjectID, fees.FeeTypeAllowance); err != nil {
				return err
			}
		}
		feeTaken, err := t.takeFees(ctx, params.ProjectID, cycle.Metadata.HoldFees, []*big.Int{used}, owner, discount, params.Caller)
		if err != nil {
			return err
		}
		net = new(big.Int).Sub(used, feeTaken)
		if net.Sign() > 0 {
			if err := t.vault.Transfer(t.info.Address, beneficiary, t.info.Token, net); err != nil {
				return err
			}
		}
		emitterFrom(ctx).Emit(events.UseAllowance{
			FundingCycleConfiguration: cycle.Configuration,
			FundingCycleNumber:        cycle.Number,
			ProjectID:                 params.ProjectID,
			Beneficiary:               beneficiary,
			Amount:                    clone(params.Amount),
			DistributedAmount:         clone(used),
			NetDistributedAmount:      clone(net),
			Memo:                      params.Memo,
			Caller:                    params.Caller,
		})
		observability.Terminal().RecordVolume("use_allowance", t.info.Token.Hex(), used)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}
