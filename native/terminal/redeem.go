package terminal

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/core/events"
	"projectledger/native/fees"
	"projectledger/native/fundingcycles"
	"projectledger/native/operators"
	"projectledger/observability"
)

// RedeemTokensOf burns TokenCount of the holder's project tokens and sends
// the reclaimed overflow, net of fees, to the beneficiary. The holder or an
// operator holding the redeem permission may call it. It returns the amount
// the beneficiary received.
func (t *Terminal) RedeemTokensOf(ctx context.Context, params RedeemParams) (*big.Int, error) {
	var reclaimed *big.Int
	err := t.exec.Execute(ctx, "redeem_tokens", func(ctx context.Context) error {
		if err := t.checkToken(params.Token); err != nil {
			return err
		}
		if params.Caller != params.Holder {
			allowed, err := t.permissions.HasPermission(params.Caller, params.Holder, params.ProjectID, operators.PermissionRedeem)
			if err != nil {
				return err
			}
			if !allowed {
				return ErrUnauthorized
			}
		}
		if params.Beneficiary == (common.Address{}) {
			return ErrRedeemToZeroAddress
		}
		var err error
		reclaimed, err = t.redeemTokensOf(ctx, params)
		if err != nil {
			return err
		}
		if reclaimed.Cmp(orZero(params.MinReturnedTokens)) < 0 {
			return ErrInadequateReclaimAmount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

func (t *Terminal) redeemTokensOf(ctx context.Context, params RedeemParams) (*big.Int, error) {
	record, err := t.ledger.RecordRedemptionFor(ctx, t.info, params.Holder, params.ProjectID, orZero(params.TokenCount), params.Memo, params.Metadata)
	if err != nil {
		return nil, err
	}
	cycle := record.FundingCycle

	discount := fees.MaxFeeDiscount
	if cycle.Metadata.RedemptionRate < fundingcycles.MaxRedemptionRate {
		feeless, err := t.isFeeless(params.Beneficiary)
		if err != nil {
			return nil, err
		}
		if !feeless {
			if discount, err = t.currentFeeDiscount(params.ProjectID, fees.FeeTypeRedemption); err != nil {
				return nil, err
			}
		}
	}

	if orZero(params.TokenCount).Sign() > 0 {
		if err := t.controller.BurnTokensOf(t.info.Address, params.Holder, params.ProjectID, params.TokenCount, "", false); err != nil {
			return nil, err
		}
	}

	var portions []*big.Int
	emitter := emitterFrom(ctx)
	for _, allocation := range record.Allocations {
		amount := orZero(allocation.Amount)
		delegate, err := t.registry.RedeemDelegate(allocation.Delegate)
		if err != nil {
			return nil, err
		}
		fee, err := t.feeOf(amount, discount)
		if err != nil {
			return nil, err
		}
		if fee.Sign() > 0 {
			portions = append(portions, amount)
		}
		forwarded := new(big.Int).Sub(amount, fee)
		if forwarded.Sign() > 0 {
			if err := t.vault.Transfer(t.info.Address, allocation.Delegate, t.info.Token, forwarded); err != nil {
				return nil, err
			}
		}
		data := DidRedeemData{
			Holder:                    params.Holder,
			ProjectID:                 params.ProjectID,
			FundingCycleConfiguration: cycle.Configuration,
			ProjectTokenCount:         clone(params.TokenCount),
			ReclaimedAmount:           t.tokenAmount(record.ReclaimAmount),
			ForwardedAmount:           t.tokenAmount(forwarded),
			RedemptionRate:            cycle.Metadata.RedemptionRate,
			Beneficiary:               params.Beneficiary,
			Memo:                      record.Memo,
			DataSourceMetadata:        allocation.Metadata,
			RedeemerMetadata:          params.Metadata,
		}
		if err := callOut(ctx, func() error { return delegate.DidRedeem(ctx, data) }); err != nil {
			return nil, fmt.Errorf("delegate %s did redeem: %w", allocation.Delegate.Hex(), err)
		}
		emitter.Emit(events.DelegateDidRedeem{
			Delegate:                  allocation.Delegate,
			Holder:                    params.Holder,
			ProjectID:                 params.ProjectID,
			FundingCycleConfiguration: cycle.Configuration,
			ProjectTokenCount:         clone(params.TokenCount),
			ReclaimedAmount:           clone(record.ReclaimAmount),
			ForwardedAmount:           clone(forwarded),
			RedemptionRate:            cycle.Metadata.RedemptionRate,
			Beneficiary:               params.Beneficiary,
			Memo:                      record.Memo,
			DataSourceMetadata:        allocation.Metadata,
			RedeemerMetadata:          params.Metadata,
			DelegatedAmount:           clone(amount),
			Fee:                       fee,
			Caller:                    params.Caller,
		})
	}

	reclaim := clone(record.ReclaimAmount)
	if reclaim.Sign() > 0 {
		fee, err := t.feeOf(reclaim, discount)
		if err != nil {
			return nil, err
		}
		if fee.Sign() > 0 {
			portions = append(portions, clone(reclaim))
			reclaim.Sub(reclaim, fee)
		}
		if err := t.vault.Transfer(t.info.Address, params.Beneficiary, t.info.Token, reclaim); err != nil {
			return nil, err
		}
	}

	// Redemption fees are never held: the funds have left the project.
	if _, err := t.takeFees(ctx, params.ProjectID, false, portions, params.Beneficiary, discount, params.Caller); err != nil {
		return nil, err
	}

	emitter.Emit(events.RedeemTokens{
		FundingCycleConfiguration: cycle.Configuration,
		FundingCycleNumber:        cycle.Number,
		ProjectID:                 params.ProjectID,
		Holder:                    params.Holder,
		Beneficiary:               params.Beneficiary,
		TokenCount:                clone(params.TokenCount),
		ReclaimedAmount:           clone(reclaim),
		Memo:                      record.Memo,
		Metadata:                  params.Metadata,
		Caller:                    params.Caller,
	})
	observability.Terminal().RecordVolume("redeem_tokens", t.info.Token.Hex(), record.ReclaimAmount)
	return reclaim, nil
}
