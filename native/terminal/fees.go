package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/core/events"
	"projectledger/native/fees"
	"projectledger/native/operators"
	"projectledger/observability"
)

type storedHeldFee struct {
	Amount      *big.Int
	Fee         uint64
	FeeDiscount uint64
	Beneficiary common.Address
}

func (t *Terminal) heldFeesKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("terminal/held-fees/%s/%d", terminalSegment(t.info.Address), projectID))
}

func (t *Terminal) loadHeldFees(projectID uint64) ([]storedHeldFee, error) {
	var held []storedHeldFee
	if _, err := t.exec.State().KVGet(t.heldFeesKey(projectID), &held); err != nil {
		return nil, err
	}
	return held, nil
}

func (t *Terminal) storeHeldFees(projectID uint64, held []storedHeldFee) error {
	if held == nil {
		held = []storedHeldFee{}
	}
	return t.exec.State().KVPut(t.heldFeesKey(projectID), held)
}

// HeldFeesOf returns the fees held for the project, oldest first.
func (t *Terminal) HeldFeesOf(ctx context.Context, projectID uint64) ([]HeldFee, error) {
	var out []HeldFee
	err := t.exec.View(ctx, func() error {
		held, err := t.loadHeldFees(projectID)
		if err != nil {
			return err
		}
		out = make([]HeldFee, 0, len(held))
		for _, fee := range held {
			out = append(out, HeldFee{
				Amount:      clone(fee.Amount),
				Fee:         fee.Fee,
				FeeDiscount: fee.FeeDiscount,
				Beneficiary: fee.Beneficiary,
			})
		}
		return nil
	})
	return out, err
}

// currentFeeDiscount returns the discount applied to fees charged to the
// project. Fees are waived entirely when the rate is zero or the fee project
// cannot receive the token. A failing or out of range gauge grants no
// discount.
func (t *Terminal) currentFeeDiscount(projectID uint64, feeType fees.FeeType) (uint64, error) {
	cfg, err := t.loadFeeConfig()
	if err != nil {
		return 0, err
	}
	if cfg.Fee == 0 {
		return fees.MaxFeeDiscount, nil
	}
	feeTerminal, err := t.directory.PrimaryTerminalOf(FeeBeneficiaryProjectID, t.info.Token)
	if err != nil {
		return 0, err
	}
	if feeTerminal == (common.Address{}) {
		return fees.MaxFeeDiscount, nil
	}
	if cfg.Gauge == (common.Address{}) {
		return 0, nil
	}
	gauge, err := resolve[fees.Gauge](t.registry, cfg.Gauge, "fee gauge")
	if err != nil {
		t.logger.Warn("fee gauge unavailable", slog.String("gauge", cfg.Gauge.Hex()), slog.Any("error", err))
		return 0, nil
	}
	var discount uint64
	err = t.exec.callOut(func() error {
		var callErr error
		discount, callErr = gauge.CurrentDiscountFor(projectID, feeType)
		return callErr
	})
	if err != nil {
		t.logger.Warn("fee gauge failed",
			slog.String("gauge", cfg.Gauge.Hex()),
			slog.Uint64("projectId", projectID),
			slog.String("feeType", feeType.String()),
			slog.Any("error", err))
		return 0, nil
	}
	if discount > fees.MaxFeeDiscount {
		return 0, nil
	}
	return discount, nil
}

// feeOf returns the fee charged on a gross portion at the configured rate.
func (t *Terminal) feeOf(portion *big.Int, discount uint64) (*big.Int, error) {
	if discount >= fees.MaxFeeDiscount {
		return new(big.Int), nil
	}
	cfg, err := t.loadFeeConfig()
	if err != nil {
		return nil, err
	}
	return fees.FeeAmount(portion, cfg.Fee, discount), nil
}

// takeFees charges the fee on every gross portion independently and either
// holds the fees for later processing or pays them to the fee project right
// away. It returns the total fee.
func (t *Terminal) takeFees(ctx context.Context, projectID uint64, hold bool, portions []*big.Int, beneficiary common.Address, discount uint64, caller common.Address) (*big.Int, error) {
	total := new(big.Int)
	if discount >= fees.MaxFeeDiscount || len(portions) == 0 {
		return total, nil
	}
	cfg, err := t.loadFeeConfig()
	if err != nil {
		return nil, err
	}
	var held []storedHeldFee
	if hold {
		if held, err = t.loadHeldFees(projectID); err != nil {
			return nil, err
		}
	}
	emitter := emitterFrom(ctx)
	for _, portion := range portions {
		fee := fees.FeeAmount(portion, cfg.Fee, discount)
		if fee.Sign() == 0 {
			continue
		}
		total.Add(total, fee)
		if !hold {
			continue
		}
		held = append(held, storedHeldFee{Amount: clone(portion), Fee: cfg.Fee, FeeDiscount: discount, Beneficiary: beneficiary})
		emitter.Emit(events.HoldFee{
			ProjectID:   projectID,
			Amount:      clone(portion),
			Fee:         cfg.Fee,
			FeeDiscount: discount,
			Beneficiary: beneficiary,
			Caller:      caller,
		})
		observability.Terminal().RecordFee(t.info.Token.Hex(), fee, true)
	}
	if hold {
		if err := t.storeHeldFees(projectID, held); err != nil {
			return nil, err
		}
		return total, nil
	}
	if total.Sign() > 0 {
		if err := t.processFee(ctx, total, beneficiary, projectID, false, caller); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// processFee pays amount into the fee project through its primary terminal
// for the token. The payment carries the source project id as 32 byte
// metadata and mints fee project tokens to the beneficiary.
func (t *Terminal) processFee(ctx context.Context, amount *big.Int, beneficiary common.Address, fromProjectID uint64, wasHeld bool, caller common.Address) error {
	feeTerminal, err := t.directory.PrimaryTerminalOf(FeeBeneficiaryProjectID, t.info.Token)
	if err != nil {
		return err
	}
	if feeTerminal == (common.Address{}) {
		return fmt.Errorf("%w: no fee terminal for %s", ErrTerminalNotFound, t.info.Token.Hex())
	}
	req := payRequest{
		amount:      amount,
		payer:       t.info.Address,
		projectID:   FeeBeneficiaryProjectID,
		beneficiary: beneficiary,
		metadata:    common.BigToHash(new(big.Int).SetUint64(fromProjectID)).Bytes(),
		caller:      caller,
	}
	if feeTerminal == t.info.Address {
		if _, err := t.pay(ctx, req); err != nil {
			return fmt.Errorf("process fee: %w", err)
		}
	} else {
		target, err := t.registry.Terminal(feeTerminal)
		if err != nil {
			return err
		}
		if err := t.vault.Transfer(t.info.Address, feeTerminal, t.info.Token, amount); err != nil {
			return err
		}
		if _, err := target.pay(ctx, req); err != nil {
			return fmt.Errorf("process fee: %w", err)
		}
	}
	emitterFrom(ctx).Emit(events.ProcessFee{
		ProjectID:   fromProjectID,
		Amount:      clone(amount),
		WasHeld:     wasHeld,
		Beneficiary: beneficiary,
		Caller:      caller,
	})
	if !wasHeld {
		observability.Terminal().RecordFee(t.info.Token.Hex(), amount, false)
	}
	return nil
}

// refundHeldFees releases held fees worth up to amount of returned payouts,
// oldest first. The fee attributed to a partially refunded entry is the
// difference between its fee before and after the refund so the fees held
// and refunded always add up.
func (t *Terminal) refundHeldFees(ctx context.Context, projectID uint64, amount *big.Int, caller common.Address) (*big.Int, error) {
	held, err := t.loadHeldFees(projectID)
	if err != nil {
		return nil, err
	}
	refunded := new(big.Int)
	leftover := clone(amount)
	kept := make([]storedHeldFee, 0, len(held))
	for _, fee := range held {
		switch {
		case leftover.Sign() == 0:
			kept = append(kept, fee)
		case leftover.Cmp(fee.Amount) >= 0:
			leftover.Sub(leftover, fee.Amount)
			refunded.Add(refunded, fees.FeeAmount(fee.Amount, fee.Fee, fee.FeeDiscount))
		default:
			remaining := new(big.Int).Sub(fee.Amount, leftover)
			before := fees.FeeAmount(fee.Amount, fee.Fee, fee.FeeDiscount)
			after := fees.FeeAmount(remaining, fee.Fee, fee.FeeDiscount)
			refunded.Add(refunded, before.Sub(before, after))
			kept = append(kept, storedHeldFee{Amount: remaining, Fee: fee.Fee, FeeDiscount: fee.FeeDiscount, Beneficiary: fee.Beneficiary})
			leftover.SetInt64(0)
		}
	}
	if err := t.storeHeldFees(projectID, kept); err != nil {
		return nil, err
	}
	emitterFrom(ctx).Emit(events.RefundHeldFees{
		ProjectID:      projectID,
		Amount:         clone(amount),
		RefundedFees:   clone(refunded),
		LeftoverAmount: leftover,
		Caller:         caller,
	})
	return refunded, nil
}

// ProcessFees pays out every fee held for the project. The project owner, an
// operator with the process fees permission or the terminal owner may call it.
func (t *Terminal) ProcessFees(ctx context.Context, caller common.Address, projectID uint64) error {
	return t.exec.Execute(ctx, "process_fees", func(ctx context.Context) error {
		owner, err := t.directory.OwnerOf(projectID)
		if err != nil {
			return err
		}
		if caller != owner && caller != t.owner {
			allowed, err := t.permissions.HasPermission(caller, owner, projectID, operators.PermissionProcessFees)
			if err != nil {
				return err
			}
			if !allowed {
				return ErrUnauthorized
			}
		}
		held, err := t.loadHeldFees(projectID)
		if err != nil {
			return err
		}
		if err := t.storeHeldFees(projectID, nil); err != nil {
			return err
		}
		for _, fee := range held {
			amount := fees.FeeAmount(fee.Amount, fee.Fee, fee.FeeDiscount)
			if amount.Sign() == 0 {
				continue
			}
			if err := t.processFee(ctx, amount, fee.Beneficiary, projectID, true, caller); err != nil {
				return err
			}
		}
		return nil
	})
}
