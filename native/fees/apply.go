package fees

import (
	"errors"
	"math/big"
)

const (
	// MaxFee is the denominator of fee rates; 25_000_000 is 2.5%.
	MaxFee uint64 = 1_000_000_000
	// FeeCap is the highest fee rate a terminal accepts.
	FeeCap uint64 = 50_000_000
	// DefaultFee is the fee rate of a freshly deployed terminal.
	DefaultFee uint64 = 25_000_000
	// MaxFeeDiscount is the denominator of gauge discounts.
	MaxFeeDiscount uint64 = 1_000_000_000
)

// ErrFeeTooHigh is returned when a fee rate above FeeCap is configured.
var ErrFeeTooHigh = errors.New("fees: FEE_TOO_HIGH")

// FeeType identifies the flow a discount is requested for.
type FeeType uint8

const (
	FeeTypePayout FeeType = iota
	FeeTypeAllowance
	FeeTypeRedemption
)

func (t FeeType) String() string {
	switch t {
	case FeeTypePayout:
		return "payout"
	case FeeTypeAllowance:
		return "allowance"
	case FeeTypeRedemption:
		return "redemption"
	default:
		return "unknown"
	}
}

// Gauge supplies per-project fee discounts. Implementations can be swapped at
// runtime by the terminal owner.
type Gauge interface {
	CurrentDiscountFor(projectID uint64, feeType FeeType) (uint64, error)
}

// ValidateFee rejects rates above FeeCap.
func ValidateFee(fee uint64) error {
	if fee > FeeCap {
		return ErrFeeTooHigh
	}
	return nil
}

// DiscountedFee applies the discount to the fee rate. Discounts above
// MaxFeeDiscount are ignored.
func DiscountedFee(fee, discount uint64) uint64 {
	if discount > MaxFeeDiscount {
		discount = 0
	}
	reduction := new(big.Int).Mul(new(big.Int).SetUint64(fee), new(big.Int).SetUint64(discount))
	reduction.Quo(reduction, new(big.Int).SetUint64(MaxFeeDiscount))
	return fee - reduction.Uint64()
}

// ApplyResult splits a gross amount into the fee and what the payee keeps.
type ApplyResult struct {
	Fee           *big.Int
	Net           *big.Int
	DiscountedFee uint64
}

// Apply computes the fee taken out of amount so that amount is the
// fee-inclusive total:
//
//	fee = amount - amount*MaxFee/(discountedFee+MaxFee)
//
// The fee never consumes the whole amount: a positive amount always nets at
// least one unit.
func Apply(amount *big.Int, fee, discount uint64) ApplyResult {
	discounted := DiscountedFee(fee, discount)
	result := ApplyResult{Fee: new(big.Int), Net: new(big.Int), DiscountedFee: discounted}
	if amount == nil || amount.Sign() <= 0 {
		return result
	}
	result.Net.Set(amount)
	if discounted == 0 {
		return result
	}
	net := new(big.Int).Mul(amount, new(big.Int).SetUint64(MaxFee))
	net.Quo(net, new(big.Int).SetUint64(discounted+MaxFee))
	feeAmount := new(big.Int).Sub(amount, net)
	if feeAmount.Cmp(amount) >= 0 {
		feeAmount.Sub(amount, big.NewInt(1))
	}
	result.Fee = feeAmount
	result.Net = new(big.Int).Sub(amount, feeAmount)
	return result
}

// FeeAmount returns only the fee portion of Apply.
func FeeAmount(amount *big.Int, fee, discount uint64) *big.Int {
	return Apply(amount, fee, discount).Fee
}
