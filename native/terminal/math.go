package terminal

import (
	"math/big"

	"github.com/holiman/uint256"

	"projectledger/native/fundingcycles"
	"projectledger/native/prices"
)

var (
	maxUint256        = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxRedemptionRate = new(big.Int).SetUint64(fundingcycles.MaxRedemptionRate)
)

// mulDiv returns x*y/denominator truncated toward zero using a 512 bit
// intermediate. Results that do not fit in 256 bits are an error.
func mulDiv(x, y, denominator *big.Int) (*big.Int, error) {
	if denominator == nil || denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	xv, err := toUint256(x)
	if err != nil {
		return nil, err
	}
	yv, err := toUint256(y)
	if err != nil {
		return nil, err
	}
	dv, err := toUint256(denominator)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).MulDivOverflow(xv, yv, dv)
	if overflow {
		return nil, ErrMathOverflow
	}
	return z.ToBig(), nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

// addChecked returns a+b, failing when the sum leaves the 256 bit range.
func addChecked(a, b *big.Int) (*big.Int, error) {
	sum := new(big.Int).Add(orZero(a), orZero(b))
	if sum.Cmp(maxUint256) > 0 {
		return nil, ErrAccumulatorOverflow
	}
	return sum, nil
}

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func clone(v *big.Int) *big.Int {
	return new(big.Int).Set(orZero(v))
}

// adjustDecimals rescales value from one decimal precision to another,
// truncating when precision is lost.
func adjustDecimals(value *big.Int, from, to uint8) *big.Int {
	switch {
	case from == to:
		return clone(value)
	case from < to:
		return new(big.Int).Mul(orZero(value), pow10(to-from))
	default:
		return new(big.Int).Quo(orZero(value), pow10(from-to))
	}
}

// ReclaimableOverflow evaluates the redemption bonding curve. Redeeming the
// whole supply always returns the whole overflow. Otherwise
//
//	base    = overflow * tokenCount / totalSupply
//	reclaim = base * (rate + tokenCount*(10000-rate)/totalSupply) / 10000
//
// with the second step skipped at a 100% rate.
func ReclaimableOverflow(overflow, tokenCount, totalSupply *big.Int, redemptionRate uint64) (*big.Int, error) {
	if redemptionRate > fundingcycles.MaxRedemptionRate {
		return nil, fundingcycles.ErrInvalidRedemptionRate
	}
	if orZero(tokenCount).Sign() == 0 || orZero(overflow).Sign() <= 0 {
		return new(big.Int), nil
	}
	if tokenCount.Cmp(orZero(totalSupply)) > 0 {
		return nil, ErrInsufficientTokens
	}
	if tokenCount.Cmp(totalSupply) == 0 {
		return clone(overflow), nil
	}
	base, err := mulDiv(overflow, tokenCount, totalSupply)
	if err != nil {
		return nil, err
	}
	if redemptionRate == fundingcycles.MaxRedemptionRate {
		return base, nil
	}
	rate := new(big.Int).SetUint64(redemptionRate)
	scaled, err := mulDiv(tokenCount, new(big.Int).Sub(maxRedemptionRate, rate), totalSupply)
	if err != nil {
		return nil, err
	}
	return mulDiv(base, scaled.Add(scaled, rate), maxRedemptionRate)
}

// priceSource is the part of the oracle used for conversions.
type priceSource interface {
	PriceFor(projectID, currency, base uint64, decimals uint8) (*big.Int, error)
}

// convertCurrency expresses amount, denominated in from, in units of to at
// the canonical 18 decimal fidelity.
func convertCurrency(oracle priceSource, projectID uint64, amount *big.Int, from, to uint64) (*big.Int, error) {
	if from == to || orZero(amount).Sign() == 0 {
		return clone(amount), nil
	}
	price, err := oracle.PriceFor(projectID, from, to, prices.MaxFixedPointFidelity)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, pow10(prices.MaxFixedPointFidelity), price)
}
