package fundingcycles

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	MaxRedemptionRate uint64 = 10_000
	MaxReservedRate   uint64 = 10_000
	MaxDiscountRate   uint64 = 1_000_000_000
	MaxCurrencyID     uint64 = 1<<24 - 1
)

var (
	ErrFundingCycleNotFound        = errors.New("fundingcycles: no active funding cycle")
	ErrInvalidRedemptionRate       = errors.New("fundingcycles: redemption rate out of range")
	ErrInvalidBallotRedemptionRate = errors.New("fundingcycles: ballot redemption rate out of range")
	ErrInvalidReservedRate         = errors.New("fundingcycles: reserved rate out of range")
	ErrInvalidDiscountRate         = errors.New("fundingcycles: discount rate out of range")
	ErrInvalidBaseCurrency         = errors.New("fundingcycles: base currency out of range")
	errNilState                    = errors.New("fundingcycles: state not configured")
)

// BallotState describes the approval status of a queued reconfiguration.
type BallotState uint8

const (
	BallotNone BallotState = iota
	BallotActive
	BallotApproved
)

func (s BallotState) String() string {
	switch s {
	case BallotActive:
		return "active"
	case BallotApproved:
		return "approved"
	default:
		return "none"
	}
}

// Metadata carries the per-configuration flags and rates consumed by the
// payment terminal.
type Metadata struct {
	ReservedRate                   uint64
	RedemptionRate                 uint64
	BallotRedemptionRate           uint64
	PausePay                       bool
	PauseDistributions             bool
	PauseRedeem                    bool
	PauseBurn                      bool
	AllowMinting                   bool
	HoldFees                       bool
	UseTotalOverflowForRedemptions bool
	UseDataSourceForPay            bool
	UseDataSourceForRedeem         bool
	DataSourceOverridesPayPause    bool
	DataSource                     common.Address
	BaseCurrency                   uint64
}

// Validate checks the rates against their bounds.
func (m Metadata) Validate() error {
	if m.RedemptionRate > MaxRedemptionRate {
		return ErrInvalidRedemptionRate
	}
	if m.BallotRedemptionRate > MaxRedemptionRate {
		return ErrInvalidBallotRedemptionRate
	}
	if m.ReservedRate > MaxReservedRate {
		return ErrInvalidReservedRate
	}
	if m.BaseCurrency > MaxCurrencyID {
		return ErrInvalidBaseCurrency
	}
	return nil
}

// Data describes the intrinsic properties of a new configuration. A nil
// Weight inherits the discounted weight of the cycle it is based on.
type Data struct {
	Duration       uint64
	Weight         *big.Int
	DiscountRate   uint64
	BallotDuration uint64
}

// FundingCycle is the resolved budgeting period of a project at a point in
// time. Rolled over cycles share the Configuration of the cycle they repeat.
type FundingCycle struct {
	Number         uint64
	Configuration  uint64
	BasedOn        uint64
	Start          uint64
	Duration       uint64
	Weight         *big.Int
	DiscountRate   uint64
	BallotDuration uint64
	Metadata       Metadata
}

// Clone returns a deep copy of the cycle.
func (fc *FundingCycle) Clone() *FundingCycle {
	if fc == nil {
		return nil
	}
	clone := *fc
	if fc.Weight != nil {
		clone.Weight = new(big.Int).Set(fc.Weight)
	}
	return &clone
}

// End returns the timestamp at which the cycle expires, or zero for cycles
// without a duration.
func (fc *FundingCycle) End() uint64 {
	if fc == nil || fc.Duration == 0 {
		return 0
	}
	return fc.Start + fc.Duration
}

type storedConfiguration struct {
	Configuration  uint64
	BasedOn        uint64
	Number         uint64
	Start          uint64
	Duration       uint64
	Weight         *big.Int
	DiscountRate   uint64
	BallotDuration uint64
	Metadata       Metadata
}

func (s *storedConfiguration) cycle() *FundingCycle {
	weight := new(big.Int)
	if s.Weight != nil {
		weight.Set(s.Weight)
	}
	return &FundingCycle{
		Number:         s.Number,
		Configuration:  s.Configuration,
		BasedOn:        s.BasedOn,
		Start:          s.Start,
		Duration:       s.Duration,
		Weight:         weight,
		DiscountRate:   s.DiscountRate,
		BallotDuration: s.BallotDuration,
		Metadata:       s.Metadata,
	}
}
