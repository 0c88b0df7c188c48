package fundaccess

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxCurrencyID bounds the currency identifier of a constraint.
const MaxCurrencyID uint64 = 1<<24 - 1

// MaxAccumulator bounds limit and allowance values (2^232 - 1).
var MaxAccumulator = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 232), big.NewInt(1))

var (
	ErrInvalidDistributionLimit         = errors.New("fundaccess: INVALID_DISTRIBUTION_LIMIT")
	ErrInvalidDistributionLimitCurrency = errors.New("fundaccess: INVALID_DISTRIBUTION_LIMIT_CURRENCY")
	ErrInvalidOverflowAllowance         = errors.New("fundaccess: INVALID_OVERFLOW_ALLOWANCE")
	ErrInvalidOverflowAllowanceCurrency = errors.New("fundaccess: INVALID_OVERFLOW_ALLOWANCE_CURRENCY")
	errNilState                         = errors.New("fundaccess: state not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// constraint store.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Constraint holds the distribution limit and overflow allowance of one
// (project, configuration, terminal, token) tuple.
type Constraint struct {
	DistributionLimit         *big.Int
	DistributionLimitCurrency uint64
	OverflowAllowance         *big.Int
	OverflowAllowanceCurrency uint64
}

// Validate enforces the accumulator and currency bounds.
func (c Constraint) Validate() error {
	if c.DistributionLimit != nil && (c.DistributionLimit.Sign() < 0 || c.DistributionLimit.Cmp(MaxAccumulator) > 0) {
		return ErrInvalidDistributionLimit
	}
	if c.DistributionLimitCurrency > MaxCurrencyID {
		return ErrInvalidDistributionLimitCurrency
	}
	if c.OverflowAllowance != nil && (c.OverflowAllowance.Sign() < 0 || c.OverflowAllowance.Cmp(MaxAccumulator) > 0) {
		return ErrInvalidOverflowAllowance
	}
	if c.OverflowAllowanceCurrency > MaxCurrencyID {
		return ErrInvalidOverflowAllowanceCurrency
	}
	return nil
}

// Store persists fund access constraints.
type Store struct {
	state Storage
}

// NewStore constructs a constraint store bound to the provided storage.
func NewStore(store Storage) *Store {
	return &Store{state: store}
}

// SetState wires the store to the external persistence layer.
func (s *Store) SetState(store Storage) { s.state = store }

func constraintKey(projectID, configuration uint64, terminal, token common.Address) []byte {
	return []byte(fmt.Sprintf("fundaccess/%d/%d/%s/%s", projectID, configuration,
		strings.ToLower(terminal.Hex()), strings.ToLower(token.Hex())))
}

// SetFor records the constraint for the tuple, replacing any previous value.
func (s *Store) SetFor(projectID, configuration uint64, terminal, token common.Address, constraint Constraint) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	if err := constraint.Validate(); err != nil {
		return err
	}
	stored := Constraint{
		DistributionLimit:         cloneOrZero(constraint.DistributionLimit),
		DistributionLimitCurrency: constraint.DistributionLimitCurrency,
		OverflowAllowance:         cloneOrZero(constraint.OverflowAllowance),
		OverflowAllowanceCurrency: constraint.OverflowAllowanceCurrency,
	}
	return s.state.KVPut(constraintKey(projectID, configuration, terminal, token), stored)
}

func (s *Store) get(projectID, configuration uint64, terminal, token common.Address) (Constraint, error) {
	if s == nil || s.state == nil {
		return Constraint{}, errNilState
	}
	var stored Constraint
	ok, err := s.state.KVGet(constraintKey(projectID, configuration, terminal, token), &stored)
	if err != nil {
		return Constraint{}, err
	}
	if !ok {
		return Constraint{DistributionLimit: new(big.Int), OverflowAllowance: new(big.Int)}, nil
	}
	stored.DistributionLimit = cloneOrZero(stored.DistributionLimit)
	stored.OverflowAllowance = cloneOrZero(stored.OverflowAllowance)
	return stored, nil
}

// DistributionLimitOf returns the limit value and currency. Unset limits are
// reported as (0, 0).
func (s *Store) DistributionLimitOf(projectID, configuration uint64, terminal, token common.Address) (*big.Int, uint64, error) {
	c, err := s.get(projectID, configuration, terminal, token)
	if err != nil {
		return nil, 0, err
	}
	return c.DistributionLimit, c.DistributionLimitCurrency, nil
}

// OverflowAllowanceOf returns the allowance value and currency. Unset
// allowances are reported as (0, 0).
func (s *Store) OverflowAllowanceOf(projectID, configuration uint64, terminal, token common.Address) (*big.Int, uint64, error) {
	c, err := s.get(projectID, configuration, terminal, token)
	if err != nil {
		return nil, 0, err
	}
	return c.OverflowAllowance, c.OverflowAllowanceCurrency, nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
