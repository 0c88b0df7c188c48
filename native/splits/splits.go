package splits

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TotalPercent is the denominator of split percentages.
const TotalPercent uint64 = 1_000_000_000

var (
	ErrInvalidSplitPercent             = errors.New("splits: INVALID_SPLIT_PERCENT")
	ErrInvalidTotalPercent             = errors.New("splits: INVALID_TOTAL_PERCENT")
	ErrPreviousLockedSplitsNotIncluded = errors.New("splits: PREVIOUS_LOCKED_SPLITS_NOT_INCLUDED")
	errNilState                        = errors.New("splits: state not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// split store.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Split routes a share of a payout. An Allocator takes precedence over a
// ProjectID, which takes precedence over the Beneficiary.
type Split struct {
	PreferClaimed      bool
	PreferAddToBalance bool
	Percent            uint64
	ProjectID          uint64
	Beneficiary        common.Address
	LockedUntil        uint64
	Allocator          common.Address
}

// GroupForToken returns the split group used for payouts of token.
func GroupForToken(token common.Address) *big.Int {
	return new(big.Int).SetBytes(token.Bytes())
}

// Store persists payout splits per (project, domain, group). The domain is the
// funding cycle configuration the splits apply to.
type Store struct {
	state Storage
	clock func() time.Time
}

// NewStore constructs a split store bound to the provided storage.
func NewStore(store Storage) *Store {
	return &Store{state: store, clock: time.Now}
}

// SetState wires the store to the external persistence layer.
func (s *Store) SetState(store Storage) { s.state = store }

// SetClock overrides the time source used to evaluate locks.
func (s *Store) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

func splitsKey(projectID, domain uint64, group *big.Int) []byte {
	g := "0"
	if group != nil {
		g = group.Text(16)
	}
	return []byte(fmt.Sprintf("splits/%d/%d/%s", projectID, domain, g))
}

// Set replaces the splits of the group. Splits still locked must be carried
// over unchanged, although their lock may be extended.
func (s *Store) Set(projectID, domain uint64, group *big.Int, splits []Split) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	current, err := s.SplitsOf(projectID, domain, group)
	if err != nil {
		return err
	}
	now := uint64(s.clock().Unix())
	for _, locked := range current {
		if locked.LockedUntil < now {
			continue
		}
		if !containsLocked(splits, locked) {
			return ErrPreviousLockedSplitsNotIncluded
		}
	}
	var total uint64
	for _, split := range splits {
		if split.Percent == 0 {
			return ErrInvalidSplitPercent
		}
		total += split.Percent
		if total > TotalPercent {
			return ErrInvalidTotalPercent
		}
	}
	return s.state.KVPut(splitsKey(projectID, domain, group), append([]Split(nil), splits...))
}

// SplitsOf returns the splits of the group in the order they were set.
func (s *Store) SplitsOf(projectID, domain uint64, group *big.Int) ([]Split, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	var out []Split
	if _, err := s.state.KVGet(splitsKey(projectID, domain, group), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func containsLocked(splits []Split, locked Split) bool {
	for _, candidate := range splits {
		if candidate.Percent == locked.Percent &&
			candidate.Beneficiary == locked.Beneficiary &&
			candidate.Allocator == locked.Allocator &&
			candidate.ProjectID == locked.ProjectID &&
			candidate.PreferClaimed == locked.PreferClaimed &&
			candidate.PreferAddToBalance == locked.PreferAddToBalance &&
			candidate.LockedUntil >= locked.LockedUntil {
			return true
		}
	}
	return false
}
