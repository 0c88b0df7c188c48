package fundingcycles

import (
	"fmt"
	"math/big"
	"time"
)

// Storage abstracts the subset of state manager functionality required by the
// funding cycle store.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Store persists project configurations and resolves the active funding cycle
// at the current clock. Configurations are immutable once stored; at most one
// configuration per project may be queued for a future start, and queueing a
// new one replaces it.
type Store struct {
	state Storage
	clock func() time.Time
}

// NewStore constructs a funding cycle store bound to the provided storage.
func NewStore(store Storage) *Store {
	return &Store{state: store, clock: time.Now}
}

// SetState wires the store to the external persistence layer.
func (s *Store) SetState(store Storage) { s.state = store }

// SetClock overrides the time source (primarily for deterministic testing).
func (s *Store) SetClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// Now returns the store clock as a unix timestamp.
func (s *Store) Now() uint64 {
	now := s.clock().UTC().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

func indexKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("fundingcycles/index/%d", projectID))
}

func configurationKey(projectID, configuration uint64) []byte {
	return []byte(fmt.Sprintf("fundingcycles/config/%d/%d", projectID, configuration))
}

func (s *Store) index(projectID uint64) ([]uint64, error) {
	var ids []uint64
	if _, err := s.state.KVGet(indexKey(projectID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) load(projectID, configuration uint64) (*storedConfiguration, error) {
	var stored storedConfiguration
	ok, err := s.state.KVGet(configurationKey(projectID, configuration), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fundingcycles: configuration %d of project %d missing", configuration, projectID)
	}
	return &stored, nil
}

// Configure stores a new configuration for the project and returns the cycle
// it will produce. The first configuration starts at max(mustStartAt, now).
// Later ones start at the first boundary of the current cycle that is not
// earlier than mustStartAt and leaves the current ballot window room to elapse.
func (s *Store) Configure(projectID uint64, data Data, metadata Metadata, mustStartAt uint64) (*FundingCycle, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	if data.DiscountRate > MaxDiscountRate {
		return nil, ErrInvalidDiscountRate
	}
	now := s.Now()
	ids, err := s.index(projectID)
	if err != nil {
		return nil, err
	}
	configuration := now
	if len(ids) > 0 && configuration <= ids[len(ids)-1] {
		configuration = ids[len(ids)-1] + 1
	}

	active := ids
	if len(active) > 0 {
		last, err := s.load(projectID, active[len(active)-1])
		if err != nil {
			return nil, err
		}
		if last.Start > now {
			active = active[:len(active)-1]
		}
	}

	stored := storedConfiguration{
		Configuration:  configuration,
		Duration:       data.Duration,
		DiscountRate:   data.DiscountRate,
		BallotDuration: data.BallotDuration,
		Metadata:       metadata,
	}
	if len(active) == 0 {
		stored.Number = 1
		stored.Start = maxUint64(mustStartAt, now)
		stored.Weight = new(big.Int)
		if data.Weight != nil {
			stored.Weight.Set(data.Weight)
		}
	} else {
		base, err := s.load(projectID, active[len(active)-1])
		if err != nil {
			return nil, err
		}
		current := rollover(base, now)
		earliest := maxUint64(maxUint64(mustStartAt, now), configuration+base.BallotDuration)
		var cycles uint64
		if base.Duration == 0 {
			cycles = 1
			stored.Start = earliest
		} else {
			cycles = (current.Start-base.Start)/base.Duration + 1
			if earliest > base.Start {
				needed := (earliest - base.Start + base.Duration - 1) / base.Duration
				cycles = maxUint64(cycles, needed)
			}
			stored.Start = base.Start + cycles*base.Duration
		}
		stored.Number = base.Number + cycles
		stored.BasedOn = base.Configuration
		if data.Weight != nil {
			stored.Weight = new(big.Int).Set(data.Weight)
		} else {
			stored.Weight = discount(base.Weight, base.DiscountRate, cycles)
		}
	}

	if err := s.state.KVPut(configurationKey(projectID, configuration), stored); err != nil {
		return nil, err
	}
	if err := s.state.KVPut(indexKey(projectID), append(append([]uint64(nil), active...), configuration)); err != nil {
		return nil, err
	}
	return stored.cycle(), nil
}

// Get returns the stored cycle for a configuration without applying rollover.
func (s *Store) Get(projectID, configuration uint64) (*FundingCycle, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	stored, err := s.load(projectID, configuration)
	if err != nil {
		return nil, err
	}
	return stored.cycle(), nil
}

// CurrentOf resolves the cycle active at the store clock. A configuration
// whose start has passed becomes active. Otherwise the latest started
// configuration rolls over: every elapsed duration advances the number and
// applies the discount rate to the weight while the configuration stays the
// same.
func (s *Store) CurrentOf(projectID uint64) (*FundingCycle, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	now := s.Now()
	stored, err := s.latestStarted(projectID, now)
	if err != nil {
		return nil, err
	}
	return rollover(stored, now), nil
}

// QueuedOf returns the configuration waiting to start, if any.
func (s *Store) QueuedOf(projectID uint64) (*FundingCycle, bool, error) {
	if s == nil || s.state == nil {
		return nil, false, errNilState
	}
	ids, err := s.index(projectID)
	if err != nil || len(ids) == 0 {
		return nil, false, err
	}
	last, err := s.load(projectID, ids[len(ids)-1])
	if err != nil {
		return nil, false, err
	}
	if last.Start <= s.Now() {
		return nil, false, nil
	}
	return last.cycle(), true, nil
}

// BallotStateOf reports whether a queued reconfiguration is still inside the
// ballot window of the cycle it is based on.
func (s *Store) BallotStateOf(projectID uint64) (BallotState, error) {
	if s == nil || s.state == nil {
		return BallotNone, errNilState
	}
	now := s.Now()
	ids, err := s.index(projectID)
	if err != nil || len(ids) < 2 {
		return BallotNone, err
	}
	queued, err := s.load(projectID, ids[len(ids)-1])
	if err != nil {
		return BallotNone, err
	}
	if queued.Start <= now {
		return BallotNone, nil
	}
	base, err := s.load(projectID, ids[len(ids)-2])
	if err != nil {
		return BallotNone, err
	}
	if base.BallotDuration == 0 || now >= queued.Configuration+base.BallotDuration {
		return BallotApproved, nil
	}
	return BallotActive, nil
}

func (s *Store) latestStarted(projectID, now uint64) (*storedConfiguration, error) {
	ids, err := s.index(projectID)
	if err != nil {
		return nil, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		stored, err := s.load(projectID, ids[i])
		if err != nil {
			return nil, err
		}
		if stored.Start <= now {
			return stored, nil
		}
	}
	return nil, fmt.Errorf("%w: project %d", ErrFundingCycleNotFound, projectID)
}

func rollover(stored *storedConfiguration, now uint64) *FundingCycle {
	cycle := stored.cycle()
	if stored.Duration == 0 || now < stored.Start+stored.Duration {
		return cycle
	}
	elapsed := (now - stored.Start) / stored.Duration
	cycle.Number += elapsed
	cycle.Start += elapsed * stored.Duration
	cycle.Weight = discount(stored.Weight, stored.DiscountRate, elapsed)
	return cycle
}

func discount(weight *big.Int, rate, cycles uint64) *big.Int {
	out := new(big.Int)
	if weight != nil {
		out.Set(weight)
	}
	if rate == 0 {
		return out
	}
	keep := new(big.Int).SetUint64(MaxDiscountRate - rate)
	denom := new(big.Int).SetUint64(MaxDiscountRate)
	for i := uint64(0); i < cycles && out.Sign() > 0; i++ {
		out.Mul(out, keep)
		out.Quo(out, denom)
	}
	return out
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
