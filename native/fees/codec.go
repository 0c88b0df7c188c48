package fees

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Discounts maps project identifiers to gauge discounts.
type Discounts map[uint64]uint64

// UnmarshalTOML accepts tables keyed by project identifier strings, which is
// the only key type TOML supports:
//
//	[terminal.fee_discounts]
//	"2" = 500000000
func (d *Discounts) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("fees: discounts must decode from a table")
	}
	out := make(Discounts, len(table))
	for key, value := range table {
		projectID, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
		if err != nil {
			return fmt.Errorf("fees: invalid project id %q: %w", key, err)
		}
		discount, err := toUint64(value)
		if err != nil {
			return fmt.Errorf("fees: discount for project %d: %w", projectID, err)
		}
		if discount > MaxFeeDiscount {
			return fmt.Errorf("fees: discount for project %d exceeds %d", projectID, MaxFeeDiscount)
		}
		out[projectID] = discount
	}
	*d = out
	return nil
}

func toUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case string:
		return strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported value %T", value)
	}
}

// StaticGauge serves discounts from a fixed table. It is safe for concurrent
// use and can be updated in place.
type StaticGauge struct {
	mu        sync.RWMutex
	fallback  uint64
	discounts Discounts
}

// NewStaticGauge constructs a gauge with the supplied default and overrides.
func NewStaticGauge(fallback uint64, discounts Discounts) *StaticGauge {
	g := &StaticGauge{fallback: fallback, discounts: make(Discounts, len(discounts))}
	for projectID, discount := range discounts {
		g.discounts[projectID] = discount
	}
	return g
}

// Set overrides the discount of one project.
func (g *StaticGauge) Set(projectID, discount uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.discounts[projectID] = discount
}

// CurrentDiscountFor implements Gauge.
func (g *StaticGauge) CurrentDiscountFor(projectID uint64, _ FeeType) (uint64, error) {
	if g == nil {
		return 0, nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if discount, ok := g.discounts[projectID]; ok {
		return discount, nil
	}
	return g.fallback, nil
}
