package prices

import (
	"errors"
	"fmt"
	"math/big"
)

// Currency identifiers understood by the ledger.
const (
	CurrencyETH uint64 = 1
	CurrencyUSD uint64 = 2
)

// MaxFixedPointFidelity is the canonical decimal precision used for
// intermediate currency conversions.
const MaxFixedPointFidelity uint8 = 18

var (
	ErrPriceFeedAlreadyExists = errors.New("prices: price feed already exists")
	ErrPriceFeedNotFound      = errors.New("prices: price feed not found")
	ErrInvalidFeed            = errors.New("prices: feed price must be positive")
	errNilState               = errors.New("prices: state not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// oracle.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// FixedFeed reports a constant price of one unit of the base currency
// expressed in the quote currency using Decimals of precision.
type FixedFeed struct {
	Price    *big.Int
	Decimals uint8
}

// CurrentPrice rescales the feed price to the requested number of decimals.
// Scaling down truncates.
func (f FixedFeed) CurrentPrice(decimals uint8) *big.Int {
	price := new(big.Int)
	if f.Price != nil {
		price.Set(f.Price)
	}
	switch {
	case f.Decimals == decimals:
		return price
	case f.Decimals < decimals:
		return price.Mul(price, pow10(uint64(decimals-f.Decimals)))
	default:
		return price.Quo(price, pow10(uint64(f.Decimals-decimals)))
	}
}

type storedFeed struct {
	Price    *big.Int
	Decimals uint8
}

// Oracle resolves conversion rates between currency pairs. Feeds registered
// for project 0 act as protocol defaults for every project.
type Oracle struct {
	state Storage
}

// NewOracle constructs an oracle bound to the supplied storage.
func NewOracle(store Storage) *Oracle {
	return &Oracle{state: store}
}

// SetState wires the oracle to the external persistence layer.
func (o *Oracle) SetState(store Storage) { o.state = store }

func feedKey(projectID, currency, base uint64) []byte {
	return []byte(fmt.Sprintf("prices/feed/%d/%d/%d", projectID, currency, base))
}

// AddFeedFor registers the feed reporting the price of base in currency for
// the project. A pair can be registered once in either direction.
func (o *Oracle) AddFeedFor(projectID, currency, base uint64, feed FixedFeed) error {
	if o == nil || o.state == nil {
		return errNilState
	}
	if feed.Price == nil || feed.Price.Sign() <= 0 {
		return ErrInvalidFeed
	}
	for _, key := range [][]byte{feedKey(projectID, currency, base), feedKey(projectID, base, currency)} {
		ok, err := o.state.KVGet(key, nil)
		if err != nil {
			return err
		}
		if ok {
			return ErrPriceFeedAlreadyExists
		}
	}
	stored := storedFeed{Price: new(big.Int).Set(feed.Price), Decimals: feed.Decimals}
	return o.state.KVPut(feedKey(projectID, currency, base), stored)
}

// FeedFor returns the feed registered for the exact pair, if any.
func (o *Oracle) FeedFor(projectID, currency, base uint64) (FixedFeed, bool, error) {
	if o == nil || o.state == nil {
		return FixedFeed{}, false, errNilState
	}
	var stored storedFeed
	ok, err := o.state.KVGet(feedKey(projectID, currency, base), &stored)
	if err != nil || !ok {
		return FixedFeed{}, false, err
	}
	return FixedFeed{Price: stored.Price, Decimals: stored.Decimals}, true, nil
}

// PriceFor returns the price of one unit of base expressed in currency with
// the requested decimals.
func (o *Oracle) PriceFor(projectID, currency, base uint64, decimals uint8) (*big.Int, error) {
	if currency == base {
		return pow10(uint64(decimals)), nil
	}
	price, ok, err := o.lookup(projectID, currency, base, decimals)
	if err != nil {
		return nil, err
	}
	if ok {
		return price, nil
	}
	if projectID != 0 {
		price, ok, err = o.lookup(0, currency, base, decimals)
		if err != nil {
			return nil, err
		}
		if ok {
			return price, nil
		}
	}
	return nil, fmt.Errorf("%w: %d/%d", ErrPriceFeedNotFound, currency, base)
}

func (o *Oracle) lookup(projectID, currency, base uint64, decimals uint8) (*big.Int, bool, error) {
	feed, ok, err := o.FeedFor(projectID, currency, base)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return feed.CurrentPrice(decimals), true, nil
	}
	inverse, ok, err := o.FeedFor(projectID, base, currency)
	if err != nil || !ok {
		return nil, false, err
	}
	price := inverse.CurrentPrice(decimals)
	if price.Sign() == 0 {
		return nil, false, ErrInvalidFeed
	}
	return new(big.Int).Quo(pow10(2*uint64(decimals)), price), true, nil
}

func pow10(exp uint64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(exp), nil)
}
