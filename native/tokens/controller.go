package tokens

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/native/fundingcycles"
)

var (
	ErrInsufficientFunds = errors.New("tokens: INSUFFICIENT_FUNDS")
	ErrBurnPaused        = errors.New("tokens: BURN_PAUSED_AND_SENDER_NOT_VALID_TERMINAL_DELEGATE")
	ErrMintNotAllowed    = errors.New("tokens: MINT_NOT_ALLOWED_AND_NOT_TERMINAL_DELEGATE")
	ErrUnauthorized      = errors.New("tokens: UNAUTHORIZED")
	ErrInvalidAmount     = errors.New("tokens: amount must not be negative")
	ErrNoReservedTokens  = errors.New("tokens: no reserved tokens to distribute")
	errNilState          = errors.New("tokens: state not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// controller.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// CycleSource resolves the active funding cycle of a project.
type CycleSource interface {
	CurrentOf(projectID uint64) (*fundingcycles.FundingCycle, error)
}

// ProjectDirectory resolves project ownership and terminal membership.
type ProjectDirectory interface {
	OwnerOf(projectID uint64) (common.Address, error)
	IsTerminalOf(projectID uint64, terminal common.Address) (bool, error)
}

type holderBalance struct {
	Unclaimed *big.Int
	Claimed   *big.Int
}

func (b *holderBalance) total() *big.Int {
	return new(big.Int).Add(orZero(b.Unclaimed), orZero(b.Claimed))
}

// Controller is the mint and burn authority of project tokens. Balances are
// split between unclaimed credits and claimed tokens; both count towards the
// holder balance and the total supply.
type Controller struct {
	state     Storage
	cycles    CycleSource
	directory ProjectDirectory
}

// NewController constructs a controller.
func NewController(store Storage, cycles CycleSource, directory ProjectDirectory) *Controller {
	return &Controller{state: store, cycles: cycles, directory: directory}
}

// SetState wires the controller to the external persistence layer.
func (c *Controller) SetState(store Storage) { c.state = store }

func balanceKey(projectID uint64, holder common.Address) []byte {
	return []byte(fmt.Sprintf("tokens/balance/%d/%s", projectID, strings.ToLower(holder.Hex())))
}

func supplyKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("tokens/supply/%d", projectID))
}

func reservedKey(projectID uint64) []byte {
	return []byte(fmt.Sprintf("tokens/reserved/%d", projectID))
}

func (c *Controller) loadAmount(key []byte) (*big.Int, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	if _, err := c.state.KVGet(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (c *Controller) loadBalance(projectID uint64, holder common.Address) (*holderBalance, error) {
	if c == nil || c.state == nil {
		return nil, errNilState
	}
	var balance holderBalance
	if _, err := c.state.KVGet(balanceKey(projectID, holder), &balance); err != nil {
		return nil, err
	}
	balance.Unclaimed = orZero(balance.Unclaimed)
	balance.Claimed = orZero(balance.Claimed)
	return &balance, nil
}

// BalanceOf returns the claimed plus unclaimed balance of the holder.
func (c *Controller) BalanceOf(holder common.Address, projectID uint64) (*big.Int, error) {
	balance, err := c.loadBalance(projectID, holder)
	if err != nil {
		return nil, err
	}
	return balance.total(), nil
}

// ClaimedBalanceOf returns the claimed portion of the holder balance.
func (c *Controller) ClaimedBalanceOf(holder common.Address, projectID uint64) (*big.Int, error) {
	balance, err := c.loadBalance(projectID, holder)
	if err != nil {
		return nil, err
	}
	return balance.Claimed, nil
}

// TotalSupplyOf returns the minted supply of the project.
func (c *Controller) TotalSupplyOf(projectID uint64) (*big.Int, error) {
	return c.loadAmount(supplyKey(projectID))
}

// ReservedTokenBalanceOf returns the reserved tokens awaiting distribution.
func (c *Controller) ReservedTokenBalanceOf(projectID uint64) (*big.Int, error) {
	return c.loadAmount(reservedKey(projectID))
}

// TotalOutstandingTokensOf returns the minted supply plus reserved tokens
// that have accrued but not been distributed.
func (c *Controller) TotalOutstandingTokensOf(projectID uint64) (*big.Int, error) {
	supply, err := c.TotalSupplyOf(projectID)
	if err != nil {
		return nil, err
	}
	reserved, err := c.ReservedTokenBalanceOf(projectID)
	if err != nil {
		return nil, err
	}
	return supply.Add(supply, reserved), nil
}

// MintTokensOf mints count tokens for the project. Terminals of the project
// may always mint; the owner only when the cycle allows minting. When
// useReservedRate is set the cycle's reserved share accrues to the reserved
// tracker and the remainder goes to the beneficiary.
func (c *Controller) MintTokensOf(caller common.Address, projectID uint64, count *big.Int, beneficiary common.Address, memo string, preferClaimed, useReservedRate bool) (*big.Int, error) {
	if count == nil || count.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	cycle, err := c.cycles.CurrentOf(projectID)
	if err != nil {
		return nil, err
	}
	isTerminal, err := c.directory.IsTerminalOf(projectID, caller)
	if err != nil {
		return nil, err
	}
	if !isTerminal {
		owner, err := c.directory.OwnerOf(projectID)
		if err != nil {
			return nil, err
		}
		if caller != owner {
			return nil, ErrUnauthorized
		}
		if !cycle.Metadata.AllowMinting {
			return nil, ErrMintNotAllowed
		}
	}
	if count.Sign() == 0 {
		return new(big.Int), nil
	}

	reserved := new(big.Int)
	if useReservedRate && cycle.Metadata.ReservedRate > 0 {
		reserved.Mul(count, new(big.Int).SetUint64(cycle.Metadata.ReservedRate))
		reserved.Quo(reserved, new(big.Int).SetUint64(fundingcycles.MaxReservedRate))
	}
	beneficiaryCount := new(big.Int).Sub(count, reserved)

	if reserved.Sign() > 0 {
		tracker, err := c.ReservedTokenBalanceOf(projectID)
		if err != nil {
			return nil, err
		}
		if err := c.state.KVPut(reservedKey(projectID), tracker.Add(tracker, reserved)); err != nil {
			return nil, err
		}
	}
	if beneficiaryCount.Sign() > 0 {
		if err := c.credit(projectID, beneficiary, beneficiaryCount, preferClaimed); err != nil {
			return nil, err
		}
	}
	return beneficiaryCount, nil
}

// BurnTokensOf burns count tokens held by holder. Unclaimed credits are burnt
// first unless preferClaimed is set. Holders may burn their own tokens unless
// the cycle pauses burning; terminals of the project may always burn.
func (c *Controller) BurnTokensOf(caller, holder common.Address, projectID uint64, count *big.Int, memo string, preferClaimed bool) error {
	if count == nil || count.Sign() < 0 {
		return ErrInvalidAmount
	}
	isTerminal, err := c.directory.IsTerminalOf(projectID, caller)
	if err != nil {
		return err
	}
	if !isTerminal {
		if caller != holder {
			return ErrUnauthorized
		}
		cycle, err := c.cycles.CurrentOf(projectID)
		if err != nil {
			return err
		}
		if cycle.Metadata.PauseBurn {
			return ErrBurnPaused
		}
	}
	if count.Sign() == 0 {
		return nil
	}
	balance, err := c.loadBalance(projectID, holder)
	if err != nil {
		return err
	}
	if balance.total().Cmp(count) < 0 {
		return ErrInsufficientFunds
	}
	first, second := &balance.Unclaimed, &balance.Claimed
	if preferClaimed {
		first, second = second, first
	}
	remaining := new(big.Int).Set(count)
	take := minBig(*first, remaining)
	*first = new(big.Int).Sub(*first, take)
	remaining.Sub(remaining, take)
	*second = new(big.Int).Sub(*second, remaining)
	if err := c.state.KVPut(balanceKey(projectID, holder), balance); err != nil {
		return err
	}
	supply, err := c.TotalSupplyOf(projectID)
	if err != nil {
		return err
	}
	return c.state.KVPut(supplyKey(projectID), supply.Sub(supply, count))
}

// ClaimTokensOf converts unclaimed credits into claimed tokens.
func (c *Controller) ClaimTokensOf(holder common.Address, projectID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, err := c.loadBalance(projectID, holder)
	if err != nil {
		return err
	}
	if balance.Unclaimed.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	balance.Unclaimed = new(big.Int).Sub(balance.Unclaimed, amount)
	balance.Claimed = new(big.Int).Add(balance.Claimed, amount)
	return c.state.KVPut(balanceKey(projectID, holder), balance)
}

// DistributeReservedTokensOf mints the accrued reserved tokens to the project
// owner and resets the tracker.
func (c *Controller) DistributeReservedTokensOf(projectID uint64, memo string) (*big.Int, error) {
	reserved, err := c.ReservedTokenBalanceOf(projectID)
	if err != nil {
		return nil, err
	}
	if reserved.Sign() == 0 {
		return nil, ErrNoReservedTokens
	}
	owner, err := c.directory.OwnerOf(projectID)
	if err != nil {
		return nil, err
	}
	if err := c.state.KVPut(reservedKey(projectID), new(big.Int)); err != nil {
		return nil, err
	}
	if err := c.credit(projectID, owner, reserved, false); err != nil {
		return nil, err
	}
	return reserved, nil
}

func (c *Controller) credit(projectID uint64, holder common.Address, amount *big.Int, claimed bool) error {
	balance, err := c.loadBalance(projectID, holder)
	if err != nil {
		return err
	}
	if claimed {
		balance.Claimed = new(big.Int).Add(balance.Claimed, amount)
	} else {
		balance.Unclaimed = new(big.Int).Add(balance.Unclaimed, amount)
	}
	if err := c.state.KVPut(balanceKey(projectID, holder), balance); err != nil {
		return err
	}
	supply, err := c.TotalSupplyOf(projectID)
	if err != nil {
		return err
	}
	return c.state.KVPut(supplyKey(projectID), supply.Add(supply, amount))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
