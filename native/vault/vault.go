package vault

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	ErrInvalidAmount       = errors.New("vault: amount must not be negative")
	errNilState            = errors.New("vault: state not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// vault.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Vault keeps custody balances per (account, token). Terminals hold project
// funds under their own address.
type Vault struct {
	state Storage
}

// New constructs a vault bound to the provided storage.
func New(store Storage) *Vault {
	return &Vault{state: store}
}

// SetState wires the vault to the external persistence layer.
func (v *Vault) SetState(store Storage) { v.state = store }

func balanceKey(account, token common.Address) []byte {
	return []byte(fmt.Sprintf("vault/balance/%s/%s", strings.ToLower(account.Hex()), strings.ToLower(token.Hex())))
}

// BalanceOf returns the custody balance of account in token.
func (v *Vault) BalanceOf(account, token common.Address) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	balance := new(big.Int)
	if _, err := v.state.KVGet(balanceKey(account, token), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Deposit credits account with funds entering the system.
func (v *Vault) Deposit(account, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, err := v.BalanceOf(account, token)
	if err != nil {
		return err
	}
	return v.state.KVPut(balanceKey(account, token), balance.Add(balance, amount))
}

// Withdraw debits funds leaving the system.
func (v *Vault) Withdraw(account, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, err := v.BalanceOf(account, token)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return v.state.KVPut(balanceKey(account, token), balance.Sub(balance, amount))
}

// Transfer moves amount of token from one account to another.
func (v *Vault) Transfer(from, to, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if from == to {
		balance, err := v.BalanceOf(from, token)
		if err != nil {
			return err
		}
		if balance.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		return nil
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := v.Withdraw(from, token, amount); err != nil {
		return err
	}
	return v.Deposit(to, token, amount)
}
