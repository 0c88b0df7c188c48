package operators

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Permission indexes granted to operators.
const (
	PermissionRedeem       uint8 = 3
	PermissionProcessFees  uint8 = 5
	PermissionUseAllowance uint8 = 17
)

// WildcardDomain grants permissions for every project of the account.
const WildcardDomain uint64 = 0

var errNilState = errors.New("operators: state not configured")

// Storage abstracts the subset of state manager functionality required by the
// operator store.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Store records which operators may act on behalf of an account. Permissions
// are packed into a 256 bit set per (operator, account, domain).
type Store struct {
	state Storage
}

// NewStore constructs an operator store bound to the provided storage.
func NewStore(store Storage) *Store {
	return &Store{state: store}
}

// SetState wires the store to the external persistence layer.
func (s *Store) SetState(store Storage) { s.state = store }

func permissionsKey(operator, account common.Address, domain uint64) []byte {
	return []byte(fmt.Sprintf("operators/%s/%s/%d",
		strings.ToLower(operator.Hex()), strings.ToLower(account.Hex()), domain))
}

// SetOperator replaces the permissions operator holds for account within the
// domain.
func (s *Store) SetOperator(account, operator common.Address, domain uint64, permissions []uint8) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	packed := new(big.Int)
	for _, index := range permissions {
		packed.SetBit(packed, int(index), 1)
	}
	return s.state.KVPut(permissionsKey(operator, account, domain), packed)
}

// PermissionsOf returns the packed permission set.
func (s *Store) PermissionsOf(operator, account common.Address, domain uint64) (*big.Int, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	packed := new(big.Int)
	if _, err := s.state.KVGet(permissionsKey(operator, account, domain), packed); err != nil {
		return nil, err
	}
	return packed, nil
}

// HasPermission reports whether operator may exercise permission for account
// within the project, either directly or through the wildcard domain.
func (s *Store) HasPermission(operator, account common.Address, projectID uint64, permission uint8) (bool, error) {
	for _, domain := range []uint64{projectID, WildcardDomain} {
		packed, err := s.PermissionsOf(operator, account, domain)
		if err != nil {
			return false, err
		}
		if packed.Bit(int(permission)) == 1 {
			return true, nil
		}
		if projectID == WildcardDomain {
			break
		}
	}
	return false, nil
}

// RequirePermission is a helper for callers that accept either the account
// itself or an authorised operator.
func (s *Store) RequirePermission(caller, account common.Address, projectID uint64, permission uint8) (bool, error) {
	if caller == account {
		return true, nil
	}
	return s.HasPermission(caller, account, projectID, permission)
}
