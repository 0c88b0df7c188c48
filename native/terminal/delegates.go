package terminal

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/native/splits"
)

// DidPayData is handed to pay delegates after a payment is recorded.
type DidPayData struct {
	Payer                     common.Address
	ProjectID                 uint64
	FundingCycleConfiguration uint64
	Amount                    TokenAmount
	ForwardedAmount           TokenAmount
	ProjectTokenCount         *big.Int
	Beneficiary               common.Address
	PreferClaimedTokens       bool
	Memo                      string
	DataSourceMetadata        []byte
	PayerMetadata             []byte
}

// DidRedeemData is handed to redeem delegates after a redemption is recorded.
// ReclaimedAmount is the pre-fee reclaim of the holder while ForwardedAmount
// is what the delegate received after fees.
type DidRedeemData struct {
	Holder                    common.Address
	ProjectID                 uint64
	FundingCycleConfiguration uint64
	ProjectTokenCount         *big.Int
	ReclaimedAmount           TokenAmount
	ForwardedAmount           TokenAmount
	RedemptionRate            uint64
	Beneficiary               common.Address
	Memo                      string
	DataSourceMetadata        []byte
	RedeemerMetadata          []byte
}

// PayParamsData is handed to a pay data source before a payment is recorded.
type PayParamsData struct {
	Terminal                         common.Address
	Payer                            common.Address
	Amount                           TokenAmount
	ProjectID                        uint64
	CurrentFundingCycleConfiguration uint64
	Beneficiary                      common.Address
	Weight                           *big.Int
	ReservedRate                     uint64
	Memo                             string
	Metadata                         []byte
}

// RedeemParamsData is handed to a redeem data source before a redemption is
// recorded.
type RedeemParamsData struct {
	Terminal                         common.Address
	Holder                           common.Address
	ProjectID                        uint64
	CurrentFundingCycleConfiguration uint64
	TokenCount                       *big.Int
	TotalSupply                      *big.Int
	Overflow                         *big.Int
	ReclaimAmount                    TokenAmount
	UseTotalOverflow                 bool
	RedemptionRate                   uint64
	Memo                             string
	Metadata                         []byte
}

// SplitAllocationData is handed to a split allocator together with its funds.
type SplitAllocationData struct {
	Token     common.Address
	Amount    *big.Int
	Decimals  uint8
	ProjectID uint64
	Group     *big.Int
	Split     splits.Split
}

// PayDelegate is notified of payments it received an allocation from.
type PayDelegate interface {
	DidPay(ctx context.Context, data DidPayData) error
}

// RedeemDelegate is notified of redemptions it received an allocation from.
type RedeemDelegate interface {
	DidRedeem(ctx context.Context, data DidRedeemData) error
}

// PayDataSource may override the weight and memo of a payment and route part
// of it to delegates.
type PayDataSource interface {
	PayParams(ctx context.Context, data PayParamsData) (*big.Int, string, []PayDelegateAllocation, error)
}

// RedeemDataSource may override the reclaim amount and memo of a redemption
// and route part of it to delegates.
type RedeemDataSource interface {
	RedeemParams(ctx context.Context, data RedeemParamsData) (*big.Int, string, []RedemptionDelegateAllocation, error)
}

// SplitAllocator receives payout splits that name it.
type SplitAllocator interface {
	Allocate(ctx context.Context, data SplitAllocationData) error
}

// Registry resolves addresses to delegate, data source, allocator and
// terminal implementations living in the same process.
type Registry struct {
	mu        sync.RWMutex
	impls     map[common.Address]interface{}
	terminals map[common.Address]*Terminal
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		impls:     make(map[common.Address]interface{}),
		terminals: make(map[common.Address]*Terminal),
	}
}

// Register binds an implementation to an address. An implementation may
// satisfy several capabilities at once.
func (r *Registry) Register(addr common.Address, impl interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[addr] = impl
}

// Unregister removes the implementation bound to addr.
func (r *Registry) Unregister(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.impls, addr)
}

func (r *Registry) lookup(addr common.Address) (interface{}, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrDelegateNotFound, addr.Hex())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDelegateNotFound, addr.Hex())
	}
	return impl, nil
}

func resolve[T any](r *Registry, addr common.Address, capability string) (T, error) {
	var zero T
	impl, err := r.lookup(addr)
	if err != nil {
		return zero, err
	}
	typed, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not a %s", ErrDelegateNotFound, addr.Hex(), capability)
	}
	return typed, nil
}

// PayDelegate resolves a pay delegate.
func (r *Registry) PayDelegate(addr common.Address) (PayDelegate, error) {
	return resolve[PayDelegate](r, addr, "pay delegate")
}

// RedeemDelegate resolves a redeem delegate.
func (r *Registry) RedeemDelegate(addr common.Address) (RedeemDelegate, error) {
	return resolve[RedeemDelegate](r, addr, "redeem delegate")
}

// PayDataSource resolves a pay data source.
func (r *Registry) PayDataSource(addr common.Address) (PayDataSource, error) {
	return resolve[PayDataSource](r, addr, "pay data source")
}

// RedeemDataSource resolves a redeem data source.
func (r *Registry) RedeemDataSource(addr common.Address) (RedeemDataSource, error) {
	return resolve[RedeemDataSource](r, addr, "redeem data source")
}

// SplitAllocator resolves a split allocator.
func (r *Registry) SplitAllocator(addr common.Address) (SplitAllocator, error) {
	return resolve[SplitAllocator](r, addr, "split allocator")
}

func (r *Registry) registerTerminal(t *Terminal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals[t.info.Address] = t
}

// Terminal resolves a terminal by address.
func (r *Registry) Terminal(addr common.Address) (*Terminal, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrTerminalNotFound, addr.Hex())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.terminals[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTerminalNotFound, addr.Hex())
	}
	return t, nil
}

// InfoOf returns the descriptor of a registered terminal.
func (r *Registry) InfoOf(addr common.Address) (TerminalInfo, error) {
	t, err := r.Terminal(addr)
	if err != nil {
		return TerminalInfo{}, err
	}
	return t.info, nil
}

// AcceptsToken reports whether the terminal at addr accepts token.
func (r *Registry) AcceptsToken(addr, token common.Address) bool {
	t, err := r.Terminal(addr)
	if err != nil {
		return false
	}
	return t.info.Token == token
}

// Terminals returns every registered terminal.
func (r *Registry) Terminals() []*Terminal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Terminal, 0, len(r.terminals))
	for _, t := range r.terminals {
		out = append(out, t)
	}
	return out
}
