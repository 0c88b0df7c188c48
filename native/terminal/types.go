package terminal

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/native/fundingcycles"
	"projectledger/native/splits"
)

const (
	// FeeBeneficiaryProjectID is the protocol project receiving fees.
	FeeBeneficiaryProjectID uint64 = 1
)

// TokenETH marks the native token.
var TokenETH = common.HexToAddress("0x000000000000000000000000000000000000EEEe")

// TerminalInfo identifies a terminal and the single token it accepts.
type TerminalInfo struct {
	Address  common.Address
	Token    common.Address
	Decimals uint8
	Currency uint64
}

// PayParams describes a payment into a project.
type PayParams struct {
	Payer               common.Address
	ProjectID           uint64
	Amount              *big.Int
	Token               common.Address
	Beneficiary         common.Address
	MinReturnedTokens   *big.Int
	PreferClaimedTokens bool
	Memo                string
	Metadata            []byte
}

// AddToBalanceParams describes funds added to a project without minting.
type AddToBalanceParams struct {
	Caller               common.Address
	ProjectID            uint64
	Amount               *big.Int
	Token                common.Address
	ShouldRefundHeldFees bool
	Memo                 string
	Metadata             []byte
}

// DistributeParams describes a payout distribution. Amount is denominated in
// Currency.
type DistributeParams struct {
	Caller            common.Address
	ProjectID         uint64
	Amount            *big.Int
	Currency          uint64
	Token             common.Address
	MinReturnedTokens *big.Int
	Memo              string
}

// UseAllowanceParams describes a draw against the overflow allowance.
type UseAllowanceParams struct {
	Caller            common.Address
	ProjectID         uint64
	Amount            *big.Int
	Currency          uint64
	Token             common.Address
	MinReturnedTokens *big.Int
	Beneficiary       common.Address
	Memo              string
}

// RedeemParams describes a redemption of project tokens.
type RedeemParams struct {
	Caller            common.Address
	Holder            common.Address
	ProjectID         uint64
	TokenCount        *big.Int
	Token             common.Address
	MinReturnedTokens *big.Int
	Beneficiary       common.Address
	Memo              string
	Metadata          []byte
}

// TokenAmount carries an amount with the context needed to interpret it.
type TokenAmount struct {
	Token    common.Address
	Value    *big.Int
	Decimals uint8
	Currency uint64
}

// PayDelegateAllocation routes part of a payment to a pay delegate.
type PayDelegateAllocation struct {
	Delegate common.Address
	Amount   *big.Int
	Metadata []byte
}

// RedemptionDelegateAllocation routes part of a redemption to a redeem
// delegate.
type RedemptionDelegateAllocation struct {
	Delegate common.Address
	Amount   *big.Int
	Metadata []byte
}

// HeldFee is a fee recorded while the funding cycle holds fees.
type HeldFee struct {
	Amount      *big.Int
	Fee         uint64
	FeeDiscount uint64
	Beneficiary common.Address
}

// CycleSource resolves funding cycles.
type CycleSource interface {
	CurrentOf(projectID uint64) (*fundingcycles.FundingCycle, error)
	BallotStateOf(projectID uint64) (fundingcycles.BallotState, error)
}

// AccessSource resolves fund access constraints.
type AccessSource interface {
	DistributionLimitOf(projectID, configuration uint64, terminal, token common.Address) (*big.Int, uint64, error)
	OverflowAllowanceOf(projectID, configuration uint64, terminal, token common.Address) (*big.Int, uint64, error)
}

// PriceOracle converts between currencies.
type PriceOracle interface {
	PriceFor(projectID, currency, base uint64, decimals uint8) (*big.Int, error)
}

// Directory resolves project ownership and terminals.
type Directory interface {
	OwnerOf(projectID uint64) (common.Address, error)
	TerminalsOf(projectID uint64) ([]common.Address, error)
	IsTerminalOf(projectID uint64, terminal common.Address) (bool, error)
	PrimaryTerminalOf(projectID uint64, token common.Address) (common.Address, error)
}

// Controller mints and burns project tokens.
type Controller interface {
	MintTokensOf(caller common.Address, projectID uint64, count *big.Int, beneficiary common.Address, memo string, preferClaimed, useReservedRate bool) (*big.Int, error)
	BurnTokensOf(caller, holder common.Address, projectID uint64, count *big.Int, memo string, preferClaimed bool) error
	TotalOutstandingTokensOf(projectID uint64) (*big.Int, error)
}

// SplitSource resolves payout splits.
type SplitSource interface {
	SplitsOf(projectID, domain uint64, group *big.Int) ([]splits.Split, error)
}

// Vault holds terminal funds.
type Vault interface {
	Transfer(from, to, token common.Address, amount *big.Int) error
	BalanceOf(account, token common.Address) (*big.Int, error)
}

// Permissions checks operator permissions.
type Permissions interface {
	HasPermission(operator, account common.Address, projectID uint64, permission uint8) (bool, error)
}

// Storage abstracts the subset of state manager functionality required by the
// ledger and the terminal.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Journal provides the transactional hooks of the state manager.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// StateManager is a Storage with transactional hooks.
type StateManager interface {
	Storage
	Journal
}
