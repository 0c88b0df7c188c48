package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/core/types"
)

const (
	TypePay                     = "terminal.pay"
	TypeAddToBalance            = "terminal.add_to_balance"
	TypeDistributePayouts       = "terminal.distribute_payouts"
	TypeDistributeToPayoutSplit = "terminal.distribute_to_payout_split"
	TypeUseAllowance            = "terminal.use_allowance"
	TypeRedeemTokens            = "terminal.redeem_tokens"
	TypeDelegateDidPay          = "terminal.delegate_did_pay"
	TypeDelegateDidRedeem       = "terminal.delegate_did_redeem"
	TypeHoldFee                 = "terminal.hold_fee"
	TypeProcessFee              = "terminal.process_fee"
	TypeRefundHeldFees          = "terminal.refund_held_fees"
	TypeSetFee                  = "terminal.set_fee"
	TypeSetFeeGauge             = "terminal.set_fee_gauge"
	TypeSetFeelessAddress       = "terminal.set_feeless_address"
)

// Pay is emitted once a payment has been recorded and its tokens minted.
type Pay struct {
	FundingCycleConfiguration uint64
	FundingCycleNumber        uint64
	ProjectID                 uint64
	Payer                     common.Address
	Beneficiary               common.Address
	Amount                    *big.Int
	BeneficiaryTokenCount     *big.Int
	Memo                      string
	Metadata                  []byte
	Caller                    common.Address
}

func (Pay) EventType() string { return TypePay }

func (e Pay) Event() *types.Event {
	evt := &types.Event{Type: TypePay}
	evt.Set("fundingCycleConfiguration", uintString(e.FundingCycleConfiguration))
	evt.Set("fundingCycleNumber", uintString(e.FundingCycleNumber))
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("payer", addressString(e.Payer))
	evt.Set("beneficiary", addressString(e.Beneficiary))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("beneficiaryTokenCount", amountString(e.BeneficiaryTokenCount))
	evt.Set("memo", e.Memo)
	evt.Set("metadata", withHexPrefix(e.Metadata))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// AddToBalance is emitted when funds are added without minting tokens.
type AddToBalance struct {
	ProjectID    uint64
	Amount       *big.Int
	RefundedFees *big.Int
	Memo         string
	Metadata     []byte
	Caller       common.Address
}

func (AddToBalance) EventType() string { return TypeAddToBalance }

func (e AddToBalance) Event() *types.Event {
	evt := &types.Event{Type: TypeAddToBalance}
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("refundedFees", amountString(e.RefundedFees))
	evt.Set("memo", e.Memo)
	evt.Set("metadata", withHexPrefix(e.Metadata))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// DistributePayouts summarises a payout distribution.
type DistributePayouts struct {
	FundingCycleConfiguration     uint64
	FundingCycleNumber            uint64
	ProjectID                     uint64
	Beneficiary                   common.Address
	Amount                        *big.Int
	DistributedAmount             *big.Int
	Fee                           *big.Int
	BeneficiaryDistributionAmount *big.Int
	Memo                          string
	Caller                        common.Address
}

func (DistributePayouts) EventType() string { return TypeDistributePayouts }

func (e DistributePayouts) Event() *types.Event {
	evt := &types.Event{Type: TypeDistributePayouts}
	evt.Set("fundingCycleConfiguration", uintString(e.FundingCycleConfiguration))
	evt.Set("fundingCycleNumber", uintString(e.FundingCycleNumber))
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("beneficiary", addressString(e.Beneficiary))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("distributedAmount", amountString(e.DistributedAmount))
	evt.Set("fee", amountString(e.Fee))
	evt.Set("beneficiaryDistributionAmount", amountString(e.BeneficiaryDistributionAmount))
	evt.Set("memo", e.Memo)
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// PayoutSplit mirrors the split that received a payout.
type PayoutSplit struct {
	PreferClaimed      bool
	PreferAddToBalance bool
	Percent            uint64
	ProjectID          uint64
	Beneficiary        common.Address
	LockedUntil        uint64
	Allocator          common.Address
}

// DistributeToPayoutSplit is emitted for every split served by a payout.
type DistributeToPayoutSplit struct {
	ProjectID uint64
	Domain    uint64
	Group     *big.Int
	Split     PayoutSplit
	Amount    *big.Int
	NetAmount *big.Int
	Caller    common.Address
}

func (DistributeToPayoutSplit) EventType() string { return TypeDistributeToPayoutSplit }

func (e DistributeToPayoutSplit) Event() *types.Event {
	evt := &types.Event{Type: TypeDistributeToPayoutSplit}
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("domain", uintString(e.Domain))
	evt.Set("group", amountString(e.Group))
	evt.Set("split.preferClaimed", strconv.FormatBool(e.Split.PreferClaimed))
	evt.Set("split.preferAddToBalance", strconv.FormatBool(e.Split.PreferAddToBalance))
	evt.Set("split.percent", uintString(e.Split.Percent))
	evt.Set("split.projectId", uintString(e.Split.ProjectID))
	evt.Set("split.beneficiary", addressString(e.Split.Beneficiary))
	evt.Set("split.lockedUntil", uintString(e.Split.LockedUntil))
	evt.Set("split.allocator", addressString(e.Split.Allocator))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("netAmount", amountString(e.NetAmount))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// UseAllowance is emitted when the overflow allowance is drawn down.
type UseAllowance struct {
	FundingCycleConfiguration uint64
	FundingCycleNumber        uint64
	ProjectID                 uint64
	Beneficiary               common.Address
	Amount                    *big.Int
	DistributedAmount         *big.Int
	NetDistributedAmount      *big.Int
	Memo                      string
	Caller                    common.Address
}

func (UseAllowance) EventType() string { return TypeUseAllowance }

func (e UseAllowance) Event() *types.Event {
	evt := &types.Event{Type: TypeUseAllowance}
	evt.Set("fundingCycleConfiguration", uintString(e.FundingCycleConfiguration))
	evt.Set("fundingCycleNumber", uintString(e.FundingCycleNumber))
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("beneficiary", addressString(e.Beneficiary))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("distributedAmount", amountString(e.DistributedAmount))
	evt.Set("netDistributedAmount", amountString(e.NetDistributedAmount))
	evt.Set("memo", e.Memo)
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// RedeemTokens is emitted when a holder burns tokens for overflow.
type RedeemTokens struct {
	FundingCycleConfiguration uint64
	FundingCycleNumber        uint64
	ProjectID                 uint64
	Holder                    common.Address
	Beneficiary               common.Address
	TokenCount                *big.Int
	ReclaimedAmount           *big.Int
	Memo                      string
	Metadata                  []byte
	Caller                    common.Address
}

func (RedeemTokens) EventType() string { return TypeRedeemTokens }

func (e RedeemTokens) Event() *types.Event {
	evt := &types.Event{Type: TypeRedeemTokens}
	evt.Set("fundingCycleConfiguration", uintString(e.FundingCycleConfiguration))
	evt.Set("fundingCycleNumber", uintString(e.FundingCycleNumber))
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("holder", addressString(e.Holder))
	evt.Set("beneficiary", addressString(e.Beneficiary))
	evt.Set("tokenCount", amountString(e.TokenCount))
	evt.Set("reclaimedAmount", amountString(e.ReclaimedAmount))
	evt.Set("memo", e.Memo)
	evt.Set("metadata", withHexPrefix(e.Metadata))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// DelegateDidPay is emitted after a pay delegate has been notified.
type DelegateDidPay struct {
	Delegate                  common.Address
	Payer                     common.Address
	ProjectID                 uint64
	FundingCycleConfiguration uint64
	Amount                    *big.Int
	ForwardedAmount           *big.Int
	ProjectTokenCount         *big.Int
	Beneficiary               common.Address
	Memo                      string
	DataSourceMetadata        []byte
	PayerMetadata             []byte
	DelegatedAmount           *big.Int
	Caller                    common.Address
}

func (DelegateDidPay) EventType() string { return TypeDelegateDidPay }

func (e DelegateDidPay) Event() *types.Event {
	evt := &types.Event{Type: TypeDelegateDidPay}
	evt.Set("delegate", addressString(e.Delegate))
	evt.Set("data.payer", addressString(e.Payer))
	evt.Set("data.projectId", uintString(e.ProjectID))
	evt.Set("data.currentFundingCycleConfiguration", uintString(e.FundingCycleConfiguration))
	evt.Set("data.amount", amountString(e.Amount))
	evt.Set("data.forwardedAmount", amountString(e.ForwardedAmount))
	evt.Set("data.projectTokenCount", amountString(e.ProjectTokenCount))
	evt.Set("data.beneficiary", addressString(e.Beneficiary))
	evt.Set("data.memo", e.Memo)
	evt.Set("data.dataSourceMetadata", withHexPrefix(e.DataSourceMetadata))
	evt.Set("data.payerMetadata", withHexPrefix(e.PayerMetadata))
	evt.Set("delegatedAmount", amountString(e.DelegatedAmount))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// DelegateDidRedeem is emitted after a redemption delegate has been notified.
type DelegateDidRedeem struct {
	Delegate                  common.Address
	Holder                    common.Address
	ProjectID                 uint64
	FundingCycleConfiguration uint64
	ProjectTokenCount         *big.Int
	ReclaimedAmount           *big.Int
	ForwardedAmount           *big.Int
	RedemptionRate            uint64
	Beneficiary               common.Address
	Memo                      string
	DataSourceMetadata        []byte
	RedeemerMetadata          []byte
	DelegatedAmount           *big.Int
	Fee                       *big.Int
	Caller                    common.Address
}

func (DelegateDidRedeem) EventType() string { return TypeDelegateDidRedeem }

func (e DelegateDidRedeem) Event() *types.Event {
	evt := &types.Event{Type: TypeDelegateDidRedeem}
	evt.Set("delegate", addressString(e.Delegate))
	evt.Set("data.holder", addressString(e.Holder))
	evt.Set("data.projectId", uintString(e.ProjectID))
	evt.Set("data.currentFundingCycleConfiguration", uintString(e.FundingCycleConfiguration))
	evt.Set("data.projectTokenCount", amountString(e.ProjectTokenCount))
	evt.Set("data.reclaimedAmount", amountString(e.ReclaimedAmount))
	evt.Set("data.forwardedAmount", amountString(e.ForwardedAmount))
	evt.Set("data.redemptionRate", uintString(e.RedemptionRate))
	evt.Set("data.beneficiary", addressString(e.Beneficiary))
	evt.Set("data.memo", e.Memo)
	evt.Set("data.dataSourceMetadata", withHexPrefix(e.DataSourceMetadata))
	evt.Set("data.redeemerMetadata", withHexPrefix(e.RedeemerMetadata))
	evt.Set("delegatedAmount", amountString(e.DelegatedAmount))
	evt.Set("fee", amountString(e.Fee))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// HoldFee is emitted when a fee is parked instead of processed.
type HoldFee struct {
	ProjectID   uint64
	Amount      *big.Int
	Fee         uint64
	FeeDiscount uint64
	Beneficiary common.Address
	Caller      common.Address
}

func (HoldFee) EventType() string { return TypeHoldFee }

func (e HoldFee) Event() *types.Event {
	evt := &types.Event{Type: TypeHoldFee}
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("fee", uintString(e.Fee))
	evt.Set("feeDiscount", uintString(e.FeeDiscount))
	evt.Set("beneficiary", addressString(e.Beneficiary))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// ProcessFee is emitted when a fee is paid to the fee project.
type ProcessFee struct {
	ProjectID   uint64
	Amount      *big.Int
	WasHeld     bool
	Beneficiary common.Address
	Caller      common.Address
}

func (ProcessFee) EventType() string { return TypeProcessFee }

func (e ProcessFee) Event() *types.Event {
	evt := &types.Event{Type: TypeProcessFee}
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("wasHeld", strconv.FormatBool(e.WasHeld))
	evt.Set("beneficiary", addressString(e.Beneficiary))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// RefundHeldFees is emitted when funds added to a balance release held fees.
type RefundHeldFees struct {
	ProjectID      uint64
	Amount         *big.Int
	RefundedFees   *big.Int
	LeftoverAmount *big.Int
	Caller         common.Address
}

func (RefundHeldFees) EventType() string { return TypeRefundHeldFees }

func (e RefundHeldFees) Event() *types.Event {
	evt := &types.Event{Type: TypeRefundHeldFees}
	evt.Set("projectId", uintString(e.ProjectID))
	evt.Set("amount", amountString(e.Amount))
	evt.Set("refundedFees", amountString(e.RefundedFees))
	evt.Set("leftoverAmount", amountString(e.LeftoverAmount))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// SetFee records a fee rate change.
type SetFee struct {
	Fee    uint64
	Caller common.Address
}

func (SetFee) EventType() string { return TypeSetFee }

func (e SetFee) Event() *types.Event {
	evt := &types.Event{Type: TypeSetFee}
	evt.Set("fee", uintString(e.Fee))
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// SetFeeGauge records a fee gauge swap.
type SetFeeGauge struct {
	FeeGauge string
	Caller   common.Address
}

func (SetFeeGauge) EventType() string { return TypeSetFeeGauge }

func (e SetFeeGauge) Event() *types.Event {
	evt := &types.Event{Type: TypeSetFeeGauge}
	evt.Set("feeGauge", e.FeeGauge)
	evt.Set("caller", addressString(e.Caller))
	return evt
}

// SetFeelessAddress records a feeless flag change.
type SetFeelessAddress struct {
	Address common.Address
	Flag    bool
	Caller  common.Address
}

func (SetFeelessAddress) EventType() string { return TypeSetFeelessAddress }

func (e SetFeelessAddress) Event() *types.Event {
	evt := &types.Event{Type: TypeSetFeelessAddress}
	evt.Set("address", addressString(e.Address))
	evt.Set("flag", strconv.FormatBool(e.Flag))
	evt.Set("caller", addressString(e.Caller))
	return evt
}
