package ledgerd

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"projectledger/native/fees"
	"projectledger/native/terminal"
)

func parseProjectID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid project id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func parseAmount(field, raw string, required bool) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return nil, fmt.Errorf("%s required", field)
		}
		return nil, nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return value, nil
}

func parseAddress(field, raw string, required bool) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s required", field)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseMetadata(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return data, nil
}

func queryUint(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return value, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

// requestError reports a request that failed parsing or caller resolution.
func requestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUnauthenticated):
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
	case errors.Is(err, errCallerMismatch):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	default:
		badRequest(w, err)
	}
}

type amountResponse struct {
	ProjectID uint64 `json:"projectId"`
	Amount    string `json:"amount"`
}

func (s *Server) handleTerminalInfo(w http.ResponseWriter, r *http.Request) {
	info := s.node.Terminal.Info()
	fee, err := s.node.Terminal.Fee(r.Context())
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	gauge, err := s.node.Terminal.FeeGauge(r.Context())
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  info.Address.Hex(),
		"token":    info.Token.Hex(),
		"decimals": info.Decimals,
		"currency": info.Currency,
		"owner":    s.node.Terminal.Owner().Hex(),
		"fee":      fee,
		"feeGauge": gauge.Hex(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	balance, err := s.node.Terminal.BalanceOf(r.Context(), id)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{ProjectID: id, Amount: amountString(balance)})
}

func (s *Server) handleOverflow(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	overflow, err := s.node.Terminal.CurrentOverflowOf(r.Context(), id)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{ProjectID: id, Amount: amountString(overflow)})
}

func (s *Server) handleTotalOverflow(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	info := s.node.Terminal.Info()
	decimals, err := queryUint(r, "decimals", uint64(info.Decimals))
	if err != nil || decimals > 36 {
		badRequest(w, fmt.Errorf("invalid decimals"))
		return
	}
	currency, err := queryUint(r, "currency", info.Currency)
	if err != nil {
		badRequest(w, err)
		return
	}
	var total *big.Int
	err = s.node.Executor.View(r.Context(), func() error {
		var err error
		total, err = s.node.Ledger.CurrentTotalOverflowOf(id, uint8(decimals), currency)
		return err
	})
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{ProjectID: id, Amount: amountString(total)})
}

func (s *Server) handleUsedDistributionLimit(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	number, err := queryUint(r, "number", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	if number == 0 {
		cycle, err := s.node.CurrentFundingCycleOf(r.Context(), id)
		if err != nil {
			s.writeOperationError(w, r, err)
			return
		}
		number = cycle.Number
	}
	currency, err := queryUint(r, "currency", s.node.Terminal.Info().Currency)
	if err != nil {
		badRequest(w, err)
		return
	}
	used, err := s.node.Terminal.UsedDistributionLimitOf(r.Context(), id, number, currency)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projectId": id,
		"number":    number,
		"currency":  currency,
		"amount":    amountString(used),
	})
}

func (s *Server) handleUsedOverflowAllowance(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	configuration, err := queryUint(r, "configuration", 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	if configuration == 0 {
		cycle, err := s.node.CurrentFundingCycleOf(r.Context(), id)
		if err != nil {
			s.writeOperationError(w, r, err)
			return
		}
		configuration = cycle.Configuration
	}
	currency, err := queryUint(r, "currency", s.node.Terminal.Info().Currency)
	if err != nil {
		badRequest(w, err)
		return
	}
	used, err := s.node.Terminal.UsedOverflowAllowanceOf(r.Context(), id, configuration, currency)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projectId":     id,
		"configuration": configuration,
		"currency":      currency,
		"amount":        amountString(used),
	})
}

func (s *Server) handleReclaimable(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	count, err := parseAmount("tokens", r.URL.Query().Get("tokens"), true)
	if err != nil {
		badRequest(w, err)
		return
	}
	useTotal := r.URL.Query().Get("total") == "true"
	reclaim, err := s.node.Terminal.CurrentReclaimableOverflowOf(r.Context(), id, count, useTotal)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{ProjectID: id, Amount: amountString(reclaim)})
}

type heldFeeResponse struct {
	Amount      string `json:"amount"`
	Fee         uint64 `json:"fee"`
	FeeDiscount uint64 `json:"feeDiscount"`
	Beneficiary string `json:"beneficiary"`
	FeeAmount   string `json:"feeAmount"`
}

func (s *Server) handleHeldFees(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	held, err := s.node.Terminal.HeldFeesOf(r.Context(), id)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	out := make([]heldFeeResponse, 0, len(held))
	for _, fee := range held {
		out = append(out, heldFeeResponse{
			Amount:      amountString(fee.Amount),
			Fee:         fee.Fee,
			FeeDiscount: fee.FeeDiscount,
			Beneficiary: fee.Beneficiary.Hex(),
			FeeAmount:   amountString(fees.FeeAmount(fee.Amount, fee.Fee, fee.FeeDiscount)),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFundingCycle(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	cycle, err := s.node.CurrentFundingCycleOf(r.Context(), id)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	md := cycle.Metadata
	writeJSON(w, http.StatusOK, map[string]any{
		"number":         cycle.Number,
		"configuration":  cycle.Configuration,
		"basedOn":        cycle.BasedOn,
		"start":          cycle.Start,
		"duration":       cycle.Duration,
		"weight":         amountString(cycle.Weight),
		"discountRate":   cycle.DiscountRate,
		"ballotDuration": cycle.BallotDuration,
		"metadata": map[string]any{
			"reservedRate":         md.ReservedRate,
			"redemptionRate":       md.RedemptionRate,
			"ballotRedemptionRate": md.BallotRedemptionRate,
			"pausePay":             md.PausePay,
			"pauseDistributions":   md.PauseDistributions,
			"pauseRedeem":          md.PauseRedeem,
			"holdFees":             md.HoldFees,
			"dataSource":           md.DataSource.Hex(),
			"baseCurrency":         md.BaseCurrency,
		},
	})
}

func (s *Server) handleHolderBalance(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	holder, err := parseAddress("address", chi.URLParam(r, "address"), true)
	if err != nil {
		badRequest(w, err)
		return
	}
	balance, err := s.node.TokenBalanceOf(r.Context(), holder, id)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{ProjectID: id, Amount: amountString(balance)})
}

func (s *Server) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"), true)
	if err != nil {
		badRequest(w, err)
		return
	}
	token := s.node.Terminal.Info().Token
	if raw := r.URL.Query().Get("token"); raw != "" {
		if token, err = parseAddress("token", raw, true); err != nil {
			badRequest(w, err)
			return
		}
	}
	balance, err := s.node.VaultBalanceOf(r.Context(), account, token)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"token":   token.Hex(),
		"amount":  amountString(balance),
	})
}

type depositRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := parseAddress("account", req.Account, true)
	if err != nil {
		badRequest(w, err)
		return
	}
	token := s.node.Terminal.Info().Token
	if req.Token != "" {
		if token, err = parseAddress("token", req.Token, true); err != nil {
			badRequest(w, err)
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.node.Deposit(r.Context(), account, token, amount); err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"account": account.Hex(), "amount": amount.String()})
}

type payRequest struct {
	Payer               string `json:"payer"`
	Amount              string `json:"amount"`
	Token               string `json:"token"`
	Beneficiary         string `json:"beneficiary"`
	MinReturnedTokens   string `json:"minReturnedTokens"`
	PreferClaimedTokens bool   `json:"preferClaimedTokens"`
	Memo                string `json:"memo"`
	Metadata            string `json:"metadata"`
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req payRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := terminal.PayParams{ProjectID: id, PreferClaimedTokens: req.PreferClaimedTokens, Memo: req.Memo}
	if params.Payer, err = callerFrom(r, "payer", req.Payer); err == nil {
		params.Beneficiary, err = parseAddress("beneficiary", req.Beneficiary, false)
	}
	if err == nil {
		params.Token, err = s.tokenParam(req.Token)
	}
	if err == nil {
		params.Amount, err = parseAmount("amount", req.Amount, true)
	}
	if err == nil {
		params.MinReturnedTokens, err = parseAmount("minReturnedTokens", req.MinReturnedTokens, false)
	}
	if err == nil {
		params.Metadata, err = parseMetadata(req.Metadata)
	}
	if err != nil {
		requestError(w, err)
		return
	}
	minted, err := s.node.Terminal.Pay(r.Context(), params)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"beneficiaryTokenCount": amountString(minted)})
}

type addToBalanceRequest struct {
	Caller               string `json:"caller"`
	Amount               string `json:"amount"`
	Token                string `json:"token"`
	ShouldRefundHeldFees bool   `json:"shouldRefundHeldFees"`
	Memo                 string `json:"memo"`
	Metadata             string `json:"metadata"`
}

func (s *Server) handleAddToBalance(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req addToBalanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := terminal.AddToBalanceParams{ProjectID: id, ShouldRefundHeldFees: req.ShouldRefundHeldFees, Memo: req.Memo}
	if params.Caller, err = callerFrom(r, "caller", req.Caller); err == nil {
		params.Token, err = s.tokenParam(req.Token)
	}
	if err == nil {
		params.Amount, err = parseAmount("amount", req.Amount, true)
	}
	if err == nil {
		params.Metadata, err = parseMetadata(req.Metadata)
	}
	if err != nil {
		requestError(w, err)
		return
	}
	if err := s.node.Terminal.AddToBalanceOf(r.Context(), params); err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type distributeRequest struct {
	Caller            string `json:"caller"`
	Amount            string `json:"amount"`
	Currency          uint64 `json:"currency"`
	Token             string `json:"token"`
	MinReturnedTokens string `json:"minReturnedTokens"`
	Memo              string `json:"memo"`
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req distributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := terminal.DistributeParams{ProjectID: id, Currency: req.Currency, Memo: req.Memo}
	if params.Currency == 0 {
		params.Currency = s.node.Terminal.Info().Currency
	}
	if params.Caller, err = callerFrom(r, "caller", req.Caller); err == nil {
		params.Token, err = s.tokenParam(req.Token)
	}
	if err == nil {
		params.Amount, err = parseAmount("amount", req.Amount, true)
	}
	if err == nil {
		params.MinReturnedTokens, err = parseAmount("minReturnedTokens", req.MinReturnedTokens, false)
	}
	if err != nil {
		requestError(w, err)
		return
	}
	leftover, err := s.node.Terminal.DistributePayoutsOf(r.Context(), params)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"netLeftoverDistributionAmount": amountString(leftover)})
}

type useAllowanceRequest struct {
	Caller            string `json:"caller"`
	Amount            string `json:"amount"`
	Currency          uint64 `json:"currency"`
	Token             string `json:"token"`
	MinReturnedTokens string `json:"minReturnedTokens"`
	Beneficiary       string `json:"beneficiary"`
	Memo              string `json:"memo"`
}

func (s *Server) handleUseAllowance(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req useAllowanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := terminal.UseAllowanceParams{ProjectID: id, Currency: req.Currency, Memo: req.Memo}
	if params.Currency == 0 {
		params.Currency = s.node.Terminal.Info().Currency
	}
	if params.Caller, err = callerFrom(r, "caller", req.Caller); err == nil {
		params.Beneficiary, err = parseAddress("beneficiary", req.Beneficiary, false)
	}
	if err == nil {
		params.Token, err = s.tokenParam(req.Token)
	}
	if err == nil {
		params.Amount, err = parseAmount("amount", req.Amount, true)
	}
	if err == nil {
		params.MinReturnedTokens, err = parseAmount("minReturnedTokens", req.MinReturnedTokens, false)
	}
	if err != nil {
		requestError(w, err)
		return
	}
	distributed, err := s.node.Terminal.UseAllowanceOf(r.Context(), params)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"netDistributedAmount": amountString(distributed)})
}

type redeemRequest struct {
	Caller            string `json:"caller"`
	Holder            string `json:"holder"`
	TokenCount        string `json:"tokenCount"`
	Token             string `json:"token"`
	MinReturnedTokens string `json:"minReturnedTokens"`
	Beneficiary       string `json:"beneficiary"`
	Memo              string `json:"memo"`
	Metadata          string `json:"metadata"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := terminal.RedeemParams{ProjectID: id, Memo: req.Memo}
	if params.Caller, err = callerFrom(r, "caller", req.Caller); err == nil {
		params.Holder, err = parseAddress("holder", req.Holder, false)
		if params.Holder == (common.Address{}) {
			params.Holder = params.Caller
		}
	}
	if err == nil {
		params.Beneficiary, err = parseAddress("beneficiary", req.Beneficiary, false)
	}
	if err == nil {
		params.Token, err = s.tokenParam(req.Token)
	}
	if err == nil {
		params.TokenCount, err = parseAmount("tokenCount", req.TokenCount, true)
	}
	if err == nil {
		params.MinReturnedTokens, err = parseAmount("minReturnedTokens", req.MinReturnedTokens, false)
	}
	if err == nil {
		params.Metadata, err = parseMetadata(req.Metadata)
	}
	if err != nil {
		requestError(w, err)
		return
	}
	reclaimed, err := s.node.Terminal.RedeemTokensOf(r.Context(), params)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reclaimAmount": amountString(reclaimed)})
}

type processFeesRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleProcessFees(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req processFeesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := callerFrom(r, "caller", req.Caller)
	if err != nil {
		requestError(w, err)
		return
	}
	if err := s.node.Terminal.ProcessFees(r.Context(), caller, id); err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) tokenParam(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return s.node.Terminal.Info().Token, nil
	}
	return parseAddress("token", raw, true)
}
