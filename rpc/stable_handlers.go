package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"kusdcore/native/stable"
	"kusdcore/observability"
)

type depositParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amountWei"`
}

type previewDepositParams struct {
	Asset  string `json:"asset"`
	Amount string `json:"amountWei"`
}

type initiateRedemptionParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amountWei"`
}

type completeRedemptionParams struct {
	From string `json:"from"`
	User string `json:"user,omitempty"`
	ID   uint64 `json:"id"`
}

type cancelRedemptionParams struct {
	From string `json:"from"`
	ID   uint64 `json:"id"`
}

type redemptionQueryParams struct {
	User string `json:"user"`
	ID   uint64 `json:"id,omitempty"`
}

type setGlobalLimitParams struct {
	Admin string `json:"admin"`
	Limit string `json:"limitWei"`
}

type setAssetLimitParams struct {
	Admin string `json:"admin"`
	Asset string `json:"asset"`
	Limit string `json:"limitWei"`
}

// decodeParams unmarshals the single positional params object the stable and
// yield methods accept.
func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected params array with a single object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params payload", err.Error())
		return false
	}
	return true
}

func (s *Server) handleStableDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params depositParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := parseAmountParam(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset := stable.NormalizeAsset(params.Asset)
	minted, err := s.components.Stable.Deposit(caller, asset, amount)
	observability.Stable().RecordDeposit(asset.String(), err)
	if err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, DepositResult{
		Caller:    caller.String(),
		Asset:     asset.String(),
		AmountIn:  amount.String(),
		Minted:    amountString(minted),
		Remaining: s.effectiveRemaining(asset),
	})
}

func (s *Server) handleStablePreviewDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params previewDepositParams
	if !decodeParams(w, req, &params) {
		return
	}
	amount, err := parseAmountParam(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset := stable.NormalizeAsset(params.Asset)
	minted, remaining, err := s.components.Stable.PreviewDeposit(asset, amount)
	if err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	result := DepositResult{
		Asset:    asset.String(),
		AmountIn: amount.String(),
		Minted:   amountString(minted),
	}
	if !stable.IsUnlimited(remaining) {
		result.Remaining = amountString(remaining)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleStableInitiateRedemption(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params initiateRedemptionParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	amount, err := parseAmountParam(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset := stable.NormalizeAsset(params.Asset)
	id, err := s.components.Stable.InitiateRedemption(caller, asset, amount)
	observability.Stable().RecordRedemption("initiate", err)
	if err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	rec, err := s.components.Stable.GetRedemption(caller, id)
	if err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, redemptionResult(caller.String(), id, rec))
}

func (s *Server) handleStableCompleteRedemption(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params completeRedemptionParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	if params.ID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "redemption id required", nil)
		return
	}
	user := caller
	if trimmed := strings.TrimSpace(params.User); trimmed != "" {
		user, err = parseAddressParam(trimmed)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
			return
		}
	}
	var payout *big.Int
	if user == caller {
		payout, err = s.components.Stable.CompleteRedemption(caller, params.ID)
	} else {
		payout, err = s.components.Stable.CompleteRedemptionFor(caller, user, params.ID)
	}
	observability.Stable().RecordRedemption("complete", err)
	if err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	result := RedemptionResult{User: user.String(), ID: params.ID, Completed: true, Payout: amountString(payout)}
	if rec, recErr := s.components.Stable.GetRedemption(user, params.ID); recErr == nil {
		result = redemptionResult(user.String(), params.ID, rec)
		result.Payout = amountString(payout)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleStableCancelRedemption(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params cancelRedemptionParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	if params.ID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "redemption id required", nil)
		return
	}
	// Snapshot the record first: cancellation deletes it.
	rec, _ := s.components.Stable.GetRedemption(caller, params.ID)
	err = s.components.Stable.CancelRedemption(caller, params.ID)
	observability.Stable().RecordRedemption("cancel", err)
	if err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	result := redemptionResult(caller.String(), params.ID, rec)
	result.Cancelled = true
	writeResult(w, req.ID, result)
}

func (s *Server) handleStableGetRedemption(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params redemptionQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	user, err := parseAddressParam(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	if params.ID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "redemption id required", nil)
		return
	}
	rec, err := s.components.Stable.GetRedemption(user, params.ID)
	if err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, redemptionResult(user.String(), params.ID, rec))
}

func (s *Server) handleStableListRedemptions(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params redemptionQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	user, err := parseAddressParam(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", err.Error())
		return
	}
	entries := s.components.Stable.ListRedemptions(user)
	results := make([]RedemptionResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, redemptionResult(user.String(), entry.ID, entry.Redemption))
	}
	writeResult(w, req.ID, map[string]interface{}{
		"user":        user.String(),
		"open":        s.components.Stable.OpenRedemptions(user),
		"redemptions": results,
	})
}

func (s *Server) handleStableLimits(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "method takes no params", nil)
		return
	}
	writeResult(w, req.ID, limitsResult(s.components.Stable.Limits()))
}

func (s *Server) handleStableSetGlobalLimit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setGlobalLimitParams
	if !decodeParams(w, req, &params) {
		return
	}
	admin, err := parseAddressParam(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	limit, err := parseLimitParam(params.Limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.components.Stable.SetGlobalLimit(admin, limit); err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, limitsResult(s.components.Stable.Limits()))
}

func (s *Server) handleStableSetAssetLimit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setAssetLimitParams
	if !decodeParams(w, req, &params) {
		return
	}
	admin, err := parseAddressParam(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	limit, err := parseLimitParam(params.Limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset := stable.NormalizeAsset(params.Asset)
	if err := s.components.Stable.SetAssetLimit(admin, asset, limit); err != nil {
		writeStableError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, limitsResult(s.components.Stable.Limits()))
}

// effectiveRemaining reports the post-deposit headroom for asset, the tighter
// of the asset and global scopes. Empty when both are uncapped.
func (s *Server) effectiveRemaining(asset stable.Asset) string {
	limits := s.components.Stable.Limits()
	remaining := limits.RemainingGlobal
	for _, entry := range limits.Assets {
		if entry.Asset != asset {
			continue
		}
		if stable.IsUnlimited(remaining) || (!stable.IsUnlimited(entry.Remaining) && entry.Remaining.Cmp(remaining) < 0) {
			remaining = entry.Remaining
		}
		break
	}
	if stable.IsUnlimited(remaining) {
		return ""
	}
	return amountString(remaining)
}
