package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"

	"kusdcore/native/stable"
	"kusdcore/native/yield"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// DepositResult reports a completed or previewed deposit. Amounts are
// decimal strings: AmountIn in raw asset units, Minted in KUSD wei.
type DepositResult struct {
	Caller    string `json:"caller,omitempty"`
	Asset     string `json:"asset"`
	AmountIn  string `json:"amountIn"`
	Minted    string `json:"minted"`
	Remaining string `json:"remaining,omitempty"`
}

// RedemptionResult is the RPC shape of one redemption record.
type RedemptionResult struct {
	User       string `json:"user"`
	ID         uint64 `json:"id"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	UnlockTime int64  `json:"unlockTime"`
	Completed  bool   `json:"completed"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Payout     string `json:"payout,omitempty"`
}

// AssetLimitResult reports one asset's capacity position.
type AssetLimitResult struct {
	Asset     string `json:"asset"`
	Limit     string `json:"limit"`
	Deposited string `json:"deposited"`
	Remaining string `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// LimitsResult is the full capacity view.
type LimitsResult struct {
	GlobalLimit     string             `json:"globalLimit"`
	TotalDeposited  string             `json:"totalDeposited"`
	RemainingGlobal string             `json:"remainingGlobal"`
	GlobalUnlimited bool               `json:"globalUnlimited"`
	Assets          []AssetLimitResult `json:"assets"`
}

// DistributionResult is the RPC shape of one vesting distribution.
type DistributionResult struct {
	ID        uint64 `json:"id"`
	Asset     string `json:"asset"`
	Total     string `json:"total"`
	Released  string `json:"released"`
	Pending   string `json:"pending,omitempty"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
	Active    bool   `json:"active"`
}

// VaultPositionResult reports a staker's vault position.
type VaultPositionResult struct {
	Address      string `json:"address"`
	Shares       string `json:"shares"`
	TotalShares  string `json:"totalShares"`
	Backing      string `json:"backing"`
	ExchangeRate string `json:"exchangeRate"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func redemptionResult(user string, id uint64, rec *stable.Redemption) RedemptionResult {
	out := RedemptionResult{User: user, ID: id}
	if rec == nil {
		return out
	}
	out.Asset = rec.Asset.String()
	out.Amount = amountString(rec.Amount)
	out.UnlockTime = rec.UnlockTime
	out.Completed = rec.Completed
	return out
}

func limitsResult(limits stable.Limits) LimitsResult {
	out := LimitsResult{
		GlobalLimit:     amountString(limits.GlobalLimit),
		TotalDeposited:  amountString(limits.TotalDeposited),
		RemainingGlobal: amountString(limits.RemainingGlobal),
		GlobalUnlimited: stable.IsUnlimited(limits.GlobalLimit),
	}
	for _, asset := range limits.Assets {
		out.Assets = append(out.Assets, AssetLimitResult{
			Asset:     asset.Asset.String(),
			Limit:     amountString(asset.Limit),
			Deposited: amountString(asset.Deposited),
			Remaining: amountString(asset.Remaining),
			Unlimited: stable.IsUnlimited(asset.Limit),
		})
	}
	return out
}

func distributionResult(d *yield.Distribution, pending *big.Int) DistributionResult {
	out := DistributionResult{}
	if d == nil {
		return out
	}
	out.ID = d.ID
	out.Asset = d.Asset.String()
	out.Total = amountString(d.TotalAmount)
	out.Released = amountString(d.ReleasedAmount)
	out.StartTime = d.StartTime
	out.Duration = d.Duration
	out.Active = d.Active
	if pending != nil {
		out.Pending = pending.String()
	}
	return out
}
