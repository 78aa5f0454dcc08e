package rpc

import (
	"net/http"
)

type vaultStakeParams struct {
	From   string `json:"from"`
	Amount string `json:"amountWei"`
}

type vaultUnstakeParams struct {
	From   string `json:"from"`
	Shares string `json:"sharesWei"`
}

type vaultPositionParams struct {
	Address string `json:"address"`
}

// VaultStakeResult reports a stake or unstake plus the caller's resulting
// position.
type VaultStakeResult struct {
	Address      string `json:"address"`
	AmountIn     string `json:"amountIn,omitempty"`
	SharesMinted string `json:"sharesMinted,omitempty"`
	SharesBurned string `json:"sharesBurned,omitempty"`
	Payout       string `json:"payout,omitempty"`
	Shares       string `json:"shares"`
	ExchangeRate string `json:"exchangeRate"`
}

func (s *Server) handleVaultStake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params vaultStakeParams
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
	shares, err := s.components.Vault.Stake(caller, amount)
	if err != nil {
		writeVaultError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, VaultStakeResult{
		Address:      caller.String(),
		AmountIn:     amount.String(),
		SharesMinted: amountString(shares),
		Shares:       amountString(s.components.Vault.SharesOf(caller)),
		ExchangeRate: amountString(s.components.Vault.ExchangeRate()),
	})
}

func (s *Server) handleVaultUnstake(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params vaultUnstakeParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	shares, err := parseAmountParam(params.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payout, err := s.components.Vault.Unstake(caller, shares)
	if err != nil {
		writeVaultError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, VaultStakeResult{
		Address:      caller.String(),
		SharesBurned: shares.String(),
		Payout:       amountString(payout),
		Shares:       amountString(s.components.Vault.SharesOf(caller)),
		ExchangeRate: amountString(s.components.Vault.ExchangeRate()),
	})
}

func (s *Server) handleVaultPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultPositionParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	writeResult(w, req.ID, VaultPositionResult{
		Address:      addr.String(),
		Shares:       amountString(s.components.Vault.SharesOf(addr)),
		TotalShares:  amountString(s.components.Vault.TotalShares()),
		Backing:      amountString(s.components.Vault.Backing()),
		ExchangeRate: amountString(s.components.Vault.ExchangeRate()),
	})
}
