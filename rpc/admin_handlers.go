package rpc

import (
	"fmt"
	"net/http"
	"strings"

	nativecommon "kusdcore/native/common"
	"kusdcore/observability"
	"kusdcore/state"
)

type pauseParams struct {
	From   string `json:"from"`
	Module string `json:"module"`
}

type roleParams struct {
	From    string `json:"from"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

type balanceParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol,omitempty"`
}

func pauseModule(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case nativecommon.ModuleStable:
		return nativecommon.ModuleStable, nil
	case nativecommon.ModuleYield:
		return nativecommon.ModuleYield, nil
	default:
		return "", fmt.Errorf("unknown module %q", raw)
	}
}

func roleName(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case state.RoleAdmin:
		return state.RoleAdmin, nil
	case state.RoleManager:
		return state.RoleManager, nil
	case state.RolePauser:
		return state.RolePauser, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handlePauseSwitch(w, r, req, true)
}

func (s *Server) handleAdminResume(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handlePauseSwitch(w, r, req, false)
}

func (s *Server) handlePauseSwitch(w http.ResponseWriter, _ *http.Request, req *RPCRequest, pause bool) {
	var params pauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	from, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	module, err := pauseModule(params.Module)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if !s.components.Roles.IsPauser(from) && !s.components.Roles.IsAdmin(from) {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "pauser role required", nil)
		return
	}
	if pause {
		s.components.Pauses.Pause(module)
	} else {
		s.components.Pauses.Resume(module)
	}
	observability.Stable().SetPause(module, pause)
	writeResult(w, req.ID, map[string]interface{}{
		"module": module,
		"paused": s.components.Pauses.IsPaused(module),
	})
}

func (s *Server) handleAdminPauses(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "method takes no params", nil)
		return
	}
	paused := s.components.Pauses.Snapshot()
	if paused == nil {
		paused = []string{}
	}
	writeResult(w, req.ID, map[string]interface{}{"paused": paused})
}

func (s *Server) handleAdminGrantRole(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRoleSwitch(w, r, req, true)
}

func (s *Server) handleAdminRevokeRole(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRoleSwitch(w, r, req, false)
}

func (s *Server) handleRoleSwitch(w http.ResponseWriter, _ *http.Request, req *RPCRequest, grant bool) {
	var params roleParams
	if !decodeParams(w, req, &params) {
		return
	}
	from, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	role, err := roleName(params.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	target, err := parseAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid target address", err.Error())
		return
	}
	if !s.components.Roles.IsAdmin(from) {
		writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "admin role required", nil)
		return
	}
	if grant {
		s.components.Roles.Grant(role, target)
	} else {
		s.components.Roles.Revoke(role, target)
	}
	writeResult(w, req.ID, map[string]interface{}{
		"role":    role,
		"address": target.String(),
		"member":  s.components.Roles.HasRole(role, target),
	})
}

func (s *Server) handleAdminRoles(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "method takes no params", nil)
		return
	}
	out := make(map[string][]string)
	for _, export := range s.components.Roles.Export() {
		members := make([]string, 0, len(export.Members))
		for _, member := range export.Members {
			members = append(members, member.String())
		}
		out[export.Role] = members
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleBankBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAddressParam(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	symbols := s.components.Bank.TokenList()
	if trimmed := strings.TrimSpace(params.Symbol); trimmed != "" {
		symbols = []string{strings.ToUpper(trimmed)}
	}
	balances := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		balances[symbol] = amountString(s.components.Bank.BalanceOf(symbol, addr))
	}
	writeResult(w, req.ID, map[string]interface{}{
		"address":  addr.String(),
		"balances": balances,
	})
}

func (s *Server) handleBankTokens(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "method takes no params", nil)
		return
	}
	type tokenInfo struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals uint8  `json:"decimals"`
		Supply   string `json:"supply"`
	}
	symbols := s.components.Bank.TokenList()
	tokens := make([]tokenInfo, 0, len(symbols))
	for _, symbol := range symbols {
		token, ok := s.components.Bank.Token(symbol)
		if !ok {
			continue
		}
		tokens = append(tokens, tokenInfo{
			Symbol:   token.Symbol,
			Name:     token.Name,
			Decimals: token.Decimals,
			Supply:   amountString(s.components.Bank.TotalSupply(symbol)),
		})
	}
	writeResult(w, req.ID, map[string]interface{}{"tokens": tokens})
}
