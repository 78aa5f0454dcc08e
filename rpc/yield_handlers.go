package rpc

import (
	"net/http"

	"kusdcore/native/stable"
	"kusdcore/observability"
)

type yieldRegisterParams struct {
	Admin     string `json:"admin"`
	Asset     string `json:"asset"`
	Total     string `json:"totalWei"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
}

type yieldCancelParams struct {
	Admin string `json:"admin"`
	ID    uint64 `json:"id"`
}

type yieldReleaseParams struct {
	From string   `json:"from"`
	IDs  []uint64 `json:"ids"`
}

type yieldReleaseFromActiveParams struct {
	From string `json:"from"`
	Max  int    `json:"max,omitempty"`
}

type yieldQueryParams struct {
	ID uint64 `json:"id"`
}

// YieldReleaseResult reports how many distributions paid out in one sweep.
type YieldReleaseResult struct {
	Caller   string `json:"caller"`
	Released int    `json:"released"`
	Active   int    `json:"active"`
}

func (s *Server) handleYieldRegister(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params yieldRegisterParams
	if !decodeParams(w, req, &params) {
		return
	}
	admin, err := parseAddressParam(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	total, err := parseAmountParam(params.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset := stable.NormalizeAsset(params.Asset)
	id, err := s.components.Yield.Register(admin, asset, total, params.StartTime, params.Duration)
	if err != nil {
		writeYieldError(w, r, req.ID, err)
		return
	}
	dist, err := s.components.Yield.Get(id)
	if err != nil {
		writeYieldError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, distributionResult(dist, nil))
}

func (s *Server) handleYieldCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params yieldCancelParams
	if !decodeParams(w, req, &params) {
		return
	}
	admin, err := parseAddressParam(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid admin address", err.Error())
		return
	}
	if params.ID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "distribution id required", nil)
		return
	}
	remainder, err := s.components.Yield.Cancel(admin, params.ID)
	if err != nil {
		writeYieldError(w, r, req.ID, err)
		return
	}
	result := map[string]interface{}{
		"id":        params.ID,
		"remainder": amountString(remainder),
	}
	if dist, distErr := s.components.Yield.Get(params.ID); distErr == nil {
		result["distribution"] = distributionResult(dist, nil)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleYieldRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params yieldReleaseParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	if len(params.IDs) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "at least one distribution id required", nil)
		return
	}
	released, err := s.components.Yield.Release(caller, params.IDs)
	observability.Yield().RecordRelease(err)
	if err != nil {
		writeYieldError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, YieldReleaseResult{
		Caller:   caller.String(),
		Released: released,
		Active:   len(s.components.Yield.ActiveIDs()),
	})
}

func (s *Server) handleYieldReleaseFromActive(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params yieldReleaseFromActiveParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddressParam(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	max := params.Max
	if max <= 0 {
		// Default to a full sweep of the current active set.
		max = len(s.components.Yield.ActiveIDs())
		if max == 0 {
			max = 1
		}
	}
	released, err := s.components.Yield.ReleaseFromActive(caller, max)
	observability.Yield().RecordRelease(err)
	if err != nil {
		writeYieldError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, YieldReleaseResult{
		Caller:   caller.String(),
		Released: released,
		Active:   len(s.components.Yield.ActiveIDs()),
	})
}

func (s *Server) handleYieldGetDistribution(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params yieldQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	if params.ID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "distribution id required", nil)
		return
	}
	dist, err := s.components.Yield.Get(params.ID)
	if err != nil {
		writeYieldError(w, r, req.ID, err)
		return
	}
	pending, err := s.components.Yield.Pending(params.ID)
	if err != nil {
		pending = nil
	}
	writeResult(w, req.ID, distributionResult(dist, pending))
}

func (s *Server) handleYieldListActive(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "method takes no params", nil)
		return
	}
	ids := s.components.Yield.ActiveIDs()
	results := make([]DistributionResult, 0, len(ids))
	for _, id := range ids {
		dist, err := s.components.Yield.Get(id)
		if err != nil {
			continue
		}
		pending, err := s.components.Yield.Pending(id)
		if err != nil {
			pending = nil
		}
		results = append(results, distributionResult(dist, pending))
	}
	writeResult(w, req.ID, map[string]interface{}{
		"active":        len(results),
		"distributions": results,
	})
}

func (s *Server) handleYieldPending(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params yieldQueryParams
	if !decodeParams(w, req, &params) {
		return
	}
	if params.ID == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "distribution id required", nil)
		return
	}
	pending, err := s.components.Yield.Pending(params.ID)
	if err != nil {
		writeYieldError(w, r, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"id":      params.ID,
		"pending": amountString(pending),
	})
}
