package rpc

import (
	"math/big"
	"net/http"
	"testing"
)

func TestYieldDistributionLifecycleOverRPC(t *testing.T) {
	now := testStart
	srv := newTestServer(t, &now, nil)
	if err := srv.components.Bank.Mint("USDC", testAdmin, big.NewInt(2000)); err != nil {
		t.Fatalf("fund admin: %v", err)
	}
	keeper := testAddr(0x55)

	// Register a 1000-unit distribution vesting over 100 seconds.
	resp := doRPC(t, srv, rpcPayload(1, "yield_register", map[string]any{
		"admin": testAdmin.String(), "asset": "USDC", "totalWei": "1000",
		"startTime": testStart, "duration": 100,
	}), scopeAuthHeader(t, ScopeYieldAdmin), http.StatusOK)
	registered := resultMap(t, resp)
	if registered["id"] != float64(1) {
		t.Fatalf("distribution id = %v", registered["id"])
	}
	if registered["active"] != true {
		t.Fatalf("active = %v", registered["active"])
	}
	if got := srv.components.Bank.BalanceOf("USDC", testYieldCustody).String(); got != "1000" {
		t.Fatalf("custody balance = %s", got)
	}

	// Nothing vested yet.
	resp = doRPC(t, srv, rpcPayload(2, "yield_pending", map[string]any{"id": 1}), nil, http.StatusOK)
	pending := resultMap(t, resp)
	if pending["pending"] != "0" {
		t.Fatalf("pending at start = %v", pending["pending"])
	}

	// Halfway through, half the total is due.
	now += 50
	resp = doRPC(t, srv, rpcPayload(3, "yield_pending", map[string]any{"id": 1}), nil, http.StatusOK)
	pending = resultMap(t, resp)
	if pending["pending"] != "500" {
		t.Fatalf("pending at half = %v", pending["pending"])
	}

	// Anyone with the node token can trigger the release.
	resp = doRPC(t, srv, rpcPayload(4, "yield_release", map[string]any{
		"from": keeper.String(), "ids": []uint64{1},
	}), nodeAuthHeader(), http.StatusOK)
	release := resultMap(t, resp)
	if release["released"] != float64(1) {
		t.Fatalf("released count = %v", release["released"])
	}
	// 500 raw 6-decimal units scale to 5e14 KUSD backing the vault.
	if got := srv.components.Vault.Backing().String(); got != "500000000000000" {
		t.Fatalf("vault backing = %s", got)
	}

	// Releasing again immediately has nothing due.
	resp = doRPC(t, srv, rpcPayload(5, "yield_release", map[string]any{
		"from": keeper.String(), "ids": []uint64{1},
	}), nodeAuthHeader(), http.StatusConflict)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("nothing-due error = %+v", resp.Error)
	}

	// The sweep drains the remainder at expiry and retires the distribution.
	now += 50
	resp = doRPC(t, srv, rpcPayload(6, "yield_releaseFromActive", map[string]any{
		"from": keeper.String(),
	}), nodeAuthHeader(), http.StatusOK)
	sweep := resultMap(t, resp)
	if sweep["released"] != float64(1) {
		t.Fatalf("sweep released = %v", sweep["released"])
	}
	if sweep["active"] != float64(0) {
		t.Fatalf("active after sweep = %v", sweep["active"])
	}
	resp = doRPC(t, srv, rpcPayload(7, "yield_getDistribution", map[string]any{"id": 1}), nil, http.StatusOK)
	dist := resultMap(t, resp)
	if dist["active"] != false {
		t.Fatalf("distribution still active: %v", dist)
	}
	if dist["released"] != "1000" {
		t.Fatalf("released total = %v", dist["released"])
	}
	if got := srv.components.Bank.BalanceOf("USDC", testYieldCustody).String(); got != "0" {
		t.Fatalf("custody after drain = %s", got)
	}
}

func TestYieldCancelRefundsRemainder(t *testing.T) {
	now := testStart
	srv := newTestServer(t, &now, nil)
	if err := srv.components.Bank.Mint("USDC", testAdmin, big.NewInt(1000)); err != nil {
		t.Fatalf("fund admin: %v", err)
	}

	doRPC(t, srv, rpcPayload(1, "yield_register", map[string]any{
		"admin": testAdmin.String(), "asset": "USDC", "totalWei": "800",
		"startTime": testStart, "duration": 200,
	}), scopeAuthHeader(t, ScopeYieldAdmin), http.StatusOK)

	// A quarter vests and releases before the cancel.
	now += 50
	keeper := testAddr(0x55)
	doRPC(t, srv, rpcPayload(2, "yield_release", map[string]any{
		"from": keeper.String(), "ids": []uint64{1},
	}), nodeAuthHeader(), http.StatusOK)

	resp := doRPC(t, srv, rpcPayload(3, "yield_cancel", map[string]any{
		"admin": testAdmin.String(), "id": 1,
	}), scopeAuthHeader(t, ScopeYieldAdmin), http.StatusOK)
	cancelled := resultMap(t, resp)
	if cancelled["remainder"] != "600" {
		t.Fatalf("remainder = %v", cancelled["remainder"])
	}
	// 1000 minted - 800 escrowed + 600 refunded.
	if got := srv.components.Bank.BalanceOf("USDC", testAdmin).String(); got != "800" {
		t.Fatalf("admin balance after refund = %s", got)
	}

	// Cancelled distributions reject further operations.
	resp = doRPC(t, srv, rpcPayload(4, "yield_cancel", map[string]any{
		"admin": testAdmin.String(), "id": 1,
	}), scopeAuthHeader(t, ScopeYieldAdmin), http.StatusConflict)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("double cancel error = %+v", resp.Error)
	}
}

func TestYieldRegisterValidatesThroughRPC(t *testing.T) {
	now := testStart
	srv := newTestServer(t, &now, nil)
	if err := srv.components.Bank.Mint("USDC", testAdmin, big.NewInt(1000)); err != nil {
		t.Fatalf("fund admin: %v", err)
	}

	tests := []struct {
		name       string
		params     map[string]any
		wantStatus int
	}{
		{
			name: "unsupported asset",
			params: map[string]any{
				"admin": testAdmin.String(), "asset": "DAI", "totalWei": "100",
				"startTime": testStart, "duration": 100,
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "duration too short",
			params: map[string]any{
				"admin": testAdmin.String(), "asset": "USDC", "totalWei": "100",
				"startTime": testStart, "duration": 1,
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "start in past",
			params: map[string]any{
				"admin": testAdmin.String(), "asset": "USDC", "totalWei": "100",
				"startTime": testStart - 10, "duration": 100,
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "non-admin",
			params: map[string]any{
				"admin": testUser.String(), "asset": "USDC", "totalWei": "100",
				"startTime": testStart, "duration": 100,
			},
			wantStatus: http.StatusForbidden,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRPC(t, srv, rpcPayload(1, "yield_register", tc.params),
				scopeAuthHeader(t, ScopeYieldAdmin), tc.wantStatus)
			if resp.Error == nil {
				t.Fatalf("expected error response")
			}
		})
	}

	// None of the rejected attempts may have moved funds or created state.
	if got := srv.components.Bank.BalanceOf("USDC", testAdmin).String(); got != "1000" {
		t.Fatalf("admin balance = %s", got)
	}
	resp := doRPC(t, srv, rpcPayload(2, "yield_listActive"), nil, http.StatusOK)
	listing := resultMap(t, resp)
	if listing["active"] != float64(0) {
		t.Fatalf("active = %v", listing["active"])
	}
}
