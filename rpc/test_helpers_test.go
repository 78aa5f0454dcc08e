package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"kusdcore/crypto"
	"kusdcore/native/bank"
	"kusdcore/native/stable"
	"kusdcore/native/vault"
	"kusdcore/native/yield"
	"kusdcore/state"
)

const (
	testNodeToken = "node-secret-token"
	testJWTSecret = "rpc-admin-jwt-secret"

	testStart int64 = 1_900_000_000
)

var (
	testCustody      = testAddr(0xc0)
	testVaultAcct    = testAddr(0xa1)
	testYieldCustody = testAddr(0xd1)
	testUser         = testAddr(0x11)
	testAdmin        = testAddr(0xad)
)

func testAddr(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = b
	addr[19] = b
	return addr
}

// newTestComponents wires a full protocol graph against an adjustable clock.
func newTestComponents(t *testing.T, now *int64) state.Components {
	t.Helper()
	ledger := bank.NewLedger()
	if err := ledger.RegisterToken("USDC", "USD Coin", 6); err != nil {
		t.Fatalf("register USDC: %v", err)
	}
	if err := ledger.RegisterToken(stable.KUSDSymbol, "KUSD Stablecoin", 18); err != nil {
		t.Fatalf("register KUSD: %v", err)
	}

	pauses := state.NewPauseRegistry()
	roles := state.NewRoleRegistry()
	policy := state.NewPolicyRegistry()

	eng := stable.NewEngine()
	if err := eng.SetParams(stable.Params{
		Assets:             []stable.Asset{"USDC"},
		RedeemDelaySeconds: 3600,
		MaxOpenRedemptions: 4,
	}); err != nil {
		t.Fatalf("set stable params: %v", err)
	}
	eng.SetLedger(ledger)
	eng.SetCustody(testCustody)
	eng.SetVaultAccount(testVaultAcct)
	eng.SetAuthorization(roles)
	eng.SetPolicy(policy)
	eng.SetPauses(pauses)
	eng.SetNowFunc(func() int64 { return *now })

	v := vault.NewVault()
	v.SetLedger(ledger)
	v.SetMinter(eng)
	v.SetAccount(testVaultAcct)
	v.SetPauses(pauses)

	sched := yield.NewScheduler()
	if err := sched.SetParams(yield.Params{
		MinDurationSeconds: 5,
		MaxDurationSeconds: 1_000_000,
		MaxActive:          8,
	}); err != nil {
		t.Fatalf("set yield params: %v", err)
	}
	sched.SetLedger(ledger)
	sched.SetAuthorization(roles)
	sched.SetAssets(eng)
	sched.SetSink(v)
	sched.SetCustody(testYieldCustody)
	sched.SetSinkReserve(testCustody)
	sched.SetPauses(pauses)
	sched.SetNowFunc(func() int64 { return *now })

	return state.Components{
		Bank:   ledger,
		Stable: eng,
		Yield:  sched,
		Vault:  v,
		Pauses: pauses,
		Roles:  roles,
		Policy: policy,
	}
}

// newTestServer builds a server over freshly wired components with the admin
// roles granted and the test user funded with 50 USDC.
func newTestServer(t *testing.T, now *int64, mutate func(*ServerConfig)) *Server {
	t.Helper()
	components := newTestComponents(t, now)
	components.Roles.Grant(state.RoleAdmin, testAdmin)
	components.Roles.Grant(state.RoleManager, testAdmin)
	components.Roles.Grant(state.RolePauser, testAdmin)
	if err := components.Bank.Mint("USDC", testUser, big.NewInt(50_000_000)); err != nil {
		t.Fatalf("fund user: %v", err)
	}
	cfg := ServerConfig{
		NodeToken:       testNodeToken,
		JWTSecret:       []byte(testJWTSecret),
		RateLimitPerMin: 60_000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(components, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func nodeAuthHeader() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testNodeToken}
}

func signAdminJWT(t *testing.T, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "ops",
		"scope": scope,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

func scopeAuthHeader(t *testing.T, scope string) map[string]string {
	t.Helper()
	return map[string]string{"Authorization": "Bearer " + signAdminJWT(t, scope)}
}

func rpcPayload(id int, method string, params ...any) map[string]any {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if len(params) > 0 {
		payload["params"] = params
	}
	return payload
}

// doRPC posts one envelope straight into the handler and decodes the
// response.
func doRPC(t *testing.T, srv *Server, payload map[string]any, headers map[string]string, wantStatus int) RPCResponse {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	srv.handle(recorder, req)
	if recorder.Code != wantStatus {
		t.Fatalf("unexpected status %d body %s", recorder.Code, recorder.Body.String())
	}
	var resp RPCResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func resultMap(t *testing.T, resp RPCResponse) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result type %T", resp.Result)
	}
	return result
}
