package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kusdcore/crypto"
	"kusdcore/native/stable"
)

func testAddr(b byte) crypto.Address {
	var addr crypto.Address
	addr[0] = b
	addr[crypto.AddressLength-1] = b
	return addr
}

var (
	custodyStr = testAddr(0xc0).String()
	vaultStr   = testAddr(0xa1).String()
	yieldStr   = testAddr(0xd1).String()
	adminStr   = testAddr(0xad).String()
	userStr    = testAddr(0x11).String()
)

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fullConfigTOML() string {
	return fmt.Sprintf(`DataDir = "./data"
NetworkName = "kusd-test"
LogPath = "./logs/kusdd.log"

[Stable]
MinDepositWei = "1000000000000000000"
GlobalLimitWei = "5000000000000000000000000"
RedeemDelaySeconds = 3600
MaxOpenRedemptions = 8
CustodyAddress = "%s"
VaultAddress = "%s"

[[Stable.Assets]]
Symbol = "usdc"
Name = "USD Coin"
Decimals = 6
LimitWei = "2000000000000000000000000"

[[Stable.Assets]]
Symbol = "USDT"
Name = "Tether USD"
Decimals = 6

[Yield]
MinDurationSeconds = 600
MaxDurationSeconds = 86400
MaxActive = 4
CustodyAddress = "%s"

[[Bank.Genesis]]
Address = "%s"
Symbol = "USDC"
Amount = "1000000000"

[Roles]
Admins = ["%s"]
Pausers = ["%s"]

[Policy]
AllowlistEnabled = true
Allowed = ["%s"]

[RPC]
ListenAddress = ":9090"
RateLimitPerMin = 120
JWTSecretEnv = "KUSD_TEST_SECRET"
`, custodyStr, vaultStr, yieldStr, userStr, adminStr, adminStr, userStr)
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load missing config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.NetworkName != "kusd-local" {
		t.Fatalf("unexpected network name: %s", cfg.NetworkName)
	}
	if len(cfg.Stable.Assets) != 2 || cfg.Stable.Assets[0].Symbol != "USDC" {
		t.Fatalf("unexpected default assets: %+v", cfg.Stable.Assets)
	}
	if cfg.Stable.RedeemDelaySeconds != 86400 || cfg.Stable.MaxOpenRedemptions != 16 {
		t.Fatalf("unexpected redemption defaults: %+v", cfg.Stable)
	}
	if cfg.RPC.ListenAddress != ":8080" || cfg.RPC.RateLimitPerMin != 600 {
		t.Fatalf("unexpected RPC defaults: %+v", cfg.RPC)
	}
	if cfg.RPC.IdempotencyPath != filepath.Join(cfg.DataDir, "idempotency.db") {
		t.Fatalf("unexpected idempotency path: %s", cfg.RPC.IdempotencyPath)
	}

	// The persisted file must load back without defaults kicking in again.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload persisted default: %v", err)
	}
	if reloaded.Stable.RedeemDelaySeconds != cfg.Stable.RedeemDelaySeconds {
		t.Fatalf("reload drifted: %+v", reloaded.Stable)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTestConfig(t, `DataDir = "./data"
BootstrapPeers = ["10.0.0.1:6001"]
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "BootstrapPeers") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsDeprecatedGlobalCap(t *testing.T) {
	path := writeTestConfig(t, `[Stable]
GlobalCapWei = "1000"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "Stable.GlobalLimitWei") {
		t.Fatalf("expected deprecation hint, got %v", err)
	}
}

func TestParameterConversion(t *testing.T) {
	path := writeTestConfig(t, fullConfigTOML())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	params, err := cfg.StableParams()
	if err != nil {
		t.Fatalf("stable params: %v", err)
	}
	if len(params.Assets) != 2 || params.Assets[0] != "USDC" || params.Assets[1] != "USDT" {
		t.Fatalf("asset symbols not normalized: %v", params.Assets)
	}
	wantMin := new(big.Int)
	wantMin.SetString("1000000000000000000", 10)
	if params.MinDepositWei.Cmp(wantMin) != 0 {
		t.Fatalf("unexpected min deposit: %s", params.MinDepositWei)
	}
	if params.RedeemDelaySeconds != 3600 || params.MaxOpenRedemptions != 8 {
		t.Fatalf("unexpected redemption params: %+v", params)
	}

	global, err := cfg.GlobalLimit()
	if err != nil {
		t.Fatalf("global limit: %v", err)
	}
	wantGlobal := new(big.Int)
	wantGlobal.SetString("5000000000000000000000000", 10)
	if global.Cmp(wantGlobal) != 0 {
		t.Fatalf("unexpected global limit: %s", global)
	}

	usdcLimit, err := cfg.Stable.Assets[0].Limit()
	if err != nil {
		t.Fatalf("asset limit: %v", err)
	}
	wantLimit := new(big.Int)
	wantLimit.SetString("2000000000000000000000000", 10)
	if usdcLimit.Cmp(wantLimit) != 0 {
		t.Fatalf("unexpected USDC limit: %s", usdcLimit)
	}
	usdtLimit, err := cfg.Stable.Assets[1].Limit()
	if err != nil {
		t.Fatalf("asset limit: %v", err)
	}
	if !stable.IsUnlimited(usdtLimit) {
		t.Fatalf("empty LimitWei should mean unlimited, got %s", usdtLimit)
	}

	yp := cfg.YieldParams()
	if yp.MinDurationSeconds != 600 || yp.MaxDurationSeconds != 86400 || yp.MaxActive != 4 {
		t.Fatalf("unexpected yield params: %+v", yp)
	}

	custody, err := cfg.StableCustody()
	if err != nil {
		t.Fatalf("custody address: %v", err)
	}
	if custody != testAddr(0xc0) {
		t.Fatalf("unexpected custody address: %s", custody)
	}
	vault, err := cfg.StableVault()
	if err != nil {
		t.Fatalf("vault address: %v", err)
	}
	if vault != testAddr(0xa1) {
		t.Fatalf("unexpected vault address: %s", vault)
	}
	yieldCustody, err := cfg.YieldCustody()
	if err != nil {
		t.Fatalf("yield custody address: %v", err)
	}
	if yieldCustody != testAddr(0xd1) {
		t.Fatalf("unexpected yield custody: %s", yieldCustody)
	}

	grants, err := cfg.RoleGrants()
	if err != nil {
		t.Fatalf("role grants: %v", err)
	}
	if len(grants.Admins) != 1 || grants.Admins[0] != testAddr(0xad) {
		t.Fatalf("unexpected admins: %v", grants.Admins)
	}
	if len(grants.Managers) != 0 || len(grants.Pausers) != 1 {
		t.Fatalf("unexpected role counts: %+v", grants)
	}

	seed, err := cfg.PolicySeed()
	if err != nil {
		t.Fatalf("policy seed: %v", err)
	}
	if !seed.AllowlistEnabled || len(seed.Allowed) != 1 || seed.Allowed[0] != testAddr(0x11) {
		t.Fatalf("unexpected policy seed: %+v", seed)
	}

	allocs, err := cfg.Allocations()
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if len(allocs) != 1 || allocs[0].Symbol != "USDC" || allocs[0].Amount.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected allocations: %+v", allocs)
	}
}

func TestValidateConfigAcceptsFullConfig(t *testing.T) {
	path := writeTestConfig(t, fullConfigTOML())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateConfigRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "custody equals vault",
			mutate:  func(c *Config) { c.Stable.VaultAddress = custodyStr },
			wantErr: "CustodyAddress and VaultAddress",
		},
		{
			name:    "yield custody equals stable custody",
			mutate:  func(c *Config) { c.Yield.CustodyAddress = custodyStr },
			wantErr: "differ from Stable.CustodyAddress",
		},
		{
			name:    "yield custody equals vault",
			mutate:  func(c *Config) { c.Yield.CustodyAddress = vaultStr },
			wantErr: "differ from Stable.VaultAddress",
		},
		{
			name: "genesis for unknown token",
			mutate: func(c *Config) {
				c.Bank.Genesis = append(c.Bank.Genesis, GenesisAllocation{Address: userStr, Symbol: "DAI", Amount: "5"})
			},
			wantErr: "unconfigured token DAI",
		},
		{
			name:    "asset without name",
			mutate:  func(c *Config) { c.Stable.Assets[1].Name = " " },
			wantErr: "missing Name",
		},
		{
			name:    "malformed asset limit",
			mutate:  func(c *Config) { c.Stable.Assets[0].LimitWei = "1e18" },
			wantErr: "LimitWei",
		},
		{
			name:    "negative min deposit",
			mutate:  func(c *Config) { c.Stable.MinDepositWei = "-5" },
			wantErr: "MinDepositWei",
		},
		{
			name:    "duplicate asset",
			mutate:  func(c *Config) { c.Stable.Assets[1].Symbol = "USDC" },
			wantErr: "duplicate asset",
		},
		{
			name:    "kusd as reserve asset",
			mutate:  func(c *Config) { c.Stable.Assets[1].Symbol = "KUSD" },
			wantErr: "cannot be a reserve asset",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RPC.RateLimitPerMin = 0 },
			wantErr: "RateLimitPerMin",
		},
		{
			name: "two jwt secret sources",
			mutate: func(c *Config) {
				c.RPC.JWTSecretFile = "./secret"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad role address",
			mutate:  func(c *Config) { c.Roles.Admins = []string{"kusd1garbage"} },
			wantErr: "Roles.Admins",
		},
		{
			name:    "yield duration inverted",
			mutate:  func(c *Config) { c.Yield.MaxDurationSeconds = 1 },
			wantErr: "max duration below min",
		},
		{
			name:    "webhook endpoint without secret",
			mutate:  func(c *Config) { c.Webhook.Endpoint = "https://hooks.example.com/kusd" },
			wantErr: "Endpoint set without SecretEnv",
		},
		{
			name: "negative webhook attempts",
			mutate: func(c *Config) {
				c.Webhook = WebhookConfig{Endpoint: "https://hooks.example.com/kusd", SecretEnv: "HOOK_SECRET", MaxAttempts: -1}
			},
			wantErr: "MaxAttempts",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTestConfig(t, fullConfigTOML())
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load config: %v", err)
			}
			tc.mutate(cfg)
			err = ValidateConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseWeiAmount(t *testing.T) {
	if v, err := parseWeiAmount("  42  "); err != nil || v.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("trimmed parse failed: %v %v", v, err)
	}
	if v, err := parseWeiAmount(""); err != nil || v != nil {
		t.Fatalf("empty should be nil: %v %v", v, err)
	}
	if _, err := parseWeiAmount("0x10"); err == nil {
		t.Fatalf("hex should be rejected")
	}
	if _, err := parseWeiAmount("-1"); err == nil {
		t.Fatalf("negative should be rejected")
	}
}
