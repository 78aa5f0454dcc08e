package config

// AssetConfig declares one reserve asset accepted for deposit. LimitWei
// caps cumulative deposits for the asset in KUSD wei; empty means
// unlimited.
type AssetConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
	LimitWei string `toml:"LimitWei,omitempty"`
}

// StableConfig drives the deposit and redemption engine.
type StableConfig struct {
	Assets             []AssetConfig `toml:"Assets"`
	MinDepositWei      string        `toml:"MinDepositWei,omitempty"`
	GlobalLimitWei     string        `toml:"GlobalLimitWei,omitempty"`
	RedeemDelaySeconds int64         `toml:"RedeemDelaySeconds"`
	MaxOpenRedemptions uint32        `toml:"MaxOpenRedemptions"`
	CustodyAddress     string        `toml:"CustodyAddress"`
	VaultAddress       string        `toml:"VaultAddress"`
}

// YieldConfig bounds distribution registration and names the custody
// account that pre-funded totals sit in while vesting.
type YieldConfig struct {
	MinDurationSeconds int64  `toml:"MinDurationSeconds"`
	MaxDurationSeconds int64  `toml:"MaxDurationSeconds"`
	MaxActive          uint32 `toml:"MaxActive"`
	CustodyAddress     string `toml:"CustodyAddress"`
}

// GenesisAllocation seeds a balance on first boot.
type GenesisAllocation struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	Amount  string `toml:"Amount"`
}

// BankConfig seeds the token ledger.
type BankConfig struct {
	Genesis []GenesisAllocation `toml:"Genesis,omitempty"`
}

// RolesConfig grants operator roles at boot. Entries are bech32 addresses.
type RolesConfig struct {
	Admins   []string `toml:"Admins,omitempty"`
	Managers []string `toml:"Managers,omitempty"`
	Pausers  []string `toml:"Pausers,omitempty"`
}

// PolicyConfig seeds the deposit allow/deny lists.
type PolicyConfig struct {
	AllowlistEnabled bool     `toml:"AllowlistEnabled"`
	Allowed          []string `toml:"Allowed,omitempty"`
	Denied           []string `toml:"Denied,omitempty"`
}

// RPCConfig configures the JSON-RPC listener.
type RPCConfig struct {
	ListenAddress   string `toml:"ListenAddress"`
	NodeToken       string `toml:"NodeToken,omitempty"`
	JWTSecretEnv    string `toml:"JWTSecretEnv,omitempty"`
	JWTSecretFile   string `toml:"JWTSecretFile,omitempty"`
	RateLimitPerMin int    `toml:"RateLimitPerMin"`
	IdempotencyPath string `toml:"IdempotencyPath,omitempty"`
}

// WebhookConfig forwards emitted protocol events to an operator endpoint.
// Deliveries are signed with the secret named by SecretEnv; an empty
// Endpoint disables forwarding.
type WebhookConfig struct {
	Endpoint    string `toml:"Endpoint,omitempty"`
	SecretEnv   string `toml:"SecretEnv,omitempty"`
	MaxAttempts int    `toml:"MaxAttempts,omitempty"`
}
