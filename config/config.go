package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir      string `toml:"DataDir"`
	NetworkName  string `toml:"NetworkName"`
	LogPath      string `toml:"LogPath,omitempty"`
	JournalPath  string `toml:"JournalPath,omitempty"`
	OTLPEndpoint string `toml:"OTLPEndpoint,omitempty"`

	Stable  StableConfig  `toml:"Stable"`
	Yield   YieldConfig   `toml:"Yield"`
	Bank    BankConfig    `toml:"Bank"`
	Roles   RolesConfig   `toml:"Roles"`
	Policy  PolicyConfig  `toml:"Policy"`
	RPC     RPCConfig     `toml:"RPC"`
	Webhook WebhookConfig `toml:"Webhook,omitempty"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	var unknown []string
	for _, undecoded := range meta.Undecoded() {
		key := undecoded.String()
		if key == "Stable.GlobalCapWei" {
			return nil, fmt.Errorf("config file %s uses deprecated Stable.GlobalCapWei; rename it to Stable.GlobalLimitWei", path)
		}
		unknown = append(unknown, key)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(unknown, ", "))
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "kusd-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./kusd-data"
	}
	if strings.TrimSpace(cfg.RPC.ListenAddress) == "" {
		cfg.RPC.ListenAddress = ":8080"
	}
	if cfg.RPC.RateLimitPerMin == 0 {
		cfg.RPC.RateLimitPerMin = 600
	}
	if strings.TrimSpace(cfg.RPC.IdempotencyPath) == "" {
		cfg.RPC.IdempotencyPath = filepath.Join(cfg.DataDir, "idempotency.db")
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:     "./kusd-data",
		NetworkName: "kusd-local",
		Stable: StableConfig{
			Assets: []AssetConfig{
				{Symbol: "USDC", Name: "USD Coin", Decimals: 6},
				{Symbol: "USDT", Name: "Tether USD", Decimals: 6},
			},
			MinDepositWei:      "0",
			RedeemDelaySeconds: 86400,
			MaxOpenRedemptions: 16,
		},
		Yield: YieldConfig{
			MinDurationSeconds: 3600,
			MaxDurationSeconds: 31_536_000,
			MaxActive:          16,
		},
		RPC: RPCConfig{
			ListenAddress:   ":8080",
			RateLimitPerMin: 600,
			JWTSecretEnv:    "KUSD_ADMIN_SECRET",
		},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
