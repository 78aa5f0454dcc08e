package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"kusdcore/config"
	"kusdcore/native/stable"
)

type assetReport struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	LimitWei string `json:"limitWei"`
}

type auditReport struct {
	Network string `json:"network"`
	Stable  struct {
		Assets             []assetReport `json:"assets"`
		GlobalLimitWei     string        `json:"globalLimitWei"`
		MinDepositWei      string        `json:"minDepositWei"`
		RedeemDelaySeconds int64         `json:"redeemDelaySeconds"`
		MaxOpenRedemptions uint32        `json:"maxOpenRedemptions"`
		CustodyAddress     string        `json:"custodyAddress"`
		VaultAddress       string        `json:"vaultAddress"`
	} `json:"stable"`
	Yield struct {
		MinDurationSeconds int64  `json:"minDurationSeconds"`
		MaxDurationSeconds int64  `json:"maxDurationSeconds"`
		MaxActive          uint32 `json:"maxActive"`
		CustodyAddress     string `json:"custodyAddress"`
	} `json:"yield"`
	Roles struct {
		Admins   []string `json:"admins"`
		Managers []string `json:"managers"`
		Pausers  []string `json:"pausers"`
	} `json:"roles"`
	Policy struct {
		AllowlistEnabled bool `json:"allowlistEnabled"`
		Allowed          int  `json:"allowed"`
		Denied           int  `json:"denied"`
	} `json:"policy"`
	RPC struct {
		ListenAddress       string `json:"listenAddress"`
		RateLimitPerMin     int    `json:"rateLimitPerMin"`
		NodeTokenSet        bool   `json:"nodeTokenSet"`
		AdminAuthConfigured bool   `json:"adminAuthConfigured"`
	} `json:"rpc"`
	GenesisAllocations int `json:"genesisAllocations"`
}

func main() {
	configPath := flag.String("config", "./config.toml", "Path to node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config failed validation: %v\n", err)
		os.Exit(1)
	}

	report := auditReport{Network: cfg.NetworkName}

	for _, asset := range cfg.Stable.Assets {
		limit, err := asset.Limit()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to parse asset limit: %v\n", err)
			os.Exit(1)
		}
		report.Stable.Assets = append(report.Stable.Assets, assetReport{
			Symbol:   strings.ToUpper(strings.TrimSpace(asset.Symbol)),
			Decimals: asset.Decimals,
			LimitWei: formatLimit(limit),
		})
	}
	global, err := cfg.GlobalLimit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse global limit: %v\n", err)
		os.Exit(1)
	}
	params, err := cfg.StableParams()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse stable params: %v\n", err)
		os.Exit(1)
	}
	report.Stable.GlobalLimitWei = formatLimit(global)
	report.Stable.MinDepositWei = formatAmount(params.MinDepositWei)
	report.Stable.RedeemDelaySeconds = cfg.Stable.RedeemDelaySeconds
	report.Stable.MaxOpenRedemptions = cfg.Stable.MaxOpenRedemptions
	report.Stable.CustodyAddress = cfg.Stable.CustodyAddress
	report.Stable.VaultAddress = cfg.Stable.VaultAddress

	report.Yield.MinDurationSeconds = cfg.Yield.MinDurationSeconds
	report.Yield.MaxDurationSeconds = cfg.Yield.MaxDurationSeconds
	report.Yield.MaxActive = cfg.Yield.MaxActive
	report.Yield.CustodyAddress = cfg.Yield.CustodyAddress

	report.Roles.Admins = cfg.Roles.Admins
	report.Roles.Managers = cfg.Roles.Managers
	report.Roles.Pausers = cfg.Roles.Pausers

	report.Policy.AllowlistEnabled = cfg.Policy.AllowlistEnabled
	report.Policy.Allowed = len(cfg.Policy.Allowed)
	report.Policy.Denied = len(cfg.Policy.Denied)

	report.RPC.ListenAddress = cfg.RPC.ListenAddress
	report.RPC.RateLimitPerMin = cfg.RPC.RateLimitPerMin
	report.RPC.NodeTokenSet = strings.TrimSpace(cfg.RPC.NodeToken) != ""
	report.RPC.AdminAuthConfigured = strings.TrimSpace(cfg.RPC.JWTSecretEnv) != "" ||
		strings.TrimSpace(cfg.RPC.JWTSecretFile) != ""

	report.GenesisAllocations = len(cfg.Bank.Genesis)

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}

func formatLimit(limit *big.Int) string {
	if stable.IsUnlimited(limit) {
		return "unlimited"
	}
	return limit.String()
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
