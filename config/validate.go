package config

import (
	"fmt"
	"strings"

	"kusdcore/native/stable"
)

// ValidateConfig checks the loaded configuration for problems that would
// leave the node in an unusable or unsafe state. It is called once at boot,
// after Load, and before any component is constructed.
func ValidateConfig(c *Config) error {
	params, err := c.StableParams()
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	for _, asset := range c.Stable.Assets {
		if strings.TrimSpace(asset.Name) == "" {
			return fmt.Errorf("stable: asset %s missing Name", asset.Symbol)
		}
		if _, err := asset.Limit(); err != nil {
			return err
		}
	}
	if _, err := c.GlobalLimit(); err != nil {
		return err
	}

	if err := c.YieldParams().Validate(); err != nil {
		return err
	}

	custody, err := c.StableCustody()
	if err != nil {
		return err
	}
	vault, err := c.StableVault()
	if err != nil {
		return err
	}
	yieldCustody, err := c.YieldCustody()
	if err != nil {
		return err
	}
	// The three module accounts hold different books: mixing them lets one
	// balance satisfy two obligations.
	if custody == vault {
		return fmt.Errorf("stable: CustodyAddress and VaultAddress must differ")
	}
	if yieldCustody == custody {
		return fmt.Errorf("yield: CustodyAddress must differ from Stable.CustodyAddress")
	}
	if yieldCustody == vault {
		return fmt.Errorf("yield: CustodyAddress must differ from Stable.VaultAddress")
	}

	if _, err := c.RoleGrants(); err != nil {
		return err
	}
	if _, err := c.PolicySeed(); err != nil {
		return err
	}

	allocs, err := c.Allocations()
	if err != nil {
		return err
	}
	for _, alloc := range allocs {
		if alloc.Symbol == stable.KUSDSymbol {
			continue
		}
		if !params.IsAssetSupported(stable.Asset(alloc.Symbol)) {
			return fmt.Errorf("bank: genesis allocation for unconfigured token %s", alloc.Symbol)
		}
	}

	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		return fmt.Errorf("rpc: ListenAddress empty")
	}
	if c.RPC.RateLimitPerMin <= 0 {
		return fmt.Errorf("rpc: RateLimitPerMin <= 0")
	}
	if strings.TrimSpace(c.RPC.JWTSecretEnv) != "" && strings.TrimSpace(c.RPC.JWTSecretFile) != "" {
		return fmt.Errorf("rpc: JWTSecretEnv and JWTSecretFile are mutually exclusive")
	}

	if strings.TrimSpace(c.Webhook.Endpoint) != "" && strings.TrimSpace(c.Webhook.SecretEnv) == "" {
		return fmt.Errorf("webhook: Endpoint set without SecretEnv")
	}
	if c.Webhook.MaxAttempts < 0 {
		return fmt.Errorf("webhook: MaxAttempts negative")
	}
	return nil
}
