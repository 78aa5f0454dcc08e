package config

import (
	"fmt"
	"math/big"
	"strings"

	"kusdcore/crypto"
	"kusdcore/native/stable"
	"kusdcore/native/yield"
)

// parseWeiAmount parses a decimal wei string. Empty means "not configured"
// and maps to nil so callers can fall back to their own default.
func parseWeiAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", value)
	}
	return amount, nil
}

// Limit parses the per-asset deposit cap. An empty LimitWei disables the cap.
func (a AssetConfig) Limit() (*big.Int, error) {
	limit, err := parseWeiAmount(a.LimitWei)
	if err != nil {
		return nil, fmt.Errorf("invalid Stable.Assets[%s].LimitWei: %w", a.Symbol, err)
	}
	if limit == nil {
		return stable.Unlimited, nil
	}
	return limit, nil
}

// StableParams converts the stable section into runtime engine parameters.
func (c *Config) StableParams() (stable.Params, error) {
	params := stable.Params{
		RedeemDelaySeconds: c.Stable.RedeemDelaySeconds,
		MaxOpenRedemptions: c.Stable.MaxOpenRedemptions,
	}
	for _, asset := range c.Stable.Assets {
		params.Assets = append(params.Assets, stable.Asset(strings.ToUpper(strings.TrimSpace(asset.Symbol))))
	}
	minDeposit, err := parseWeiAmount(c.Stable.MinDepositWei)
	if err != nil {
		return params, fmt.Errorf("invalid Stable.MinDepositWei: %w", err)
	}
	params.MinDepositWei = minDeposit
	return params, nil
}

// GlobalLimit parses the protocol-wide deposit cap. An empty value disables
// the cap.
func (c *Config) GlobalLimit() (*big.Int, error) {
	limit, err := parseWeiAmount(c.Stable.GlobalLimitWei)
	if err != nil {
		return nil, fmt.Errorf("invalid Stable.GlobalLimitWei: %w", err)
	}
	if limit == nil {
		return stable.Unlimited, nil
	}
	return limit, nil
}

// YieldParams converts the yield section into scheduler parameters.
func (c *Config) YieldParams() yield.Params {
	return yield.Params{
		MinDurationSeconds: c.Yield.MinDurationSeconds,
		MaxDurationSeconds: c.Yield.MaxDurationSeconds,
		MaxActive:          c.Yield.MaxActive,
	}
}

// StableCustody parses the reserve custody account address.
func (c *Config) StableCustody() (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(c.Stable.CustodyAddress)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid Stable.CustodyAddress: %w", err)
	}
	return addr, nil
}

// StableVault parses the staking vault account address.
func (c *Config) StableVault() (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(c.Stable.VaultAddress)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid Stable.VaultAddress: %w", err)
	}
	return addr, nil
}

// YieldCustody parses the distribution custody account address.
func (c *Config) YieldCustody() (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(c.Yield.CustodyAddress)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid Yield.CustodyAddress: %w", err)
	}
	return addr, nil
}

func decodeAddressList(field string, raw []string) ([]crypto.Address, error) {
	addrs := make([]crypto.Address, 0, len(raw))
	for _, entry := range raw {
		addr, err := crypto.DecodeAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", field, entry, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// RoleGrants is the parsed form of the Roles section.
type RoleGrants struct {
	Admins   []crypto.Address
	Managers []crypto.Address
	Pausers  []crypto.Address
}

// RoleGrants parses the configured role members into addresses.
func (c *Config) RoleGrants() (RoleGrants, error) {
	var grants RoleGrants
	admins, err := decodeAddressList("Roles.Admins", c.Roles.Admins)
	if err != nil {
		return grants, err
	}
	grants.Admins = admins
	managers, err := decodeAddressList("Roles.Managers", c.Roles.Managers)
	if err != nil {
		return grants, err
	}
	grants.Managers = managers
	pausers, err := decodeAddressList("Roles.Pausers", c.Roles.Pausers)
	if err != nil {
		return grants, err
	}
	grants.Pausers = pausers
	return grants, nil
}

// PolicySeed is the parsed form of the Policy section.
type PolicySeed struct {
	AllowlistEnabled bool
	Allowed          []crypto.Address
	Denied           []crypto.Address
}

// PolicySeed parses the configured allow and deny lists into addresses.
func (c *Config) PolicySeed() (PolicySeed, error) {
	seed := PolicySeed{AllowlistEnabled: c.Policy.AllowlistEnabled}
	allowed, err := decodeAddressList("Policy.Allowed", c.Policy.Allowed)
	if err != nil {
		return seed, err
	}
	seed.Allowed = allowed
	denied, err := decodeAddressList("Policy.Denied", c.Policy.Denied)
	if err != nil {
		return seed, err
	}
	seed.Denied = denied
	return seed, nil
}

// Allocation is one parsed genesis balance grant.
type Allocation struct {
	Address crypto.Address
	Symbol  string
	Amount  *big.Int
}

// Allocations parses the genesis balance grants.
func (c *Config) Allocations() ([]Allocation, error) {
	allocs := make([]Allocation, 0, len(c.Bank.Genesis))
	for i, entry := range c.Bank.Genesis {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid Bank.Genesis[%d].Address: %w", i, err)
		}
		amount, err := parseWeiAmount(entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid Bank.Genesis[%d].Amount: %w", i, err)
		}
		if amount == nil || amount.Sign() == 0 {
			return nil, fmt.Errorf("invalid Bank.Genesis[%d].Amount: zero allocation", i)
		}
		allocs = append(allocs, Allocation{
			Address: addr,
			Symbol:  strings.ToUpper(strings.TrimSpace(entry.Symbol)),
			Amount:  amount,
		})
	}
	return allocs, nil
}
