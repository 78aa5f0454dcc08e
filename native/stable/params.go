package stable

import (
	"fmt"
	"math/big"
)

// Unlimited is the sentinel limit disabling a cap: the maximum 256-bit
// unsigned value, which no cumulative total can reach.
var Unlimited = func() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 256)
	return v.Sub(v, big.NewInt(1))
}()

// IsUnlimited reports whether limit is the Unlimited sentinel. A nil limit
// counts as unlimited (no cap configured).
func IsUnlimited(limit *big.Int) bool {
	return limit == nil || limit.Cmp(Unlimited) == 0
}

// Params carries the deposit and redemption policy knobs. Limits live on the
// CapacityLedger, not here, so admin limit changes do not touch params.
type Params struct {
	Assets             []Asset
	MinDepositWei      *big.Int
	RedeemDelaySeconds int64
	MaxOpenRedemptions uint32
}

func (p Params) Validate() error {
	if len(p.Assets) == 0 {
		return fmt.Errorf("stable: params: at least one reserve asset required")
	}
	seen := make(map[Asset]struct{}, len(p.Assets))
	for _, asset := range p.Assets {
		if asset == "" {
			return fmt.Errorf("stable: params: empty asset symbol")
		}
		if string(asset) == KUSDSymbol {
			return fmt.Errorf("stable: params: %s cannot be a reserve asset", KUSDSymbol)
		}
		if _, ok := seen[asset]; ok {
			return fmt.Errorf("stable: params: duplicate asset %s", asset)
		}
		seen[asset] = struct{}{}
	}
	if p.MinDepositWei != nil && p.MinDepositWei.Sign() < 0 {
		return fmt.Errorf("stable: params: negative minimum deposit")
	}
	if p.RedeemDelaySeconds < 0 {
		return fmt.Errorf("stable: params: negative redeem delay")
	}
	if p.MaxOpenRedemptions == 0 {
		return fmt.Errorf("stable: params: max open redemptions must be positive")
	}
	return nil
}

// IsAssetSupported reports whether asset is a configured reserve asset.
func (p Params) IsAssetSupported(asset Asset) bool {
	for _, candidate := range p.Assets {
		if candidate == asset {
			return true
		}
	}
	return false
}

// Clone deep-copies the params so engine state cannot be mutated through a
// retained caller reference.
func (p Params) Clone() Params {
	clone := Params{
		RedeemDelaySeconds: p.RedeemDelaySeconds,
		MaxOpenRedemptions: p.MaxOpenRedemptions,
	}
	if len(p.Assets) > 0 {
		clone.Assets = append([]Asset(nil), p.Assets...)
	}
	if p.MinDepositWei != nil {
		clone.MinDepositWei = new(big.Int).Set(p.MinDepositWei)
	}
	return clone
}
