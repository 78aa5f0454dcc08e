package stable

import "math/big"

// CapacityLedger tracks cumulative deposit totals against configured limits,
// globally and per asset. Totals only ever grow (redemptions do not unwind
// them), so a limit compares against all-time inflow, not net supply.
type CapacityLedger struct {
	globalLimit    *big.Int
	totalDeposited *big.Int
	assetLimits    map[Asset]*big.Int
	assetTotals    map[Asset]*big.Int
}

// NewCapacityLedger returns a ledger with no caps configured: the global
// limit starts at Unlimited and assets without an explicit limit are
// unlimited.
func NewCapacityLedger() *CapacityLedger {
	return &CapacityLedger{
		globalLimit:    new(big.Int).Set(Unlimited),
		totalDeposited: big.NewInt(0),
		assetLimits:    make(map[Asset]*big.Int),
		assetTotals:    make(map[Asset]*big.Int),
	}
}

// SetGlobalLimit replaces the global cap. Nil normalises to Unlimited.
// Lowering the limit below the current total is allowed and blocks further
// deposits without rewriting history; zero blocks everything outright.
func (l *CapacityLedger) SetGlobalLimit(limit *big.Int) error {
	normalized, err := normalizeLimit(limit)
	if err != nil {
		return err
	}
	l.globalLimit = normalized
	return nil
}

// SetAssetLimit replaces the cap for one asset. Nil or Unlimited removes the
// entry so the asset falls back to unlimited.
func (l *CapacityLedger) SetAssetLimit(asset Asset, limit *big.Int) error {
	normalized, err := normalizeLimit(limit)
	if err != nil {
		return err
	}
	if IsUnlimited(normalized) {
		delete(l.assetLimits, asset)
		return nil
	}
	l.assetLimits[asset] = normalized
	return nil
}

func normalizeLimit(limit *big.Int) (*big.Int, error) {
	if limit == nil {
		return new(big.Int).Set(Unlimited), nil
	}
	if limit.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(limit), nil
}

func (l *CapacityLedger) GlobalLimit() *big.Int {
	return new(big.Int).Set(l.globalLimit)
}

func (l *CapacityLedger) TotalDeposited() *big.Int {
	return new(big.Int).Set(l.totalDeposited)
}

// AssetLimit returns the configured cap for asset, Unlimited when none is
// set.
func (l *CapacityLedger) AssetLimit(asset Asset) *big.Int {
	if limit, ok := l.assetLimits[asset]; ok {
		return new(big.Int).Set(limit)
	}
	return new(big.Int).Set(Unlimited)
}

// DepositedForAsset returns the cumulative total recorded for asset.
func (l *CapacityLedger) DepositedForAsset(asset Asset) *big.Int {
	if total, ok := l.assetTotals[asset]; ok {
		return new(big.Int).Set(total)
	}
	return big.NewInt(0)
}

// RemainingGlobal returns headroom under the global limit, clamped at zero.
// An unlimited cap reports Unlimited.
func (l *CapacityLedger) RemainingGlobal() *big.Int {
	return remaining(l.globalLimit, l.totalDeposited)
}

// RemainingForAsset returns headroom under the asset's limit, clamped at
// zero. Assets without a configured limit report Unlimited.
func (l *CapacityLedger) RemainingForAsset(asset Asset) *big.Int {
	limit, ok := l.assetLimits[asset]
	if !ok {
		return new(big.Int).Set(Unlimited)
	}
	return remaining(limit, l.assetTotals[asset])
}

// EffectiveRemaining is the binding headroom for a deposit of asset: the
// smaller of the global and per-asset remainders, with Unlimited absorbing.
func (l *CapacityLedger) EffectiveRemaining(asset Asset) *big.Int {
	global := l.RemainingGlobal()
	perAsset := l.RemainingForAsset(asset)
	if global.Cmp(perAsset) <= 0 {
		return global
	}
	return perAsset
}

func remaining(limit, used *big.Int) *big.Int {
	if IsUnlimited(limit) {
		return new(big.Int).Set(Unlimited)
	}
	if used == nil {
		return new(big.Int).Set(limit)
	}
	rem := new(big.Int).Sub(limit, used)
	if rem.Sign() < 0 {
		rem.SetInt64(0)
	}
	return rem
}

// Reserve atomically admits amount against both the global and per-asset
// limits. Either both counters advance or neither does; the returned
// CapacityError names the scope that rejected the attempt.
func (l *CapacityLedger) Reserve(asset Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if rem := l.RemainingGlobal(); !IsUnlimited(rem) && amount.Cmp(rem) > 0 {
		return &CapacityError{
			Scope:     ScopeGlobal,
			Limit:     l.GlobalLimit(),
			Current:   l.TotalDeposited(),
			Attempted: new(big.Int).Set(amount),
		}
	}
	if rem := l.RemainingForAsset(asset); !IsUnlimited(rem) && amount.Cmp(rem) > 0 {
		return &CapacityError{
			Scope:     string(asset),
			Limit:     l.AssetLimit(asset),
			Current:   l.DepositedForAsset(asset),
			Attempted: new(big.Int).Set(amount),
		}
	}
	l.totalDeposited.Add(l.totalDeposited, amount)
	total, ok := l.assetTotals[asset]
	if !ok {
		total = big.NewInt(0)
		l.assetTotals[asset] = total
	}
	total.Add(total, amount)
	return nil
}

// unreserve rolls back a reservation whose follow-up transfer failed so no
// partial state survives the deposit call.
func (l *CapacityLedger) unreserve(asset Asset, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.totalDeposited.Sub(l.totalDeposited, amount)
	if l.totalDeposited.Sign() < 0 {
		l.totalDeposited.SetInt64(0)
	}
	if total, ok := l.assetTotals[asset]; ok {
		total.Sub(total, amount)
		if total.Sign() < 0 {
			total.SetInt64(0)
		}
	}
}

// CapacityExport is the portable form of the ledger used by snapshot
// persistence. All values are deep copies.
type CapacityExport struct {
	GlobalLimit    *big.Int
	TotalDeposited *big.Int
	AssetLimits    map[Asset]*big.Int
	AssetTotals    map[Asset]*big.Int
}

func (l *CapacityLedger) Export() CapacityExport {
	out := CapacityExport{
		GlobalLimit:    l.GlobalLimit(),
		TotalDeposited: l.TotalDeposited(),
		AssetLimits:    make(map[Asset]*big.Int, len(l.assetLimits)),
		AssetTotals:    make(map[Asset]*big.Int, len(l.assetTotals)),
	}
	for asset, limit := range l.assetLimits {
		out.AssetLimits[asset] = new(big.Int).Set(limit)
	}
	for asset, total := range l.assetTotals {
		out.AssetTotals[asset] = new(big.Int).Set(total)
	}
	return out
}

// Restore replaces the ledger contents with an exported snapshot.
func (l *CapacityLedger) Restore(export CapacityExport) {
	normalized, err := normalizeLimit(export.GlobalLimit)
	if err != nil {
		normalized = new(big.Int).Set(Unlimited)
	}
	l.globalLimit = normalized
	l.totalDeposited = big.NewInt(0)
	if export.TotalDeposited != nil && export.TotalDeposited.Sign() > 0 {
		l.totalDeposited.Set(export.TotalDeposited)
	}
	l.assetLimits = make(map[Asset]*big.Int, len(export.AssetLimits))
	for asset, limit := range export.AssetLimits {
		if limit == nil || IsUnlimited(limit) {
			continue
		}
		l.assetLimits[asset] = new(big.Int).Set(limit)
	}
	l.assetTotals = make(map[Asset]*big.Int, len(export.AssetTotals))
	for asset, total := range export.AssetTotals {
		if total == nil || total.Sign() <= 0 {
			continue
		}
		l.assetTotals[asset] = new(big.Int).Set(total)
	}
}
