package stable

import (
	"math/big"
	"strings"
)

// Asset names a reserve asset accepted by the deposit engine. Symbols are
// normalised to upper case so lookups and ledger keys agree regardless of
// caller formatting.
type Asset string

// KUSDSymbol is the ledger symbol of the protocol token itself. KUSD always
// carries KUSDDecimals precision.
const KUSDSymbol = "KUSD"

// NormalizeAsset trims and upper-cases a raw symbol.
func NormalizeAsset(value string) Asset {
	return Asset(strings.ToUpper(strings.TrimSpace(value)))
}

func (a Asset) String() string {
	return string(a)
}

// Redemption is one time-locked exit request: KUSD escrowed at initiation,
// paid out in Asset units at completion. A nil or zero Amount marks the
// record as absent.
type Redemption struct {
	Asset      Asset
	Amount     *big.Int
	UnlockTime int64
	Completed  bool
}

// Clone returns a deep copy so callers can hand records across API
// boundaries without sharing big.Int internals.
func (r *Redemption) Clone() *Redemption {
	if r == nil {
		return nil
	}
	clone := &Redemption{
		Asset:      r.Asset,
		UnlockTime: r.UnlockTime,
		Completed:  r.Completed,
	}
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	return clone
}

// AssetLimit reports the capacity position of a single reserve asset.
type AssetLimit struct {
	Asset     Asset
	Limit     *big.Int
	Deposited *big.Int
	Remaining *big.Int
}

// Limits is the full capacity view served by the limits query.
type Limits struct {
	GlobalLimit     *big.Int
	TotalDeposited  *big.Int
	RemainingGlobal *big.Int
	Assets          []AssetLimit
}
