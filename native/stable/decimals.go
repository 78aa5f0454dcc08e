package stable

import "math/big"

// KUSDDecimals is the fixed precision of the protocol token. Every internal
// value amount is expressed in these units.
const KUSDDecimals uint8 = 18

var bigTen = big.NewInt(10)

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(int64(n)), nil)
}

// NormalizeAmount converts raw units of an asset with the given decimals into
// the 18-decimal representation KUSD is minted in. Scaling up is exact;
// scaling down floor-divides, so precision beyond 18 decimals is dropped.
func NormalizeAmount(raw *big.Int, decimals uint8) *big.Int {
	if raw == nil {
		return big.NewInt(0)
	}
	switch {
	case decimals == KUSDDecimals:
		return new(big.Int).Set(raw)
	case decimals < KUSDDecimals:
		return new(big.Int).Mul(raw, pow10(KUSDDecimals-decimals))
	default:
		return new(big.Int).Quo(raw, pow10(decimals-KUSDDecimals))
	}
}

// DenormalizeAmount converts an 18-decimal value back into raw asset units
// using the same scaling rule: payouts against coarser assets floor-divide,
// finer assets scale up exactly.
func DenormalizeAmount(value *big.Int, decimals uint8) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	switch {
	case decimals == KUSDDecimals:
		return new(big.Int).Set(value)
	case decimals < KUSDDecimals:
		return new(big.Int).Quo(value, pow10(KUSDDecimals-decimals))
	default:
		return new(big.Int).Mul(value, pow10(decimals-KUSDDecimals))
	}
}
