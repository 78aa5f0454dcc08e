package stable

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNotAllowed             = errors.New("stable: caller not allowlisted")
	ErrForbidden              = errors.New("stable: caller forbidden")
	ErrUnauthorized           = errors.New("stable: unauthorized")
	ErrAssetNotSupported      = errors.New("stable: asset not supported")
	ErrInvalidAmount          = errors.New("stable: amount must be positive")
	ErrAmountTooSmall         = errors.New("stable: amount too small")
	ErrBelowMinimum           = errors.New("stable: deposit below minimum")
	ErrCapacityExceeded       = errors.New("stable: deposit capacity exceeded")
	ErrInsufficientBalance    = errors.New("stable: insufficient balance")
	ErrInsufficientReserve    = errors.New("stable: insufficient reserve")
	ErrRedemptionNotFound     = errors.New("stable: redemption not found")
	ErrRedemptionCompleted    = errors.New("stable: redemption already completed")
	ErrRedemptionNotReady     = errors.New("stable: redemption not ready")
	ErrTooManyOpenRedemptions = errors.New("stable: too many open redemptions")
)

// ScopeGlobal marks a capacity violation against the global limit rather
// than a per-asset one.
const ScopeGlobal = "global"

// CapacityError carries the numbers behind a rejected reserve so operators
// can see how far over the line the attempt was. It unwraps to
// ErrCapacityExceeded for errors.Is matching.
type CapacityError struct {
	Scope     string
	Limit     *big.Int
	Current   *big.Int
	Attempted *big.Int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("stable: capacity exceeded (%s): limit=%s current=%s attempted=%s",
		e.Scope, bigString(e.Limit), bigString(e.Current), bigString(e.Attempted))
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
