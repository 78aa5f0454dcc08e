package yield

import "errors"

var (
	ErrUnauthorized         = errors.New("yield: unauthorized")
	ErrAssetNotSupported    = errors.New("yield: asset not supported")
	ErrInvalidAmount        = errors.New("yield: amount must be positive")
	ErrDurationOutOfRange   = errors.New("yield: duration out of range")
	ErrStartInPast          = errors.New("yield: start time in past")
	ErrTooManyActive        = errors.New("yield: too many active distributions")
	ErrDistributionNotFound = errors.New("yield: distribution not found")
	ErrDistributionInactive = errors.New("yield: distribution inactive")
	ErrNothingDue           = errors.New("yield: nothing due")
	ErrInsufficientCustody  = errors.New("yield: insufficient custody")
)
