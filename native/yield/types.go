package yield

import (
	"fmt"
	"math/big"

	"kusdcore/native/stable"
)

// Distribution is one pre-funded linear vesting schedule. TotalAmount and
// ReleasedAmount are raw asset units; the custody account holds the unvested
// remainder for as long as the distribution stays active.
type Distribution struct {
	ID             uint64
	Asset          stable.Asset
	TotalAmount    *big.Int
	ReleasedAmount *big.Int
	StartTime      int64
	Duration       int64
	Active         bool
}

// Clone returns a deep copy safe to hand across API boundaries.
func (d *Distribution) Clone() *Distribution {
	if d == nil {
		return nil
	}
	clone := &Distribution{
		ID:        d.ID,
		Asset:     d.Asset,
		StartTime: d.StartTime,
		Duration:  d.Duration,
		Active:    d.Active,
	}
	if d.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(d.TotalAmount)
	}
	if d.ReleasedAmount != nil {
		clone.ReleasedAmount = new(big.Int).Set(d.ReleasedAmount)
	}
	return clone
}

// Params bounds registration: vesting durations within [MinDuration,
// MaxDuration] and at most MaxActive concurrently live distributions.
type Params struct {
	MinDurationSeconds int64
	MaxDurationSeconds int64
	MaxActive          uint32
}

func (p Params) Validate() error {
	if p.MinDurationSeconds <= 0 {
		return fmt.Errorf("yield: params: min duration must be positive")
	}
	if p.MaxDurationSeconds < p.MinDurationSeconds {
		return fmt.Errorf("yield: params: max duration below min")
	}
	if p.MaxActive == 0 {
		return fmt.Errorf("yield: params: max active must be positive")
	}
	return nil
}

// SchedulerExport is the portable form of scheduler state used by snapshot
// persistence. ActiveIDs preserves the exact sequence order because
// swap-removal makes the order part of observable state.
type SchedulerExport struct {
	Distributions []*Distribution
	LastID        uint64
	ActiveIDs     []uint64
}
