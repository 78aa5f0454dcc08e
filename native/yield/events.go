package yield

import (
	"math/big"
	"strconv"

	"kusdcore/core/types"
	"kusdcore/crypto"
)

const (
	EventTypeDistributionRegistered = "yield.distribution.registered"
	EventTypeReleased               = "yield.released"
	EventTypeDistributionCompleted  = "yield.distribution.completed"
	EventTypeDistributionCancelled  = "yield.distribution.cancelled"
)

func eventAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewDistributionRegisteredEvent emits the registration facts of a new
// distribution.
func NewDistributionRegisteredEvent(admin crypto.Address, d *Distribution) *types.Event {
	return &types.Event{
		Type: EventTypeDistributionRegistered,
		Attributes: map[string]string{
			"id":        strconv.FormatUint(d.ID, 10),
			"admin":     admin.String(),
			"asset":     d.Asset.String(),
			"total":     eventAmount(d.TotalAmount),
			"startTime": strconv.FormatInt(d.StartTime, 10),
			"duration":  strconv.FormatInt(d.Duration, 10),
		},
	}
}

// NewReleasedEvent records a single release against a distribution.
func NewReleasedEvent(caller crypto.Address, d *Distribution, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeReleased,
		Attributes: map[string]string{
			"id":       strconv.FormatUint(d.ID, 10),
			"caller":   caller.String(),
			"asset":    d.Asset.String(),
			"amount":   eventAmount(amount),
			"released": eventAmount(d.ReleasedAmount),
			"total":    eventAmount(d.TotalAmount),
		},
	}
}

// NewDistributionCompletedEvent marks a distribution fully vested.
func NewDistributionCompletedEvent(d *Distribution) *types.Event {
	return &types.Event{
		Type: EventTypeDistributionCompleted,
		Attributes: map[string]string{
			"id":    strconv.FormatUint(d.ID, 10),
			"asset": d.Asset.String(),
			"total": eventAmount(d.TotalAmount),
		},
	}
}

// NewDistributionCancelledEvent records an admin cancellation and the
// refunded remainder.
func NewDistributionCancelledEvent(admin crypto.Address, d *Distribution, remainder *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDistributionCancelled,
		Attributes: map[string]string{
			"id":        strconv.FormatUint(d.ID, 10),
			"admin":     admin.String(),
			"asset":     d.Asset.String(),
			"released":  eventAmount(d.ReleasedAmount),
			"remainder": eventAmount(remainder),
		},
	}
}
