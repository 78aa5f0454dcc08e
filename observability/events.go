package observability

import (
	"math/big"

	"kusdcore/core/events"
	"kusdcore/core/types"
)

// EventRecorder feeds engine emissions into the yield metric registry so the
// release counters track every path (RPC, keeper, vault) without the engines
// knowing about Prometheus.
type EventRecorder struct{}

var _ events.Emitter = EventRecorder{}

// Emit implements events.Emitter.
func (EventRecorder) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	inner := payload.Event()
	if inner == nil {
		return
	}
	switch inner.Type {
	case "yield.released":
		amount, ok := new(big.Int).SetString(inner.Attributes["amount"], 10)
		if !ok {
			return
		}
		Yield().RecordReleased(inner.Attributes["asset"], amount)
	case "yield.distribution.completed":
		Yield().RecordCompletion()
	}
}
