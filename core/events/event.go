package events

// Event represents a structured state change emitted by the protocol engines.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC stream,
// metrics recorder).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Func adapts a plain function into an Emitter.
type Func func(Event)

// Emit implements the Emitter interface.
func (f Func) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Tee fans every event out to all the given emitters in order. Nil entries
// are skipped.
func Tee(emitters ...Emitter) Emitter {
	return Func(func(evt Event) {
		for _, emitter := range emitters {
			if emitter != nil {
				emitter.Emit(evt)
			}
		}
	})
}
