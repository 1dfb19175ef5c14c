package events

// Event represents a structured state change emitted by the sale ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans a single event out to every registered emitter in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter builds a fan-out emitter. Nil entries are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	out := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			out.emitters = append(out.emitters, e)
		}
	}
	return out
}

// Emit implements the Emitter interface.
func (m *MultiEmitter) Emit(evt Event) {
	if m == nil {
		return
	}
	for _, e := range m.emitters {
		e.Emit(evt)
	}
}
