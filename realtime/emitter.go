package realtime

// Emitter delivers a named event to a room. Implementations are best-effort:
// Emit never blocks on the network and never reports failure to the caller,
// errors are logged internally.
type Emitter interface {
	Emit(room Room, event string, payload any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Room, string, any) {}

// Fanout forwards each event to every wrapped emitter.
type Fanout []Emitter

func (f Fanout) Emit(room Room, event string, payload any) {
	for _, e := range f {
		if e != nil {
			e.Emit(room, event, payload)
		}
	}
}
