package resource

// Handle is an id handed to the engine as an opaque context pointer.
// Handle 0 is reserved: the engine reads it as a null pointer.
type Handle uint32

// EventType is a root lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventCloned
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventCloned:
		return "cloned"
	case EventDropped:
		return "dropped"
	}
	return "unknown"
}

// Event describes a change to a root.
type Event struct {
	Root *Root
	Kind string
	Ptr  uint32
	Type EventType
}

// Observer receives root lifecycle events.
type Observer interface {
	OnRootEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRootEvent(e Event) { f(e) }

// Dropper is optionally implemented by registry values that need cleanup
// when the registry closes with them still registered.
type Dropper interface {
	Drop()
}
