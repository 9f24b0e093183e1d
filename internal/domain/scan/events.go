package scan

// EventKind identifies a notification emitted by the engine for the UI layer.
type EventKind string

const (
	// EventUpdate signals that lines changed and views must refresh.
	EventUpdate EventKind = "update"
	// EventFlash asks the UI to flash the scanned area.
	EventFlash EventKind = "flash"
	// EventSound asks the UI to play a feedback sound.
	EventSound EventKind = "playSound"
	// EventNotify carries a user-facing message.
	EventNotify EventKind = "notify"
	// EventCountToProcess announces how many sub-barcodes a composite scan holds.
	EventCountToProcess EventKind = "addBarcodesCountToProcess"
	// EventCountProcessed reports progress through a composite scan.
	EventCountProcessed EventKind = "updateBarcodesCountProcessed"
)

// NotifyLevel grades user-facing messages.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyDanger  NotifyLevel = "danger"
)

// Event is one notification for the UI layer.
type Event struct {
	Kind    EventKind   `json:"kind"`
	Level   NotifyLevel `json:"level,omitempty"`
	Title   string      `json:"title,omitempty"`
	Message string      `json:"message,omitempty"`
	Sound   string      `json:"sound,omitempty"`
	Count   int         `json:"count,omitempty"`
}

// emitter fans events out to a buffered channel. Slow consumers drop events
// rather than stall the scan pipeline.
type emitter struct {
	ch chan Event
}

func newEmitter(buffer int) *emitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &emitter{ch: make(chan Event, buffer)}
}

func (e *emitter) emit(ev Event) {
	select {
	case e.ch <- ev:
	default:
	}
}

func (e *emitter) events() <-chan Event { return e.ch }
