// Package sse implements the chat relay's wire framing: one JSON record per
// "data: " line, records separated by a blank line.
package sse

// DataPrefix marks a meaningful line. Lines without it (comments, event
// names, keep-alives) are ignored by decoders.
const DataPrefix = "data: "

// Frame is the JSON payload of one record. Exactly one of the fields is set.
type Frame struct {
	Text  *string `json:"text,omitempty"`
	Done  bool    `json:"done,omitempty"`
	Error string  `json:"error,omitempty"`
}

type EventKind int

const (
	EventText EventKind = iota + 1
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a decoded frame.
type Event struct {
	Kind  EventKind
	Text  string
	Error string
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}

func (f Frame) event() (Event, bool) {
	switch {
	case f.Error != "":
		return Event{Kind: EventError, Error: f.Error}, true
	case f.Done:
		return Event{Kind: EventDone}, true
	case f.Text != nil:
		return Event{Kind: EventText, Text: *f.Text}, true
	default:
		return Event{}, false
	}
}
