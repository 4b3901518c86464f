package assist

// EventType discriminates StreamEvent variants.
type EventType string

const (
	EventPartial   EventType = "partial"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// StreamEvent is one step of a session's lifecycle.
//
// Partial carries the cumulative text received so far; Completed carries the final text;
// Failed carries Kind, Message and Timeout, plus the Detail it was rendered from.
// Cancelled has no payload.
type StreamEvent struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
	Timeout bool      `json:"timeout,omitempty"`
	Detail  string    `json:"-"`
}

// Terminal reports whether e closes a session.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed || e.Type == EventCancelled
}

// Err returns the classified failure for a Failed event and nil otherwise.
func (e StreamEvent) Err() *Error {
	if e.Type != EventFailed {
		return nil
	}
	return &Error{Kind: e.Kind, Detail: e.Detail, Timeout: e.Timeout}
}

func partialEvent(text string) StreamEvent {
	return StreamEvent{Type: EventPartial, Text: text}
}

func completedEvent(text string) StreamEvent {
	return StreamEvent{Type: EventCompleted, Text: text}
}

func failedEvent(err *Error) StreamEvent {
	return StreamEvent{Type: EventFailed, Kind: err.Kind, Message: err.Error(), Timeout: err.Timeout, Detail: err.Detail}
}

func cancelledEvent() StreamEvent {
	return StreamEvent{Type: EventCancelled}
}
