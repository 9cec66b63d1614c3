package events

import "encoding/json"

// Event name constants
const (
	CalibrationPhase       = "calibration.phase"
	CalibrationTitle       = "calibration.title"
	CalibrationMessage     = "calibration.message"
	CalibrationProgress    = "calibration.progress"
	CalibrationImage       = "calibration.image"
	CalibrationInteraction = "calibration.interaction"
	CalibrationState       = "calibration.state"
	CalibrationFinished    = "calibration.finished"
	CalibrationAction      = "calibration.action"
	CalibrationReminder    = "calibration.reminder"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// CalibrationPhaseEvent is the typed payload for calibration.phase.
type CalibrationPhaseEvent struct {
	SessionID string `json:"sessionId"`
	Phase     string `json:"phase"`
	Index     int    `json:"index"`
	Count     int    `json:"count"`
	Ts        int64  `json:"ts"`
}

// CalibrationTextEvent is the payload of calibration.title and
// calibration.message.
type CalibrationTextEvent struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Ts       int64  `json:"ts"`
}

type CalibrationProgressEvent struct {
	Percent int   `json:"percent"`
	Ts      int64 `json:"ts"`
}

type CalibrationImageEvent struct {
	Name string `json:"name"`
	Ts   int64  `json:"ts"`
}

// CalibrationInteractionEvent asks the user to confirm or cancel.
type CalibrationInteractionEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Button  string `json:"button,omitempty"`
	Ts      int64  `json:"ts"`
}

// CalibrationStateEvent reports an interaction state change.
type CalibrationStateEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// CalibrationFinishedEvent is published once per session.
type CalibrationFinishedEvent struct {
	SessionID   string `json:"sessionId"`
	ProfilePath string `json:"profilePath,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorKind   string `json:"errorKind,omitempty"`
	Ts          int64  `json:"ts"`
}

// CalibrationActionEvent acknowledges a user action (start, cancel,
// schedule changes).
type CalibrationActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// CalibrationReminderEvent announces a due recalibration.
type CalibrationReminderEvent struct {
	DueAt    int64  `json:"dueAt"`
	Upcoming bool   `json:"upcoming"`
	Message  string `json:"message"`
	Ts       int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.CalibrationPhaseEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Phase, payload.Index)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
