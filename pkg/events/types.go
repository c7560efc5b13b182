package events

import "encoding/json"

// Event name constants
const (
	CalibrationPhase        = "calibration.phase"
	CalibrationCapture      = "calibration.capture"
	CalibrationInsufficient = "calibration.insufficient"
	CalibrationSolved       = "calibration.solved"
	CalibrationFailed       = "calibration.failed"
	TrackerMarkers          = "tracker.markers"
)

// Event is a generic event published by a session.
type Event struct {
	Name string          // event name
	Data json.RawMessage // Raw JSON payload
}

// CalibrationPhaseEvent is the typed payload for calibration.phase.
type CalibrationPhaseEvent struct {
	Session string `json:"session"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// CalibrationCaptureEvent is the payload for calibration.capture and
// calibration.insufficient. Accepted is false when the capture was ignored
// because the board was not fully visible.
type CalibrationCaptureEvent struct {
	Session  string `json:"session"`
	Captured int    `json:"captured"`
	Required int    `json:"required"`
	Accepted bool   `json:"accepted"`
	Ts       int64  `json:"ts"`
}

// CalibrationResultEvent is the payload for calibration.solved and
// calibration.failed.
type CalibrationResultEvent struct {
	Session string  `json:"session"`
	Frames  int     `json:"frames"`
	RMS     float64 `json:"rms,omitempty"`
	Path    string  `json:"path,omitempty"`
	Error   string  `json:"error,omitempty"`
	Ts      int64   `json:"ts"`
}

// TrackerMarkersEvent is published when the set of visible markers changes.
type TrackerMarkersEvent struct {
	Session string `json:"session"`
	IDs     []int  `json:"ids"`
	Ts      int64  `json:"ts"`
}

// DecodeAs unmarshals the payload of e into T without looking at its name.
// An event without data yields the zero T.
//
//	p, err := events.DecodeAs[events.TrackerMarkersEvent](ev)
//	if err == nil && len(p.IDs) == 0 {
//		// every marker left the view
//	}
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
