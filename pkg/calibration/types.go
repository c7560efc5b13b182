package calibration

import (
	"image"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Phase defines phases of a calibration session.
type Phase string

const (
	PhaseIdle             Phase = "Idle"
	PhaseStreaming        Phase = "Streaming"
	PhaseCaptureRequested Phase = "CaptureRequested"
	PhaseSolveRequested   Phase = "SolveRequested"
	PhaseCompleted        Phase = "Completed"
	PhaseTerminated       Phase = "Terminated"
)

// Done reports whether the session loop has ended.
func (p Phase) Done() bool {
	return p == PhaseCompleted || p == PhaseTerminated
}

// Action defines user commands during calibration.
type Action string

const (
	ActionNone    Action = ""
	ActionCapture Action = "Capture"
	ActionSolve   Action = "Solve"
	ActionAbort   Action = "Abort"
)

// Key codes as reported by the display.
const (
	KeySpace    = 32
	KeyEnter    = 13
	KeyLineFeed = 10
	KeyEscape   = 27
)

// Keymap maps key codes to actions.
type Keymap map[int]Action

// DefaultKeymap binds Space to capture, Enter to solve and Esc to abort.
func DefaultKeymap() Keymap {
	return Keymap{
		KeySpace:    ActionCapture,
		KeyEnter:    ActionSolve,
		KeyLineFeed: ActionSolve,
		KeyEscape:   ActionAbort,
	}
}

// Action returns the action bound to key, or ActionNone.
func (k Keymap) Action(key int) Action {
	// Some backends report modifier bits above the low byte.
	if a, ok := k[key]; ok {
		return a
	}
	if a, ok := k[key&0xff]; ok {
		return a
	}
	return ActionNone
}

// MinFrames is the smallest number of captured frames a solve accepts.
const MinFrames = 3

// BoardGeometry describes the checkerboard: the number of interior corners
// per row (Columns) and per column (Rows), and the edge length of one square
// in meters.
type BoardGeometry struct {
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"squareSize"`
}

// DefaultBoard is a 9x7 interior-corner board with 2 cm squares.
func DefaultBoard() BoardGeometry {
	return BoardGeometry{Columns: 9, Rows: 7, SquareSize: 0.02}
}

// PatternSize returns the board size in the form the detector expects.
func (b BoardGeometry) PatternSize() image.Point {
	return image.Pt(b.Columns, b.Rows)
}

// Corners returns the number of interior corners.
func (b BoardGeometry) Corners() int {
	return b.Columns * b.Rows
}

// ReferencePoints returns the corner positions of the board in its own frame:
// a planar grid at z = 0, row by row.
func (b BoardGeometry) ReferencePoints() []r3.Vec {
	pts := make([]r3.Vec, 0, b.Corners())
	for i := 0; i < b.Rows; i++ {
		for j := 0; j < b.Columns; j++ {
			pts = append(pts, r3.Vec{
				X: float64(j) * b.SquareSize,
				Y: float64(i) * b.SquareSize,
			})
		}
	}
	return pts
}

// Status is a snapshot of a calibration session.
type Status struct {
	Session   string    `json:"session"`
	Phase     Phase     `json:"phase"`
	Captured  int       `json:"captured"`
	Required  int       `json:"required"`
	LastFound bool      `json:"lastFound"`
	Frames    int       `json:"frames"`
	StartedAt time.Time `json:"startedAt"`
	CanSolve  bool      `json:"canSolve"`
	Message   string    `json:"message"`
}
