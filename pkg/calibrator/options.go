package calibrator

import (
	"github.com/charlie0129/posecam/pkg/calibration"
	"github.com/charlie0129/posecam/pkg/events"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/vision"
)

// Options configures a calibration session.
type Options struct {
	// Board is the checkerboard held up to the camera.
	Board calibration.BoardGeometry
	// FPS paces the loop: input is polled for at most 1000/FPS ms per frame.
	FPS int
	// WindowName is the title of the preview window.
	WindowName string
	// CalibrationFile is where a successful solve is persisted.
	CalibrationFile string
	// Keymap binds keys to capture, solve and abort.
	Keymap calibration.Keymap
}

// DefaultOptions returns the defaults: 9x7 board with 2 cm squares, 20 fps,
// result written to "camCalib".
func DefaultOptions() Options {
	return Options{
		Board:           calibration.DefaultBoard(),
		FPS:             20,
		WindowName:      "Webcam",
		CalibrationFile: "camCalib",
		Keymap:          calibration.DefaultKeymap(),
	}
}

// Deps are the collaborators of a calibration session.
type Deps struct {
	OpenSource  vision.OpenSourceFunc
	OpenDisplay vision.OpenDisplayFunc
	Detector    vision.PatternDetector
	Solver      vision.CalibrationSolver
	// Events receives phase, capture and result events. May be nil.
	Events *events.EventHub
	// Save persists a solve result. Defaults to intrinsics.Save.
	Save func(path string, in *intrinsics.Intrinsics) error
}
