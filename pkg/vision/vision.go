// Package vision defines the contracts between the calibration and tracking
// sessions and the computer-vision library that backs them. Sessions only
// talk to these interfaces; package opencv implements them with gocv, and
// tests use scripted fakes.
package vision

import (
	"errors"
	"image"
	"image/color"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/posecam/pkg/intrinsics"
)

var (
	// ErrSourceUnavailable is returned when the video source cannot be opened.
	ErrSourceUnavailable = errors.New("video source unavailable")
	// ErrEndOfStream is returned by FrameSource.Read when no more frames can
	// be acquired.
	ErrEndOfStream = errors.New("end of stream")
)

// Frame is a single image owned by whoever acquired or cloned it.
type Frame interface {
	// Size returns width and height in pixels.
	Size() image.Point
	// Clone returns an independent copy.
	Clone() Frame
	Close() error
}

// FrameSource delivers frames from one camera or video file. It is owned by a
// single session at a time.
type FrameSource interface {
	// Read returns the next frame, or ErrEndOfStream.
	Read() (Frame, error)
	Close() error
}

// Display shows frames and reports keyboard input.
type Display interface {
	Show(f Frame) error
	// WaitKey waits at most timeout for a key press. ok is false when no key
	// was pressed.
	WaitKey(timeout time.Duration) (key int, ok bool)
	Close() error
}

// Canvas draws primitives onto frames.
type Canvas interface {
	DrawLine(f Frame, from, to image.Point, c color.RGBA, thickness int)
}

// PatternDetector finds the interior corners of a checkerboard.
type PatternDetector interface {
	// FindCorners looks for a board with pattern (columns x rows) interior
	// corners. fast trades accuracy for a quick rejection of frames without
	// a board.
	FindCorners(f Frame, pattern image.Point, fast bool) ([]r2.Vec, bool)
	DrawCorners(f Frame, pattern image.Point, corners []r2.Vec, found bool)
}

// Solution is the outcome of a calibration solve.
type Solution struct {
	Intrinsics *intrinsics.Intrinsics
	// RMS is the overall reprojection error in pixels.
	RMS float64
}

// CalibrationSolver computes intrinsics from matching object/image point sets.
type CalibrationSolver interface {
	Calibrate(objectPoints [][]r3.Vec, imagePoints [][]r2.Vec, imageSize image.Point) (Solution, error)
}

// Marker is one detected fiducial marker.
type Marker struct {
	ID int
	// Corners are clockwise starting top-left.
	Corners [4]r2.Vec
}

// Pose is a rotation vector plus a translation vector.
type Pose struct {
	Rotation    r3.Vec
	Translation r3.Vec
}

// MarkerDetector finds fiducial markers of one dictionary.
type MarkerDetector interface {
	Detect(f Frame) []Marker
	DrawMarkers(f Frame, markers []Marker)
}

// PoseEstimator estimates marker poses relative to the camera.
type PoseEstimator interface {
	// EstimatePoses returns one rotation and one translation vector per input
	// marker, index-aligned with markers.
	EstimatePoses(markers []Marker, markerLength float64, in *intrinsics.Intrinsics) (rvecs, tvecs []r3.Vec, err error)
}

// OpenSourceFunc opens the video source for a session.
type OpenSourceFunc func() (FrameSource, error)

// OpenDisplayFunc opens a window titled title.
type OpenDisplayFunc func(title string) (Display, error)

