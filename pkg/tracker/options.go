package tracker

import (
	"github.com/charlie0129/posecam/pkg/events"
	"github.com/charlie0129/posecam/pkg/vision"
)

// Options configures a tracking session.
type Options struct {
	// FPS paces the loop: input is polled for at most 1000/FPS ms per frame.
	FPS int
	// MarkerLength is the printed marker edge length in meters.
	MarkerLength float64
	// AxisLength is the length of the drawn pose axes, in the same unit.
	AxisLength float64
	// AxisThickness is the line width of the axes in pixels.
	AxisThickness int
	WindowName    string
	// ExitKeys end the loop. When empty any key does.
	ExitKeys []int
}

func DefaultOptions() Options {
	return Options{
		FPS:           30,
		MarkerLength:  0.015,
		AxisLength:    0.1,
		AxisThickness: 2,
		WindowName:    "Webcam",
	}
}

// Deps are the collaborators of a tracking session.
type Deps struct {
	OpenSource  vision.OpenSourceFunc
	OpenDisplay vision.OpenDisplayFunc
	Detector    vision.MarkerDetector
	Estimator   vision.PoseEstimator
	Canvas      vision.Canvas
	// Events receives marker set changes. May be nil.
	Events *events.EventHub
}
