package config

import (
	"github.com/charlie0129/posecam/pkg/calibration"
)

type Config interface {
	// Device is a camera index ("0") or a video file path.
	Device() string
	CalibrationFile() string
	CalibrationFPS() int
	TrackingFPS() int
	Board() calibration.BoardGeometry
	MarkerLength() float64
	AxisLength() float64
	Dictionary() string
	CalibrateIfMissing() bool
	WindowName() string
	ExitKeys() []int

	SetDevice(string)
	SetCalibrationFile(string)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
