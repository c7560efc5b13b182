package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/posecam/pkg/calibration"
	"github.com/charlie0129/posecam/pkg/calibrator"
	"github.com/charlie0129/posecam/pkg/pipeline"
	"github.com/charlie0129/posecam/pkg/tracker"
	"github.com/charlie0129/posecam/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Device:             ptr.To("0"),
		CalibrationFile:    ptr.To("camCalib"),
		CalibrationFPS:     ptr.To(20),
		TrackingFPS:        ptr.To(30),
		BoardColumns:       ptr.To(9),
		BoardRows:          ptr.To(7),
		SquareSize:         ptr.To(0.02),
		MarkerLength:       ptr.To(0.015),
		AxisLength:         ptr.To(0.1),
		Dictionary:         ptr.To("4x4_50"),
		CalibrateIfMissing: ptr.To(true),
		WindowName:         ptr.To("Webcam"),
		// Any key stops tracking unless exit keys are configured.
		ExitKeys: ptr.To([]int{}),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// DefaultPath returns $XDG_CONFIG_HOME/posecam/config.json, or config.json
// in the working directory when no user config directory is known.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(dir, "posecam", "config.json")
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	Device             *string  `json:"device,omitempty"`
	CalibrationFile    *string  `json:"calibrationFile,omitempty"`
	CalibrationFPS     *int     `json:"calibrationFPS,omitempty"`
	TrackingFPS        *int     `json:"trackingFPS,omitempty"`
	BoardColumns       *int     `json:"boardColumns,omitempty"`
	BoardRows          *int     `json:"boardRows,omitempty"`
	SquareSize         *float64 `json:"squareSize,omitempty"`
	MarkerLength       *float64 `json:"markerLength,omitempty"`
	AxisLength         *float64 `json:"axisLength,omitempty"`
	Dictionary         *string  `json:"dictionary,omitempty"`
	CalibrateIfMissing *bool    `json:"calibrateIfMissing,omitempty"`
	WindowName         *string  `json:"windowName,omitempty"`
	ExitKeys           *[]int   `json:"exitKeys,omitempty"`
}

// NewRawFileConfigFromConfig returns c with every field set.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	board := c.Board()
	return &RawFileConfig{
		Device:             ptr.To(c.Device()),
		CalibrationFile:    ptr.To(c.CalibrationFile()),
		CalibrationFPS:     ptr.To(c.CalibrationFPS()),
		TrackingFPS:        ptr.To(c.TrackingFPS()),
		BoardColumns:       ptr.To(board.Columns),
		BoardRows:          ptr.To(board.Rows),
		SquareSize:         ptr.To(board.SquareSize),
		MarkerLength:       ptr.To(c.MarkerLength()),
		AxisLength:         ptr.To(c.AxisLength()),
		Dictionary:         ptr.To(c.Dictionary()),
		CalibrateIfMissing: ptr.To(c.CalibrateIfMissing()),
		WindowName:         ptr.To(c.WindowName()),
		ExitKeys:           ptr.To(c.ExitKeys()),
	}, nil
}

// value returns the field selected by field, falling back to the default.
func value[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := field(f.c); v != nil {
		return *v
	}
	return *field(defaultFileConfig)
}

func (f *File) Device() string {
	return value(f, func(c *RawFileConfig) *string { return c.Device })
}

func (f *File) CalibrationFile() string {
	return value(f, func(c *RawFileConfig) *string { return c.CalibrationFile })
}

func (f *File) CalibrationFPS() int {
	return value(f, func(c *RawFileConfig) *int { return c.CalibrationFPS })
}

func (f *File) TrackingFPS() int {
	return value(f, func(c *RawFileConfig) *int { return c.TrackingFPS })
}

func (f *File) Board() calibration.BoardGeometry {
	return calibration.BoardGeometry{
		Columns:    value(f, func(c *RawFileConfig) *int { return c.BoardColumns }),
		Rows:       value(f, func(c *RawFileConfig) *int { return c.BoardRows }),
		SquareSize: value(f, func(c *RawFileConfig) *float64 { return c.SquareSize }),
	}
}

func (f *File) MarkerLength() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.MarkerLength })
}

func (f *File) AxisLength() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.AxisLength })
}

func (f *File) Dictionary() string {
	return value(f, func(c *RawFileConfig) *string { return c.Dictionary })
}

func (f *File) CalibrateIfMissing() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.CalibrateIfMissing })
}

func (f *File) WindowName() string {
	return value(f, func(c *RawFileConfig) *string { return c.WindowName })
}

func (f *File) ExitKeys() []int {
	return slices.Clone(value(f, func(c *RawFileConfig) *[]int { return c.ExitKeys }))
}

func (f *File) SetDevice(device string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Device = &device
}

func (f *File) SetCalibrationFile(path string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CalibrationFile = &path
}

// Validate rejects values no session can run with.
func (f *File) Validate() error {
	board := f.Board()
	switch {
	case f.Device() == "":
		return pkgerrors.New("device must not be empty")
	case f.CalibrationFile() == "":
		return pkgerrors.New("calibration file must not be empty")
	case f.CalibrationFPS() <= 0 || f.TrackingFPS() <= 0:
		return pkgerrors.Errorf("frame rates must be positive, got calibration %d, tracking %d", f.CalibrationFPS(), f.TrackingFPS())
	case board.Columns < 2 || board.Rows < 2:
		return pkgerrors.Errorf("board needs at least 2x2 interior corners, got %dx%d", board.Columns, board.Rows)
	case board.SquareSize <= 0:
		return pkgerrors.Errorf("square size must be positive, got %v", board.SquareSize)
	case f.MarkerLength() <= 0:
		return pkgerrors.Errorf("marker length must be positive, got %v", f.MarkerLength())
	case f.AxisLength() <= 0:
		return pkgerrors.Errorf("axis length must be positive, got %v", f.AxisLength())
	case f.Dictionary() == "":
		return pkgerrors.New("marker dictionary must not be empty")
	}
	return nil
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file means defaults. f.c stays non-nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// json.Decoder cannot tell an empty file from a broken one.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	if dir := filepath.Dir(f.filepath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return pkgerrors.Wrapf(err, "failed to create directory %s", dir)
		}
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

// Path is where Load and Save operate.
func (f *File) Path() string {
	return f.filepath
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	board := f.Board()
	return logrus.Fields{
		"device":             f.Device(),
		"calibrationFile":    f.CalibrationFile(),
		"calibrationFPS":     f.CalibrationFPS(),
		"trackingFPS":        f.TrackingFPS(),
		"board":              board.PatternSize().String(),
		"squareSize":         board.SquareSize,
		"markerLength":       f.MarkerLength(),
		"axisLength":         f.AxisLength(),
		"dictionary":         f.Dictionary(),
		"calibrateIfMissing": f.CalibrateIfMissing(),
	}
}

// CalibratorOptions converts c into calibration session options.
func CalibratorOptions(c Config) calibrator.Options {
	opts := calibrator.DefaultOptions()
	opts.Board = c.Board()
	opts.FPS = c.CalibrationFPS()
	opts.WindowName = c.WindowName()
	opts.CalibrationFile = c.CalibrationFile()
	return opts
}

// TrackerOptions converts c into tracking session options.
func TrackerOptions(c Config) tracker.Options {
	opts := tracker.DefaultOptions()
	opts.FPS = c.TrackingFPS()
	opts.MarkerLength = c.MarkerLength()
	opts.AxisLength = c.AxisLength()
	opts.WindowName = c.WindowName()
	opts.ExitKeys = c.ExitKeys()
	return opts
}

// PipelineOptions converts c into orchestrator options.
func PipelineOptions(c Config) pipeline.Options {
	return pipeline.Options{
		CalibrationFile:    c.CalibrationFile(),
		CalibrateIfMissing: c.CalibrateIfMissing(),
		Calibrator:         CalibratorOptions(c),
		Tracker:            TrackerOptions(c),
	}
}
