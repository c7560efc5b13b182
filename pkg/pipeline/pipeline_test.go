package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/posecam/pkg/calibration"
	"github.com/charlie0129/posecam/pkg/calibrator"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/tracker"
	"github.com/charlie0129/posecam/pkg/vision"
)

type fakeFrame struct{}

func (fakeFrame) Size() image.Point   { return image.Pt(640, 480) }
func (fakeFrame) Clone() vision.Frame { return fakeFrame{} }
func (fakeFrame) Close() error        { return nil }

type countingSource struct{ left int }

func (s *countingSource) Read() (vision.Frame, error) {
	if s.left == 0 {
		return nil, vision.ErrEndOfStream
	}
	s.left--
	return fakeFrame{}, nil
}

func (s *countingSource) Close() error { return nil }

type keyDisplay struct {
	keys []int
	n    int
}

func (d *keyDisplay) Show(vision.Frame) error { return nil }

func (d *keyDisplay) WaitKey(time.Duration) (int, bool) {
	defer func() { d.n++ }()
	if d.n < len(d.keys) {
		return d.keys[d.n], true
	}
	return -1, false
}

func (d *keyDisplay) Close() error { return nil }

type boardEverywhere struct{}

func (boardEverywhere) FindCorners(_ vision.Frame, pattern image.Point, _ bool) ([]r2.Vec, bool) {
	return make([]r2.Vec, pattern.X*pattern.Y), true
}

func (boardEverywhere) DrawCorners(vision.Frame, image.Point, []r2.Vec, bool) {}

type fixedSolver struct{ fx float64 }

func (s fixedSolver) Calibrate([][]r3.Vec, [][]r2.Vec, image.Point) (vision.Solution, error) {
	in, err := intrinsics.New([]float64{s.fx, 0, 320, 0, s.fx, 240, 0, 0, 1}, make([]float64, 8))
	return vision.Solution{Intrinsics: in, RMS: 0.3}, err
}

type noMarkers struct{}

func (noMarkers) Detect(vision.Frame) []vision.Marker { return nil }

func (noMarkers) DrawMarkers(vision.Frame, []vision.Marker) {}

func (noMarkers) DrawLine(vision.Frame, image.Point, image.Point, color.RGBA, int) {}

func (noMarkers) EstimatePoses([]vision.Marker, float64, *intrinsics.Intrinsics) ([]r3.Vec, []r3.Vec, error) {
	return nil, nil, nil
}

type harness struct {
	calOpened   int
	trackOpened int
	calKeys     []int
}

func (h *harness) deps() Deps {
	return Deps{
		Calibrator: calibrator.Deps{
			OpenSource: func() (vision.FrameSource, error) {
				h.calOpened++
				return &countingSource{left: 20}, nil
			},
			OpenDisplay: func(string) (vision.Display, error) { return &keyDisplay{keys: h.calKeys}, nil },
			Detector:    boardEverywhere{},
			Solver:      fixedSolver{fx: 612},
		},
		Tracker: tracker.Deps{
			OpenSource: func() (vision.FrameSource, error) {
				h.trackOpened++
				return &countingSource{left: 3}, nil
			},
			OpenDisplay: func(string) (vision.Display, error) { return &keyDisplay{}, nil },
			Detector:    noMarkers{},
			Estimator:   noMarkers{},
			Canvas:      noMarkers{},
		},
	}
}

func options(path string) Options {
	return Options{
		CalibrationFile:    path,
		CalibrateIfMissing: true,
		Calibrator:         calibrator.DefaultOptions(),
		Tracker:            tracker.DefaultOptions(),
	}
}

var solveKeys = []int{calibration.KeySpace, calibration.KeySpace, calibration.KeySpace, calibration.KeyEnter}

func writeCalibration(t *testing.T, path string, fx float64) {
	t.Helper()
	in, err := intrinsics.New([]float64{fx, 0, 320, 0, fx, 240, 0, 0, 1}, []float64{0.1, 0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := intrinsics.Save(path, in); err != nil {
		t.Fatal(err)
	}
}

func TestRunWithExistingCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camCalib")
	writeCalibration(t, path, 800)

	h := &harness{}
	if err := Run(context.Background(), options(path), h.deps()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if h.calOpened != 0 {
		t.Error("calibration must not run when a file exists")
	}
	if h.trackOpened != 1 {
		t.Errorf("expected tracking to open the source once, got %d", h.trackOpened)
	}
}

func TestPrepareCalibratesWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camCalib")
	h := &harness{calKeys: solveKeys}

	in, err := Prepare(context.Background(), options(path), h.deps())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if h.calOpened != 1 {
		t.Errorf("expected one calibration session, got %d", h.calOpened)
	}
	if got := in.CameraMatrix.At(0, 0); got != 612 {
		t.Errorf("expected the solved fx 612, got %v", got)
	}

	saved, err := intrinsics.Load(path)
	if err != nil {
		t.Fatalf("calibration was not written to %s: %v", path, err)
	}
	if got := saved.CameraMatrix.At(0, 0); got != 612 {
		t.Errorf("expected saved fx 612, got %v", got)
	}
}

func TestPrepareMissingWithoutCalibration(t *testing.T) {
	opts := options(filepath.Join(t.TempDir(), "camCalib"))
	opts.CalibrateIfMissing = false
	h := &harness{}

	_, err := Prepare(context.Background(), opts, h.deps())
	if !errors.Is(err, ErrNoCalibration) {
		t.Fatalf("expected ErrNoCalibration, got %v", err)
	}
	if h.calOpened != 0 || h.trackOpened != 0 {
		t.Error("no session should have started")
	}
}

func TestPrepareMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camCalib")
	if err := os.WriteFile(path, []byte("3\n3\n1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	h := &harness{calKeys: solveKeys}

	_, err := Prepare(context.Background(), options(path), h.deps())
	if !errors.Is(err, intrinsics.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if h.calOpened != 0 {
		t.Error("a malformed file must not trigger calibration")
	}
}

func TestPrepareForceCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camCalib")
	writeCalibration(t, path, 800)
	opts := options(path)
	opts.ForceCalibration = true
	opts.Calibrator.CalibrationFile = "elsewhere"
	h := &harness{calKeys: solveKeys}

	in, err := Prepare(context.Background(), opts, h.deps())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if got := in.CameraMatrix.At(0, 0); got != 612 {
		t.Errorf("expected recalibrated fx 612, got %v", got)
	}
	saved, err := intrinsics.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := saved.CameraMatrix.At(0, 0); got != 612 {
		t.Errorf("expected the calibration file to be replaced, fx %v", got)
	}
}

func TestRunCalibrationAborted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camCalib")
	h := &harness{calKeys: []int{calibration.KeySpace, calibration.KeyEscape}}

	err := Run(context.Background(), options(path), h.deps())
	if !errors.Is(err, calibrator.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if h.trackOpened != 0 {
		t.Error("tracking must not start without camera parameters")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no calibration file, stat error %v", err)
	}
}

func TestPrepareUsesLoadOverride(t *testing.T) {
	calls := 0
	h := &harness{}
	deps := h.deps()
	deps.Load = func(string) (*intrinsics.Intrinsics, error) {
		calls++
		return intrinsics.Default(), nil
	}

	in, err := Prepare(context.Background(), options("unused"), deps)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || in.CameraMatrix.At(2, 2) != 1 {
		t.Errorf("expected the injected loader result, calls=%d", calls)
	}
}
