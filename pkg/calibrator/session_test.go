package calibrator

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/posecam/pkg/calibration"
	"github.com/charlie0129/posecam/pkg/events"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/vision"
)

// fakeFrame is identified by the index of the read that produced it; clones
// keep the id so the detector answers the same way for captured copies.
type fakeFrame struct {
	id     int
	closed bool
	pool   *[]*fakeFrame
}

func (f *fakeFrame) Size() image.Point { return image.Pt(640, 480) }

func (f *fakeFrame) Clone() vision.Frame {
	c := &fakeFrame{id: f.id, pool: f.pool}
	*f.pool = append(*f.pool, c)
	return c
}

func (f *fakeFrame) Close() error {
	f.closed = true
	return nil
}

type scriptedSource struct {
	frames int
	read   int
	closed bool
	pool   []*fakeFrame
}

func (s *scriptedSource) Read() (vision.Frame, error) {
	if s.read >= s.frames {
		return nil, vision.ErrEndOfStream
	}
	s.read++
	f := &fakeFrame{id: s.read, pool: &s.pool}
	s.pool = append(s.pool, f)
	return f, nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

// scriptedDisplay answers the i-th WaitKey with keys[i]; missing or negative
// entries mean no key.
type scriptedDisplay struct {
	keys     []int
	waits    []time.Duration
	shown    int
	closed   bool
	openedAs string
}

func (d *scriptedDisplay) Show(vision.Frame) error {
	d.shown++
	return nil
}

func (d *scriptedDisplay) WaitKey(timeout time.Duration) (int, bool) {
	i := len(d.waits)
	d.waits = append(d.waits, timeout)
	if i < len(d.keys) && d.keys[i] >= 0 {
		return d.keys[i], true
	}
	return -1, false
}

func (d *scriptedDisplay) Close() error {
	d.closed = true
	return nil
}

type scriptedDetector struct {
	found      map[int]bool
	drawn      int
	slowChecks int
}

func (d *scriptedDetector) FindCorners(f vision.Frame, pattern image.Point, fast bool) ([]r2.Vec, bool) {
	if !fast {
		d.slowChecks++
	}
	if !d.found[f.(*fakeFrame).id] {
		return nil, false
	}
	return make([]r2.Vec, pattern.X*pattern.Y), true
}

func (d *scriptedDetector) DrawCorners(vision.Frame, image.Point, []r2.Vec, bool) { d.drawn++ }

type fakeSolver struct {
	calls   int
	failOn  map[int]bool
	objects [][]r3.Vec
	images  [][]r2.Vec
	size    image.Point
}

func (s *fakeSolver) Calibrate(objectPoints [][]r3.Vec, imagePoints [][]r2.Vec, size image.Point) (vision.Solution, error) {
	s.calls++
	s.objects, s.images, s.size = objectPoints, imagePoints, size
	if s.failOn[s.calls] {
		return vision.Solution{}, errors.New("solver diverged")
	}
	in := intrinsics.Default()
	in.CameraMatrix.Set(0, 0, 600)
	in.CameraMatrix.Set(1, 1, 600)
	in.CameraMatrix.Set(0, 2, 320)
	in.CameraMatrix.Set(1, 2, 240)
	return vision.Solution{Intrinsics: in, RMS: 0.25}, nil
}

type harness struct {
	src     *scriptedSource
	disp    *scriptedDisplay
	det     *scriptedDetector
	solver  *fakeSolver
	hub     *events.EventHub
	sub     chan events.Event
	path    string
	session *Session
}

func newHarness(t *testing.T, frames int, found []int, keys []int) *harness {
	t.Helper()
	h := &harness{
		src:    &scriptedSource{frames: frames},
		disp:   &scriptedDisplay{keys: keys},
		det:    &scriptedDetector{found: map[int]bool{}},
		solver: &fakeSolver{failOn: map[int]bool{}},
		hub:    events.NewEventHubWithBuffer(256),
		path:   filepath.Join(t.TempDir(), "camCalib"),
	}
	for _, id := range found {
		h.det.found[id] = true
	}
	h.sub = h.hub.Subscribe()

	opts := DefaultOptions()
	opts.CalibrationFile = h.path
	h.session = New(opts, Deps{
		OpenSource: func() (vision.FrameSource, error) { return h.src, nil },
		OpenDisplay: func(title string) (vision.Display, error) {
			h.disp.openedAs = title
			return h.disp, nil
		},
		Detector: h.det,
		Solver:   h.solver,
		Events:   h.hub,
	})
	return h
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-h.sub:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(evs []events.Event, name string) int {
	n := 0
	for _, ev := range evs {
		if ev.Name == name {
			n++
		}
	}
	return n
}

const (
	none  = -1
	space = calibration.KeySpace
	enter = calibration.KeyEnter
	esc   = calibration.KeyEscape
)

func TestCaptureGating(t *testing.T) {
	h := newHarness(t, 3, []int{2, 3}, []int{space, space, none})

	_, err := h.session.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted at end of stream, got %v", err)
	}

	st := h.session.Status()
	if st.Captured != 1 {
		t.Fatalf("expected exactly 1 captured frame, got %d", st.Captured)
	}
	if st.Phase != calibration.PhaseTerminated {
		t.Errorf("expected terminated phase, got %s", st.Phase)
	}
	if st.Frames != 3 {
		t.Errorf("expected 3 processed frames, got %d", st.Frames)
	}

	evs := h.drain()
	var accepted, rejected int
	for _, ev := range evs {
		if ev.Name != events.CalibrationCapture {
			continue
		}
		p, err := events.DecodeAs[events.CalibrationCaptureEvent](ev)
		if err != nil {
			t.Fatal(err)
		}
		if p.Accepted {
			accepted++
		} else {
			rejected++
		}
	}
	if accepted != 1 || rejected != 1 {
		t.Errorf("expected 1 accepted and 1 rejected capture, got %d and %d", accepted, rejected)
	}

	for _, f := range h.src.pool {
		if !f.closed {
			t.Errorf("frame %d (clone or original) was not released", f.id)
		}
	}
	if !h.src.closed || !h.disp.closed {
		t.Error("expected source and display to be closed")
	}
}

func TestFoundFramesShowOverlay(t *testing.T) {
	h := newHarness(t, 4, []int{1, 3}, nil)
	if _, err := h.session.Run(context.Background()); !errors.Is(err, ErrAborted) {
		t.Fatalf("unexpected error %v", err)
	}
	if h.det.drawn != 2 {
		t.Errorf("expected corners drawn on 2 frames, got %d", h.det.drawn)
	}
	if h.disp.shown != 4 {
		t.Errorf("expected every frame to be shown, got %d", h.disp.shown)
	}
	if h.disp.openedAs != "Webcam" {
		t.Errorf("unexpected window title %q", h.disp.openedAs)
	}
}

func TestSolveWithTooFewFrames(t *testing.T) {
	h := newHarness(t, 3, []int{1, 2, 3}, []int{space, space, enter})

	_, err := h.session.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if h.solver.calls != 0 {
		t.Errorf("solver must not run with 2 frames, ran %d times", h.solver.calls)
	}
	if _, err := os.Stat(h.path); !os.IsNotExist(err) {
		t.Errorf("no calibration file expected, stat returned %v", err)
	}

	evs := h.drain()
	if n := countEvents(evs, events.CalibrationInsufficient); n != 1 {
		t.Errorf("expected 1 insufficient-frames event, got %d", n)
	}
	if n := countEvents(evs, events.CalibrationSolved); n != 0 {
		t.Errorf("expected no solved event, got %d", n)
	}
}

func TestSolveWritesCalibration(t *testing.T) {
	h := newHarness(t, 10, []int{1, 2, 3, 4}, []int{space, space, space, enter})

	got, err := h.session.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if h.session.Status().Phase != calibration.PhaseCompleted {
		t.Errorf("expected completed phase, got %s", h.session.Status().Phase)
	}
	if h.src.read != 4 {
		t.Errorf("expected no acquisition after the solve, read %d frames", h.src.read)
	}

	if h.solver.calls != 1 {
		t.Fatalf("expected one solve, got %d", h.solver.calls)
	}
	if len(h.solver.objects) != 3 || len(h.solver.images) != 3 {
		t.Fatalf("expected 3 views, got %d object and %d image sets", len(h.solver.objects), len(h.solver.images))
	}
	for i, obj := range h.solver.objects {
		if len(obj) != 63 {
			t.Errorf("view %d: expected 63 reference points, got %d", i, len(obj))
		}
		if &obj[0] != &h.solver.objects[0][0] {
			t.Errorf("view %d: reference points should be generated once and shared", i)
		}
	}
	if h.solver.size != image.Pt(640, 480) {
		t.Errorf("unexpected image size %v", h.solver.size)
	}

	info, err := os.Stat(h.path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty calibration file, stat: %v", err)
	}
	loaded, err := intrinsics.Load(h.path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r, c := loaded.CameraMatrix.Dims(); r != 3 || c != 3 {
		t.Errorf("expected 3x3 camera matrix, got %dx%d", r, c)
	}
	if r, c := loaded.Distortion.Dims(); r != 8 || c != 1 {
		t.Errorf("expected 8x1 distortion, got %dx%d", r, c)
	}
	if loaded.CameraMatrix.At(0, 0) != got.CameraMatrix.At(0, 0) {
		t.Errorf("saved fx %v differs from returned fx %v", loaded.CameraMatrix.At(0, 0), got.CameraMatrix.At(0, 0))
	}

	evs := h.drain()
	if n := countEvents(evs, events.CalibrationSolved); n != 1 {
		t.Errorf("expected 1 solved event, got %d", n)
	}
}

func TestSolveFailureKeepsStreaming(t *testing.T) {
	h := newHarness(t, 10, []int{1, 2, 3, 4, 5}, []int{space, space, space, enter, enter})
	h.solver.failOn[1] = true

	if _, err := h.session.Run(context.Background()); err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if h.solver.calls != 2 {
		t.Errorf("expected 2 solver calls, got %d", h.solver.calls)
	}
	evs := h.drain()
	if n := countEvents(evs, events.CalibrationFailed); n != 1 {
		t.Errorf("expected 1 failed event, got %d", n)
	}
}

func TestSaveFailureKeepsStreaming(t *testing.T) {
	h := newHarness(t, 5, []int{1, 2, 3}, []int{space, space, space, enter})
	h.session.deps.Save = func(string, *intrinsics.Intrinsics) error {
		return intrinsics.ErrFileAccess
	}

	_, err := h.session.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted at end of stream, got %v", err)
	}
	if h.src.read != 5 {
		t.Errorf("expected streaming to continue after failed save, read %d frames", h.src.read)
	}
}

func TestSolveSkipsFramesWithoutBoard(t *testing.T) {
	det := &scriptedDetector{found: map[int]bool{1: true, 2: true}}
	var pool []*fakeFrame
	frames := []vision.Frame{
		&fakeFrame{id: 1, pool: &pool},
		&fakeFrame{id: 2, pool: &pool},
		&fakeFrame{id: 3, pool: &pool},
	}
	solver := &fakeSolver{}

	_, err := Solve(frames, calibration.DefaultBoard(), det, solver)
	if !errors.Is(err, ErrInsufficientFrames) {
		t.Fatalf("expected ErrInsufficientFrames, got %v", err)
	}
	if solver.calls != 0 {
		t.Error("solver must not run when fewer than 3 boards are found")
	}
	if det.slowChecks != 3 {
		t.Errorf("expected a full check per frame, got %d", det.slowChecks)
	}
}

func TestAbortEndsWithinOneFrame(t *testing.T) {
	h := newHarness(t, 100, []int{1}, []int{space, esc, space})

	_, err := h.session.Run(context.Background())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if h.src.read != 2 {
		t.Errorf("expected acquisition to stop after the abort frame, read %d", h.src.read)
	}
	for _, f := range h.src.pool {
		if !f.closed {
			t.Errorf("frame %d was not released on abort", f.id)
		}
	}
}

func TestSourceUnavailable(t *testing.T) {
	displayOpened := false
	s := New(DefaultOptions(), Deps{
		OpenSource: func() (vision.FrameSource, error) { return nil, errors.New("no camera") },
		OpenDisplay: func(string) (vision.Display, error) {
			displayOpened = true
			return &scriptedDisplay{}, nil
		},
	})

	_, err := s.Run(context.Background())
	if !errors.Is(err, vision.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if displayOpened {
		t.Error("no window should be opened without a source")
	}
	if s.Status().Phase != calibration.PhaseIdle {
		t.Errorf("expected the session to stay idle, got %s", s.Status().Phase)
	}
}

func TestContextCanceled(t *testing.T) {
	h := newHarness(t, 5, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.session.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.src.read != 0 {
		t.Errorf("expected no acquisition, read %d", h.src.read)
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, 1, nil, nil)
	_, _ = h.session.Run(context.Background())
	if _, err := h.session.Run(context.Background()); !errors.Is(err, ErrSessionUsed) {
		t.Errorf("expected ErrSessionUsed, got %v", err)
	}
}

func TestPollUsesFrameInterval(t *testing.T) {
	h := newHarness(t, 3, nil, nil)
	_, _ = h.session.Run(context.Background())
	if len(h.disp.waits) != 3 {
		t.Fatalf("expected one poll per frame, got %d", len(h.disp.waits))
	}
	for _, w := range h.disp.waits {
		if w != 50*time.Millisecond {
			t.Errorf("expected 50ms poll at 20 fps, got %v", w)
		}
	}
}
