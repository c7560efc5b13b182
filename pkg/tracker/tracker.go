// Package tracker runs the live marker tracking loop: every frame is searched
// for fiducial markers, each marker's pose is estimated with the calibrated
// camera parameters and drawn as a set of axes.
package tracker

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/posecam/pkg/events"
	"github.com/charlie0129/posecam/pkg/framerate"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/vision"
)

// ErrPoseMisaligned is reported when the estimator does not return exactly
// one pose per detected marker.
var ErrPoseMisaligned = errors.New("pose estimates are not aligned with detected markers")

var (
	axisX = color.RGBA{R: 255, A: 255}
	axisY = color.RGBA{G: 255, A: 255}
	axisZ = color.RGBA{B: 255, A: 255}
)

// Observation is one marker seen in one frame.
type Observation struct {
	vision.Marker
	Pose vision.Pose
	// Valid is false when no usable pose was estimated.
	Valid bool
}

// Result is what one frame produced. Err is a per-frame problem; the loop
// carries on regardless.
type Result struct {
	Observations []Observation
	Err          error
}

// IDs returns the marker ids in detection order.
func (r Result) IDs() []int {
	ids := make([]int, len(r.Observations))
	for i, o := range r.Observations {
		ids[i] = o.ID
	}
	return ids
}

// Session tracks markers on one video source. Only camera parameters outlive
// a frame.
type Session struct {
	id       string
	opts     Options
	in       *intrinsics.Intrinsics
	deps     Deps
	log      *logrus.Entry
	recorder *framerate.Recorder

	frames  int
	visible []int
}

func New(opts Options, in *intrinsics.Intrinsics, deps Deps) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		opts:     opts,
		in:       in,
		deps:     deps,
		log:      logrus.WithFields(logrus.Fields{"session": id, "operation": "tracking"}),
		recorder: framerate.NewRecorder(60),
	}
}

// ID returns the session id used in logs and events.
func (s *Session) ID() string { return s.id }

// Frames returns the number of frames processed so far.
func (s *Session) Frames() int { return s.frames }

// Run loops until an exit key is pressed, the stream ends or ctx is canceled.
// It returns vision.ErrSourceUnavailable, without processing anything, when
// the source cannot be opened.
func (s *Session) Run(ctx context.Context) error {
	if err := s.in.Validate(); err != nil {
		return pkgerrors.Wrap(err, "invalid camera parameters")
	}

	src, err := s.deps.OpenSource()
	if err != nil {
		s.log.WithError(err).Error("failed to open video source")
		return pkgerrors.Wrap(vision.ErrSourceUnavailable, err.Error())
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close video source")
		}
	}()

	disp, err := s.deps.OpenDisplay(s.opts.WindowName)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to open display")
	}
	defer func() {
		if err := disp.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close display")
		}
	}()

	s.log.WithFields(s.in.LogrusFields()).WithFields(logrus.Fields{
		"markerLength": s.opts.MarkerLength,
		"fps":          s.opts.FPS,
	}).Info("tracking started. press any key to quit")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.step(src, disp) {
			break
		}
	}

	s.log.WithField("frames", s.frames).Info("tracking stopped")
	return nil
}

// step runs one acquire -> process -> render -> poll iteration and reports
// whether the loop should continue.
func (s *Session) step(src vision.FrameSource, disp vision.Display) bool {
	frame, err := src.Read()
	if err != nil {
		if !errors.Is(err, vision.ErrEndOfStream) {
			s.log.WithError(err).Warn("failed to read frame")
		}
		return false
	}
	defer frame.Close()

	s.frames++
	s.recorder.AddRecordNow()

	res := s.Process(frame)
	if res.Err != nil {
		s.log.WithError(res.Err).Debug("frame rendered without poses")
	}
	s.noteVisible(res.IDs())

	if s.opts.FPS > 0 && s.frames%(s.opts.FPS*5) == 0 {
		s.log.WithFields(logrus.Fields{
			"fps":     s.recorder.Rate(),
			"markers": len(res.Observations),
		}).Debug("tracking loop")
	}

	if err := disp.Show(frame); err != nil {
		s.log.WithError(err).Debug("failed to show frame")
	}

	key, ok := disp.WaitKey(framerate.Interval(s.opts.FPS))
	return !(ok && s.isExitKey(key))
}

// Process detects markers in f, outlines them, estimates their poses and
// draws an axis triad at every valid pose. f is annotated in place.
func (s *Session) Process(f vision.Frame) Result {
	markers := s.deps.Detector.Detect(f)
	if len(markers) == 0 {
		return Result{}
	}
	s.deps.Detector.DrawMarkers(f, markers)

	obs := make([]Observation, len(markers))
	for i, m := range markers {
		obs[i].Marker = m
	}

	rvecs, tvecs, err := s.deps.Estimator.EstimatePoses(markers, s.opts.MarkerLength, s.in)
	if err == nil && (len(rvecs) != len(markers) || len(tvecs) != len(markers)) {
		err = pkgerrors.Wrapf(ErrPoseMisaligned, "%d markers, %d rotations, %d translations", len(markers), len(rvecs), len(tvecs))
	}
	if err != nil {
		return Result{Observations: obs, Err: err}
	}

	for i := range obs {
		pose := vision.Pose{Rotation: rvecs[i], Translation: tvecs[i]}
		if !finite(pose.Rotation) || !finite(pose.Translation) {
			continue
		}
		obs[i].Pose = pose
		obs[i].Valid = true
		s.drawAxes(f, pose)
	}

	return Result{Observations: obs}
}

func (s *Session) drawAxes(f vision.Frame, pose vision.Pose) {
	l := s.opts.AxisLength
	pts, ok := intrinsics.ProjectPoints([]r3.Vec{{}, {X: l}, {Y: l}, {Z: l}}, pose.Rotation, pose.Translation, s.in)
	if !ok {
		return
	}

	origin := image.Pt(int(math.Round(pts[0].X)), int(math.Round(pts[0].Y)))
	for i, c := range []color.RGBA{axisX, axisY, axisZ} {
		end := image.Pt(int(math.Round(pts[i+1].X)), int(math.Round(pts[i+1].Y)))
		s.deps.Canvas.DrawLine(f, origin, end, c, s.opts.AxisThickness)
	}
}

func (s *Session) noteVisible(ids []int) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	if slices.Equal(ids, s.visible) {
		return
	}
	s.visible = ids
	s.log.WithField("ids", ids).Debug("visible markers changed")
	s.deps.Events.Publish(events.TrackerMarkers, events.TrackerMarkersEvent{
		Session: s.id,
		IDs:     ids,
		Ts:      time.Now().Unix(),
	})
}

func (s *Session) isExitKey(key int) bool {
	if len(s.opts.ExitKeys) == 0 {
		return true
	}
	return slices.Contains(s.opts.ExitKeys, key) || slices.Contains(s.opts.ExitKeys, key&0xff)
}

func finite(v r3.Vec) bool {
	for _, x := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
