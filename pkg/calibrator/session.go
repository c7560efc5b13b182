// Package calibrator runs the interactive checkerboard calibration: it
// streams frames, highlights the board when it is fully visible, keeps the
// frames the user captures and, on request, solves for the camera intrinsics
// and persists them.
package calibrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/posecam/pkg/calibration"
	"github.com/charlie0129/posecam/pkg/events"
	"github.com/charlie0129/posecam/pkg/framerate"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/vision"
)

// Session is a single calibration run. It is not safe for concurrent use;
// the goroutine calling Run owns the video source until Run returns.
type Session struct {
	id       string
	opts     Options
	deps     Deps
	log      *logrus.Entry
	recorder *framerate.Recorder

	phase     calibration.Phase
	frames    []vision.Frame
	captured  int
	processed int
	lastFound bool
	frameSize image.Point
	startedAt time.Time
	message   string
	endErr    error
	result    *vision.Solution
}

// New creates a session in PhaseIdle.
func New(opts Options, deps Deps) *Session {
	if opts.Keymap == nil {
		opts.Keymap = calibration.DefaultKeymap()
	}
	if deps.Save == nil {
		deps.Save = intrinsics.Save
	}

	id := uuid.NewString()
	return &Session{
		id:       id,
		opts:     opts,
		deps:     deps,
		log:      logrus.WithFields(logrus.Fields{"session": id, "operation": "calibration"}),
		recorder: framerate.NewRecorder(60),
		phase:    calibration.PhaseIdle,
	}
}

// ID returns the session id used in logs and events.
func (s *Session) ID() string { return s.id }

// Run opens the source and loops until the user solves successfully, aborts,
// the stream ends or ctx is canceled.
//
// It returns the computed intrinsics after a successful solve (already saved
// to Options.CalibrationFile). vision.ErrSourceUnavailable is returned when
// the source cannot be opened; ErrAborted when the loop ended without a
// result.
func (s *Session) Run(ctx context.Context) (*intrinsics.Intrinsics, error) {
	if s.phase != calibration.PhaseIdle {
		return nil, ErrSessionUsed
	}

	src, err := s.deps.OpenSource()
	if err != nil {
		s.log.WithError(err).Error("failed to open video source")
		return nil, pkgerrors.Wrap(vision.ErrSourceUnavailable, err.Error())
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close video source")
		}
	}()

	disp, err := s.deps.OpenDisplay(s.opts.WindowName)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open display")
	}
	defer func() {
		if err := disp.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close display")
		}
	}()
	defer s.discardFrames()

	s.startedAt = time.Now()
	s.log.WithFields(logrus.Fields{
		"board":      fmt.Sprintf("%dx%d", s.opts.Board.Columns, s.opts.Board.Rows),
		"squareSize": s.opts.Board.SquareSize,
		"fps":        s.opts.FPS,
	}).Info("calibration started. press SPACE to capture, ENTER to calibrate, ESC to quit")
	s.transition(calibration.PhaseStreaming, "")

	for !s.phase.Done() {
		if err := ctx.Err(); err != nil {
			s.terminate(err)
			break
		}
		s.step(src, disp)
	}

	if s.phase == calibration.PhaseCompleted {
		return s.result.Intrinsics, nil
	}
	return nil, s.endErr
}

// step runs one acquire -> detect -> render -> poll iteration.
func (s *Session) step(src vision.FrameSource, disp vision.Display) {
	frame, err := src.Read()
	if err != nil {
		if !errors.Is(err, vision.ErrEndOfStream) {
			s.log.WithError(err).Warn("failed to read frame")
		}
		s.terminate(pkgerrors.Wrap(ErrAborted, vision.ErrEndOfStream.Error()))
		return
	}
	defer frame.Close()

	s.processed++
	s.frameSize = frame.Size()
	s.recorder.AddRecordNow()
	if s.opts.FPS > 0 && s.processed%(s.opts.FPS*5) == 0 {
		s.log.WithField("fps", s.recorder.Rate()).Debug("calibration loop")
	}

	pattern := s.opts.Board.PatternSize()
	corners, found := s.deps.Detector.FindCorners(frame, pattern, true)
	s.lastFound = found

	if found {
		overlay := frame.Clone()
		s.deps.Detector.DrawCorners(overlay, pattern, corners, true)
		s.show(disp, overlay)
		overlay.Close()
	} else {
		s.show(disp, frame)
	}

	key, ok := disp.WaitKey(framerate.Interval(s.opts.FPS))
	if !ok {
		return
	}
	s.handle(s.opts.Keymap.Action(key), frame)
}

func (s *Session) show(disp vision.Display, f vision.Frame) {
	if err := disp.Show(f); err != nil {
		s.log.WithError(err).Debug("failed to show frame")
	}
}

func (s *Session) handle(action calibration.Action, frame vision.Frame) {
	switch action {
	case calibration.ActionCapture:
		s.capture(frame)
	case calibration.ActionSolve:
		s.solve()
	case calibration.ActionAbort:
		s.terminate(ErrAborted)
	}
}

func (s *Session) capture(frame vision.Frame) {
	s.transition(calibration.PhaseCaptureRequested, "")
	defer s.transition(calibration.PhaseStreaming, "")

	accepted := s.lastFound
	if accepted {
		s.frames = append(s.frames, frame.Clone())
		s.captured++
		s.log.WithField("captured", len(s.frames)).Info("frame captured")
		s.message = fmt.Sprintf("captured %d frame(s)", len(s.frames))
	} else {
		s.log.Debug(ErrPatternNotFound.Error())
		s.message = ErrPatternNotFound.Error()
	}

	s.deps.Events.Publish(events.CalibrationCapture, events.CalibrationCaptureEvent{
		Session:  s.id,
		Captured: len(s.frames),
		Required: calibration.MinFrames,
		Accepted: accepted,
		Ts:       time.Now().Unix(),
	})
}

func (s *Session) solve() {
	s.transition(calibration.PhaseSolveRequested, "")

	n := len(s.frames)
	if n < calibration.MinFrames {
		s.message = fmt.Sprintf("%s: have %d, need %d", ErrInsufficientFrames, n, calibration.MinFrames)
		s.log.WithFields(logrus.Fields{
			"captured": n,
			"required": calibration.MinFrames,
		}).Warn(ErrInsufficientFrames.Error())
		s.deps.Events.Publish(events.CalibrationInsufficient, events.CalibrationCaptureEvent{
			Session:  s.id,
			Captured: n,
			Required: calibration.MinFrames,
			Ts:       time.Now().Unix(),
		})
		s.transition(calibration.PhaseStreaming, s.message)
		return
	}

	s.log.WithField("frames", n).Info("solving camera calibration")
	sol, err := Solve(s.frames, s.opts.Board, s.deps.Detector, s.deps.Solver)
	if err == nil {
		err = s.deps.Save(s.opts.CalibrationFile, sol.Intrinsics)
	}
	if err != nil {
		s.message = err.Error()
		s.log.WithError(err).Error("calibration failed, keep capturing and retry")
		s.deps.Events.Publish(events.CalibrationFailed, events.CalibrationResultEvent{
			Session: s.id,
			Frames:  n,
			Error:   err.Error(),
			Ts:      time.Now().Unix(),
		})
		s.transition(calibration.PhaseStreaming, s.message)
		return
	}

	s.result = &sol
	s.discardFrames()
	s.message = fmt.Sprintf("calibrated from %d frames, rms %.4f px", n, sol.RMS)
	s.log.WithFields(sol.Intrinsics.LogrusFields()).WithFields(logrus.Fields{
		"rms":  sol.RMS,
		"path": s.opts.CalibrationFile,
	}).Info("calibration saved")
	s.deps.Events.Publish(events.CalibrationSolved, events.CalibrationResultEvent{
		Session: s.id,
		Frames:  n,
		RMS:     sol.RMS,
		Path:    s.opts.CalibrationFile,
		Ts:      time.Now().Unix(),
	})
	s.transition(calibration.PhaseCompleted, s.message)
}

func (s *Session) terminate(reason error) {
	if s.phase.Done() {
		return
	}
	s.endErr = reason
	s.discardFrames()
	s.transition(calibration.PhaseTerminated, reason.Error())
}

func (s *Session) discardFrames() {
	for _, f := range s.frames {
		if err := f.Close(); err != nil {
			s.log.WithError(err).Debug("failed to release captured frame")
		}
	}
	s.frames = nil
}

func (s *Session) transition(to calibration.Phase, message string) {
	from := s.phase
	if from == to {
		return
	}
	s.phase = to
	s.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("phase changed")
	s.deps.Events.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
		Session: s.id,
		From:    string(from),
		To:      string(to),
		Message: message,
		Ts:      time.Now().Unix(),
	})
}

// Status returns a snapshot of the session.
func (s *Session) Status() *calibration.Status {
	return &calibration.Status{
		Session:   s.id,
		Phase:     s.phase,
		Captured:  s.captured,
		Required:  calibration.MinFrames,
		LastFound: s.lastFound,
		Frames:    s.processed,
		StartedAt: s.startedAt,
		CanSolve:  len(s.frames) >= calibration.MinFrames,
		Message:   s.message,
	}
}

// Solve detects the board in every frame, pairs each detection with the
// board's reference points and hands both sets to solver. Frames in which the
// full board cannot be found again are skipped.
func Solve(frames []vision.Frame, board calibration.BoardGeometry, detector vision.PatternDetector, solver vision.CalibrationSolver) (vision.Solution, error) {
	pattern := board.PatternSize()

	var (
		imagePoints [][]r2.Vec
		size        image.Point
	)
	for i, f := range frames {
		corners, found := detector.FindCorners(f, pattern, false)
		if !found || len(corners) != board.Corners() {
			logrus.WithField("frame", i).Debug("skipping frame without a full board")
			continue
		}
		imagePoints = append(imagePoints, corners)
		size = f.Size()
	}
	if len(imagePoints) < calibration.MinFrames {
		return vision.Solution{}, pkgerrors.Wrapf(ErrInsufficientFrames, "board found in %d of %d frames", len(imagePoints), len(frames))
	}

	// The board is the same in every view.
	reference := board.ReferencePoints()
	objectPoints := make([][]r3.Vec, len(imagePoints))
	for i := range objectPoints {
		objectPoints[i] = reference
	}

	sol, err := solver.Calibrate(objectPoints, imagePoints, size)
	if err != nil {
		return vision.Solution{}, pkgerrors.Wrap(err, "calibration solve failed")
	}
	if err := sol.Intrinsics.Validate(); err != nil {
		return vision.Solution{}, pkgerrors.Wrap(err, "solver returned invalid intrinsics")
	}

	return sol, nil
}
