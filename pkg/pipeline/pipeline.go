// Package pipeline chains the two sessions: it makes sure camera parameters
// exist, calibrating first when they do not, and then tracks markers with
// them.
package pipeline

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/posecam/pkg/calibrator"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/tracker"
)

// ErrNoCalibration is returned when no calibration file exists and
// calibrating on the spot is not allowed.
var ErrNoCalibration = errors.New("camera is not calibrated")

type Options struct {
	// CalibrationFile is read before tracking and written by calibration.
	CalibrationFile string
	// CalibrateIfMissing runs a calibration session when CalibrationFile
	// does not exist.
	CalibrateIfMissing bool
	// ForceCalibration calibrates even if CalibrationFile exists.
	ForceCalibration bool
	Calibrator       calibrator.Options
	Tracker          tracker.Options
}

type Deps struct {
	Calibrator calibrator.Deps
	Tracker    tracker.Deps
	// Load reads the calibration file. Defaults to intrinsics.Load.
	Load func(path string) (*intrinsics.Intrinsics, error)
}

// Run obtains camera parameters with Prepare and tracks markers until the
// tracking session ends.
func Run(ctx context.Context, opts Options, deps Deps) error {
	in, err := Prepare(ctx, opts, deps)
	if err != nil {
		return err
	}

	return tracker.New(opts.Tracker, in, deps.Tracker).Run(ctx)
}

// Prepare loads the calibration file, or runs a calibration session when the
// file is missing (and CalibrateIfMissing is set) or ForceCalibration is set.
// A malformed file is always an error.
func Prepare(ctx context.Context, opts Options, deps Deps) (*intrinsics.Intrinsics, error) {
	if deps.Load == nil {
		deps.Load = intrinsics.Load
	}
	log := logrus.WithField("path", opts.CalibrationFile)

	if !opts.ForceCalibration {
		in, err := deps.Load(opts.CalibrationFile)
		switch {
		case err == nil:
			log.WithFields(in.LogrusFields()).Info("loaded camera calibration")
			return in, nil
		case !errors.Is(err, intrinsics.ErrNotFound):
			return nil, pkgerrors.Wrap(err, "failed to load camera calibration")
		case !opts.CalibrateIfMissing:
			return nil, pkgerrors.Wrapf(ErrNoCalibration, "%s does not exist", opts.CalibrationFile)
		}
		log.Info("no camera calibration found, starting calibration")
	}

	calOpts := opts.Calibrator
	calOpts.CalibrationFile = opts.CalibrationFile
	in, err := calibrator.New(calOpts, deps.Calibrator).Run(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "calibration did not complete")
	}
	return in, nil
}
