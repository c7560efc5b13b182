package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/posecam/pkg/calibrator"
	"github.com/charlie0129/posecam/pkg/config"
	"github.com/charlie0129/posecam/pkg/events"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/pipeline"
	"github.com/charlie0129/posecam/pkg/tracker"
	"github.com/charlie0129/posecam/pkg/vision/opencv"
)

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.File, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	conf, err := config.NewFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if device != "" {
		conf.SetDevice(device)
	}
	if calibrationFile != "" {
		conf.SetCalibrationFile(calibrationFile)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logrus.WithFields(conf.LogrusFields()).WithField("path", path).Debug("config loaded")
	return conf, nil
}

func newCalibratorDeps(conf config.Config, hub *events.EventHub) calibrator.Deps {
	return calibrator.Deps{
		OpenSource:  opencv.CameraSource(conf.Device()),
		OpenDisplay: opencv.OpenWindow,
		Detector:    opencv.ChessboardDetector{},
		Solver:      opencv.Calibrator{},
		Events:      hub,
	}
}

// newTrackerDeps returns the tracking collaborators and a function releasing
// the marker detector.
func newTrackerDeps(conf config.Config, hub *events.EventHub) (tracker.Deps, func(), error) {
	detector, err := opencv.NewArucoDetector(conf.Dictionary())
	if err != nil {
		return tracker.Deps{}, nil, err
	}

	deps := tracker.Deps{
		OpenSource:  opencv.CameraSource(conf.Device()),
		OpenDisplay: opencv.OpenWindow,
		Detector:    detector,
		Estimator:   opencv.PoseEstimator{},
		Canvas:      opencv.Canvas{},
		Events:      hub,
	}
	release := func() {
		if err := detector.Close(); err != nil {
			logrus.WithError(err).Warn("failed to release marker detector")
		}
	}
	return deps, release, nil
}

// runPipeline wires OpenCV into the orchestrator and runs it. When track is
// false only the calibration step runs.
func runPipeline(cmd *cobra.Command, opts pipeline.Options, conf config.Config, track bool) error {
	hub := events.NewEventHub()
	done := watchEvents(hub, cmd.OutOrStdout())
	defer func() {
		hub.Close()
		<-done
	}()

	deps := pipeline.Deps{Calibrator: newCalibratorDeps(conf, hub)}

	if !track {
		in, err := pipeline.Prepare(cmd.Context(), opts, deps)
		if err != nil {
			return err
		}
		printIntrinsics(cmd.OutOrStdout(), opts.CalibrationFile, in)
		return nil
	}

	trackerDeps, release, err := newTrackerDeps(conf, hub)
	if err != nil {
		return err
	}
	defer release()
	deps.Tracker = trackerDeps

	return pipeline.Run(cmd.Context(), opts, deps)
}

// watchEvents prints session events to w until hub is closed.
func watchEvents(hub *events.EventHub, w io.Writer) <-chan struct{} {
	ch := hub.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			if line := describeEvent(ev); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}()

	return done
}

func describeEvent(ev events.Event) string {
	switch ev.Name {
	case events.CalibrationCapture:
		p, err := events.DecodeAs[events.CalibrationCaptureEvent](ev)
		if err != nil {
			return ""
		}
		if !p.Accepted {
			return fmt.Sprintf("%s board not fully visible, frame ignored", cross())
		}
		return fmt.Sprintf("%s captured %s", tick(), bold("%d/%d", p.Captured, p.Required))
	case events.CalibrationInsufficient:
		p, err := events.DecodeAs[events.CalibrationCaptureEvent](ev)
		if err != nil {
			return ""
		}
		return color.YellowString("need at least %d frames to calibrate, have %d", p.Required, p.Captured)
	case events.CalibrationSolved:
		p, err := events.DecodeAs[events.CalibrationResultEvent](ev)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("%s calibrated from %d frames, reprojection error %s, saved to %s",
			tick(), p.Frames, bold("%.4f px", p.RMS), bold("%s", p.Path))
	case events.CalibrationFailed:
		p, err := events.DecodeAs[events.CalibrationResultEvent](ev)
		if err != nil {
			return ""
		}
		return fmt.Sprintf("%s calibration failed: %s", cross(), p.Error)
	case events.TrackerMarkers:
		p, err := events.DecodeAs[events.TrackerMarkersEvent](ev)
		if err != nil {
			return ""
		}
		if len(p.IDs) == 0 {
			return "no markers in view"
		}
		return fmt.Sprintf("markers in view: %s", bold("%v", p.IDs))
	}
	return ""
}

func printIntrinsics(w io.Writer, path string, in *intrinsics.Intrinsics) {
	fmt.Fprintln(w, bold("Camera matrix:"))
	fmt.Fprintf(w, "    %v\n", intrinsics.Format(in.CameraMatrix))
	fmt.Fprintln(w, bold("Distortion coefficients:"))
	fmt.Fprintf(w, "    %v\n", intrinsics.Format(in.Distortion.T()))
	if path != "" {
		fmt.Fprintf(w, "Stored in %s\n", bold("%s", path))
	}
}

func tick() string {
	return color.New(color.Bold, color.FgGreen).Sprint("✔")
}

func cross() string {
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
