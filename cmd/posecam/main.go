package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/posecam/pkg/calibrator"
	"github.com/charlie0129/posecam/pkg/config"
	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/pipeline"
	"github.com/charlie0129/posecam/pkg/vision"
)

var (
	logLevel        = "info"
	configPath      = ""
	calibrationFile = ""
	device          = ""
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, vision.ErrSourceUnavailable):
		fmt.Fprintln(os.Stderr, "\nError: cannot open the video source")
		fmt.Fprintln(os.Stderr, "  - Is the camera connected and not used by another program?")
		fmt.Fprintln(os.Stderr, "  - Select another camera index or a video file with '--device'")
	case errors.Is(err, pipeline.ErrNoCalibration):
		fmt.Fprintln(os.Stderr, "\nError: the camera is not calibrated")
		fmt.Fprintln(os.Stderr, "  - Run 'posecam calibrate' first, or point '--calibration-file' to an existing calibration")
	case errors.Is(err, intrinsics.ErrMalformed):
		fmt.Fprintln(os.Stderr, "\nError: the calibration file is corrupt")
		fmt.Fprintln(os.Stderr, "  - Run 'posecam calibrate' to replace it")
	case errors.Is(err, calibrator.ErrAborted):
		fmt.Fprintln(os.Stderr, "\nCalibration was aborted, nothing was saved")
	}
}

func main() {
	// HighGUI windows must be driven from the main thread on some platforms.
	runtime.LockOSThread()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		handleCmdError(err)
		stop()
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posecam",
		Short: "posecam calibrates a camera and tracks ArUco marker poses",
		Long: `posecam calibrates a camera with a checkerboard and tracks the 3D pose of
ArUco markers in its live video.

Run without a subcommand, posecam loads the calibration file (calibrating first
if it does not exist) and starts tracking.

While calibrating: SPACE captures the current frame, ENTER computes and saves
the calibration, ESC quits. While tracking, any key quits.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			return runPipeline(cmd, config.PipelineOptions(conf), conf, true)
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", "", "config file path (default $XDG_CONFIG_HOME/posecam/config.json)")
	globalFlags.StringVar(&calibrationFile, "calibration-file", "", "camera calibration file (overrides the config file)")
	globalFlags.StringVar(&device, "device", "", "camera index or video file (overrides the config file)")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewCalibrateCommand(),
		NewTrackCommand(),
		NewShowCommand(),
		NewConfigCommand(),
	)

	return cmd
}
