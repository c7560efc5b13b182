package main

import (
	"github.com/spf13/cobra"

	"github.com/charlie0129/posecam/pkg/config"
)

func NewCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "calibrate",
		GroupID: gBasic,
		Short:   "Calibrate the camera with a checkerboard",
		Long: `Calibrate the camera with a printed checkerboard and save the result.

Hold the board in front of the camera. Corners are highlighted when the whole
board is visible. Press SPACE to capture the frame, capture at least 3 frames
from different angles, then press ENTER to compute the calibration. ESC quits
without saving.

An existing calibration file is replaced.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			opts := config.PipelineOptions(conf)
			opts.ForceCalibration = true
			return runPipeline(cmd, opts, conf, false)
		},
	}
}
