package main

import (
	"github.com/spf13/cobra"

	"github.com/charlie0129/posecam/pkg/config"
)

func NewTrackCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "track",
		GroupID: gBasic,
		Short:   "Track ArUco markers with an existing calibration",
		Long: `Track ArUco markers and draw their pose axes (x red, y green, z blue).

Fails if the calibration file does not exist. Press any key in the window to
quit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			opts := config.PipelineOptions(conf)
			opts.CalibrateIfMissing = false
			return runPipeline(cmd, opts, conf, true)
		},
	}
}
