package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/charlie0129/posecam/pkg/intrinsics"
)

type intrinsicsJSON struct {
	Path         string      `json:"path"`
	CameraMatrix [][]float64 `json:"cameraMatrix"`
	Distortion   []float64   `json:"distortion"`
	FocalLength  [2]float64  `json:"focalLength"`
	Principal    [2]float64  `json:"principalPoint"`
}

func rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func NewShowCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "show",
		GroupID: gBasic,
		Short:   "Print the stored camera calibration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}

			path := conf.CalibrationFile()
			in, err := intrinsics.Load(path)
			if err != nil {
				return fmt.Errorf("failed to read calibration: %w", err)
			}

			if !asJSON {
				printIntrinsics(cmd.OutOrStdout(), path, in)
				return nil
			}

			cm := in.CameraMatrix
			out := intrinsicsJSON{
				Path:         path,
				CameraMatrix: rows(cm),
				Distortion:   in.Coefficients(),
				FocalLength:  [2]float64{cm.At(0, 0), cm.At(1, 1)},
				Principal:    [2]float64{cm.At(0, 2), cm.At(1, 2)},
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}
