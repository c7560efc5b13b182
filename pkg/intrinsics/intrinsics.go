// Package intrinsics holds the intrinsic parameters of a camera (the camera
// matrix and the lens distortion coefficients) and persists them in the
// positional text format shared with the calibration tooling:
//
//	<rows>
//	<cols>
//	<value> (rows*cols lines, row-major)   camera matrix
//	<rows>
//	<cols>
//	<value> (rows*cols lines, row-major)   distortion coefficients
//
// There is no header, checksum or version field.
package intrinsics

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// DefaultDistortionCoefficients is the length of the zeroed distortion vector
// used before a calibration solve (k1, k2, p1, p2, k3, k4, k5, k6).
const DefaultDistortionCoefficients = 8

// MaxDistortionCoefficients is the size of OpenCV's largest distortion model
// (rational, thin prism and tilted).
const MaxDistortionCoefficients = 14

// Intrinsics is a camera matrix plus its distortion coefficients.
type Intrinsics struct {
	// CameraMatrix is 3x3: focal lengths on the diagonal, principal point in
	// the last column.
	CameraMatrix *mat.Dense
	// Distortion is an Nx1 (or 1xN) vector.
	Distortion *mat.Dense
}

// Default returns the parameters assumed before calibration: an identity
// camera matrix and an 8x1 zero distortion vector.
func Default() *Intrinsics {
	cm := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		cm.Set(i, i, 1)
	}
	return &Intrinsics{
		CameraMatrix: cm,
		Distortion:   mat.NewDense(DefaultDistortionCoefficients, 1, nil),
	}
}

// New builds Intrinsics from row-major camera matrix values and a distortion
// column vector.
func New(cameraMatrix []float64, distortion []float64) (*Intrinsics, error) {
	if len(cameraMatrix) != 9 {
		return nil, pkgerrors.Errorf("camera matrix needs 9 values, got %d", len(cameraMatrix))
	}
	if len(distortion) == 0 {
		return nil, pkgerrors.New("distortion coefficients are empty")
	}
	if len(distortion) > MaxDistortionCoefficients {
		return nil, pkgerrors.Errorf("at most %d distortion coefficients are supported, got %d", MaxDistortionCoefficients, len(distortion))
	}
	in := &Intrinsics{
		CameraMatrix: mat.NewDense(3, 3, append([]float64(nil), cameraMatrix...)),
		Distortion:   mat.NewDense(len(distortion), 1, append([]float64(nil), distortion...)),
	}
	return in, nil
}

// Validate checks the shape invariants.
func (in *Intrinsics) Validate() error {
	if in == nil {
		return pkgerrors.New("intrinsics are nil")
	}
	if in.CameraMatrix == nil {
		return pkgerrors.New("camera matrix is nil")
	}
	if err := cameraMatrixShape(in.CameraMatrix.Dims()); err != nil {
		return err
	}
	if in.Distortion == nil {
		return pkgerrors.New("distortion coefficients are nil")
	}
	return distortionShape(in.Distortion.Dims())
}

func cameraMatrixShape(rows, cols int) error {
	if rows != 3 || cols != 3 {
		return pkgerrors.Errorf("camera matrix must be 3x3, got %dx%d", rows, cols)
	}
	return nil
}

func distortionShape(rows, cols int) error {
	if rows != 1 && cols != 1 {
		return pkgerrors.Errorf("distortion coefficients must be a vector, got %dx%d", rows, cols)
	}
	if n := rows * cols; n > MaxDistortionCoefficients {
		return pkgerrors.Errorf("at most %d distortion coefficients are supported, got %d", MaxDistortionCoefficients, n)
	}
	return nil
}

// Clone returns a deep copy.
func (in *Intrinsics) Clone() *Intrinsics {
	return &Intrinsics{
		CameraMatrix: mat.DenseCopyOf(in.CameraMatrix),
		Distortion:   mat.DenseCopyOf(in.Distortion),
	}
}

// Coefficients returns the distortion coefficients in storage order.
func (in *Intrinsics) Coefficients() []float64 {
	r, c := in.Distortion.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, in.Distortion.At(i, j))
		}
	}
	return out
}

// LogrusFields summarizes the parameters for structured logs.
func (in *Intrinsics) LogrusFields() logrus.Fields {
	r, c := in.Distortion.Dims()
	return logrus.Fields{
		"fx":         in.CameraMatrix.At(0, 0),
		"fy":         in.CameraMatrix.At(1, 1),
		"cx":         in.CameraMatrix.At(0, 2),
		"cy":         in.CameraMatrix.At(1, 2),
		"distortion": fmt.Sprintf("%dx%d", r, c),
	}
}

// Format returns a compact printable form of m.
func Format(m mat.Matrix) fmt.Formatter {
	return mat.Formatted(m, mat.Prefix("    "), mat.Squeeze())
}
