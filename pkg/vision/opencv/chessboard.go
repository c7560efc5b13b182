package opencv

import (
	"image"

	pkgerrors "github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/vision"
)

// ChessboardDetector finds checkerboard corners with adaptive thresholding
// and image normalization.
type ChessboardDetector struct{}

func (ChessboardDetector) FindCorners(f vision.Frame, pattern image.Point, fast bool) ([]r2.Vec, bool) {
	m, ok := matOf(f)
	if !ok {
		return nil, false
	}

	flags := gocv.CalibCBAdaptiveThresh | gocv.CalibCBNormalizeImage
	if fast {
		flags |= gocv.CalibCBFastCheck
	}

	corners := gocv.NewMat()
	defer corners.Close()
	if !gocv.FindChessboardCorners(*m, pattern, &corners, flags) {
		return nil, false
	}

	pv := gocv.NewPoint2fVectorFromMat(corners)
	defer pv.Close()
	return fromPoint2fs(pv.ToPoints()), true
}

func (ChessboardDetector) DrawCorners(f vision.Frame, pattern image.Point, corners []r2.Vec, found bool) {
	m, ok := matOf(f)
	if !ok || len(corners) == 0 {
		return
	}

	pv := gocv.NewPoint2fVectorFromPoints(toPoint2fs(corners))
	defer pv.Close()
	cm := gocv.NewMatFromPoint2fVector(pv, true)
	defer cm.Close()
	gocv.DrawChessboardCorners(m, pattern, cm, found)
}

// Calibrator solves for intrinsics with cv::calibrateCamera, starting from an
// identity camera matrix and eight zero distortion coefficients.
type Calibrator struct{}

func (Calibrator) Calibrate(objectPoints [][]r3.Vec, imagePoints [][]r2.Vec, imageSize image.Point) (vision.Solution, error) {
	if len(objectPoints) != len(imagePoints) {
		return vision.Solution{}, pkgerrors.Errorf("%d object point sets for %d image point sets", len(objectPoints), len(imagePoints))
	}

	obj := make([][]gocv.Point3f, len(objectPoints))
	for i, pts := range objectPoints {
		obj[i] = toPoint3fs(pts)
	}
	img := make([][]gocv.Point2f, len(imagePoints))
	for i, pts := range imagePoints {
		img[i] = toPoint2fs(pts)
	}
	objVec := gocv.NewPoints3fVectorFromPoints(obj)
	defer objVec.Close()
	imgVec := gocv.NewPoints2fVectorFromPoints(img)
	defer imgVec.Close()

	initial := intrinsics.Default()
	cameraMatrix := fromDense(initial.CameraMatrix)
	defer cameraMatrix.Close()
	distortion := fromDense(initial.Distortion)
	defer distortion.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	rms := gocv.CalibrateCamera(objVec, imgVec, imageSize, &cameraMatrix, &distortion, &rvecs, &tvecs, gocv.CalibFlag(0))

	sol := vision.Solution{
		Intrinsics: &intrinsics.Intrinsics{
			CameraMatrix: toDense(cameraMatrix),
			Distortion:   toDense(distortion),
		},
		RMS: rms,
	}
	if err := sol.Intrinsics.Validate(); err != nil {
		return vision.Solution{}, pkgerrors.Wrap(err, "calibrateCamera returned unexpected matrices")
	}
	return sol, nil
}
