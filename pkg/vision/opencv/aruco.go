package opencv

import (
	"math"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/charlie0129/posecam/pkg/intrinsics"
	"github.com/charlie0129/posecam/pkg/vision"
)

// solvePnPIPPESquare is cv::SOLVEPNP_IPPE_SQUARE.
const solvePnPIPPESquare = 7

var dictionaries = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":   gocv.ArucoDict4x4_50,
	"4x4_100":  gocv.ArucoDict4x4_100,
	"4x4_250":  gocv.ArucoDict4x4_250,
	"4x4_1000": gocv.ArucoDict4x4_1000,
	"5x5_50":   gocv.ArucoDict5x5_50,
	"5x5_100":  gocv.ArucoDict5x5_100,
	"5x5_250":  gocv.ArucoDict5x5_250,
	"5x5_1000": gocv.ArucoDict5x5_1000,
	"6x6_50":   gocv.ArucoDict6x6_50,
	"6x6_100":  gocv.ArucoDict6x6_100,
	"6x6_250":  gocv.ArucoDict6x6_250,
	"6x6_1000": gocv.ArucoDict6x6_1000,
	"7x7_50":   gocv.ArucoDict7x7_50,
	"7x7_100":  gocv.ArucoDict7x7_100,
	"7x7_250":  gocv.ArucoDict7x7_250,
	"7x7_1000": gocv.ArucoDict7x7_1000,
	"original": gocv.ArucoDictArucoOriginal,
}

// Dictionaries lists the accepted dictionary names.
func Dictionaries() []string {
	names := make([]string, 0, len(dictionaries))
	for n := range dictionaries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// dictionaryCode accepts both "4x4_50" and OpenCV's "DICT_4X4_50".
func dictionaryCode(name string) (gocv.ArucoDictionaryCode, error) {
	code, ok := dictionaries[strings.ToLower(strings.TrimPrefix(strings.ToUpper(name), "DICT_"))]
	if !ok {
		return 0, pkgerrors.Errorf("unknown marker dictionary %q, valid: %s", name, strings.Join(Dictionaries(), ", "))
	}
	return code, nil
}

// ArucoDetector detects markers of one predefined dictionary.
type ArucoDetector struct {
	detector gocv.ArucoDetector
}

// NewArucoDetector creates a detector for the dictionary called name, e.g.
// "4x4_50". The detector must be closed.
func NewArucoDetector(name string) (*ArucoDetector, error) {
	code, err := dictionaryCode(name)
	if err != nil {
		return nil, err
	}
	d := gocv.NewArucoDetectorWithParams(gocv.GetPredefinedDictionary(code), gocv.NewArucoDetectorParameters())
	return &ArucoDetector{detector: d}, nil
}

func (a *ArucoDetector) Detect(f vision.Frame) []vision.Marker {
	m, ok := matOf(f)
	if !ok {
		return nil
	}

	corners, ids, _ := a.detector.DetectMarkers(*m)
	markers := make([]vision.Marker, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		mk := vision.Marker{ID: id}
		copy(mk.Corners[:], fromPoint2fs(corners[i]))
		markers = append(markers, mk)
	}
	return markers
}

// DrawMarkers outlines markers in green and labels them with their ids.
func (a *ArucoDetector) DrawMarkers(f vision.Frame, markers []vision.Marker) {
	m, ok := matOf(f)
	if !ok || len(markers) == 0 {
		return
	}

	corners := make([][]gocv.Point2f, len(markers))
	ids := make([]int, len(markers))
	for i, mk := range markers {
		corners[i] = toPoint2fs(mk.Corners[:])
		ids[i] = mk.ID
	}
	gocv.ArucoDrawDetectedMarkers(*m, corners, ids, gocv.NewScalar(0, 255, 0, 0))
}

func (a *ArucoDetector) Close() error {
	a.detector.Close()
	return nil
}

// markerObjectPoints are the corners of a square marker of edge length in
// its own frame, ordered like the detected corners.
func markerObjectPoints(length float64) []r3.Vec {
	h := length / 2
	return []r3.Vec{
		{X: -h, Y: h},
		{X: h, Y: h},
		{X: h, Y: -h},
		{X: -h, Y: -h},
	}
}

// PoseEstimator solves each marker's pose independently with
// cv::solvePnP (IPPE square).
type PoseEstimator struct{}

func (PoseEstimator) EstimatePoses(markers []vision.Marker, markerLength float64, in *intrinsics.Intrinsics) ([]r3.Vec, []r3.Vec, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	if markerLength <= 0 {
		return nil, nil, pkgerrors.Errorf("marker length must be positive, got %v", markerLength)
	}

	cameraMatrix := fromDense(in.CameraMatrix)
	defer cameraMatrix.Close()
	distortion := fromDense(in.Distortion)
	defer distortion.Close()

	objVec := gocv.NewPoint3fVectorFromPoints(toPoint3fs(markerObjectPoints(markerLength)))
	defer objVec.Close()

	rvecs, tvecs := solveEach(markers, func(corners [4]r2.Vec) (r3.Vec, r3.Vec, error) {
		return solveMarker(objVec, corners, cameraMatrix, distortion)
	})
	return rvecs, tvecs, nil
}

// solveEach solves every marker on its own. A marker without a solution gets
// NaN vectors so the others keep their poses.
func solveEach(markers []vision.Marker, solve func([4]r2.Vec) (r3.Vec, r3.Vec, error)) ([]r3.Vec, []r3.Vec) {
	nan := r3.Vec{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}

	rvecs := make([]r3.Vec, len(markers))
	tvecs := make([]r3.Vec, len(markers))
	for i, mk := range markers {
		r, t, err := solve(mk.Corners)
		if err != nil {
			logrus.WithError(err).WithField("marker", mk.ID).Debug("no pose for marker")
			rvecs[i], tvecs[i] = nan, nan
			continue
		}
		rvecs[i], tvecs[i] = r, t
	}
	return rvecs, tvecs
}

func solveMarker(objVec gocv.Point3fVector, corners [4]r2.Vec, cameraMatrix, distortion gocv.Mat) (r3.Vec, r3.Vec, error) {
	imgVec := gocv.NewPoint2fVectorFromPoints(toPoint2fs(corners[:]))
	defer imgVec.Close()

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()

	if !gocv.SolvePnP(objVec, imgVec, cameraMatrix, distortion, &rvec, &tvec, false, solvePnPIPPESquare) {
		return r3.Vec{}, r3.Vec{}, pkgerrors.New("solvePnP found no solution")
	}
	return vec3(rvec), vec3(tvec), nil
}
