// Package opencv implements the vision contracts on top of gocv.
package opencv

import (
	"errors"
	"image"
	"image/color"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/charlie0129/posecam/pkg/vision"
)

// ErrForeignFrame is returned when a frame was not produced by this package.
var ErrForeignFrame = errors.New("frame is not backed by an OpenCV matrix")

// Frame is a BGR image held in an OpenCV matrix.
type Frame struct {
	mat gocv.Mat
}

func (f *Frame) Size() image.Point { return image.Pt(f.mat.Cols(), f.mat.Rows()) }

func (f *Frame) Clone() vision.Frame { return &Frame{mat: f.mat.Clone()} }

func (f *Frame) Close() error { return f.mat.Close() }

// Mat exposes the underlying matrix.
func (f *Frame) Mat() *gocv.Mat { return &f.mat }

func matOf(f vision.Frame) (*gocv.Mat, bool) {
	of, ok := f.(*Frame)
	if !ok || of == nil {
		return nil, false
	}
	return &of.mat, true
}

// Camera reads frames from a capture device or a video file.
type Camera struct {
	device  string
	capture *gocv.VideoCapture
}

// OpenCamera opens device, which is either a numeric camera index or a path
// to a video file.
func OpenCamera(device string) (*Camera, error) {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if id, perr := strconv.Atoi(device); perr == nil {
		capture, err = gocv.VideoCaptureDevice(id)
	} else {
		capture, err = gocv.VideoCaptureFile(device)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open video device %s", device)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, pkgerrors.Errorf("video device %s is not opened", device)
	}

	logrus.WithFields(logrus.Fields{
		"device": device,
		"width":  capture.Get(gocv.VideoCaptureFrameWidth),
		"height": capture.Get(gocv.VideoCaptureFrameHeight),
		"fps":    capture.Get(gocv.VideoCaptureFPS),
	}).Debug("video device opened")

	return &Camera{device: device, capture: capture}, nil
}

// CameraSource returns an OpenSourceFunc for device.
func CameraSource(device string) vision.OpenSourceFunc {
	return func() (vision.FrameSource, error) {
		return OpenCamera(device)
	}
}

func (c *Camera) Read() (vision.Frame, error) {
	m := gocv.NewMat()
	if ok := c.capture.Read(&m); !ok || m.Empty() {
		_ = m.Close()
		return nil, vision.ErrEndOfStream
	}
	return &Frame{mat: m}, nil
}

func (c *Camera) Close() error {
	return c.capture.Close()
}

// Window is a HighGUI window.
type Window struct {
	window *gocv.Window
}

// OpenWindow creates a window titled title.
func OpenWindow(title string) (vision.Display, error) {
	return &Window{window: gocv.NewWindow(title)}, nil
}

func (w *Window) Show(f vision.Frame) error {
	m, ok := matOf(f)
	if !ok {
		return ErrForeignFrame
	}
	w.window.IMShow(*m)
	return nil
}

// WaitKey blocks for at least one millisecond.
func (w *Window) WaitKey(timeout time.Duration) (int, bool) {
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	key := w.window.WaitKey(ms)
	return key, key >= 0
}

func (w *Window) Close() error {
	return w.window.Close()
}

// Canvas draws with OpenCV primitives.
type Canvas struct{}

func (Canvas) DrawLine(f vision.Frame, from, to image.Point, c color.RGBA, thickness int) {
	m, ok := matOf(f)
	if !ok {
		return
	}
	gocv.Line(m, from, to, c, thickness)
}
