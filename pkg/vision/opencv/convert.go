package opencv

import (
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

func toPoint2fs(pts []r2.Vec) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}

func fromPoint2fs(pts []gocv.Point2f) []r2.Vec {
	out := make([]r2.Vec, len(pts))
	for i, p := range pts {
		out[i] = r2.Vec{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}

func toPoint3fs(pts []r3.Vec) []gocv.Point3f {
	out := make([]gocv.Point3f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point3f{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)}
	}
	return out
}

// toDense copies a single-channel matrix into a gonum matrix of the same
// shape.
func toDense(m gocv.Mat) *mat.Dense {
	src := m
	if m.Type() != gocv.MatTypeCV64F {
		conv := gocv.NewMat()
		defer conv.Close()
		m.ConvertTo(&conv, gocv.MatTypeCV64F)
		src = conv
	}

	rows, cols := src.Rows(), src.Cols()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, src.GetDoubleAt(i, j))
		}
	}
	return out
}

// fromDense copies m into a new CV_64F matrix. The caller closes it.
func fromDense(m mat.Matrix) gocv.Mat {
	rows, cols := m.Dims()
	out := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64F)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.SetDoubleAt(i, j, m.At(i, j))
		}
	}
	return out
}

// vec3 reads a 3-element rotation or translation vector of any orientation.
func vec3(m gocv.Mat) r3.Vec {
	d := toDense(m)
	r, c := d.Dims()
	if r*c < 3 {
		return r3.Vec{}
	}
	raw := d.RawMatrix().Data
	return r3.Vec{X: raw[0], Y: raw[1], Z: raw[2]}
}
