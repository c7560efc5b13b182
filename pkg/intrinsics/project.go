package intrinsics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rodrigues converts a rotation vector (axis scaled by angle in radians) into
// a 3x3 rotation matrix.
func Rodrigues(rvec r3.Vec) *mat.Dense {
	rot := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})

	theta := r3.Norm(rvec)
	if theta < 1e-12 {
		return rot
	}
	k := r3.Scale(1/theta, rvec)
	skew := mat.NewDense(3, 3, []float64{
		0, -k.Z, k.Y,
		k.Z, 0, -k.X,
		-k.Y, k.X, 0,
	})

	var skew2 mat.Dense
	skew2.Mul(skew, skew)

	var term mat.Dense
	term.Scale(math.Sin(theta), skew)
	rot.Add(rot, &term)
	term.Scale(1-math.Cos(theta), &skew2)
	rot.Add(rot, &term)

	return rot
}

// ProjectPoints maps object-space points through the pose (rvec, tvec) and the
// camera onto the image plane, applying the rational distortion model
// (k1, k2, p1, p2, k3, k4, k5, k6; absent coefficients count as zero).
//
// The second return is false if any point is not in front of the camera, in
// which case the projection of that point is meaningless.
func ProjectPoints(points []r3.Vec, rvec, tvec r3.Vec, in *Intrinsics) ([]r2.Vec, bool) {
	rot := Rodrigues(rvec)

	var d [DefaultDistortionCoefficients]float64
	copy(d[:], in.Coefficients())
	k1, k2, p1, p2, k3, k4, k5, k6 := d[0], d[1], d[2], d[3], d[4], d[5], d[6], d[7]

	cm := in.CameraMatrix
	fx, skew, cx := cm.At(0, 0), cm.At(0, 1), cm.At(0, 2)
	fy, cy := cm.At(1, 1), cm.At(1, 2)

	ok := true
	out := make([]r2.Vec, len(points))
	for i, p := range points {
		var pc mat.VecDense
		pc.MulVec(rot, mat.NewVecDense(3, []float64{p.X, p.Y, p.Z}))
		x := pc.AtVec(0) + tvec.X
		y := pc.AtVec(1) + tvec.Y
		z := pc.AtVec(2) + tvec.Z
		if z <= 0 {
			ok = false
			z = math.SmallestNonzeroFloat64
		}
		x, y = x/z, y/z

		r2s := x*x + y*y
		radial := (1 + k1*r2s + k2*r2s*r2s + k3*r2s*r2s*r2s) / (1 + k4*r2s + k5*r2s*r2s + k6*r2s*r2s*r2s)
		xd := x*radial + 2*p1*x*y + p2*(r2s+2*x*x)
		yd := y*radial + p1*(r2s+2*y*y) + 2*p2*x*y

		out[i] = r2.Vec{X: fx*xd + skew*yd + cx, Y: fy*yd + cy}
	}

	return out, ok
}
