package intrinsics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrMalformed is returned when calibration data does not follow the
// positional layout.
var ErrMalformed = errors.New("malformed calibration data")

// Encode writes in to w, one scalar per line.
func Encode(w io.Writer, in *Intrinsics) error {
	if err := in.Validate(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, m := range []*mat.Dense{in.CameraMatrix, in.Distortion} {
		if err := writeMatrix(bw, m); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func writeMatrix(w *bufio.Writer, m *mat.Dense) error {
	rows, cols := m.Dims()
	if rows > math.MaxUint16 || cols > math.MaxUint16 {
		return pkgerrors.Errorf("matrix %dx%d does not fit the file format", rows, cols)
	}

	fmt.Fprintf(w, "%d\n%d\n", uint16(rows), uint16(cols))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			w.WriteString(strconv.FormatFloat(m.At(r, c), 'g', -1, 64))
			w.WriteByte('\n')
		}
	}

	return nil
}

// Decode reads intrinsics written by Encode. Any whitespace separates values.
func Decode(r io.Reader) (*Intrinsics, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	cm, err := readMatrix(sc, "camera matrix", cameraMatrixShape)
	if err != nil {
		return nil, err
	}
	dist, err := readMatrix(sc, "distortion coefficients", distortionShape)
	if err != nil {
		return nil, err
	}

	in := &Intrinsics{CameraMatrix: cm, Distortion: dist}
	if err := in.Validate(); err != nil {
		return nil, pkgerrors.Wrap(ErrMalformed, err.Error())
	}

	return in, nil
}

// readMatrix rejects the header against shape before allocating, so a
// corrupt size cannot exhaust memory.
func readMatrix(sc *bufio.Scanner, name string, shape func(rows, cols int) error) (*mat.Dense, error) {
	rows, err := readDim(sc, name+" rows")
	if err != nil {
		return nil, err
	}
	cols, err := readDim(sc, name+" cols")
	if err != nil {
		return nil, err
	}
	if err := shape(rows, cols); err != nil {
		return nil, pkgerrors.Wrapf(ErrMalformed, "%s: %v", name, err)
	}

	data := make([]float64, rows*cols)
	for i := range data {
		tok, err := nextToken(sc, name)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, pkgerrors.Wrapf(ErrMalformed, "%s value %d: %v", name, i, err)
		}
		data[i] = v
	}

	return mat.NewDense(rows, cols, data), nil
}

func readDim(sc *bufio.Scanner, what string) (int, error) {
	tok, err := nextToken(sc, what)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(tok, 10, 16)
	if err != nil {
		return 0, pkgerrors.Wrapf(ErrMalformed, "%s: %v", what, err)
	}
	if v == 0 {
		return 0, pkgerrors.Wrapf(ErrMalformed, "%s: must not be zero", what)
	}
	return int(v), nil
}

func nextToken(sc *bufio.Scanner, what string) (string, error) {
	if sc.Scan() {
		return sc.Text(), nil
	}
	if err := sc.Err(); err != nil {
		return "", pkgerrors.Wrapf(ErrFileAccess, "reading %s: %v", what, err)
	}
	return "", pkgerrors.Wrapf(ErrMalformed, "unexpected end of data reading %s", what)
}
