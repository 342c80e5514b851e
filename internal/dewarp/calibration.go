// Package dewarp corrects fisheye lens distortion with precomputed remap
// tables. The lens model is the four coefficient equidistant model used by
// OpenCV's fisheye module, so calibrations produced with OpenCV apply as is.
package dewarp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultBalance keeps most of the corrected image while trimming the
// black corners.
const DefaultBalance = 0.05

// Calibration is an immutable camera model: the intrinsic matrix K, the
// fisheye coefficients k1..k4 and the balance used when choosing the
// output camera matrix.
type Calibration struct {
	k       *mat.Dense
	d       [4]float64
	balance float64
}

// NewCalibration validates and copies a camera model.
func NewCalibration(matrix [][]float64, distortion []float64, balance float64) (Calibration, error) {
	if len(matrix) != 3 {
		return Calibration{}, fmt.Errorf("camera matrix must be 3x3, got %d rows", len(matrix))
	}
	k := mat.NewDense(3, 3, nil)
	for i, row := range matrix {
		if len(row) != 3 {
			return Calibration{}, fmt.Errorf("camera matrix row %d has %d values, want 3", i, len(row))
		}
		for j, v := range row {
			k.Set(i, j, v)
		}
	}
	if k.At(0, 0) <= 0 || k.At(1, 1) <= 0 {
		return Calibration{}, fmt.Errorf("focal lengths must be positive, got fx=%g fy=%g", k.At(0, 0), k.At(1, 1))
	}
	if len(distortion) != 4 {
		return Calibration{}, fmt.Errorf("fisheye model needs 4 distortion coefficients, got %d", len(distortion))
	}
	if balance < 0 || balance > 1 {
		return Calibration{}, fmt.Errorf("balance must be within [0,1], got %g", balance)
	}

	var d [4]float64
	copy(d[:], distortion)
	return Calibration{k: k, d: d, balance: balance}, nil
}

// DefaultCalibration is the model of the vehicle's stock wide angle cameras
// at 640x480.
func DefaultCalibration() Calibration {
	cal, err := NewCalibration(
		[][]float64{{522, 0, 320}, {0, 522, 240}, {0, 0, 1}},
		[]float64{-0.2, 0.02, 0, 0},
		DefaultBalance,
	)
	if err != nil {
		panic(err)
	}
	return cal
}

// K returns a copy of the intrinsic matrix.
func (c Calibration) K() *mat.Dense {
	return mat.DenseCopyOf(c.k)
}

// Distortion returns the fisheye coefficients.
func (c Calibration) Distortion() [4]float64 {
	return c.d
}

// Balance returns the balance factor.
func (c Calibration) Balance() float64 {
	return c.balance
}

// IsZero reports whether c was never initialised.
func (c Calibration) IsZero() bool {
	return c.k == nil
}

func (c Calibration) focal() (fx, fy float64) {
	return c.k.At(0, 0), c.k.At(1, 1)
}

func (c Calibration) center() (cx, cy float64) {
	return c.k.At(0, 2), c.k.At(1, 2)
}

// distortTheta applies the polynomial theta_d = theta(1 + k1θ² + k2θ⁴ + k3θ⁶ + k4θ⁸).
func (c Calibration) distortTheta(theta float64) float64 {
	t2 := theta * theta
	t4 := t2 * t2
	t6 := t4 * t2
	t8 := t4 * t4
	return theta * (1 + c.d[0]*t2 + c.d[1]*t4 + c.d[2]*t6 + c.d[3]*t8)
}
