package dewarp

import (
	"math"
)

// Point is an image or normalized coordinate.
type Point struct {
	X, Y float64
}

const (
	undistortIterations = 10
	undistortEpsilon    = 1e-8
)

// invalidPoint marks a point whose iteration did not converge or flipped sign.
var invalidPoint = Point{X: -1e6, Y: -1e6}

// UndistortPoints maps distorted pixel coordinates to normalized,
// undistorted camera coordinates (z = 1). Theta is recovered with
// Newton's method.
func (c Calibration) UndistortPoints(points []Point) []Point {
	fx, fy := c.focal()
	cx, cy := c.center()

	out := make([]Point, len(points))
	for i, p := range points {
		wx := (p.X - cx) / fx
		wy := (p.Y - cy) / fy

		thetaD := math.Sqrt(wx*wx + wy*wy)
		thetaD = math.Min(math.Max(-math.Pi/2, thetaD), math.Pi/2)

		scale := 1.0
		theta := thetaD
		converged := true
		if thetaD > 1e-8 {
			converged = false
			for j := 0; j < undistortIterations; j++ {
				t2 := theta * theta
				t4 := t2 * t2
				t6 := t4 * t2
				t8 := t6 * t2
				k0, k1, k2, k3 := c.d[0]*t2, c.d[1]*t4, c.d[2]*t6, c.d[3]*t8
				fix := (theta*(1+k0+k1+k2+k3) - thetaD) / (1 + 3*k0 + 5*k1 + 7*k2 + 9*k3)
				theta -= fix
				if math.Abs(fix) < undistortEpsilon {
					converged = true
					break
				}
			}
			scale = math.Tan(theta) / thetaD
		}

		flipped := (thetaD < 0 && theta > 0) || (thetaD > 0 && theta < 0)
		if !converged || flipped {
			out[i] = invalidPoint
			continue
		}
		out[i] = Point{X: wx * scale, Y: wy * scale}
	}
	return out
}

// DistortPoint projects a normalized undistorted coordinate back into
// pixel space through the lens model.
func (c Calibration) DistortPoint(p Point) Point {
	fx, fy := c.focal()
	cx, cy := c.center()

	r := math.Hypot(p.X, p.Y)
	scale := 1.0
	if r != 0 {
		scale = c.distortTheta(math.Atan(r)) / r
	}
	return Point{X: fx*p.X*scale + cx, Y: fy*p.Y*scale + cy}
}
