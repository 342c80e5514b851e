package dewarp

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

// InputError is returned when a frame cannot be remapped with a map.
type InputError struct {
	Width, Height, Channels int
	Reason                  string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("dewarp: rejected %dx%dx%d frame: %s", e.Width, e.Height, e.Channels, e.Reason)
}

// Map holds per pixel source coordinates for one output resolution.
type Map struct {
	Width  int
	Height int
	// MapX and MapY give, for output pixel (x, y) at index y*Width+x, the
	// source location to sample.
	MapX []float32
	MapY []float32
	// NewK is the camera matrix of the corrected image.
	NewK *mat.Dense
}

// EstimateNewCameraMatrix chooses the output camera matrix for an image of
// the given size. balance 0 crops to the valid region, 1 keeps every
// source pixel. The construction matches OpenCV's
// fisheye::estimateNewCameraMatrixForUndistortRectify with R = I.
func EstimateNewCameraMatrix(cal Calibration, width, height int, balance float64) *mat.Dense {
	balance = math.Min(math.Max(balance, 0), 1)

	w, h := float64(width), float64(height)
	edges := cal.UndistortPoints([]Point{
		{X: float64(width / 2), Y: 0},
		{X: w, Y: float64(height / 2)},
		{X: float64(width / 2), Y: h},
		{X: 0, Y: float64(height / 2)},
	})

	var cnx, cny float64
	for _, p := range edges {
		cnx += p.X
		cny += p.Y
	}
	cnx /= float64(len(edges))
	cny /= float64(len(edges))

	fx, fy := cal.focal()
	aspect := fx / fy
	cnx *= aspect

	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for i := range edges {
		edges[i].Y *= aspect
		minX = math.Min(minX, edges[i].X)
		maxX = math.Max(maxX, edges[i].X)
		minY = math.Min(minY, edges[i].Y)
		maxY = math.Max(maxY, edges[i].Y)
	}

	f1 := w * 0.5 / (cnx - minX)
	f2 := w * 0.5 / (maxX - cnx)
	f3 := h * 0.5 * aspect / (cny - minY)
	f4 := h * 0.5 * aspect / (maxY - cny)

	fmin := math.Min(f1, math.Min(f2, math.Min(f3, f4)))
	fmax := math.Max(f1, math.Max(f2, math.Max(f3, f4)))
	f := balance*fmin + (1-balance)*fmax

	newCx := -cnx*f + w*0.5
	newCy := (-cny*f + h*aspect*0.5) / aspect

	return mat.NewDense(3, 3, []float64{
		f, 0, newCx,
		0, f / aspect, newCy,
		0, 0, 1,
	})
}

// Build computes the remap tables that undistort a width x height image.
func Build(cal Calibration, width, height int) (*Map, error) {
	if cal.IsZero() {
		return nil, errors.New("dewarp: calibration is not initialised")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("dewarp: invalid image size %dx%d", width, height)
	}

	newK := EstimateNewCameraMatrix(cal, width, height, cal.balance)

	// R is identity, so the inverse rectification is inv(newK).
	var iR mat.Dense
	if err := iR.Inverse(newK); err != nil {
		return nil, fmt.Errorf("dewarp: new camera matrix is singular: %w", err)
	}

	fx, fy := cal.focal()
	cx, cy := cal.center()

	m := &Map{
		Width:  width,
		Height: height,
		MapX:   make([]float32, width*height),
		MapY:   make([]float32, width*height),
		NewK:   newK,
	}

	for i := 0; i < height; i++ {
		row := float64(i)
		px := row*iR.At(0, 1) + iR.At(0, 2)
		py := row*iR.At(1, 1) + iR.At(1, 2)
		pw := row*iR.At(2, 1) + iR.At(2, 2)

		for j := 0; j < width; j++ {
			x, y := px/pw, py/pw

			r := math.Sqrt(x*x + y*y)
			scale := 1.0
			if r != 0 {
				scale = cal.distortTheta(math.Atan(r)) / r
			}

			idx := i*width + j
			m.MapX[idx] = float32(fx*x*scale + cx)
			m.MapY[idx] = float32(fy*y*scale + cy)

			px += iR.At(0, 0)
			py += iR.At(1, 0)
			pw += iR.At(2, 0)
		}
	}
	return m, nil
}

// Apply remaps src with bilinear interpolation. Samples falling outside
// the source are black. The output has the same dimensions as src.
func (m *Map) Apply(src *frame.Frame) (*frame.Frame, error) {
	if src == nil || len(src.Pix) == 0 {
		return nil, &InputError{Reason: "empty frame"}
	}
	if src.Channels != 3 {
		return nil, &InputError{Width: src.Width, Height: src.Height, Channels: src.Channels, Reason: "expected 3 channels"}
	}
	if src.Width != m.Width || src.Height != m.Height {
		return nil, &InputError{
			Width: src.Width, Height: src.Height, Channels: src.Channels,
			Reason: fmt.Sprintf("map built for %dx%d", m.Width, m.Height),
		}
	}
	if err := src.Validate(); err != nil {
		return nil, &InputError{Width: src.Width, Height: src.Height, Channels: src.Channels, Reason: err.Error()}
	}

	dst := frame.New(src.Width, src.Height, 3)
	dst.Seq = src.Seq
	dst.Timestamp = src.Timestamp

	var g errgroup.Group
	for _, band := range frame.RowBands(m.Height, runtime.GOMAXPROCS(0)) {
		band := band
		g.Go(func() error {
			m.remapRows(src, dst, band[0], band[1])
			return nil
		})
	}
	_ = g.Wait()
	return dst, nil
}

func (m *Map) remapRows(src, dst *frame.Frame, y0, y1 int) {
	w, h := src.Width, src.Height
	stride := src.Stride()

	for y := y0; y < y1; y++ {
		out := dst.Pix[y*stride : (y+1)*stride]
		for x := 0; x < w; x++ {
			idx := y*w + x
			sx, sy := float64(m.MapX[idx]), float64(m.MapY[idx])

			x0f, y0f := math.Floor(sx), math.Floor(sy)
			ax, ay := sx-x0f, sy-y0f
			x0, yy0 := int(x0f), int(y0f)
			// Entirely outside: leave black.
			if x0 < -1 || yy0 < -1 || x0 >= w || yy0 >= h {
				continue
			}

			w00 := (1 - ax) * (1 - ay)
			w10 := ax * (1 - ay)
			w01 := (1 - ax) * ay
			w11 := ax * ay

			for c := 0; c < 3; c++ {
				v := w00*sample(src, x0, yy0, c) +
					w10*sample(src, x0+1, yy0, c) +
					w01*sample(src, x0, yy0+1, c) +
					w11*sample(src, x0+1, yy0+1, c)
				out[x*3+c] = saturate(v)
			}
		}
	}
}

func sample(f *frame.Frame, x, y, c int) float64 {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0
	}
	return float64(f.Pix[(y*f.Width+x)*3+c])
}

func saturate(v float64) uint8 {
	v = math.RoundToEven(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
