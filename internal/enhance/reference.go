package enhance

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

func init() {
	Register("reference", 0, func() (Backend, error) { return NewReferenceBackend(), nil })
}

// ReferenceBackend is a pure Go implementation. Gaussian blurs are
// separable products with reflect-101 folded kernel matrices, which makes
// kernels wider than the image exact.
type ReferenceBackend struct {
	// kernels caches folded blur matrices by sigma and axis length.
	kernels sync.Map
}

type kernelKey struct {
	sigma float64
	n     int
}

// NewReferenceBackend returns the pure Go backend.
func NewReferenceBackend() *ReferenceBackend {
	return &ReferenceBackend{}
}

// Name implements Backend.
func (b *ReferenceBackend) Name() string { return "reference" }

// WhiteBalance implements Backend. A channel whose mean is zero is left
// untouched.
func (b *ReferenceBackend) WhiteBalance(src *frame.Frame) (*frame.Frame, error) {
	if err := checkInput(src); err != nil {
		return nil, err
	}
	means := ChannelMeans(src)
	gray := floats.Sum(means[:]) / 3

	var scale [3]float64
	for c := range scale {
		scale[c] = 1
		if means[c] > 1e-12 {
			scale[c] = gray / means[c]
		}
	}

	out := frame.New(src.Width, src.Height, 3)
	for i := 0; i < len(src.Pix); i += 3 {
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = saturate(float64(src.Pix[i+c]) * scale[c])
		}
	}
	return out, nil
}

// ChannelMeans returns the B, G and R means of a three channel frame.
func ChannelMeans(f *frame.Frame) [3]float64 {
	planes := deinterleave8(f)
	var means [3]float64
	n := float64(f.Width * f.Height)
	for c := range planes {
		means[c] = floats.Sum(planes[c]) / n
	}
	return means
}

// SingleScaleRetinex implements Backend.
func (b *ReferenceBackend) SingleScaleRetinex(src *frame.Frame, sigma float64) (*FloatImage, error) {
	if err := checkInput(src); err != nil {
		return nil, err
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("sigma must be positive, got %g", sigma)
	}

	w, h := src.Width, src.Height
	kx := b.kernel(sigma, w)
	ky := b.kernel(sigma, h)
	planes := deinterleave8(src)

	out := NewFloatImage(w, h)
	var g errgroup.Group
	for c := 0; c < 3; c++ {
		c := c
		g.Go(func() error {
			plane := mat.NewDense(h, w, planes[c])

			var rows, blurred mat.Dense
			rows.Mul(plane, kx.T())
			blurred.Mul(ky, &rows)

			raw := blurred.RawMatrix()
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					v := planes[c][y*w+x]
					bl := raw.Data[y*raw.Stride+x]
					out.Pix[(y*w+x)*3+c] = math.Log(v+1) - math.Log(bl+1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// kernel returns the n x n matrix K with blurred = K * signal for a
// reflect-101 bordered Gaussian of the given sigma.
func (b *ReferenceBackend) kernel(sigma float64, n int) *mat.Dense {
	key := kernelKey{sigma: sigma, n: n}
	if k, ok := b.kernels.Load(key); ok {
		return k.(*mat.Dense)
	}

	taps := GaussianKernel(sigma)
	radius := len(taps) / 2
	m := mat.NewDense(n, n, nil)
	for x := 0; x < n; x++ {
		for o := -radius; o <= radius; o++ {
			src := reflect101(x+o, n)
			m.Set(x, src, m.At(x, src)+taps[o+radius])
		}
	}

	actual, _ := b.kernels.LoadOrStore(key, m)
	return actual.(*mat.Dense)
}

// GaussianKernel returns normalized taps for sigma using the size rule
// OpenCV applies to floating point images: round(8*sigma + 1) forced odd.
func GaussianKernel(sigma float64) []float64 {
	size := int(math.RoundToEven(sigma*4*2+1)) | 1
	taps := make([]float64, size)
	center := float64(size-1) * 0.5
	coeff := -0.5 / (sigma * sigma)
	for i := range taps {
		x := float64(i) - center
		taps[i] = math.Exp(coeff * x * x)
	}
	floats.Scale(1/floats.Sum(taps), taps)
	return taps
}

// reflect101 maps an out of range index back into [0, n) mirroring about
// the edge pixels (gfedcb|abcdefgh|gfedcba), repeating for far offsets.
func reflect101(p, n int) int {
	if n == 1 {
		return 0
	}
	for p < 0 || p >= n {
		if p < 0 {
			p = -p
		} else {
			p = 2*(n-1) - p
		}
	}
	return p
}

// NormalizeMinMax implements Backend. A constant image maps to zero.
func (b *ReferenceBackend) NormalizeMinMax(src *FloatImage) (*frame.Frame, error) {
	if src == nil || len(src.Pix) == 0 || len(src.Pix) != src.Width*src.Height*3 {
		return nil, fmt.Errorf("%w: empty float image", ErrInput)
	}
	lo, hi := floats.Min(src.Pix), floats.Max(src.Pix)

	scale := 0.0
	if hi-lo > 2.220446049250313e-16 {
		scale = 255 / (hi - lo)
	}
	shift := -lo * scale

	out := frame.New(src.Width, src.Height, 3)
	for i, v := range src.Pix {
		out.Pix[i] = saturate(math.Abs(v*scale + shift))
	}
	return out, nil
}

// Bilateral implements Backend. Neighbours lie in a disc of radius
// diameter/2, color distance is the L1 sum over channels and borders are
// reflected.
func (b *ReferenceBackend) Bilateral(src *frame.Frame, diameter int, sigmaColor, sigmaSpace float64) (*frame.Frame, error) {
	if err := checkInput(src); err != nil {
		return nil, err
	}
	if sigmaColor <= 0 {
		sigmaColor = 1
	}
	if sigmaSpace <= 0 {
		sigmaSpace = 1
	}
	radius := diameter / 2
	if diameter <= 0 {
		radius = int(math.RoundToEven(sigmaSpace * 1.5))
	}
	if radius < 1 {
		radius = 1
	}

	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)

	colorWeight := make([]float64, 256*3)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r := math.Sqrt(float64(dx*dx + dy*dy))
			if r > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(r * r * spaceCoeff)})
		}
	}

	w, h := src.Width, src.Height
	out := frame.New(w, h, 3)

	var g errgroup.Group
	for _, band := range frame.RowBands(h, runtime.GOMAXPROCS(0)) {
		band := band
		g.Go(func() error {
			for y := band[0]; y < band[1]; y++ {
				for x := 0; x < w; x++ {
					ci := (y*w + x) * 3
					b0, g0, r0 := int(src.Pix[ci]), int(src.Pix[ci+1]), int(src.Pix[ci+2])

					var sumB, sumG, sumR, wsum float64
					for _, t := range taps {
						sx := reflect101(x+t.dx, w)
						sy := reflect101(y+t.dy, h)
						si := (sy*w + sx) * 3
						bb, gg, rr := int(src.Pix[si]), int(src.Pix[si+1]), int(src.Pix[si+2])
						wt := t.w * colorWeight[absInt(bb-b0)+absInt(gg-g0)+absInt(rr-r0)]
						sumB += float64(bb) * wt
						sumG += float64(gg) * wt
						sumR += float64(rr) * wt
						wsum += wt
					}
					out.Pix[ci] = saturate(sumB / wsum)
					out.Pix[ci+1] = saturate(sumG / wsum)
					out.Pix[ci+2] = saturate(sumR / wsum)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func deinterleave8(f *frame.Frame) [3][]float64 {
	n := f.Width * f.Height
	planes := [3][]float64{make([]float64, n), make([]float64, n), make([]float64, n)}
	for i := 0; i < n; i++ {
		planes[0][i] = float64(f.Pix[i*3])
		planes[1][i] = float64(f.Pix[i*3+1])
		planes[2][i] = float64(f.Pix[i*3+2])
	}
	return planes
}

func saturate(v float64) uint8 {
	v = math.RoundToEven(v)
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
