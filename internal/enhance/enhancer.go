package enhance

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

// ErrInput is returned for nil, empty or non three channel frames.
var ErrInput = errors.New("retinex input must be a non-empty 3-channel image")

// Algorithm constants.
var (
	// Scales are the Gaussian sigmas of the multi-scale Retinex.
	Scales = []float64{15, 80, 250}
)

const (
	BilateralDiameter   = 9
	BilateralSigmaColor = 75.0
	BilateralSigmaSpace = 75.0
)

// Enhancer runs the underwater Retinex pipeline on one backend. It holds
// no per-frame state and is safe for concurrent use if the backend is.
type Enhancer struct {
	backend Backend
	scales  []float64
}

// NewEnhancer binds an Enhancer to a backend chosen by SelectBackend.
func NewEnhancer(backend Backend) *Enhancer {
	return &Enhancer{backend: backend, scales: append([]float64(nil), Scales...)}
}

// Backend returns the name of the active backend.
func (e *Enhancer) Backend() string {
	return e.backend.Name()
}

// Enhance returns white balanced, multi-scale Retinex enhanced, bilateral
// filtered copy of f. The input is not modified.
func (e *Enhancer) Enhance(f *frame.Frame) (*frame.Frame, error) {
	if err := checkInput(f); err != nil {
		return nil, err
	}

	balanced, err := e.backend.WhiteBalance(f)
	if err != nil {
		return nil, fmt.Errorf("white balance: %w", err)
	}

	msr, err := e.MultiScaleRetinex(balanced)
	if err != nil {
		return nil, err
	}

	norm, err := e.backend.NormalizeMinMax(msr)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	out, err := e.backend.Bilateral(norm, BilateralDiameter, BilateralSigmaColor, BilateralSigmaSpace)
	if err != nil {
		return nil, fmt.Errorf("bilateral: %w", err)
	}
	out.Seq = f.Seq
	out.Timestamp = f.Timestamp
	return out, nil
}

// MultiScaleRetinex averages single-scale Retinex outputs over the
// configured scales.
func (e *Enhancer) MultiScaleRetinex(f *frame.Frame) (*FloatImage, error) {
	if err := checkInput(f); err != nil {
		return nil, err
	}
	acc := NewFloatImage(f.Width, f.Height)
	for _, sigma := range e.scales {
		ssr, err := e.backend.SingleScaleRetinex(f, sigma)
		if err != nil {
			return nil, fmt.Errorf("retinex sigma %g: %w", sigma, err)
		}
		floats.Add(acc.Pix, ssr.Pix)
	}
	floats.Scale(1/float64(len(e.scales)), acc.Pix)
	return acc, nil
}

// EnhanceOrOriginal enhances f, falling back to f itself when enhancement
// fails. The error, if any, is returned for logging only.
func (e *Enhancer) EnhanceOrOriginal(f *frame.Frame) (*frame.Frame, error) {
	out, err := e.Enhance(f)
	if err != nil {
		return f, err
	}
	return out, nil
}

func checkInput(f *frame.Frame) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInput)
	}
	if f.Channels != 3 {
		return fmt.Errorf("%w: got %d channels", ErrInput, f.Channels)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInput, err)
	}
	return nil
}
