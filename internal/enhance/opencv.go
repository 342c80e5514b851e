//go:build opencv

package enhance

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

func init() {
	Register("opencv", 10, probeOpenCV)
}

// OpenCVBackend runs every step through OpenCV.
type OpenCVBackend struct {
	version string
}

func probeOpenCV() (Backend, error) {
	m := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer m.Close()
	if m.Empty() {
		return nil, fmt.Errorf("opencv %s: cannot allocate matrices", gocv.OpenCVVersion())
	}
	return &OpenCVBackend{version: gocv.OpenCVVersion()}, nil
}

// Name implements Backend.
func (b *OpenCVBackend) Name() string { return "opencv-" + b.version }

func toMat(f *frame.Frame) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
}

func fromMat(m gocv.Mat) *frame.Frame {
	f := frame.New(m.Cols(), m.Rows(), 3)
	copy(f.Pix, m.ToBytes())
	return f
}

// WhiteBalance implements Backend.
func (b *OpenCVBackend) WhiteBalance(src *frame.Frame) (*frame.Frame, error) {
	if err := checkInput(src); err != nil {
		return nil, err
	}
	m, err := toMat(src)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	channels := gocv.Split(m)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	var means [3]float64
	for i := range channels {
		means[i] = channels[i].Mean().Val1
	}
	gray := (means[0] + means[1] + means[2]) / 3

	scaled := make([]gocv.Mat, 3)
	for i := range channels {
		scale := 1.0
		if means[i] > 1e-12 {
			scale = gray / means[i]
		}
		scaled[i] = gocv.NewMat()
		defer scaled[i].Close()
		channels[i].ConvertToWithParams(&scaled[i], gocv.MatTypeCV8U, float32(scale), 0)
	}

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(scaled, &merged)
	return fromMat(merged), nil
}

// SingleScaleRetinex implements Backend.
func (b *OpenCVBackend) SingleScaleRetinex(src *frame.Frame, sigma float64) (*FloatImage, error) {
	if err := checkInput(src); err != nil {
		return nil, err
	}
	m, err := toMat(src)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	img := gocv.NewMat()
	defer img.Close()
	m.ConvertTo(&img, gocv.MatTypeCV32FC3)

	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(img, &blur, image.Pt(0, 0), sigma, sigma, gocv.BorderReflect101)

	img.AddFloat(1)
	blur.AddFloat(1)

	logImg := gocv.NewMat()
	defer logImg.Close()
	logBlur := gocv.NewMat()
	defer logBlur.Close()
	gocv.Log(img, &logImg)
	gocv.Log(blur, &logBlur)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(logImg, logBlur, &diff)

	data, err := diff.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	out := NewFloatImage(src.Width, src.Height)
	for i, v := range data {
		out.Pix[i] = float64(v)
	}
	return out, nil
}

// NormalizeMinMax implements Backend.
func (b *OpenCVBackend) NormalizeMinMax(src *FloatImage) (*frame.Frame, error) {
	if src == nil || len(src.Pix) == 0 || len(src.Pix) != src.Width*src.Height*3 {
		return nil, fmt.Errorf("%w: empty float image", ErrInput)
	}
	m := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32FC3)
	defer m.Close()
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	for i, v := range src.Pix {
		data[i] = float32(v)
	}

	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(m, &norm, 0, 255, gocv.NormMinMax)

	out := gocv.NewMat()
	defer out.Close()
	gocv.ConvertScaleAbs(norm, &out, 1, 0)
	return fromMat(out), nil
}

// Bilateral implements Backend.
func (b *OpenCVBackend) Bilateral(src *frame.Frame, diameter int, sigmaColor, sigmaSpace float64) (*frame.Frame, error) {
	if err := checkInput(src); err != nil {
		return nil, err
	}
	m, err := toMat(src)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.BilateralFilter(m, &out, diameter, sigmaColor, sigmaSpace)
	return fromMat(out), nil
}
