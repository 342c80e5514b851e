package dewarp

import (
	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

// Undistorter builds its map from the first frame it sees and rebuilds it
// only when the resolution changes. It is meant to be owned by a single
// channel goroutine and is not safe for concurrent use.
type Undistorter struct {
	cal Calibration
	m   *Map
}

// NewUndistorter returns an Undistorter for cal.
func NewUndistorter(cal Calibration) *Undistorter {
	return &Undistorter{cal: cal}
}

// Prepare builds the map for width x height ahead of the first frame.
func (u *Undistorter) Prepare(width, height int) error {
	if u.m != nil && u.m.Width == width && u.m.Height == height {
		return nil
	}
	m, err := Build(u.cal, width, height)
	if err != nil {
		return err
	}
	u.m = m
	return nil
}

// Apply undistorts f, building or rebuilding the map as needed.
func (u *Undistorter) Apply(f *frame.Frame) (*frame.Frame, error) {
	if f == nil || len(f.Pix) == 0 {
		return nil, &InputError{Reason: "empty frame"}
	}
	if f.Channels != 3 {
		return nil, &InputError{Width: f.Width, Height: f.Height, Channels: f.Channels, Reason: "expected 3 channels"}
	}
	if err := u.Prepare(f.Width, f.Height); err != nil {
		return nil, err
	}
	return u.m.Apply(f)
}

// Map returns the current map, nil before the first Prepare or Apply.
func (u *Undistorter) Map() *Map {
	return u.m
}
