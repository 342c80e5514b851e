// Package enhance implements multi-scale Retinex visibility enhancement for
// murky underwater frames.
package enhance

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// FloatImage is an interleaved three channel image of unbounded values.
type FloatImage struct {
	Width  int
	Height int
	Pix    []float64
}

// NewFloatImage allocates a zeroed float image.
func NewFloatImage(width, height int) *FloatImage {
	return &FloatImage{Width: width, Height: height, Pix: make([]float64, width*height*3)}
}

// Backend executes the individual enhancement steps. Implementations must
// agree numerically within floating point tolerance.
type Backend interface {
	Name() string
	// WhiteBalance applies gray world correction: every channel is scaled
	// so its mean matches the mean over all channels.
	WhiteBalance(src *frame.Frame) (*frame.Frame, error)
	// SingleScaleRetinex returns log(I+1) - log(G_sigma*I + 1).
	SingleScaleRetinex(src *frame.Frame, sigma float64) (*FloatImage, error)
	// NormalizeMinMax stretches all values jointly to [0,255] and rounds the
	// absolute value to 8 bits.
	NormalizeMinMax(src *FloatImage) (*frame.Frame, error)
	// Bilateral applies an edge preserving filter of the given diameter.
	Bilateral(src *frame.Frame, diameter int, sigmaColor, sigmaSpace float64) (*frame.Frame, error)
}

// Probe constructs a backend or reports why it is unavailable.
type Probe func() (Backend, error)

type registration struct {
	name     string
	priority int
	probe    Probe
}

var (
	registryMu sync.Mutex
	registry   = map[string]registration{}
)

// ErrBackendUnavailable is returned when a requested backend cannot run here.
var ErrBackendUnavailable = errors.New("enhance: backend unavailable")

// Register makes a backend selectable. Higher priority backends are
// preferred by "auto" selection.
func Register(name string, priority int, probe Probe) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{name: name, priority: priority, probe: probe}
}

// Backends lists registered backend names, most preferred first.
func Backends() []string {
	regs := sortedRegistrations()
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = r.name
	}
	return names
}

func sortedRegistrations() []registration {
	registryMu.Lock()
	defer registryMu.Unlock()
	regs := make([]registration, 0, len(registry))
	for _, r := range registry {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].name < regs[j].name
	})
	return regs
}

// SelectBackend resolves a backend once for the session. "auto" probes
// registered backends in priority order and takes the first that works;
// any other value must name a registered backend whose probe succeeds.
func SelectBackend(preference string, log *logger.Logger) (Backend, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if preference == "" {
		preference = "auto"
	}

	if preference != "auto" {
		registryMu.Lock()
		reg, ok := registry[preference]
		registryMu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q is not compiled in (available: %v)", ErrBackendUnavailable, preference, Backends())
		}
		b, err := reg.probe()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, preference, err)
		}
		log.Info("Enhancement backend selected", "backend", b.Name())
		return b, nil
	}

	for _, reg := range sortedRegistrations() {
		b, err := reg.probe()
		if err != nil {
			log.Warn("Enhancement backend probe failed", "backend", reg.name, "error", err)
			continue
		}
		log.Info("Enhancement backend selected", "backend", b.Name(), "preference", preference)
		return b, nil
	}
	return nil, fmt.Errorf("%w: no backend passed its probe", ErrBackendUnavailable)
}
