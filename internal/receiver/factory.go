package receiver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/video"
)

// Options configure the pipeline implementations.
type Options struct {
	FFmpeg         *video.FFmpegWrapper
	ListenHost     string
	PayloadType    uint8
	HardwareDecode bool
	Logger         *logger.Logger
}

// Builder returns a Factory for opts.
type Builder func(opts Options) (Factory, error)

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{}
)

// RegisterPipeline makes a pipeline implementation selectable by name.
func RegisterPipeline(name string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[name] = b
}

// Pipelines lists the registered implementations.
func Pipelines() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFactory returns the Factory of the named implementation.
func NewFactory(name string, opts Options) (Factory, error) {
	buildersMu.RLock()
	b, ok := builders[name]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decode pipeline %q is not available in this build (have %v)", name, Pipelines())
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	return b(opts)
}
