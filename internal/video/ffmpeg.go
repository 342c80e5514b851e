package video

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// searchPaths are tried after the configured path.
var searchPaths = []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}

// FFmpegWrapper is a probed ffmpeg installation. The probe runs once in
// NewFFmpegWrapper; the result is read-only afterwards.
type FFmpegWrapper struct {
	logger   *logger.Logger
	path     string
	encoders map[string]bool
	decoders map[string]bool
	nvdec    bool
}

// NewFFmpegWrapper finds a working ffmpeg, trying preferredPath first,
// and records the encoders and decoders it was built with.
func NewFFmpegWrapper(preferredPath string, log *logger.Logger) (*FFmpegWrapper, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	path, err := findFFmpeg(preferredPath)
	if err != nil {
		return nil, err
	}

	ff := &FFmpegWrapper{
		logger:   log,
		path:     path,
		encoders: make(map[string]bool),
		decoders: make(map[string]bool),
	}
	if err := ff.listCodecs("-decoders", ff.decoders); err != nil {
		log.Warn("Could not list ffmpeg decoders", "path", path, "error", err)
	}
	if err := ff.listCodecs("-encoders", ff.encoders); err != nil {
		log.Warn("Could not list ffmpeg encoders", "path", path, "error", err)
	}
	ff.nvdec = ff.decoders["h264_cuvid"] && exec.Command("nvidia-smi").Run() == nil

	log.Info("Using ffmpeg",
		"path", path,
		"libx264", ff.encoders["libx264"],
		"nvdec", ff.nvdec,
	)
	return ff, nil
}

func findFFmpeg(preferred string) (string, error) {
	candidates := searchPaths
	if preferred != "" {
		candidates = append([]string{preferred}, searchPaths...)
	}
	for _, p := range candidates {
		if exec.Command(p, "-version").Run() == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ffmpeg not found (tried %s)", strings.Join(candidates, ", "))
}

func (f *FFmpegWrapper) listCodecs(flag string, into map[string]bool) error {
	out, err := exec.Command(f.path, "-hide_banner", flag).Output()
	if err != nil {
		return err
	}
	parseCodecList(string(out), into)
	return nil
}

// parseCodecList reads ffmpeg's "-encoders"/"-decoders" table, whose rows
// look like " V....D libx264   libx264 H.264 ...".
func parseCodecList(output string, into map[string]bool) {
	for _, line := range strings.Split(output, "\n") {
		cols := strings.Fields(line)
		if len(cols) < 2 || cols[1] == "=" {
			continue
		}
		flags := cols[0]
		if len(flags) != 6 || !strings.ContainsRune("VAS", rune(flags[0])) {
			continue
		}
		into[cols[1]] = true
	}
}

// Path returns the ffmpeg executable in use.
func (f *FFmpegWrapper) Path() string {
	return f.path
}

// HasNVDEC reports whether the h264_cuvid decoder and an NVIDIA driver
// are both present.
func (f *FFmpegWrapper) HasNVDEC() bool {
	return f.nvdec
}

// IsCodecAvailable reports whether ffmpeg can encode or decode codec.
func (f *FFmpegWrapper) IsCodecAvailable(codec string) bool {
	return f.encoders[codec] || f.decoders[codec]
}

// Decoder names the H.264 decoder for the receive pipeline.
func (f *FFmpegWrapper) Decoder(allowHardware bool) string {
	if allowHardware && f.nvdec {
		return "h264_cuvid"
	}
	return "h264"
}

// RequireEncoder fails when ffmpeg lacks the named encoder. An empty
// encoder list (listing failed) is not treated as missing.
func (f *FFmpegWrapper) RequireEncoder(name string) error {
	if len(f.encoders) > 0 && !f.encoders[name] {
		return fmt.Errorf("ffmpeg at %s was built without %s", f.path, name)
	}
	return nil
}

// Start launches ffmpeg with args as a piped Process.
func (f *FFmpegWrapper) Start(ctx context.Context, name string, args []string) (*Process, error) {
	f.logger.Debug("Starting ffmpeg", "process", name, "args", strings.Join(args, " "))
	return StartCommand(ctx, name, f.path, args)
}

// GetVersion returns the first line of "ffmpeg -version".
func (f *FFmpegWrapper) GetVersion() (string, error) {
	out, err := exec.Command(f.path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	first, _, _ := strings.Cut(string(out), "\n")
	if first = strings.TrimSpace(first); first == "" {
		return "unknown", nil
	}
	return first, nil
}
