package video

import (
	"testing"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	log := logger.NewNopLogger()
	ffmpeg, err := NewFFmpegWrapper("", log)
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

func requireEncoder(t *testing.T, ffmpeg *FFmpegWrapper) {
	if !ffmpeg.IsCodecAvailable("libx264") {
		t.Skip("libx264 not available, skipping test")
	}
}
