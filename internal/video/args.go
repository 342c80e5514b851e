package video

import (
	"fmt"
	"strconv"
)

// CaptureSpec describes a V4L2 capture that emits raw BGR frames.
type CaptureSpec struct {
	Device      string
	Width       int
	Height      int
	FPS         int
	InputFormat string
}

// CaptureArgs reads a V4L2 device and writes bgr24 frames of exactly
// Width x Height to stdout.
func CaptureArgs(spec CaptureSpec) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "v4l2",
	}
	if spec.InputFormat != "" {
		args = append(args, "-input_format", spec.InputFormat)
	}
	args = append(args,
		"-video_size", size(spec.Width, spec.Height),
		"-framerate", strconv.Itoa(spec.FPS),
		"-i", spec.Device,
		"-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height),
		"-pix_fmt", "bgr24",
		"-f", "rawvideo",
		"pipe:1",
	)
	return args
}

// EncodeSpec describes the low latency H.264 encoder fed with raw RGB.
type EncodeSpec struct {
	Width            int
	Height           int
	FPS              int
	BitrateKbps      int
	KeyframeInterval int
	IntraRefresh     bool
	Tune             string
	Preset           string
}

// EncodeArgs reads rgb24 frames from stdin and writes an Annex-B H.264
// elementary stream with access unit delimiters to stdout.
func EncodeArgs(spec EncodeSpec) []string {
	params := "aud=1:repeat-headers=1"
	if spec.IntraRefresh {
		params = "intra-refresh=1:" + params
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-video_size", size(spec.Width, spec.Height),
		"-framerate", strconv.Itoa(spec.FPS),
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-tune", spec.Tune,
		"-preset", spec.Preset,
		"-b:v", fmt.Sprintf("%dk", spec.BitrateKbps),
		"-g", strconv.Itoa(spec.KeyframeInterval),
		"-pix_fmt", "yuv420p",
		"-x264-params", params,
		"-flush_packets", "1",
		"-f", "h264",
		"pipe:1",
	}
}

// DecodeSpec describes the receive side decoder.
type DecodeSpec struct {
	Decoder string
	// Rotate turns the picture 90 degrees clockwise.
	Rotate bool
}

// DecodeArgs reads Annex-B H.264 from stdin and writes bgr24 frames to stdout.
func DecodeArgs(spec DecodeSpec) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-f", "h264",
	}
	if spec.Decoder != "" && spec.Decoder != "h264" {
		args = append(args, "-c:v", spec.Decoder)
	}
	args = append(args, "-i", "pipe:0")
	if spec.Rotate {
		args = append(args, "-vf", "transpose=1")
	}
	return append(args,
		"-pix_fmt", "bgr24",
		"-f", "rawvideo",
		"pipe:1",
	)
}

func size(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}
