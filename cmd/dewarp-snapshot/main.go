// Command dewarp-snapshot grabs one frame from a vehicle camera and writes
// it next to its dewarped version, for checking a fisheye calibration
// before a dive.
//
// Usage:
//
//	dewarp-snapshot [-config path] [-out dir] [device]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/camera"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/dewarp"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/video"
)

func main() {
	var (
		configPath string
		outDir     string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.StringVar(&outDir, "out", ".", "Directory for the snapshots")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Give up if no frame arrives within this time")
	flag.Parse()

	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: "text",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ch, err := pickChannel(cfg, flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	raw, fixed, err := snapshot(ctx, cfg, ch, log)
	if err != nil {
		log.Error("Snapshot failed", "device", ch.Device, "error", err)
		os.Exit(1)
	}

	stamp := time.Now().Format("20060102_150405")
	for name, f := range map[string]*frame.Frame{"raw": raw, "dewarped": fixed} {
		path := filepath.Join(outDir, fmt.Sprintf("camera%s_%s_%s.jpg", filepath.Base(ch.Device), name, stamp))
		if err := writeJPEG(path, f); err != nil {
			log.Error("Failed to write snapshot", "path", path, "error", err)
			os.Exit(1)
		}
		fmt.Println(path)
	}
}

// pickChannel returns the configured channel for device, or a channel
// using the shared calibration when the device is not configured.
func pickChannel(cfg *config.Config, device string) (config.ROVChannelConfig, error) {
	if device == "" {
		if len(cfg.ROV.Channels) == 0 {
			return config.ROVChannelConfig{}, fmt.Errorf("no device given and no channels configured")
		}
		return cfg.ROV.Channels[0], nil
	}
	for _, ch := range cfg.ROV.Channels {
		if ch.Device == device || camera.ResolveDevice(ch.Device) == camera.ResolveDevice(device) {
			return ch, nil
		}
	}
	return config.ROVChannelConfig{Name: "Camera " + device, Device: device}, nil
}

func snapshot(ctx context.Context, cfg *config.Config, ch config.ROVChannelConfig, log *logger.Logger) (*frame.Frame, *frame.Frame, error) {
	cal := cfg.ChannelCalibration(ch)
	calibration, err := dewarp.NewCalibration(cal.CameraMatrix, cal.Distortion, cal.Balance)
	if err != nil {
		return nil, nil, err
	}

	ff, err := video.NewFFmpegWrapper(cfg.ROV.FFmpegPath, log)
	if err != nil {
		return nil, nil, err
	}
	capture := cfg.ROV.Capture
	open := camera.FFmpegOpener(ff, camera.CaptureSettings{
		Width:       capture.Width,
		Height:      capture.Height,
		FPS:         capture.FPS,
		InputFormat: capture.InputFormat,
	})

	dev, err := open(ctx, camera.ResolveDevice(ch.Device))
	if err != nil {
		return nil, nil, err
	}
	defer dev.Close()

	type result struct {
		f   *frame.Frame
		err error
	}
	got := make(chan result, 1)
	go func() {
		f, err := dev.Read()
		got <- result{f, err}
	}()

	var raw *frame.Frame
	select {
	case r := <-got:
		if r.err != nil {
			return nil, nil, r.err
		}
		raw = r.f
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("no frame from %s: %w", ch.Device, ctx.Err())
	}

	fixed, err := dewarp.NewUndistorter(calibration).Apply(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, fixed, nil
}

func writeJPEG(path string, f *frame.Frame) error {
	img, err := f.ToRGBA()
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 95}); err != nil {
		file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
