// Command rov-streamer runs on the vehicle. It captures every configured
// camera, dewarps it and streams H.264 over RTP to the topside host.
//
// Usage:
//
//	rov-streamer [-config path] [--list-devices] [host]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/camera"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/rov"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/service"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/transmit"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/video"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath  string
		listDevices bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.BoolVar(&listDevices, "list-devices", false, "List video devices and exit")
	flag.Parse()

	if listDevices {
		if err := printDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list devices: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if host := flag.Arg(0); host != "" {
		cfg.ROV.Host = host
	}
	if err := cfg.ValidateROV(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "rov-streamer",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ROV streamer",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"host", cfg.ROV.Host,
	)

	if err := run(cfg, log); err != nil {
		log.Error("ROV streamer failed", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ff, err := video.NewFFmpegWrapper(cfg.ROV.FFmpegPath, log)
	if err != nil {
		return err
	}

	channels, err := rov.ChannelsFromConfig(cfg)
	if err != nil {
		return err
	}

	capture := cfg.ROV.Capture
	streamer, err := rov.NewStreamer(rov.Options{
		Host:     cfg.ROV.Host,
		FPS:      capture.FPS,
		Encoder:  cfg.ROV.Encoder,
		Channels: channels,
		Open: camera.FFmpegOpener(ff, camera.CaptureSettings{
			Width:       capture.Width,
			Height:      capture.Height,
			FPS:         capture.FPS,
			InputFormat: capture.InputFormat,
		}),
		Launch: transmit.FFmpegLauncher(ff),
	}, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)
	svcMgr.Register(streamer)
	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case <-streamer.Done():
		log.Info("All channels ended")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	for _, st := range streamer.Statuses() {
		log.Info("Channel summary",
			"channel", st.Name,
			"state", st.State,
			"frames", st.Frames,
			"rejected", st.Rejected,
			"packets", st.Sent.Packets,
			"error", st.Error,
		)
	}
	return nil
}

func printDevices() error {
	devices, err := camera.NewDiscovery().ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No video devices found")
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}
