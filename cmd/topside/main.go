// Command topside runs the operator station: it receives both RTP feeds,
// renders previews, saves captures and serves the operator console.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/artifacts"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/enhance"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/health"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/preview"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/receiver"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/service"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/station"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/video"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const minFreeBytes = 256 << 20

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateTopside(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "topside",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting topside station",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"pipeline", cfg.Topside.Pipeline,
	)

	if err := run(cfg, log); err != nil {
		log.Error("Topside station failed", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logger.Logger) error {
	// ffmpeg is only needed by the rtp pipeline.
	var ff *video.FFmpegWrapper
	if cfg.Topside.Pipeline == "rtp" {
		var err error
		ff, err = video.NewFFmpegWrapper(cfg.Topside.FFmpegPath, log)
		if err != nil {
			return err
		}
	}

	factory, err := receiver.NewFactory(cfg.Topside.Pipeline, receiver.Options{
		FFmpeg:         ff,
		PayloadType:    uint8(cfg.Topside.PayloadType),
		HardwareDecode: cfg.Topside.HardwareDecode,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	var enhancer *enhance.Enhancer
	backend, err := enhance.SelectBackend(cfg.Enhance.Backend, log)
	if err != nil {
		log.Warn("Retinex enhancement disabled", "error", err)
	} else {
		enhancer = enhance.NewEnhancer(backend)
	}

	store, err := artifacts.Open(artifacts.Options{
		OutputDir:    cfg.Topside.OutputDir,
		DatabasePath: cfg.Topside.DatabasePath,
		JPEGQuality:  cfg.Topside.Preview.JPEGQuality,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := station.New(station.Options{
		Channels:    cfg.Topside.Channels,
		Factory:     factory,
		StopTimeout: cfg.Topside.StopTimeout,
		Enhancer:    enhancer,
		Store:       store,
		Preview: preview.Options{
			MaxWidth:  cfg.Topside.Preview.MaxWidth,
			MaxHeight: cfg.Topside.Preview.MaxHeight,
			Quality:   cfg.Topside.Preview.JPEGQuality,
		},
		Interval: cfg.Topside.Preview.Interval,
	}, log)
	if err != nil {
		return err
	}

	svcMgr := service.NewManager(log)
	healthMgr := health.NewManager(log, svcMgr)
	if ff != nil {
		healthMgr.RegisterChecker(health.NewFFmpegChecker(ff, "h264"))
	}
	healthMgr.RegisterChecker(health.NewStorageChecker(store.RunDir(), minFreeBytes))
	healthMgr.RegisterChecker(health.NewCatalogChecker(store))
	healthMgr.RegisterChecker(health.NewChannelChecker(func() []health.ChannelReport {
		return channelReports(st.Channels())
	}))

	server := web.NewServer(&cfg.Web, log)
	server.SetVersion(version)
	server.SetDependencies(st, store)
	server.SetHealthDependencies(healthMgr, svcMgr)

	svcMgr.Register(st)
	svcMgr.Register(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	log.Info("Captures are saved under", "dir", store.RunDir())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}

func channelReports(channels []station.ChannelInfo) []health.ChannelReport {
	reports := make([]health.ChannelReport, 0, len(channels))
	for _, ch := range channels {
		reports = append(reports, health.ChannelReport{
			Name:   ch.Name,
			State:  string(ch.Receiver.State),
			Failed: ch.Receiver.State == receiver.StateFailed,
			Error:  ch.Receiver.Error,
		})
	}
	return reports
}
