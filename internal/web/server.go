// Package web serves the operator console: channel controls, live
// previews and the capture catalog over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/artifacts"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/health"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/preview"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/service"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/station"
)

// Console is the operator station as seen by the HTTP handlers.
type Console interface {
	Channels() []station.ChannelInfo
	Channel(id int) (station.ChannelInfo, error)
	Connect(id int, port string) (station.ChannelInfo, error)
	Disconnect(id int) (station.ChannelInfo, error)
	SetEnhancement(id int, enabled bool) (station.ChannelInfo, error)
	Capture(ctx context.Context, id int, enhance bool) (*artifacts.Artifact, error)
	Renderer(id int) (*preview.Renderer, error)
	EnhancementBackend() string
}

// Catalog looks up saved captures.
type Catalog interface {
	Get(ctx context.Context, id string) (*artifacts.Artifact, error)
	List(ctx context.Context, filter artifacts.Filter) ([]*artifacts.Artifact, error)
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	router     *gin.Engine
	console    Console
	catalog    Catalog
	healthMgr  *health.Manager
	svcManager *service.Manager
	version    string
	startTime  time.Time

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies wires the station and the capture catalog. Either may be
// nil, in which case the routes depending on it answer 503.
func (s *Server) SetDependencies(console Console, catalog Catalog) {
	s.console = console
	s.catalog = catalog
}

// SetHealthDependencies wires health reporting.
func (s *Server) SetHealthDependencies(healthMgr *health.Manager, svcManager *service.Manager) {
	s.healthMgr = healthMgr
	s.svcManager = svcManager
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// WriteTimeout stays disabled for the MJPEG stream.
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", ln.Addr().String())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	err := srv.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		channels := api.Group("/channels")
		{
			channels.GET("", s.handleListChannels)
			channels.GET("/:id", s.handleGetChannel)
			channels.POST("/:id/connect", s.handleConnect)
			channels.POST("/:id/disconnect", s.handleDisconnect)
			channels.PUT("/:id/enhancement", s.handleSetEnhancement)
			channels.POST("/:id/capture", s.handleCapture)
			channels.GET("/:id/frame", s.handleFrame)
			channels.GET("/:id/stream", s.handleMJPEGStream)
		}

		captures := api.Group("/artifacts")
		{
			captures.GET("", s.handleListArtifacts)
			captures.GET("/:id", s.handleGetArtifact)
			captures.GET("/:id/image", s.handleGetArtifactImage)
		}
	}
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware lets a console on another host on the tether call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
