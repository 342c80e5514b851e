package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/artifacts"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/health"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/service"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/station"
)

const mjpegBoundary = "frame"

// handleHealth serves the health report. Unhealthy answers 503 so a probe
// can act on the status code alone.
func (s *Server) handleHealth(c *gin.Context) {
	if s.healthMgr == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    health.StatusHealthy,
			"timestamp": time.Now(),
		})
		return
	}

	report := s.healthMgr.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"version":   s.version,
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now(),
	}
	if s.console != nil {
		resp["channels"] = s.console.Channels()
		resp["enhancement_backend"] = s.console.EnhancementBackend()
	}
	if s.svcManager != nil {
		services := make(map[string]service.Snapshot)
		for name, st := range s.svcManager.GetAllStatuses() {
			services[name] = st.Snapshot()
		}
		resp["services"] = services
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListChannels(c *gin.Context) {
	if !s.requireConsole(c) {
		return
	}
	channels := s.console.Channels()
	c.JSON(http.StatusOK, gin.H{
		"channels": channels,
		"count":    len(channels),
	})
}

func (s *Server) handleGetChannel(c *gin.Context) {
	id, ok := s.channelID(c)
	if !ok {
		return
	}
	info, err := s.console.Channel(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleConnect takes the port as text, the way the operator typed it.
func (s *Server) handleConnect(c *gin.Context) {
	id, ok := s.channelID(c)
	if !ok {
		return
	}

	var req struct {
		Port string `json:"port"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": fmt.Sprintf("Invalid request body: %v", err),
		})
		return
	}

	info, err := s.console.Connect(id, req.Port)
	if err != nil {
		var portErr *config.InvalidPortError
		if errors.Is(err, station.ErrUnknownChannel) || errors.As(err, &portErr) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "connect_failed",
			"message": err.Error(),
			"channel": info,
		})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleDisconnect(c *gin.Context) {
	id, ok := s.channelID(c)
	if !ok {
		return
	}
	info, err := s.console.Disconnect(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleSetEnhancement(c *gin.Context) {
	id, ok := s.channelID(c)
	if !ok {
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be {\"enabled\": true|false}",
		})
		return
	}

	info, err := s.console.SetEnhancement(id, *req.Enabled)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleCapture saves the newest frame. An empty body captures unenhanced.
func (s *Server) handleCapture(c *gin.Context) {
	id, ok := s.channelID(c)
	if !ok {
		return
	}

	var req struct {
		Enhance bool `json:"enhance"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": fmt.Sprintf("Invalid request body: %v", err),
			})
			return
		}
	}

	a, err := s.console.Capture(c.Request.Context(), id, req.Enhance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// handleFrame returns the latest preview JPEG.
func (s *Server) handleFrame(c *gin.Context) {
	id, ok := s.channelID(c)
	if !ok {
		return
	}
	r, err := s.console.Renderer(id)
	if err != nil {
		respondError(c, err)
		return
	}
	data, ok := r.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_frame",
			"message": "No preview available yet",
		})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleMJPEGStream pushes every new preview as a multipart part until the
// client goes away.
func (s *Server) handleMJPEGStream(c *gin.Context) {
	id, ok := s.channelID(c)
	if !ok {
		return
	}
	r, err := s.console.Renderer(id)
	if err != nil {
		respondError(c, err)
		return
	}

	sub := r.Subscribe()
	defer sub.Close()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case data, ok := <-sub.C():
			if !ok {
				return false
			}
			return writePart(w, data) == nil
		case <-ctx.Done():
			return false
		}
	})
}

func writePart(w io.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func (s *Server) handleListArtifacts(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}

	var filter artifacts.Filter
	if v := c.Query("channel"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil || ch < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": fmt.Sprintf("Invalid channel: %q", v),
			})
			return
		}
		filter.Channel = ch
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": fmt.Sprintf("Invalid limit: %q", v),
			})
			return
		}
		filter.Limit = limit
	}

	list, err := s.catalog.List(c.Request.Context(), filter)
	if err != nil {
		s.LogError("Failed to list artifacts", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"artifacts": list,
		"count":     len(list),
	})
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}
	a, err := s.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleGetArtifactImage(c *gin.Context) {
	if !s.requireCatalog(c) {
		return
	}
	a, err := s.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := os.Stat(a.Path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": fmt.Sprintf("Image file missing: %s", a.Path),
		})
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.File(a.Path)
}

// channelID parses the :id path parameter and checks the console is wired.
func (s *Server) channelID(c *gin.Context) (int, bool) {
	if !s.requireConsole(c) {
		return 0, false
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_channel_id",
			"message": fmt.Sprintf("Invalid channel id: %q", c.Param("id")),
		})
		return 0, false
	}
	return id, true
}

func (s *Server) requireConsole(c *gin.Context) bool {
	if s.console == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "Station not available",
		})
		return false
	}
	return true
}

func (s *Server) requireCatalog(c *gin.Context) bool {
	if s.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "Capture catalog not available",
		})
		return false
	}
	return true
}

// respondError maps station and catalog errors to status codes.
func respondError(c *gin.Context, err error) {
	var portErr *config.InvalidPortError
	switch {
	case errors.As(err, &portErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_port", "message": err.Error()})
	case errors.Is(err, station.ErrUnknownChannel):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_channel", "message": err.Error()})
	case errors.Is(err, station.ErrNoFrame):
		c.JSON(http.StatusConflict, gin.H{"error": "no_frame", "message": err.Error()})
	case errors.Is(err, artifacts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
	}
}
