package config

import (
	"fmt"
	"strings"
)

// Validate checks settings shared by both binaries.
func (c *Config) Validate() error {
	return joinErrors(c.commonErrors())
}

func (c *Config) commonErrors() []string {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	errors = append(errors, c.Calibration.validate("calibration")...)

	switch c.Enhance.Backend {
	case "auto", "reference", "opencv":
	default:
		errors = append(errors, fmt.Sprintf("invalid enhance.backend: %s (must be: auto, reference, opencv)", c.Enhance.Backend))
	}

	if c.Web.Enabled && !validPort(c.Web.Port) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}

	return errors
}

// ValidateROV checks the vehicle side section in addition to Validate.
func (c *Config) ValidateROV() error {
	errors := c.commonErrors()

	if c.ROV.Host == "" {
		errors = append(errors, "rov.host is required")
	}
	if c.ROV.Capture.Width < 0 || c.ROV.Capture.Height < 0 {
		errors = append(errors, fmt.Sprintf("rov.capture size must be positive, got: %dx%d", c.ROV.Capture.Width, c.ROV.Capture.Height))
	}
	if c.ROV.Capture.FPS <= 0 {
		errors = append(errors, fmt.Sprintf("rov.capture.fps must be > 0, got: %d", c.ROV.Capture.FPS))
	}

	enc := c.ROV.Encoder
	if enc.BitrateKbps <= 0 {
		errors = append(errors, fmt.Sprintf("rov.encoder.bitrate_kbps must be > 0, got: %d", enc.BitrateKbps))
	}
	if enc.KeyframeInterval <= 0 {
		errors = append(errors, fmt.Sprintf("rov.encoder.keyframe_interval must be > 0, got: %d", enc.KeyframeInterval))
	}
	if enc.PayloadType < 96 || enc.PayloadType > 127 {
		errors = append(errors, fmt.Sprintf("rov.encoder.payload_type must be dynamic (96-127), got: %d", enc.PayloadType))
	}
	if enc.ConfigInterval < 0 {
		errors = append(errors, fmt.Sprintf("rov.encoder.config_interval must be >= 0, got: %v", enc.ConfigInterval))
	}
	if enc.MaxPayloadSize < 100 {
		errors = append(errors, fmt.Sprintf("rov.encoder.max_payload_size must be >= 100, got: %d", enc.MaxPayloadSize))
	}

	if len(c.ROV.Channels) == 0 {
		errors = append(errors, "rov.channels must not be empty")
	}
	ports := make(map[int]string)
	for i, ch := range c.ROV.Channels {
		prefix := fmt.Sprintf("rov.channels[%d]", i)
		if ch.Device == "" {
			errors = append(errors, prefix+".device is required")
		}
		if !validPort(ch.Port) {
			errors = append(errors, fmt.Sprintf("%s.port must be between 1 and 65535, got: %d", prefix, ch.Port))
		} else if other, dup := ports[ch.Port]; dup {
			errors = append(errors, fmt.Sprintf("%s.port %d already used by %s", prefix, ch.Port, other))
		} else {
			ports[ch.Port] = ch.Name
		}
		if ch.Calibration != nil {
			errors = append(errors, ch.Calibration.validate(prefix+".calibration")...)
		}
	}

	return joinErrors(errors)
}

// ValidateTopside checks the operator station section in addition to Validate.
func (c *Config) ValidateTopside() error {
	errors := c.commonErrors()

	if c.Topside.OutputDir == "" {
		errors = append(errors, "topside.output_dir is required")
	}
	switch c.Topside.Pipeline {
	case "rtp", "gstreamer":
	default:
		errors = append(errors, fmt.Sprintf("invalid topside.pipeline: %s (must be: rtp or gstreamer)", c.Topside.Pipeline))
	}
	if c.Topside.PayloadType < 96 || c.Topside.PayloadType > 127 {
		errors = append(errors, fmt.Sprintf("topside.payload_type must be dynamic (96-127), got: %d", c.Topside.PayloadType))
	}
	if c.Topside.StopTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("topside.stop_timeout must be > 0, got: %v", c.Topside.StopTimeout))
	}
	if len(c.Topside.Channels) == 0 {
		errors = append(errors, "topside.channels must not be empty")
	}
	for i, ch := range c.Topside.Channels {
		if !validPort(ch.Port) {
			errors = append(errors, fmt.Sprintf("topside.channels[%d].port must be between 1 and 65535, got: %d", i, ch.Port))
		}
	}

	p := c.Topside.Preview
	if p.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("topside.preview.interval must be > 0, got: %v", p.Interval))
	}
	if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
		errors = append(errors, fmt.Sprintf("topside.preview max size must be positive, got: %dx%d", p.MaxWidth, p.MaxHeight))
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("topside.preview.jpeg_quality must be between 1 and 100, got: %d", p.JPEGQuality))
	}

	return joinErrors(errors)
}

func (cc CalibrationConfig) validate(prefix string) []string {
	var errors []string
	if len(cc.CameraMatrix) != 3 {
		errors = append(errors, fmt.Sprintf("%s.camera_matrix must have 3 rows, got: %d", prefix, len(cc.CameraMatrix)))
	} else {
		for i, row := range cc.CameraMatrix {
			if len(row) != 3 {
				errors = append(errors, fmt.Sprintf("%s.camera_matrix row %d must have 3 values, got: %d", prefix, i, len(row)))
			}
		}
	}
	if len(cc.Distortion) != 4 {
		errors = append(errors, fmt.Sprintf("%s.distortion must have 4 coefficients, got: %d", prefix, len(cc.Distortion)))
	}
	if cc.Balance < 0 || cc.Balance > 1 {
		errors = append(errors, fmt.Sprintf("%s.balance must be between 0 and 1, got: %.2f", prefix, cc.Balance))
	}
	return errors
}

func joinErrors(errors []string) error {
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}
