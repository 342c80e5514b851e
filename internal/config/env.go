package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// LoadWithEnv loads the file at configPath and applies environment overrides.
// With an empty configPath and no file at any default location the built-in
// defaults are used. Validation is left to the caller since each binary
// checks its own section.
func LoadWithEnv(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		if configPath != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// envOverrides maps environment variables onto config fields. Unset or
// unparsable values leave the field alone.
func envOverrides(cfg *Config) map[string]func(string) {
	return map[string]func(string){
		"ROV_HOST":              setString(&cfg.ROV.Host),
		"ROV_FFMPEG_PATH":       setString(&cfg.ROV.FFmpegPath),
		"ROV_BITRATE_KBPS":      setInt(&cfg.ROV.Encoder.BitrateKbps),
		"TOPSIDE_OUTPUT_DIR":    setString(&cfg.Topside.OutputDir),
		"TOPSIDE_DATABASE_PATH": setString(&cfg.Topside.DatabasePath),
		"TOPSIDE_PIPELINE":      setString(&cfg.Topside.Pipeline),
		"TOPSIDE_HARDWARE_DECODE": func(v string) {
			cfg.Topside.HardwareDecode = parseBool(v)
		},
		"ENHANCE_BACKEND": func(v string) {
			cfg.Enhance.Backend = strings.ToLower(v)
		},
		"WEB_ENABLED": func(v string) {
			cfg.Web.Enabled = parseBool(v)
		},
		"WEB_PORT":   setInt(&cfg.Web.Port),
		"LOG_LEVEL":  setString(&cfg.Log.Level),
		"LOG_FORMAT": setString(&cfg.Log.Format),
		"LOG_OUTPUT": setString(&cfg.Log.Output),
	}
}

func applyEnvOverrides(cfg *Config) {
	for key, apply := range envOverrides(cfg) {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			apply(val)
		}
	}
}

func setString(dst *string) func(string) {
	return func(v string) { *dst = v }
}

func setInt(dst *int) func(string) {
	return func(v string) {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
