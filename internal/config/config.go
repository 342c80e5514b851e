package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration shared by the ROV
// streamer and the topside station. Each binary reads only its section.
type Config struct {
	Log         LogConfig         `yaml:"log,omitempty"`
	Calibration CalibrationConfig `yaml:"calibration"`
	ROV         ROVConfig         `yaml:"rov"`
	Topside     TopsideConfig     `yaml:"topside"`
	Enhance     EnhanceConfig     `yaml:"enhance"`
	Web         WebConfig         `yaml:"web"`
}

// CalibrationConfig holds the fisheye lens model of a camera.
type CalibrationConfig struct {
	CameraMatrix [][]float64 `yaml:"camera_matrix"`
	Distortion   []float64   `yaml:"distortion"`
	// Balance trades cropping (0) against keeping the full field of view (1).
	Balance float64 `yaml:"balance"`
}

// ROVConfig contains vehicle side streaming configuration
type ROVConfig struct {
	Host       string             `yaml:"host"`
	FFmpegPath string             `yaml:"ffmpeg_path"`
	Capture    CaptureConfig      `yaml:"capture"`
	Encoder    EncoderConfig      `yaml:"encoder"`
	Channels   []ROVChannelConfig `yaml:"channels"`
}

// CaptureConfig contains the requested camera capture format
type CaptureConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	InputFormat string `yaml:"input_format"`
}

// EncoderConfig contains H.264 encoder and RTP packetizer settings
type EncoderConfig struct {
	BitrateKbps         int           `yaml:"bitrate_kbps"`
	KeyframeInterval    int           `yaml:"keyframe_interval"`
	DisableIntraRefresh bool          `yaml:"disable_intra_refresh"`
	Tune                string        `yaml:"tune"`
	Preset              string        `yaml:"preset"`
	PayloadType         int           `yaml:"payload_type"`
	ConfigInterval      time.Duration `yaml:"config_interval"`
	MaxPayloadSize      int           `yaml:"max_payload_size"`
}

// ROVChannelConfig binds one camera device to one destination port.
type ROVChannelConfig struct {
	Name        string             `yaml:"name"`
	Device      string             `yaml:"device"`
	Port        int                `yaml:"port"`
	Calibration *CalibrationConfig `yaml:"calibration,omitempty"`
}

// TopsideConfig contains operator station configuration
type TopsideConfig struct {
	OutputDir      string                 `yaml:"output_dir"`
	DatabasePath   string                 `yaml:"database_path"`
	FFmpegPath     string                 `yaml:"ffmpeg_path"`
	Pipeline       string                 `yaml:"pipeline"`
	PayloadType    int                    `yaml:"payload_type"`
	HardwareDecode bool                   `yaml:"hardware_decode"`
	StopTimeout    time.Duration          `yaml:"stop_timeout"`
	Channels       []TopsideChannelConfig `yaml:"channels"`
	Preview        PreviewConfig          `yaml:"preview"`
}

// TopsideChannelConfig describes one feed slot on the operator station.
type TopsideChannelConfig struct {
	Name        string `yaml:"name"`
	Port        int    `yaml:"port"`
	Enhance     bool   `yaml:"enhance"`
	AutoConnect bool   `yaml:"auto_connect"`
}

// PreviewConfig contains live preview settings
type PreviewConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxWidth    int           `yaml:"max_width"`
	MaxHeight   int           `yaml:"max_height"`
	JPEGQuality int           `yaml:"jpeg_quality"`
}

// EnhanceConfig selects the image processing backend
type EnhanceConfig struct {
	Backend string `yaml:"backend"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s: %w", configPath, os.ErrNotExist)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.yaml",
		"./config/rov.yaml",
		"../config/config.yaml",
		"/etc/rov-vision/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	c.Calibration.setDefaults()

	if c.ROV.FFmpegPath == "" {
		c.ROV.FFmpegPath = "ffmpeg"
	}
	if c.ROV.Capture.Width == 0 {
		c.ROV.Capture.Width = 640
	}
	if c.ROV.Capture.Height == 0 {
		c.ROV.Capture.Height = 480
	}
	if c.ROV.Capture.FPS == 0 {
		c.ROV.Capture.FPS = 30
	}
	if c.ROV.Capture.InputFormat == "" {
		c.ROV.Capture.InputFormat = "mjpeg"
	}

	enc := &c.ROV.Encoder
	if enc.BitrateKbps == 0 {
		enc.BitrateKbps = 10000
	}
	if enc.KeyframeInterval == 0 {
		enc.KeyframeInterval = 30
	}
	if enc.Tune == "" {
		enc.Tune = "zerolatency"
	}
	if enc.Preset == "" {
		enc.Preset = "ultrafast"
	}
	if enc.PayloadType == 0 {
		enc.PayloadType = 96
	}
	if enc.ConfigInterval == 0 {
		enc.ConfigInterval = time.Second
	}
	if enc.MaxPayloadSize == 0 {
		enc.MaxPayloadSize = 1200
	}

	if len(c.ROV.Channels) == 0 {
		c.ROV.Channels = []ROVChannelConfig{
			{Name: "Camera 0", Device: "0", Port: 5000},
			{Name: "Camera 4", Device: "4", Port: 5001},
		}
	}
	for i := range c.ROV.Channels {
		ch := &c.ROV.Channels[i]
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("Camera %s", ch.Device)
		}
		if ch.Calibration != nil {
			ch.Calibration.inherit(c.Calibration)
		}
	}

	if c.Topside.OutputDir == "" {
		c.Topside.OutputDir = "captured_frames"
	}
	if c.Topside.DatabasePath == "" {
		c.Topside.DatabasePath = filepath.Join(c.Topside.OutputDir, "topside.db")
	}
	if c.Topside.FFmpegPath == "" {
		c.Topside.FFmpegPath = "ffmpeg"
	}
	if c.Topside.Pipeline == "" {
		c.Topside.Pipeline = "rtp"
	}
	if c.Topside.PayloadType == 0 {
		c.Topside.PayloadType = 96
	}
	if c.Topside.StopTimeout == 0 {
		c.Topside.StopTimeout = time.Second
	}
	if len(c.Topside.Channels) == 0 {
		c.Topside.Channels = []TopsideChannelConfig{
			{Name: "Feed 1", Port: 5000},
			{Name: "Feed 2", Port: 5001},
		}
	}
	for i := range c.Topside.Channels {
		if c.Topside.Channels[i].Name == "" {
			c.Topside.Channels[i].Name = fmt.Sprintf("Feed %d", i+1)
		}
	}
	if c.Topside.Preview.Interval == 0 {
		c.Topside.Preview.Interval = 30 * time.Millisecond
	}
	if c.Topside.Preview.MaxWidth == 0 {
		c.Topside.Preview.MaxWidth = 522
	}
	if c.Topside.Preview.MaxHeight == 0 {
		c.Topside.Preview.MaxHeight = 928
	}
	if c.Topside.Preview.JPEGQuality == 0 {
		c.Topside.Preview.JPEGQuality = 85
	}

	if c.Enhance.Backend == "" {
		c.Enhance.Backend = "auto"
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
}

func (cc *CalibrationConfig) setDefaults() {
	if len(cc.CameraMatrix) == 0 {
		cc.CameraMatrix = [][]float64{
			{522, 0, 320},
			{0, 522, 240},
			{0, 0, 1},
		}
	}
	if len(cc.Distortion) == 0 {
		cc.Distortion = []float64{-0.2, 0.02, 0, 0}
	}
	if cc.Balance == 0 {
		cc.Balance = 0.05
	}
}

// inherit fills fields left empty in a per-channel override from the shared calibration.
func (cc *CalibrationConfig) inherit(shared CalibrationConfig) {
	if len(cc.CameraMatrix) == 0 {
		cc.CameraMatrix = shared.CameraMatrix
	}
	if len(cc.Distortion) == 0 {
		cc.Distortion = shared.Distortion
	}
	if cc.Balance == 0 {
		cc.Balance = shared.Balance
	}
}

// ChannelCalibration returns the calibration in effect for a ROV channel.
func (c *Config) ChannelCalibration(ch ROVChannelConfig) CalibrationConfig {
	if ch.Calibration != nil {
		return *ch.Calibration
	}
	return c.Calibration
}
