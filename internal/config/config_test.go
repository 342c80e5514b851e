package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, [][]float64{{522, 0, 320}, {0, 522, 240}, {0, 0, 1}}, cfg.Calibration.CameraMatrix)
	assert.Equal(t, []float64{-0.2, 0.02, 0, 0}, cfg.Calibration.Distortion)
	assert.InDelta(t, 0.05, cfg.Calibration.Balance, 1e-12)

	require.Len(t, cfg.ROV.Channels, 2)
	assert.Equal(t, "0", cfg.ROV.Channels[0].Device)
	assert.Equal(t, 5000, cfg.ROV.Channels[0].Port)
	assert.Equal(t, "4", cfg.ROV.Channels[1].Device)
	assert.Equal(t, 5001, cfg.ROV.Channels[1].Port)

	enc := cfg.ROV.Encoder
	assert.Equal(t, 10000, enc.BitrateKbps)
	assert.Equal(t, 30, enc.KeyframeInterval)
	assert.False(t, enc.DisableIntraRefresh)
	assert.Equal(t, "zerolatency", enc.Tune)
	assert.Equal(t, "ultrafast", enc.Preset)
	assert.Equal(t, 96, enc.PayloadType)
	assert.Equal(t, time.Second, enc.ConfigInterval)

	require.Len(t, cfg.Topside.Channels, 2)
	assert.Equal(t, "Feed 1", cfg.Topside.Channels[0].Name)
	assert.Equal(t, 5000, cfg.Topside.Channels[0].Port)
	assert.Equal(t, 5001, cfg.Topside.Channels[1].Port)
	assert.Equal(t, 30*time.Millisecond, cfg.Topside.Preview.Interval)
	assert.Equal(t, time.Second, cfg.Topside.StopTimeout)
	assert.Equal(t, "captured_frames", cfg.Topside.OutputDir)
	assert.Equal(t, filepath.Join("captured_frames", "topside.db"), cfg.Topside.DatabasePath)
	assert.Equal(t, "auto", cfg.Enhance.Backend)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log:
  level: debug
calibration:
  balance: 0.5
rov:
  host: 10.0.0.2
  channels:
    - device: /dev/video2
      port: 6000
      calibration:
        distortion: [-0.1, 0.01, 0, 0]
topside:
  stop_timeout: 2s
  channels:
    - port: 6000
      enhance: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "10.0.0.2", cfg.ROV.Host)
	require.Len(t, cfg.ROV.Channels, 1)
	ch := cfg.ROV.Channels[0]
	assert.Equal(t, "Camera /dev/video2", ch.Name)
	require.NotNil(t, ch.Calibration)

	cal := cfg.ChannelCalibration(ch)
	assert.Equal(t, []float64{-0.1, 0.01, 0, 0}, cal.Distortion)
	assert.Equal(t, cfg.Calibration.CameraMatrix, cal.CameraMatrix)
	assert.InDelta(t, 0.5, cal.Balance, 1e-12)

	assert.Equal(t, 2*time.Second, cfg.Topside.StopTimeout)
	require.Len(t, cfg.Topside.Channels, 1)
	assert.Equal(t, "Feed 1", cfg.Topside.Channels[0].Name)
	assert.True(t, cfg.Topside.Channels[0].Enhance)

	require.NoError(t, cfg.ValidateROV())
	require.NoError(t, cfg.ValidateTopside())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadWithEnv_DefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("ROV_HOST", "10.0.0.2")

	cfg, err := LoadWithEnv("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", cfg.ROV.Host)
	assert.Len(t, cfg.ROV.Channels, 2)

	_, err = LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("rov: [unclosed"))
	require.Error(t, err)
}

func TestValidateROV_RequiresHost(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateROV()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rov.host is required")

	cfg.ROV.Host = "127.0.0.1"
	assert.NoError(t, cfg.ValidateROV())
}

func TestValidateROV_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.ROV.Host = "127.0.0.1"
	cfg.ROV.Encoder.PayloadType = 33
	cfg.ROV.Channels = []ROVChannelConfig{
		{Name: "a", Device: "0", Port: 5000},
		{Name: "b", Device: "", Port: 5000},
		{Name: "c", Device: "2", Port: 70000},
	}
	cfg.Calibration.Distortion = []float64{0.1}

	err := cfg.ValidateROV()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "payload_type must be dynamic")
	assert.Contains(t, msg, "rov.channels[1].device is required")
	assert.Contains(t, msg, "already used by a")
	assert.Contains(t, msg, "rov.channels[2].port must be between 1 and 65535")
	assert.Contains(t, msg, "calibration.distortion must have 4 coefficients")
}

func TestValidateTopside(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ValidateTopside())

	cfg.Topside.Pipeline = "webrtc"
	cfg.Topside.Preview.JPEGQuality = 101
	cfg.Enhance.Backend = "cuda"
	err := cfg.ValidateTopside()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid topside.pipeline")
	assert.Contains(t, err.Error(), "jpeg_quality")
	assert.Contains(t, err.Error(), "invalid enhance.backend")
}

func TestParsePort(t *testing.T) {
	valid := map[string]int{"1": 1, "5000": 5000, " 5001 ": 5001, "65535": 65535}
	for in, want := range valid {
		got, err := ParsePort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"0", "-1", "65536", "abc", "", "50.5", "5000x"} {
		_, err := ParsePort(in)
		require.Error(t, err, in)
		var portErr *InvalidPortError
		assert.True(t, errors.As(err, &portErr), in)
		assert.Equal(t, in, portErr.Input)
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0644))

	t.Setenv("ROV_HOST", "192.168.2.1")
	t.Setenv("TOPSIDE_OUTPUT_DIR", "/tmp/frames")
	t.Setenv("ENHANCE_BACKEND", "Reference")
	t.Setenv("WEB_ENABLED", "yes")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.2.1", cfg.ROV.Host)
	assert.Equal(t, "/tmp/frames", cfg.Topside.OutputDir)
	assert.Equal(t, "reference", cfg.Enhance.Backend)
	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
}
