package camera

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDevice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "/dev/video0"},
		{" 4 ", "/dev/video4"},
		{"/dev/video2", "/dev/video2"},
		{"/dev/v4l/by-id/usb-cam", "/dev/v4l/by-id/usb-cam"},
	}
	for _, tt := range tests {
		if got := ResolveDevice(tt.in); got != tt.want {
			t.Errorf("ResolveDevice(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiscovery_SkipsRegularFiles(t *testing.T) {
	tmpDir := t.TempDir()
	for _, dev := range []string{"video0", "video1"} {
		if err := os.WriteFile(filepath.Join(tmpDir, dev), nil, 0644); err != nil {
			t.Fatalf("Failed to create mock device: %v", err)
		}
	}

	d := &Discovery{DevDir: tmpDir, SysfsDir: t.TempDir()}
	devices, err := d.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("Expected regular files to be ignored, got %v", devices)
	}
}

func TestDiscovery_SysfsInfo(t *testing.T) {
	sysfs := t.TempDir()
	dir := filepath.Join(sysfs, "video4")
	if err := os.MkdirAll(filepath.Join(dir, "device"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "name"), []byte("Fisheye USB Camera\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../../bus/usb/drivers/uvcvideo", filepath.Join(dir, "device", "driver")); err != nil {
		t.Fatal(err)
	}

	d := &Discovery{DevDir: t.TempDir(), SysfsDir: sysfs}
	info := d.probe("/dev/video4")

	if info.ID != "4" {
		t.Errorf("Expected ID '4', got '%s'", info.ID)
	}
	if info.Model != "Fisheye USB Camera" {
		t.Errorf("Expected model from sysfs, got '%s'", info.Model)
	}
	if info.Driver != "uvcvideo" {
		t.Errorf("Expected driver 'uvcvideo', got '%s'", info.Driver)
	}
}

func TestParseV4L2Info(t *testing.T) {
	output := `Driver Info:
	Driver name      : uvcvideo
	Card type        : USB 2.0 Camera: USB Camera
	Bus info         : usb-0000:00:14.0-1
`
	var info DeviceInfo
	parseV4L2Info(output, &info)

	if info.Driver != "uvcvideo" {
		t.Errorf("Expected driver 'uvcvideo', got '%s'", info.Driver)
	}
	if info.Model != "USB 2.0 Camera: USB Camera" {
		t.Errorf("Unexpected model '%s'", info.Model)
	}
}

func TestParseV4L2Formats(t *testing.T) {
	output := `ioctl: VIDIOC_ENUM_FMT
	Type: Video Capture

	[0]: 'MJPG' (Motion-JPEG, compressed)
	[1]: 'YUYV' (YUYV 4:2:2)
`
	formats := parseV4L2Formats(output)
	if len(formats) != 2 || formats[0] != "MJPG" || formats[1] != "YUYV" {
		t.Errorf("Unexpected formats %v", formats)
	}
}
