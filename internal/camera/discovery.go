package camera

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DeviceInfo describes a V4L2 capture node found on the vehicle.
type DeviceInfo struct {
	ID      string   `json:"id"`
	Path    string   `json:"path"`
	Model   string   `json:"model"`
	Driver  string   `json:"driver"`
	Formats []string `json:"formats,omitempty"`
}

// Discovery enumerates /dev/video* nodes. The zero value scans the real
// system; tests point the directories elsewhere.
type Discovery struct {
	DevDir   string
	SysfsDir string
	// UseV4L2Ctl enables querying v4l2-ctl when it is installed.
	UseV4L2Ctl bool
}

// NewDiscovery returns a Discovery for the host system.
func NewDiscovery() *Discovery {
	return &Discovery{
		DevDir:     "/dev",
		SysfsDir:   "/sys/class/video4linux",
		UseV4L2Ctl: true,
	}
}

// ResolveDevice maps a camera id such as "0" to /dev/video0. Anything
// else is taken as a path.
func ResolveDevice(id string) string {
	id = strings.TrimSpace(id)
	if _, err := strconv.Atoi(id); err == nil {
		return "/dev/video" + id
	}
	return id
}

// ListDevices returns the character devices matching video*, sorted by index.
func (d *Discovery) ListDevices() ([]DeviceInfo, error) {
	paths, err := d.findVideoDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, 0, len(paths))
	for _, path := range paths {
		devices = append(devices, d.probe(path))
	}
	sort.Slice(devices, func(i, j int) bool {
		return deviceIndex(devices[i].ID) < deviceIndex(devices[j].ID)
	})
	return devices, nil
}

func (d *Discovery) findVideoDevices() ([]string, error) {
	var devices []string

	pattern := filepath.Join(d.DevDir, "video*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}

	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

func (d *Discovery) probe(path string) DeviceInfo {
	base := filepath.Base(path)
	info := DeviceInfo{
		ID:    strings.TrimPrefix(base, "video"),
		Path:  path,
		Model: "USB Camera",
	}

	if d.UseV4L2Ctl {
		if ok := v4l2Info(path, &info); ok {
			return info
		}
	}
	d.sysfsInfo(base, &info)
	return info
}

// v4l2Info fills info from "v4l2-ctl --info" and "--list-formats".
func v4l2Info(path string, info *DeviceInfo) bool {
	if _, err := exec.LookPath("v4l2-ctl"); err != nil {
		return false
	}

	output, err := exec.Command("v4l2-ctl", "--device", path, "--info").Output()
	if err != nil {
		return false
	}
	parseV4L2Info(string(output), info)

	formats, err := exec.Command("v4l2-ctl", "--device", path, "--list-formats").Output()
	if err == nil {
		info.Formats = parseV4L2Formats(string(formats))
	}
	return true
}

func parseV4L2Info(output string, info *DeviceInfo) {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Card type":
			info.Model = strings.TrimSpace(value)
		case "Driver name":
			info.Driver = strings.TrimSpace(value)
		}
	}
}

// parseV4L2Formats extracts fourcc codes from lines like
// "[0]: 'MJPG' (Motion-JPEG, compressed)".
func parseV4L2Formats(output string) []string {
	var formats []string
	for _, line := range strings.Split(output, "\n") {
		start := strings.IndexByte(line, '\'')
		if start < 0 {
			continue
		}
		end := strings.IndexByte(line[start+1:], '\'')
		if end <= 0 {
			continue
		}
		formats = append(formats, line[start+1:start+1+end])
	}
	return formats
}

// sysfsInfo reads the node name and driver link under SysfsDir.
func (d *Discovery) sysfsInfo(base string, info *DeviceInfo) {
	dir := filepath.Join(d.SysfsDir, base)
	if name, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
		info.Model = strings.TrimSpace(string(name))
	}
	if driver, err := os.Readlink(filepath.Join(dir, "device", "driver")); err == nil {
		info.Driver = filepath.Base(driver)
	}
}

func deviceIndex(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
