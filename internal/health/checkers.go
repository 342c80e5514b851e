package health

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FFmpegInfo is the part of the ffmpeg wrapper the checker needs.
type FFmpegInfo interface {
	Path() string
	IsCodecAvailable(codec string) bool
	GetVersion() (string, error)
}

// FFmpegChecker verifies that ffmpeg is installed with the codecs a binary needs.
type FFmpegChecker struct {
	ff       FFmpegInfo
	required []string
}

// NewFFmpegChecker checks ff for the required codecs. A nil ff reports
// ffmpeg as missing.
func NewFFmpegChecker(ff FFmpegInfo, required ...string) *FFmpegChecker {
	return &FFmpegChecker{ff: ff, required: required}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if c.ff == nil {
		check.Status = StatusUnhealthy
		check.Message = "ffmpeg not found"
		return check
	}
	check.Details["path"] = c.ff.Path()
	if version, err := c.ff.GetVersion(); err == nil {
		check.Details["version"] = version
	}

	var missing []string
	for _, codec := range c.required {
		if !c.ff.IsCodecAvailable(codec) {
			missing = append(missing, codec)
		}
	}
	if len(missing) > 0 {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("missing codecs: %s", strings.Join(missing, ", "))
		check.Details["missing"] = missing
		return check
	}

	check.Status = StatusHealthy
	check.Message = "ffmpeg available"
	return check
}

// StorageChecker checks that the capture directory is writable and has room.
type StorageChecker struct {
	dir          string
	minFreeBytes uint64
}

func NewStorageChecker(dir string, minFreeBytes uint64) *StorageChecker {
	return &StorageChecker{dir: dir, minFreeBytes: minFreeBytes}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["dir"] = c.dir

	if c.dir == "" {
		check.Status = StatusDegraded
		check.Message = "Output directory not configured"
		return check
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create output directory: %v", err)
		return check
	}

	probe, err := os.CreateTemp(c.dir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Output directory not writable: %v", err)
		return check
	}
	probe.Close()
	os.Remove(probe.Name())
	check.Details["writable"] = true

	free, ok := freeBytes(c.dir)
	if ok {
		check.Details["free_bytes"] = free
		if c.minFreeBytes > 0 && free < c.minFreeBytes {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Low disk space: %d bytes free", free)
			return check
		}
	}

	check.Status = StatusHealthy
	check.Message = "Output directory writable"
	return check
}

// Pinger is implemented by the artifact catalog.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CatalogChecker checks the sqlite artifact catalog.
type CatalogChecker struct {
	db Pinger
}

func NewCatalogChecker(db Pinger) *CatalogChecker {
	return &CatalogChecker{db: db}
}

func (c *CatalogChecker) Name() string {
	return "catalog"
}

func (c *CatalogChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "Catalog not configured"
		return check
	}
	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Catalog ping failed: %v", err)
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Catalog connection OK"
	return check
}

// ChannelReport is the health relevant view of one video channel.
type ChannelReport struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// ChannelChecker reports degraded while any channel has failed. A failed
// channel never makes the process unhealthy since its sibling keeps working.
type ChannelChecker struct {
	list func() []ChannelReport
}

func NewChannelChecker(list func() []ChannelReport) *ChannelChecker {
	return &ChannelChecker{list: list}
}

func (c *ChannelChecker) Name() string {
	return "channels"
}

func (c *ChannelChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	reports := c.list()
	check.Details["channels"] = reports

	var failed []string
	for _, r := range reports {
		if r.Failed {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) > 0 {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Failed channels: %s", strings.Join(failed, ", "))
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%d channels OK", len(reports))
	return check
}
