package artifacts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

const (
	fileTimeLayout = "20060102_150405"
	maxCollisions  = 1000
)

// FileName builds the capture file name for a channel, without collision suffix.
func FileName(channel int, enhanced bool, ts string) string {
	kind := "no_retinex"
	if enhanced {
		kind = "retinex"
	}
	return fmt.Sprintf("feed%d_%s_%s.jpg", channel, kind, ts)
}

// Save encodes f as JPEG into the run directory and records it. The file
// is never overwritten: on a name clash a numeric suffix is added.
func (s *Store) Save(ctx context.Context, channel int, enhanced bool, f *frame.Frame) (*Artifact, error) {
	img, err := f.ToRGBA()
	if err != nil {
		return nil, fmt.Errorf("invalid capture frame: %w", err)
	}

	created := s.now()
	file, path, err := s.createExclusive(FileName(channel, enhanced, created.Format(fileTimeLayout)))
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(file)
	err = jpeg.Encode(w, img, &jpeg.Options{Quality: s.quality})
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write capture: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat capture: %w", err)
	}

	a := &Artifact{
		ID:        uuid.New().String(),
		Channel:   channel,
		Enhanced:  enhanced,
		Path:      path,
		Width:     f.Width,
		Height:    f.Height,
		Bytes:     info.Size(),
		CreatedAt: created,
	}
	if err := s.insert(ctx, a); err != nil {
		os.Remove(path)
		return nil, err
	}

	s.logger.Info("Saved capture", "id", a.ID, "channel", channel, "enhanced", enhanced, "path", path)
	return a, nil
}

// createExclusive opens name in the run directory with O_EXCL, trying
// name_1.jpg, name_2.jpg and so on when it already exists.
func (s *Store) createExclusive(name string) (*os.File, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	for i := 0; i < maxCollisions; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		path := filepath.Join(s.runDir, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create capture file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("no free file name for %s after %d attempts", name, maxCollisions)
}
