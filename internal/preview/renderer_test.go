package preview

import (
	"bytes"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

func solidFrame(w, h int, b, g, r byte) *frame.Frame {
	f := frame.New(w, h, 3)
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
	}
	return f
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestFit(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"inside", 480, 640, 480, 640},
		{"exact", 522, 928, 522, 928},
		{"too wide", 600, 800, 522, 928},
		{"too tall", 500, 1000, 522, 928},
		{"rotated 720p", 720, 1280, 522, 928},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := Fit(tt.w, tt.h, DefaultMaxWidth, DefaultMaxHeight)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestRender_PublishesJPEG(t *testing.T) {
	r := NewRenderer(Options{})

	_, ok := r.Latest()
	assert.False(t, ok)

	changed, err := r.Render(solidFrame(64, 48, 10, 20, 30))
	require.NoError(t, err)
	assert.True(t, changed)

	data, ok := r.Latest()
	require.True(t, ok)
	w, h := decodeSize(t, data)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)

	w, h = r.Size()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
}

func TestRender_DownscalesLargeFrames(t *testing.T) {
	r := NewRenderer(Options{MaxWidth: 40, MaxHeight: 30})

	_, err := r.Render(solidFrame(80, 60, 0, 0, 255))
	require.NoError(t, err)

	data, ok := r.Latest()
	require.True(t, ok)
	w, h := decodeSize(t, data)
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)
}

func TestRender_SkipsIdenticalFrames(t *testing.T) {
	r := NewRenderer(Options{})
	f := solidFrame(16, 16, 1, 2, 3)

	changed, err := r.Render(f)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.Render(f.Clone())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = r.Render(solidFrame(16, 16, 3, 2, 1))
	require.NoError(t, err)
	assert.True(t, changed)

	stats := r.Stats()
	assert.Equal(t, uint64(2), stats.Rendered)
	assert.Equal(t, uint64(1), stats.Skipped)
}

func TestRender_InvalidFrame(t *testing.T) {
	r := NewRenderer(Options{})

	_, err := r.Render(&frame.Frame{})
	assert.Error(t, err)

	_, err = r.Render(nil)
	assert.Error(t, err)
}

func TestReset_AllowsSameFrameAgain(t *testing.T) {
	r := NewRenderer(Options{})
	f := solidFrame(8, 8, 5, 5, 5)

	_, err := r.Render(f)
	require.NoError(t, err)
	r.Reset()

	_, ok := r.Latest()
	assert.False(t, ok)

	changed, err := r.Render(f)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestHash_DistinguishesGeometry(t *testing.T) {
	a := solidFrame(4, 2, 9, 9, 9)
	b := solidFrame(2, 4, 9, 9, 9)
	assert.NotEqual(t, Hash(a), Hash(b))
	assert.Equal(t, Hash(a), Hash(a.Clone()))
}

func TestSubscribe_LatestWins(t *testing.T) {
	r := NewRenderer(Options{})
	sub := r.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		_, err := r.Render(solidFrame(8, 8, byte(i), 0, 0))
		require.NoError(t, err)
	}

	latest, _ := r.Latest()
	select {
	case got := <-sub.C():
		assert.Equal(t, latest, got)
	case <-time.After(time.Second):
		t.Fatal("no preview delivered")
	}

	select {
	case <-sub.C():
		t.Fatal("stale preview was queued")
	default:
	}
}

func TestSubscribe_ReceivesCurrentPreview(t *testing.T) {
	r := NewRenderer(Options{})
	_, err := r.Render(solidFrame(8, 8, 1, 1, 1))
	require.NoError(t, err)

	sub := r.Subscribe()
	defer sub.Close()
	assert.Equal(t, 1, r.Stats().Subscribers)

	select {
	case data := <-sub.C():
		assert.NotEmpty(t, data)
	default:
		t.Fatal("current preview not delivered on subscribe")
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	r := NewRenderer(Options{})
	sub := r.Subscribe()

	sub.Close()
	sub.Close()

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, 0, r.Stats().Subscribers)

	_, err := r.Render(solidFrame(8, 8, 1, 1, 1))
	assert.NoError(t, err)
}
