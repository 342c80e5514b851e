package video

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

func lookPath(t *testing.T, name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available, skipping test: %v", name, err)
	}
	return path
}

func TestProcess_PipesDataThrough(t *testing.T) {
	cat := lookPath(t, "cat")

	p, err := StartCommand(context.Background(), "cat", cat, nil)
	require.NoError(t, err)
	defer p.Kill()

	go func() {
		_, _ = p.Stdin().Write([]byte("hello"))
		_ = p.CloseInput()
	}()

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	assert.NoError(t, p.Wait())
	assert.NoError(t, p.Wait(), "Wait must be repeatable")
}

func TestProcess_ExitErrorIncludesStderr(t *testing.T) {
	sh := lookPath(t, "sh")

	p, err := StartCommand(context.Background(), "failing", sh, []string{"-c", "echo boom >&2; exit 3"})
	require.NoError(t, err)
	defer p.Kill()

	err = p.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, "boom", p.Stderr())
}

func TestProcess_KillUnblocksReader(t *testing.T) {
	sleep := lookPath(t, "sleep")

	p, err := StartCommand(context.Background(), "sleep", sleep, []string{"30"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = io.ReadAll(p.Stdout())
		close(done)
	}()

	p.Kill()
	p.Kill()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader still blocked after Kill")
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done should be closed after Kill")
	}
}

func TestProcess_StartFailure(t *testing.T) {
	_, err := StartCommand(context.Background(), "missing", "/nonexistent/binary", nil)
	assert.Error(t, err)
}

func TestTailBuffer_KeepsLastBytes(t *testing.T) {
	tb := &tailBuffer{limit: 8}
	_, _ = tb.Write([]byte("0123456789"))
	_, _ = tb.Write([]byte("ab\n"))
	assert.Equal(t, "6789ab", tb.String())
}

func TestRawReader(t *testing.T) {
	payload := bytes.Repeat([]byte{1, 2, 3, 4, 5, 6}, 5) // 2x1x3 per frame, 5 frames
	rr := NewRawReader(bytes.NewReader(payload[:27]), 2, 1, 3)
	assert.Equal(t, 6, rr.FrameSize())

	for i := 0; i < 4; i++ {
		f, err := rr.Read()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f.Pix)
	}
	_, err := rr.Read()
	assert.Equal(t, io.EOF, err, "a partial trailing frame is end of stream")

	wrong := frame.New(3, 1, 3)
	err = NewRawReader(strings.NewReader(""), 2, 1, 3).ReadInto(wrong)
	assert.Error(t, err)
}
