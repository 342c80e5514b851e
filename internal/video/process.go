package video

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// stderrTail is how much of a subprocess's stderr is retained for errors.
const stderrTail = 4096

// Process is a running subprocess with its stdin and stdout exposed as
// pipes. Wait may be called any number of times.
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *tailBuffer

	done    chan struct{}
	waitErr error
	closeMu sync.Once
}

// StartCommand starts path with args. stdout is an OS pipe owned by the
// caller, so reads may continue until EOF independent of Wait.
func StartCommand(ctx context.Context, name, path string, args []string) (*Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stdin pipe: %w", name, err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s: stdout pipe: %w", name, err)
	}
	cmd.Stdout = outW

	tail := &tailBuffer{limit: stderrTail}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("%s: start %s: %w", name, path, err)
	}
	// The child holds its own copy of the write end.
	outW.Close()

	p := &Process{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: outR,
		stderr: tail,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			if msg := tail.String(); msg != "" {
				err = fmt.Errorf("%s: %w: %s", name, err, msg)
			} else {
				err = fmt.Errorf("%s: %w", name, err)
			}
		}
		p.waitErr = err
		close(p.done)
	}()
	return p, nil
}

// Name returns the label given at start.
func (p *Process) Name() string { return p.name }

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Stdin is the write side of the child's standard input.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout is the read side of the child's standard output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until exit and returns the exit error, decorated with the
// tail of stderr.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Stderr returns the retained tail of the child's standard error.
func (p *Process) Stderr() string { return p.stderr.String() }

// CloseInput closes stdin, which lets filters such as ffmpeg flush and exit.
func (p *Process) CloseInput() error {
	return p.stdin.Close()
}

// Kill terminates the process if still running and releases the stdout pipe.
func (p *Process) Kill() {
	p.closeMu.Do(func() {
		select {
		case <-p.done:
		default:
			_ = p.cmd.Process.Kill()
		}
		<-p.done
		p.stdout.Close()
	})
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(trimSpace(t.buf))
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
