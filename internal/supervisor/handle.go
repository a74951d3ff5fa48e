package supervisor

import (
	"bytes"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Handle is a running (or exited) supervised child.
type Handle struct {
	role    string
	spec    Spec
	cmd     *exec.Cmd
	pid     int
	started time.Time
	stderr  *tailBuffer
	flush   func()

	done     chan struct{}
	mu       sync.Mutex
	exitCode int
	waitErr  error
}

func (h *Handle) Role() string { return h.role }
func (h *Handle) PID() int     { return h.pid }

// BaseURL is the loopback URL the child serves on.
func (h *Handle) BaseURL() string { return h.spec.baseURL() }

// Done is closed once the child has exited and its output has been collected.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has terminated.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status once the child has terminated. A child
// killed by a signal reports -1.
func (h *Handle) ExitCode() (int, bool) {
	if !h.Exited() {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, true
}

// StderrTail returns the last lines the child wrote to stderr.
func (h *Handle) StderrTail() string { return h.stderr.String() }

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Lock()
	h.exitCode = code
	h.waitErr = err
	h.mu.Unlock()
	if h.flush != nil {
		h.flush()
	}
	close(h.done)
}

// tailBuffer keeps the last max lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// lineWriter splits a byte stream into lines and hands each to fn.
// os/exec calls Write from a single copy goroutine per stream.
type lineWriter struct {
	buf bytes.Buffer
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf.Next(i+1)), "\r\n")
		if line != "" {
			w.fn(line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if rest := strings.TrimSpace(w.buf.String()); rest != "" {
		w.fn(rest)
	}
	w.buf.Reset()
}
