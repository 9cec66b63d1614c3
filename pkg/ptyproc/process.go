package ptyproc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/colorcal/colorcal/pkg/calibration"
)

var (
	// ErrExited is returned when writing to a process that has exited.
	ErrExited = errors.New("process has exited")
)

var (
	// drainTimeout bounds how long exit reporting waits for the last
	// terminal output after the child is reaped. A grandchild holding the
	// terminal open must not block exit reporting forever.
	drainTimeout = 2 * time.Second
	// terminateGrace is the time between SIGTERM and SIGKILL.
	terminateGrace = 3 * time.Second
)

// The tools lay out tables for a wide terminal.
var defaultWinsize = &pty.Winsize{Rows: 50, Cols: 132}

// Spec describes one tool invocation.
type Spec struct {
	Tool       string
	Args       []string
	Dir        string
	Env        []string
	SearchDirs []string
}

// Process is one external tool running inside a pseudo-terminal.
type Process struct {
	Tool string
	Path string

	cmd *exec.Cmd
	tty *os.File
	buf *Buffer

	drained chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	exited   bool
	exitCode int
	handlers []func(code int)

	closeOnce sync.Once
}

// Start resolves spec.Tool and launches it attached to a new pseudo-terminal.
// The tools only prompt interactively and flush line by line when they see a
// terminal, which is why plain pipes are not used.
func Start(spec Spec) (*Process, error) {
	path, err := Locate(spec.Tool, spec.SearchDirs)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// The child becomes a session leader with the terminal as its
	// controlling tty, so its process group id equals its pid.
	tty, err := pty.StartWithSize(cmd, defaultWinsize)
	if err != nil {
		return nil, calibration.WrapError(calibration.KindInternal, err, "failed to start %s", spec.Tool)
	}

	p := &Process{
		Tool:    spec.Tool,
		Path:    path,
		cmd:     cmd,
		tty:     tty,
		buf:     NewBuffer(),
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"tool": spec.Tool,
		"path": path,
		"args": spec.Args,
		"dir":  spec.Dir,
		"pid":  cmd.Process.Pid,
	}).Info("started tool")

	go p.readLoop()
	go p.waitLoop()

	return p, nil
}

func (p *Process) readLoop() {
	defer close(p.drained)

	b := make([]byte, 4096)
	for {
		n, err := p.tty.Read(b)
		if n > 0 {
			_, _ = p.buf.Write(b[:n])
		}
		if err != nil {
			// EIO is how Linux reports that every slave fd is closed.
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	select {
	case <-p.drained:
	case <-time.After(drainTimeout):
		logrus.WithField("tool", p.Tool).Warn("terminal output not drained after exit")
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	handlers := p.handlers
	p.handlers = nil
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"tool":     p.Tool,
		"pid":      p.Pid(),
		"exitCode": code,
	}).Info("tool exited")

	close(p.done)

	for _, fn := range handlers {
		fn(code)
	}
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Write injects raw bytes (keystrokes) into the terminal.
func (p *Process) Write(b []byte) (int, error) {
	if p.Exited() {
		return 0, ErrExited
	}
	logrus.WithFields(logrus.Fields{
		"tool": p.Tool,
		"keys": string(b),
	}).Debug("writing to tool")
	return p.tty.Write(b)
}

// Exited reports whether the exit status is known.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitCode returns the exit status. It is only meaningful after Done is
// closed; -1 means the child was killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Done is closed once the child has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// OnExit registers fn to be called exactly once with the exit status. If the
// process already exited fn is called immediately.
func (p *Process) OnExit(fn func(code int)) {
	p.mu.Lock()
	if p.exited {
		code := p.exitCode
		p.mu.Unlock()
		fn(code)
		return
	}
	p.handlers = append(p.handlers, fn)
	p.mu.Unlock()
}

// Wait blocks until the child exits or ctx is done.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.ExitCode(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Snapshot exposes the accumulated terminal output; see Buffer.Snapshot.
func (p *Process) Snapshot(from int) ([]byte, int) {
	return p.buf.Snapshot(from)
}

// Output is signalled whenever new terminal output arrives.
func (p *Process) Output() <-chan struct{} {
	return p.buf.Output()
}

// Terminate stops the child's process group, escalating from SIGTERM to
// SIGKILL, and returns once the exit has been reaped.
func (p *Process) Terminate() {
	if p.Exited() {
		return
	}

	pgid := p.Pid()
	logrus.WithFields(logrus.Fields{
		"tool": p.Tool,
		"pid":  pgid,
	}).Info("terminating tool")

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logrus.WithError(err).Warn("failed to send SIGTERM to tool")
	}

	select {
	case <-p.done:
		return
	case <-time.After(terminateGrace):
	}

	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logrus.WithError(err).Warn("failed to send SIGKILL to tool")
	}
	<-p.done
}

// Close terminates the child if it is still running and releases the
// terminal.
func (p *Process) Close() error {
	p.Terminate()

	var err error
	p.closeOnce.Do(func() {
		err = p.tty.Close()
	})
	return err
}
