package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/config"
	"github.com/colorcal/colorcal/pkg/pipeline"
	"github.com/colorcal/colorcal/pkg/ptyproc"
)

// mockConf implements config.Config in memory.
type mockConf struct {
	mu    sync.Mutex
	root  string
	cron  string
	saves int
}

func (m *mockConf) ToolSearchPaths() []string    { return nil }
func (m *mockConf) ReferenceDir() string         { return "/nonexistent/ref" }
func (m *mockConf) WorkingDirRoot() string       { return m.root }
func (m *mockConf) InkDryDelay() time.Duration   { return time.Millisecond }
func (m *mockConf) AllowNonRootAccess() bool     { return false }
func (m *mockConf) ExtraEnv() []string           { return nil }
func (m *mockConf) SetToolSearchPaths([]string)  {}
func (m *mockConf) SetReferenceDir(string)       {}
func (m *mockConf) SetWorkingDirRoot(s string)   { m.root = s }
func (m *mockConf) SetInkDryDelay(time.Duration) {}
func (m *mockConf) SetAllowNonRootAccess(bool)   {}
func (m *mockConf) LogrusFields() logrus.Fields  { return logrus.Fields{} }
func (m *mockConf) Load() error                  { return nil }
func (m *mockConf) RecalibrationCron() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cron
}
func (m *mockConf) SetRecalibrationCron(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cron = s
}
func (m *mockConf) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	return nil
}

var _ config.Config = &mockConf{}

// fakeTool is a scripted tool writing to the same buffer a real tool
// would.
type fakeTool struct {
	req    pipeline.LaunchRequest
	buf    *ptyproc.Buffer
	done   chan struct{}
	killed chan struct{}
	input  chan string

	mu   sync.Mutex
	code int

	exitOnce sync.Once
	killOnce sync.Once
}

func (p *fakeTool) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ptyproc.ErrExited
	default:
	}
	select {
	case p.input <- string(b):
	default:
	}
	return len(b), nil
}

func (p *fakeTool) Done() <-chan struct{} { return p.done }

func (p *fakeTool) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeTool) Snapshot(from int) ([]byte, int) { return p.buf.Snapshot(from) }

func (p *fakeTool) Output() <-chan struct{} { return p.buf.Output() }

func (p *fakeTool) Close() error {
	p.killOnce.Do(func() { close(p.killed) })
	p.exit(-1)
	return nil
}

func (p *fakeTool) emit(lines ...string) {
	for _, l := range lines {
		_, _ = p.buf.Write([]byte(l + "\r\n"))
	}
}

// key waits for a keystroke; "" means the tool was killed.
func (p *fakeTool) key() string {
	select {
	case k := <-p.input:
		return k
	case <-p.killed:
		return ""
	case <-time.After(10 * time.Second):
		return ""
	}
}

func (p *fakeTool) create(ext string) {
	base := p.req.Args[len(p.req.Args)-1]
	_ = os.WriteFile(filepath.Join(p.req.Dir, base+ext), []byte("data"), 0o644)
}

func (p *fakeTool) exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

type fakeLauncher struct {
	scripts map[string]func(p *fakeTool)
}

func (l *fakeLauncher) Locate(tool string) (string, error) {
	return "/usr/bin/" + tool, nil
}

func (l *fakeLauncher) Launch(req pipeline.LaunchRequest) (pipeline.Process, error) {
	p := &fakeTool{
		req:    req,
		buf:    ptyproc.NewBuffer(),
		done:   make(chan struct{}),
		killed: make(chan struct{}),
		input:  make(chan string, 4),
	}
	script := l.scripts[req.Tool]
	go func() {
		if script != nil {
			script(p)
			return
		}
		p.exit(0)
	}()
	return p, nil
}

// creates returns a script that writes base+ext and exits 0.
func creates(ext string) func(p *fakeTool) {
	return func(p *fakeTool) {
		p.create(ext)
		p.exit(0)
	}
}
