package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
	"github.com/colorcal/colorcal/pkg/ptyproc"
)

// fakeProcess is a scripted tool. The script runs in its own goroutine
// and talks to the pipeline through the same buffer a real tool writes to.
type fakeProcess struct {
	req    LaunchRequest
	buf    *ptyproc.Buffer
	done   chan struct{}
	killed chan struct{}
	input  chan string

	mu     sync.Mutex
	code   int
	exited bool
	writes []string

	exitOnce sync.Once
	killOnce sync.Once
}

func newFakeProcess(req LaunchRequest) *fakeProcess {
	return &fakeProcess{
		req:    req,
		buf:    ptyproc.NewBuffer(),
		done:   make(chan struct{}),
		killed: make(chan struct{}),
		input:  make(chan string, 16),
	}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return 0, ptyproc.ErrExited
	}
	p.writes = append(p.writes, string(b))
	select {
	case p.input <- string(b):
	default:
	}
	return len(b), nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProcess) Snapshot(from int) ([]byte, int) { return p.buf.Snapshot(from) }

func (p *fakeProcess) Output() <-chan struct{} { return p.buf.Output() }

func (p *fakeProcess) Close() error {
	p.killOnce.Do(func() { close(p.killed) })
	p.exit(-1)
	return nil
}

func (p *fakeProcess) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *fakeProcess) wasKilled() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

// emit prints lines to the terminal.
func (p *fakeProcess) emit(lines ...string) {
	for _, l := range lines {
		_, _ = p.buf.Write([]byte(l + "\r\n"))
	}
}

// key blocks until the pipeline writes something and returns it. It
// returns "" if the tool is killed first.
func (p *fakeProcess) key() string {
	select {
	case k := <-p.input:
		return k
	case <-p.killed:
		return ""
	case <-time.After(10 * time.Second):
		return ""
	}
}

// hold blocks until ch is closed or the tool is killed.
func (p *fakeProcess) hold(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-p.killed:
		return false
	}
}

func (p *fakeProcess) create(exts ...string) {
	base := p.req.Args[len(p.req.Args)-1]
	for _, ext := range exts {
		_ = os.WriteFile(filepath.Join(p.req.Dir, base+ext), []byte("data"), 0o644)
	}
}

func (p *fakeProcess) createFile(name string) {
	_ = os.WriteFile(filepath.Join(p.req.Dir, name), []byte("data"), 0o644)
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.exited = true
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

type script func(p *fakeProcess)

// succeed creates the given artifacts and exits 0.
func succeed(exts ...string) script {
	return func(p *fakeProcess) {
		p.create(exts...)
		p.exit(0)
	}
}

type fakeLauncher struct {
	mu       sync.Mutex
	missing  map[string]bool
	scripts  map[string]script
	launched []*fakeProcess
}

func newFakeLauncher(scripts map[string]script) *fakeLauncher {
	return &fakeLauncher{missing: map[string]bool{}, scripts: scripts}
}

func (l *fakeLauncher) Locate(tool string) (string, error) {
	if l.missing[tool] {
		return "", calibration.Errorf(calibration.KindNoSupport, "the required tool %s is not installed", tool)
	}
	return "/usr/bin/" + tool, nil
}

func (l *fakeLauncher) Launch(req LaunchRequest) (Process, error) {
	if _, err := l.Locate(req.Tool); err != nil {
		return nil, err
	}
	p := newFakeProcess(req)

	l.mu.Lock()
	l.launched = append(l.launched, p)
	s := l.scripts[req.Tool]
	l.mu.Unlock()

	if s == nil {
		s = succeed()
	}
	go s(p)
	return p, nil
}

func (l *fakeLauncher) tools() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, p := range l.launched {
		out = append(out, p.req.Tool)
	}
	return out
}

func (l *fakeLauncher) process(tool string) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.launched {
		if p.req.Tool == tool {
			return p
		}
	}
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	phases   []calibration.Phase
	titles   []string
	messages []string
	progress []int
	images   []string
	requests chan interaction.Request
}

func newFakeSink() *fakeSink {
	return &fakeSink{requests: make(chan interaction.Request, 16)}
}

func (s *fakeSink) SetPhase(phase calibration.Phase, _, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase)
}

func (s *fakeSink) SetTitle(text string, _ calibration.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, text)
}

func (s *fakeSink) SetMessage(text string, _ calibration.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, text)
}

func (s *fakeSink) SetProgress(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, percent)
}

func (s *fakeSink) SetImage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, name)
}

func (s *fakeSink) RequestInteraction(req interaction.Request) {
	s.requests <- req
}

func (s *fakeSink) Phases() []calibration.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calibration.Phase(nil), s.phases...)
}

func (s *fakeSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *fakeSink) sawProgress(percent int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.progress {
		if p == percent {
			return true
		}
	}
	return false
}

type answerer interface {
	Pending() *interaction.Request
	Confirm() error
}

// nextRequest waits for the sink to be asked for an interaction of kind.
// The request is answerable as soon as the sink sees it.
func nextRequest(t *testing.T, sink *fakeSink, a answerer, kind calibration.InteractionKind) interaction.Request {
	t.Helper()
	var req interaction.Request
	select {
	case req = <-sink.requests:
	case <-time.After(5 * time.Second):
		t.Fatalf("no interaction of kind %s was requested", kind)
	}
	if req.Kind != kind {
		t.Fatalf("requested interaction %s, want %s", req.Kind, kind)
	}
	if a.Pending() == nil {
		t.Fatalf("interaction %s was announced before it was pending", kind)
	}
	return req
}

// answeringSink confirms every request from another goroutine before
// RequestInteraction returns, like a piped terminal or a fast API client.
type answeringSink struct {
	*fakeSink
	answer  func() error
	mu      sync.Mutex
	answers []error
}

func (s *answeringSink) RequestInteraction(req interaction.Request) {
	done := make(chan error, 1)
	go func() { done <- s.answer() }()
	err := <-done

	s.mu.Lock()
	s.answers = append(s.answers, err)
	s.mu.Unlock()
	s.fakeSink.RequestInteraction(req)
}

func (s *answeringSink) Answers() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.answers...)
}

type runResult struct {
	res *calibration.Result
	err error
}

func startRun(o *Orchestrator) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		res, err := o.Run(context.Background())
		ch <- runResult{res, err}
	}()
	return ch
}

func waitRun(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		t.Fatalf("Run did not return")
	}
	return runResult{}
}
