// Package pipeline runs a calibration session: it sequences the phases of
// the device's workflow, drives each phase's tool through a pseudo-terminal
// and suspends whenever a human has to act.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
	"github.com/colorcal/colorcal/pkg/result"
	"github.com/colorcal/colorcal/pkg/workdir"
)

var (
	// ErrSessionFrozen is returned when amending a session whose first
	// tool phase has already started.
	ErrSessionFrozen = errors.New("the calibration settings can no longer be changed")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("the calibration has already been started")
)

// Options configure an Orchestrator. Zero values select defaults.
type Options struct {
	Launcher     Launcher
	ToolDirs     []string
	ReferenceDir string
	InkDryDelay  time.Duration
	// Env is the environment of every tool; nil inherits ours.
	Env []string
}

// Orchestrator runs one calibration session. Confirm, Cancel and the
// setters may be called from any goroutine while Run is blocked.
type Orchestrator struct {
	r    *runner
	opts Options

	mu        sync.Mutex
	session   calibration.Session
	phase     calibration.Phase
	frozen    bool
	started   bool
	cancelled bool
	cancel    context.CancelFunc
	result    *calibration.Result
}

// New validates session and returns an orchestrator for it. The session is
// copied.
func New(session *calibration.Session, sink Sink, opts Options) (*Orchestrator, error) {
	s := *session
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	if opts.Launcher == nil {
		opts.Launcher = PTYLauncher{SearchDirs: opts.ToolDirs}
	}
	if opts.ReferenceDir == "" {
		opts.ReferenceDir = DefaultReferenceDir
	}
	if sink == nil {
		sink = LogSink{}
	}

	return &Orchestrator{
		r:       newRunner(opts.Launcher, sink, opts.Env),
		opts:    opts,
		session: s,
		phase:   calibration.PhaseIdle,
	}, nil
}

// Session returns a copy of the current session.
func (o *Orchestrator) Session() *calibration.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.session
	return &s
}

// Phase returns the phase being executed.
func (o *Orchestrator) Phase() calibration.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Progress returns the last reported progress of the current phase.
func (o *Orchestrator) Progress() int {
	return o.r.Progress()
}

// Pending returns the outstanding interaction request, if any.
func (o *Orchestrator) Pending() *interaction.Request {
	return o.r.machine.Pending()
}

// State returns the interaction state.
func (o *Orchestrator) State() interaction.State {
	return o.r.machine.State()
}

// OnTransition registers fn for interaction state changes.
func (o *Orchestrator) OnTransition(fn func(from, to interaction.State)) {
	o.r.machine.OnTransition(fn)
}

// Confirm answers the pending interaction positively.
func (o *Orchestrator) Confirm() error {
	return o.r.machine.Confirm()
}

// Cancel answers the pending interaction negatively or, when nothing is
// pending, aborts the whole run. Either way Run returns a UserAbort error
// after the running tool has exited.
func (o *Orchestrator) Cancel() {
	if err := o.r.machine.Cancel(); err == nil {
		return
	}

	o.mu.Lock()
	o.cancelled = true
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// SetReferenceKind changes the chart kind before the first tool phase.
func (o *Orchestrator) SetReferenceKind(kind calibration.ReferenceKind) error {
	if !kind.Valid() {
		return calibration.Errorf(calibration.KindNoSupport, "unsupported reference kind %q", kind)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.frozen {
		return ErrSessionFrozen
	}
	o.session.Reference = kind
	return nil
}

// SetWhitepoint changes the target white point before the first tool
// phase. Zero keeps the native white point.
func (o *Orchestrator) SetWhitepoint(kelvin int) error {
	if kelvin < 0 {
		return calibration.Errorf(calibration.KindNoData, "invalid whitepoint %d", kelvin)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.frozen {
		return ErrSessionFrozen
	}
	o.session.Whitepoint = kelvin
	return nil
}

func (o *Orchestrator) setSensor(sensor calibration.SensorKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Sensor = sensor
}

func (o *Orchestrator) setResult(res *calibration.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.result = res
}

func (o *Orchestrator) freeze() *calibration.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frozen = true
	s := o.session
	return &s
}

// Run executes every phase in order and returns the result. Phase N+1 only
// starts after phase N's tool exited successfully and its artifacts exist.
// On failure the remaining phases are skipped and intermediates removed
// where the workflow owns them.
func (o *Orchestrator) Run(ctx context.Context) (*calibration.Result, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	o.started = true
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	cancelled := o.cancelled
	o.mu.Unlock()
	defer cancel()

	s := o.Session()
	log := logrus.WithFields(logrus.Fields{
		"session": s.ID,
		"device":  s.Device,
		"dir":     s.WorkingDir,
	})

	var (
		res *calibration.Result
		err error
	)
	if cancelled {
		err = calibration.UserAbort()
	} else {
		res, err = o.run(ctx, log)
	}

	if err != nil {
		o.fail(log, err)
		return nil, err
	}
	o.finish(log, res)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, log *logrus.Entry) (*calibration.Result, error) {
	s := o.Session()

	p, err := planFor(s)
	if err != nil {
		return nil, err
	}

	// Every tool is resolved and every step checked before anything is
	// spawned or written.
	for _, tool := range p.tools() {
		if _, err := o.opts.Launcher.Locate(tool); err != nil {
			return nil, err
		}
	}
	for _, st := range p.steps {
		if st.check == nil {
			continue
		}
		if err := st.check(s); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(s.WorkingDir, 0o755); err != nil {
		return nil, calibration.WrapError(calibration.KindInternal, err, "could not create the working directory %s", s.WorkingDir)
	}

	lock, err := workdir.Acquire(s.WorkingDir)
	if err != nil {
		return nil, calibration.WrapError(calibration.KindInternal, err, "could not lock the working directory")
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.WithError(err).Warn("failed to unlock working directory")
		}
	}()

	log.WithField("phases", p.phases()).Info("starting calibration")

	for i, st := range p.steps {
		if ctx.Err() != nil {
			err = calibration.UserAbort()
		} else {
			o.enter(log, i, len(p.steps), st.phase)
			err = o.runStep(ctx, st)
		}
		if err != nil {
			if p.cleanup {
				o.cleanupAfterFailure(log)
			}
			return nil, err
		}
	}

	o.mu.Lock()
	res := o.result
	o.mu.Unlock()
	if res == nil {
		return nil, calibration.Errorf(calibration.KindInternal, "the calibration finished without a result")
	}
	return res, nil
}

func (o *Orchestrator) runStep(ctx context.Context, st step) error {
	if st.tool == "" {
		return st.do(ctx, o)
	}

	s := o.freeze()
	args, err := st.args(s)
	if err != nil {
		return err
	}

	err = o.r.run(ctx, toolCall{
		phase:       st.phase,
		tool:        st.tool,
		args:        args,
		dir:         s.WorkingDir,
		interactive: st.interactive,
		device:      s.Device,
		sensor:      s.Sensor,
	})
	if err != nil {
		return err
	}

	// A tool may exit successfully without producing usable output.
	for _, ext := range st.produces {
		path := s.Path(ext)
		if _, err := os.Stat(path); err != nil {
			return calibration.Errorf(calibration.KindNoData, "%s did not produce %s", st.tool, path)
		}
	}
	return nil
}

func (o *Orchestrator) enter(log *logrus.Entry, index, count int, phase calibration.Phase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()

	log.WithFields(logrus.Fields{
		"phase": phase,
		"index": index,
	}).Info("entering phase")

	o.r.sink.SetPhase(phase, index, count)
	o.r.sink.SetTitle(phaseTitle(phase), calibration.CategoryStatus)
	o.r.setProgress(0)
}

func (o *Orchestrator) cleanupAfterFailure(log *logrus.Entry) {
	s := o.Session()
	removed, err := result.Cleanup(s.WorkingDir, s.Basename)
	if err != nil {
		log.WithError(err).Warn("failed to remove some temporary files")
	}
	log.WithField("removed", len(removed)).Debug("cleaned up after failure")
}

func (o *Orchestrator) fail(log *logrus.Entry, err error) {
	o.mu.Lock()
	o.phase = calibration.PhaseError
	o.mu.Unlock()

	log.WithError(err).WithField("kind", calibration.KindOf(err)).Error("calibration failed")

	title := "Calibration failed"
	if calibration.IsKind(err, calibration.KindUserAbort) {
		title = "Calibration cancelled"
	}
	o.r.sink.SetTitle(title, calibration.CategoryError)
	o.r.sink.SetMessage(calibration.Message(err), calibration.CategoryError)
	o.r.sink.SetImage("")
}

func (o *Orchestrator) finish(log *logrus.Entry, res *calibration.Result) {
	o.mu.Lock()
	o.phase = calibration.PhaseFinished
	o.mu.Unlock()

	log.WithFields(logrus.Fields{
		"profile":   res.ProfilePath,
		"artifacts": len(res.Artifacts),
	}).Info("calibration finished")

	o.r.setProgress(100)
	o.r.sink.SetTitle("Calibration complete", calibration.CategoryStatus)
	if res.ProfilePath != "" {
		o.r.sink.SetMessage(fmt.Sprintf("The profile was saved to %s.", res.ProfilePath), calibration.CategoryStatus)
	} else {
		o.r.sink.SetMessage(fmt.Sprintf("The printable targets are in %s.", res.WorkingDir), calibration.CategoryStatus)
	}
	o.r.sink.SetImage("")
}
