package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
	"github.com/colorcal/colorcal/pkg/protocol"
	"github.com/colorcal/colorcal/pkg/termscan"
)

// runner executes single tools: it scans their output, classifies every
// line and reacts through the interaction machine.
type runner struct {
	launcher Launcher
	sink     Sink
	machine  *interaction.Machine
	env      []string

	mu       sync.Mutex
	progress int
}

func newRunner(launcher Launcher, sink Sink, env []string) *runner {
	m := interaction.New()
	m.OnRequest(sink.RequestInteraction)
	return &runner{
		launcher: launcher,
		sink:     sink,
		machine:  m,
		env:      env,
	}
}

// toolCall is one tool invocation within a phase.
type toolCall struct {
	phase calibration.Phase
	tool  string
	args  []string
	dir   string
	// interactive tools have their output classified and answered; the
	// others are only waited upon.
	interactive bool
	device      calibration.DeviceKind
	sensor      calibration.SensorKind
	onSample    func(xyz calibration.XYZ, proc Process)
}

type scanState struct {
	call  toolCall
	proc  Process
	fatal *protocol.Error
	log   *logrus.Entry
}

func (r *runner) setProgress(percent int) {
	r.mu.Lock()
	changed := r.progress != percent
	r.progress = percent
	r.mu.Unlock()

	if changed {
		r.sink.SetProgress(percent)
	}
}

func (r *runner) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// run starts the tool and blocks until it exited. The only suspension
// points are waiting for output and waiting for an answer. Returning for
// any reason terminates the tool and waits for it.
func (r *runner) run(ctx context.Context, call toolCall) error {
	log := logrus.WithFields(logrus.Fields{
		"phase": call.phase,
		"tool":  call.tool,
	})

	proc, err := r.launcher.Launch(LaunchRequest{
		Tool: call.tool,
		Args: call.args,
		Dir:  call.dir,
		Env:  r.env,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := proc.Close(); err != nil {
			log.WithError(err).Debug("failed to close tool")
		}
	}()

	r.machine.Begin()
	defer r.machine.End()

	sc := termscan.New(proc)
	st := &scanState{call: call, proc: proc, log: log}

	for {
		select {
		case <-ctx.Done():
			log.Info("cancelled while the tool was running")
			return calibration.UserAbort()
		case <-proc.Output():
			if err := r.handle(ctx, st, sc.NewLines()); err != nil {
				return err
			}
		case <-proc.Done():
			if err := r.handle(ctx, st, sc.Flush()); err != nil {
				return err
			}
			return exitError(st, proc.ExitCode())
		}
	}
}

func (r *runner) handle(ctx context.Context, st *scanState, lines []string) error {
	for _, line := range lines {
		ev := protocol.Classify(line)

		if !st.call.interactive {
			if e, ok := ev.(protocol.Error); ok {
				st.fatal = &e
			}
			st.log.WithField("line", line).Debug("tool output")
			continue
		}

		switch ev := ev.(type) {
		case protocol.Ignored:
			st.log.WithField("line", line).Debug("ignored tool output")

		case protocol.Unrecognized:
			st.log.WithField("line", line).Debug("unrecognized tool output")

		case protocol.Progress:
			r.setProgress(ev.Percent())

		case protocol.InteractionRequired:
			req := promptRequest(ev.Kind, st.call.device, ev.Keys)
			r.sink.SetImage(imageName(ev.Kind, st.call.sensor))
			if err := r.awaitStdin(ctx, st, req); err != nil {
				return err
			}
			r.sink.SetImage("")

		case protocol.Error:
			st.fatal = &ev
			st.log.WithField("line", line).Error("tool reported an error")
			r.sink.SetMessage(ev.Message, ev.Category)

			if err := r.machine.AwaitLoop(ctx, acknowledgeRequest(ev.Message)); err != nil {
				return err
			}

		case protocol.RetryableError:
			st.log.WithField("line", line).Warn("tool failed to read")
			if err := r.awaitStdin(ctx, st, retryRequest(ev.Message, ev.Keys)); err != nil {
				return err
			}

		case protocol.StripComplete:
			if _, err := st.proc.Write([]byte(ev.Keys)); err != nil {
				st.log.WithError(err).Warn("failed to finish chart reading")
			}

		case protocol.WrongStripWarning:
			r.sink.SetMessage(fmt.Sprintf("Strip %s was read instead of strip %s. Read strip %s.", ev.Actual, ev.Expected, ev.Expected), calibration.CategoryError)

		case protocol.ReadyForStrip:
			r.sink.SetMessage(fmt.Sprintf("Read strip %s.", ev.Letter), calibration.CategoryStatus)
			r.sink.SetImage("read-strip")

		case protocol.SpotReadResult:
			st.log.WithFields(logrus.Fields{
				"x": ev.XYZ.X,
				"y": ev.XYZ.Y,
				"z": ev.XYZ.Z,
			}).Info("got spot reading")
			if st.call.onSample != nil {
				st.call.onSample(ev.XYZ, st.proc)
			}
		}
	}
	return nil
}

func (r *runner) awaitStdin(ctx context.Context, st *scanState, req interaction.Request) error {
	err := r.machine.AwaitStdin(ctx, req, st.proc)
	if errors.Is(err, interaction.ErrProcessExited) {
		st.log.WithField("kind", req.Kind).Info("tool exited before the request was answered")
		return nil
	}
	return err
}

func exitError(st *scanState, code int) error {
	if code == 0 {
		if st.fatal != nil {
			st.log.WithField("error", st.fatal.Message).Warn("tool reported an error but exited successfully")
		}
		return nil
	}

	st.log.WithField("exitCode", code).Error("tool failed")
	if st.fatal != nil {
		return calibration.Errorf(calibration.KindInternal, "%s", st.fatal.Message)
	}
	return calibration.Errorf(calibration.KindInternal, "%s failed with exit status %d", st.call.tool, code)
}
