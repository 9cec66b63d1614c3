package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/events"
	"github.com/colorcal/colorcal/pkg/interaction"
	"github.com/colorcal/colorcal/pkg/pipeline"
)

var (
	ErrSessionInProgress = errors.New("a calibration is already in progress")
	ErrNoSession         = errors.New("no calibration is running")
)

var (
	sessionMu        = &sync.Mutex{}
	sessionStatus    = &calibration.Status{Phase: calibration.PhaseIdle, State: string(interaction.Idle)}
	sessionStatePath = ""
	active           *activeSession

	// newLauncher returns the launcher for a new session. nil selects the
	// pseudo-terminal launcher.
	newLauncher = func() pipeline.Launcher { return nil }
)

type activeSession struct {
	id   string
	orch *pipeline.Orchestrator
	done chan struct{}
}

func initSessionState(path string) {
	sessionStatePath = path

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warn("failed to read calibration state")
		}
		return
	}
	var st calibration.Status
	if err := json.Unmarshal(b, &st); err != nil {
		logrus.WithError(err).Warn("failed to unmarshal calibration state")
		return
	}

	sessionMu.Lock()
	defer sessionMu.Unlock()

	// The tool died with the previous daemon.
	if st.Active() {
		logrus.WithFields(logrus.Fields{
			"session": st.SessionID,
			"phase":   st.Phase,
		}).Warn("marking interrupted calibration as failed")
		st.Phase = calibration.PhaseError
		st.State = string(interaction.Idle)
		st.LastError = "interrupted by daemon restart"
		st.ErrorKind = calibration.KindInternal
		st.Interaction = nil
		st.CanConfirm = false
		st.CanCancel = false
		st.FinishedAt = time.Now()
		sessionStatus = &st
		persistSessionState()
		return
	}
	sessionStatus = &st
}

// persistSessionState must be called with sessionMu held.
func persistSessionState() {
	if sessionStatePath == "" {
		return
	}
	b, err := json.MarshalIndent(sessionStatus, "", "  ")
	if err != nil {
		logrus.WithError(err).Error("marshal calibration state")
		return
	}
	if err := os.WriteFile(sessionStatePath, b, 0o644); err != nil {
		logrus.WithError(err).Error("write calibration state")
	}
}

func pipelineOptions() pipeline.Options {
	var env []string
	if extra := conf.ExtraEnv(); len(extra) > 0 {
		env = append(os.Environ(), extra...)
	}
	return pipeline.Options{
		Launcher:     newLauncher(),
		ToolDirs:     conf.ToolSearchPaths(),
		ReferenceDir: conf.ReferenceDir(),
		InkDryDelay:  conf.InkDryDelay(),
		Env:          env,
	}
}

// startCalibration validates s and runs it in the background. Sessions
// without a working directory get one under the configured root.
func startCalibration(s *calibration.Session) (string, error) {
	sessionMu.Lock()
	defer sessionMu.Unlock()

	if active != nil {
		return "", ErrSessionInProgress
	}

	s.ApplyDefaults()
	if s.WorkingDir == "" {
		s.WorkingDir = filepath.Join(conf.WorkingDirRoot(), s.ID)
	}

	orch, err := pipeline.New(s, statusSink{id: s.ID}, pipelineOptions())
	if err != nil {
		return "", err
	}
	phases, err := pipeline.Phases(orch.Session())
	if err != nil {
		return "", err
	}

	a := &activeSession{id: s.ID, orch: orch, done: make(chan struct{})}
	orch.OnTransition(func(from, to interaction.State) {
		onTransition(a, from, to)
	})

	sessionStatus = &calibration.Status{
		SessionID:  s.ID,
		Device:     s.Device,
		Phase:      calibration.PhaseIdle,
		PhaseCount: len(phases),
		State:      string(interaction.Idle),
		StartedAt:  time.Now(),
		CanCancel:  true,
	}
	active = a
	persistSessionState()

	logrus.WithFields(logrus.Fields{
		"session":    s.ID,
		"device":     s.Device,
		"workingDir": s.WorkingDir,
	}).Info("calibration started")
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(calibration.ActionStart),
		Message: fmt.Sprintf("Start %s calibration in %s", s.Device, s.WorkingDir),
		Ts:      time.Now().Unix(),
	})

	go runSession(a)

	return s.ID, nil
}

func runSession(a *activeSession) {
	defer close(a.done)
	res, err := a.orch.Run(context.Background())
	finishSession(a, res, err)
}

func finishSession(a *activeSession, res *calibration.Result, err error) {
	sessionMu.Lock()
	defer sessionMu.Unlock()

	if active != a {
		return
	}
	active = nil

	st := sessionStatus
	st.FinishedAt = time.Now()
	st.State = string(interaction.Idle)
	st.Interaction = nil
	st.CanConfirm = false
	st.CanCancel = false

	ev := events.CalibrationFinishedEvent{SessionID: a.id, Ts: time.Now().Unix()}
	if err != nil {
		st.Phase = calibration.PhaseError
		st.LastError = calibration.Message(err)
		st.ErrorKind = calibration.KindOf(err)
		ev.Error = st.LastError
		ev.ErrorKind = string(st.ErrorKind)
		logrus.WithError(err).WithField("session", a.id).Error("calibration failed")
	} else {
		st.Phase = calibration.PhaseFinished
		st.Progress = 100
		st.Result = res
		if res != nil {
			ev.ProfilePath = res.ProfilePath
		}
		logrus.WithField("session", a.id).Info("calibration finished")
	}
	persistSessionState()

	sseHub.Publish(events.CalibrationFinished, ev)
}

func onTransition(a *activeSession, from, to interaction.State) {
	sessionMu.Lock()
	if active == a {
		sessionStatus.State = string(to)
		if to != interaction.WaitingForStdin && to != interaction.WaitingForLoop {
			sessionStatus.Interaction = nil
			sessionStatus.CanConfirm = false
		}
	}
	sessionMu.Unlock()

	sseHub.Publish(events.CalibrationState, events.CalibrationStateEvent{
		From: string(from),
		To:   string(to),
		Ts:   time.Now().Unix(),
	})
}

func currentSession() *activeSession {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	return active
}

func confirmCalibration() error {
	a := currentSession()
	if a == nil {
		return ErrNoSession
	}
	if err := a.orch.Confirm(); err != nil {
		return err
	}
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action: string(calibration.ActionConfirm),
		Ts:     time.Now().Unix(),
	})
	return nil
}

func cancelCalibration() error {
	a := currentSession()
	if a == nil {
		return ErrNoSession
	}
	a.orch.Cancel()
	logrus.WithField("session", a.id).Info("calibration cancelled")
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(calibration.ActionCancel),
		Message: "Calibration cancelled",
		Ts:      time.Now().Unix(),
	})
	return nil
}

func setReferenceKind(kind calibration.ReferenceKind) error {
	a := currentSession()
	if a == nil {
		return ErrNoSession
	}
	if err := a.orch.SetReferenceKind(kind); err != nil {
		return err
	}
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(calibration.ActionAmend),
		Message: fmt.Sprintf("Reference chart set to %s", kind),
		Ts:      time.Now().Unix(),
	})
	return nil
}

func setWhitepoint(kelvin int) error {
	a := currentSession()
	if a == nil {
		return ErrNoSession
	}
	if err := a.orch.SetWhitepoint(kelvin); err != nil {
		return err
	}
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(calibration.ActionAmend),
		Message: fmt.Sprintf("Whitepoint set to %dK", kelvin),
		Ts:      time.Now().Unix(),
	})
	return nil
}

func getCalibrationStatus() *calibration.Status {
	sessionMu.Lock()
	defer sessionMu.Unlock()

	st := *sessionStatus
	if st.Interaction != nil {
		v := *st.Interaction
		st.Interaction = &v
	}
	if st.Result != nil {
		r := *st.Result
		r.Artifacts = append([]string(nil), r.Artifacts...)
		st.Result = &r
	}
	return &st
}

// stopActiveSession cancels the running session and waits up to timeout
// for its tool to be reaped.
func stopActiveSession(timeout time.Duration) {
	a := currentSession()
	if a == nil {
		return
	}
	logrus.WithField("session", a.id).Info("cancelling calibration before exit")
	a.orch.Cancel()
	select {
	case <-a.done:
	case <-time.After(timeout):
		logrus.WithField("session", a.id).Warn("calibration did not stop in time")
	}
}

// noActiveSession is the reminder precheck.
func noActiveSession() error {
	if currentSession() != nil {
		return ErrSessionInProgress
	}
	return nil
}

// statusSink mirrors pipeline updates into the session status and the
// event hub.
type statusSink struct {
	id string
}

func (s statusSink) update(fn func(st *calibration.Status)) {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	if active == nil || active.id != s.id {
		return
	}
	fn(sessionStatus)
}

func (s statusSink) SetPhase(phase calibration.Phase, index, count int) {
	s.update(func(st *calibration.Status) {
		st.Phase = phase
		st.PhaseIndex = index
		st.PhaseCount = count
		st.Progress = 0
		persistSessionState()
	})
	sseHub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
		SessionID: s.id,
		Phase:     string(phase),
		Index:     index,
		Count:     count,
		Ts:        time.Now().Unix(),
	})
}

func (s statusSink) SetTitle(text string, category calibration.Category) {
	s.update(func(st *calibration.Status) {
		st.Title = text
	})
	sseHub.Publish(events.CalibrationTitle, events.CalibrationTextEvent{
		Text:     text,
		Category: string(category),
		Ts:       time.Now().Unix(),
	})
}

func (s statusSink) SetMessage(text string, category calibration.Category) {
	s.update(func(st *calibration.Status) {
		st.Message = text
		st.MessageCategory = category
	})
	sseHub.Publish(events.CalibrationMessage, events.CalibrationTextEvent{
		Text:     text,
		Category: string(category),
		Ts:       time.Now().Unix(),
	})
}

func (s statusSink) SetProgress(percent int) {
	s.update(func(st *calibration.Status) {
		st.Progress = percent
	})
	sseHub.Publish(events.CalibrationProgress, events.CalibrationProgressEvent{
		Percent: percent,
		Ts:      time.Now().Unix(),
	})
}

func (s statusSink) SetImage(name string) {
	s.update(func(st *calibration.Status) {
		st.Image = name
	})
	sseHub.Publish(events.CalibrationImage, events.CalibrationImageEvent{
		Name: name,
		Ts:   time.Now().Unix(),
	})
}

func (s statusSink) RequestInteraction(req interaction.Request) {
	s.update(func(st *calibration.Status) {
		st.Interaction = req.View()
		st.CanConfirm = true
	})
	sseHub.Publish(events.CalibrationInteraction, events.CalibrationInteractionEvent{
		Kind:    string(req.Kind),
		Message: req.Message,
		Button:  req.Button,
		Ts:      time.Now().Unix(),
	})
}
