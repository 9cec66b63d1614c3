// Package interaction coordinates a tool blocked on a prompt with a caller
// that answers asynchronously.
//
// A phase suspends in AwaitStdin or AwaitLoop right after classifying an
// event and resumes from exactly that point once Confirm or Cancel is
// called from any goroutine. Every request is answered at most once.
package interaction

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/protocol"
)

// State is the single active state of a Machine.
type State string

const (
	Idle            State = "Idle"
	Running         State = "Running"
	WaitingForStdin State = "WaitingForStdin"
	WaitingForLoop  State = "WaitingForLoop"
)

var (
	// ErrNoInteraction is returned by Confirm and Cancel when nothing is
	// pending or the pending request was already answered.
	ErrNoInteraction = errors.New("no interaction is pending")
	// ErrBusy is returned when a second request is raised while one is
	// still outstanding.
	ErrBusy = errors.New("an interaction is already pending")
	// ErrProcessExited is returned by AwaitStdin when the tool exits
	// before the user answered.
	ErrProcessExited = errors.New("the tool exited while waiting for a response")
)

// Request is one outstanding need for a human decision.
type Request struct {
	Kind    calibration.InteractionKind
	Message string
	Button  string
	// Keys are written to the tool on confirm (WaitingForStdin only).
	Keys string
}

// View returns the caller-visible part of the request.
func (r *Request) View() *calibration.InteractionView {
	if r == nil {
		return nil
	}
	return &calibration.InteractionView{Kind: r.Kind, Message: r.Message, Button: r.Button}
}

// Input is the tool side of a stdin wait.
type Input interface {
	Write(p []byte) (int, error)
	// Done is closed when the tool has exited.
	Done() <-chan struct{}
}

type response int

const (
	confirm response = iota
	cancel
)

// Machine is the Idle/Running/WaitingForStdin/WaitingForLoop state machine.
type Machine struct {
	mu        sync.Mutex
	state     State
	pending   *Request
	answered  bool
	responses chan response
	observers []func(from, to State)
	requested []func(req Request)
}

func New() *Machine {
	return &Machine{
		state:     Idle,
		responses: make(chan response, 1),
	}
}

// OnTransition registers fn to be called after every state change.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// OnRequest registers fn to be called with every new request. It runs after
// the request is pending, so fn may answer it right away.
func (m *Machine) OnRequest(fn func(req Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = append(m.requested, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns a copy of the outstanding request, or nil.
func (m *Machine) Pending() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || m.answered {
		return nil
	}
	r := *m.pending
	return &r
}

// Begin marks a tool as running.
func (m *Machine) Begin() {
	m.transition(Running)
}

// End returns to Idle once a phase's tool has exited.
func (m *Machine) End() {
	m.transition(Idle)
}

// Confirm answers the pending request positively.
func (m *Machine) Confirm() error {
	return m.respond(confirm)
}

// Cancel answers the pending request negatively.
func (m *Machine) Cancel() error {
	return m.respond(cancel)
}

// AwaitStdin suspends until the pending request is answered. On confirm
// req.Keys are written to in exactly once and the machine returns to
// Running. On cancel, or when ctx is done, the quit key is written only if
// the tool is still alive, the machine returns to Idle and a UserAbort error
// is returned. If the tool exits first nothing is written and
// ErrProcessExited is returned.
func (m *Machine) AwaitStdin(ctx context.Context, req Request, in Input) error {
	if err := m.open(req, WaitingForStdin); err != nil {
		return err
	}

	select {
	case r := <-m.responses:
		if r == confirm {
			m.close(Running)
			if _, err := in.Write([]byte(req.Keys)); err != nil {
				return calibration.WrapError(calibration.KindInternal, err, "failed to answer the tool")
			}
			return nil
		}
	case <-in.Done():
		m.close(Running)
		return ErrProcessExited
	case <-ctx.Done():
	}

	m.close(Idle)
	if !exited(in) {
		if _, err := in.Write([]byte(protocol.KeyQuit)); err != nil {
			logrus.WithError(err).Warn("failed to send quit key")
		}
	}
	return calibration.UserAbort()
}

// AwaitLoop suspends after a fatal error until the user acknowledges it.
// Nothing is written to the tool. Confirm returns nil and the machine
// returns to Running; cancel or ctx returns a UserAbort error.
func (m *Machine) AwaitLoop(ctx context.Context, req Request) error {
	if err := m.open(req, WaitingForLoop); err != nil {
		return err
	}

	select {
	case r := <-m.responses:
		if r == confirm {
			m.close(Running)
			return nil
		}
	case <-ctx.Done():
	}

	m.close(Idle)
	return calibration.UserAbort()
}

func (m *Machine) open(req Request, to State) error {
	m.mu.Lock()
	if m.pending != nil {
		m.mu.Unlock()
		return ErrBusy
	}
	m.drainLocked()
	m.pending = &req
	m.answered = false
	from, observers := m.setLocked(to)
	requested := append([]func(Request){}, m.requested...)
	m.mu.Unlock()

	m.notify(from, to, &req, observers)
	for _, fn := range requested {
		fn(req)
	}
	return nil
}

func (m *Machine) close(to State) {
	m.mu.Lock()
	m.pending = nil
	m.answered = false
	m.drainLocked()
	from, observers := m.setLocked(to)
	m.mu.Unlock()

	m.notify(from, to, nil, observers)
}

func (m *Machine) respond(r response) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.answered {
		return ErrNoInteraction
	}
	m.answered = true
	// The channel is empty while a request is open and unanswered.
	m.responses <- r
	return nil
}

func (m *Machine) drainLocked() {
	select {
	case <-m.responses:
	default:
	}
}

func (m *Machine) transition(to State) {
	m.mu.Lock()
	from, observers := m.setLocked(to)
	m.mu.Unlock()

	m.notify(from, to, nil, observers)
}

func (m *Machine) setLocked(to State) (State, []func(from, to State)) {
	from := m.state
	m.state = to
	return from, append([]func(from, to State){}, m.observers...)
}

func (m *Machine) notify(from, to State, req *Request, observers []func(from, to State)) {
	if from == to {
		return
	}

	fields := logrus.Fields{"from": from, "to": to}
	if req != nil {
		fields["kind"] = req.Kind
	}
	logrus.WithFields(fields).Debug("interaction state changed")

	for _, fn := range observers {
		fn(from, to)
	}
}

func exited(in Input) bool {
	select {
	case <-in.Done():
		return true
	default:
		return false
	}
}
