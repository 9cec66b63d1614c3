// Package protocol classifies single lines of calibration tool output.
//
// The tools have no machine-readable protocol. Classification is done
// against a fixed catalogue of the exact strings they print, in a fixed
// priority order, and anything unknown is reported as Unrecognized instead
// of failing.
package protocol

import "github.com/colorcal/colorcal/pkg/calibration"

// Keystrokes written back to a tool.
const (
	KeyContinue = " "
	KeyDone     = "d"
	KeyQuit     = "Q"
)

// Event is the classification of one line. Exactly one of the concrete
// types below is returned for every line.
type Event interface {
	event()
}

// Ignored is known chatter.
type Ignored struct {
	Reason string
}

// Progress reports "patch <current> of <total>".
type Progress struct {
	Current int
	Total   int
}

// Percent returns the progress as a percentage clamped to 0..100.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	v := p.Current * 100 / p.Total
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// InteractionRequired is a prompt the tool blocks on until Keys are
// written.
type InteractionRequired struct {
	Kind calibration.InteractionKind
	Keys string
}

// Error is a fatal tool error with the user-facing message chosen from the
// catalogue.
type Error struct {
	Category calibration.Category
	Message  string
	Raw      string
}

// RetryableError is a failed read the tool lets the user retry.
type RetryableError struct {
	Message string
	Keys    string
}

// StripComplete means all rows of a chart were read. Keys finishes the
// reading.
type StripComplete struct {
	Keys string
}

// WrongStripWarning means the user fed a different strip than requested.
type WrongStripWarning struct {
	Expected string
	Actual   string
}

// ReadyForStrip means the tool waits for the strip labelled Letter.
type ReadyForStrip struct {
	Letter string
}

// SpotReadResult is one measured sample.
type SpotReadResult struct {
	XYZ calibration.XYZ
}

// Unrecognized is any line the catalogue does not know about.
type Unrecognized struct {
	Line string
}

func (Ignored) event()             {}
func (Progress) event()            {}
func (InteractionRequired) event() {}
func (Error) event()               {}
func (RetryableError) event()      {}
func (StripComplete) event()       {}
func (WrongStripWarning) event()   {}
func (ReadyForStrip) event()       {}
func (SpotReadResult) event()      {}
func (Unrecognized) event()        {}
