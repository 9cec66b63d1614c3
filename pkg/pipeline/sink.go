package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
)

// Sink receives status updates from a running pipeline. Calls are
// notifications; a Sink must not block and must not call back into the
// orchestrator synchronously.
type Sink interface {
	SetPhase(phase calibration.Phase, index, count int)
	SetTitle(text string, category calibration.Category)
	SetMessage(text string, category calibration.Category)
	SetProgress(percent int)
	// SetImage shows a named illustration; an empty name clears it.
	SetImage(name string)
	// RequestInteraction asks the user to confirm or cancel. The request is
	// already pending when it is called; the answer is delivered through
	// Orchestrator.Confirm or Orchestrator.Cancel, possibly before it returns.
	RequestInteraction(req interaction.Request)
}

// LogSink only logs. It is used when no sink is given.
type LogSink struct{}

func (LogSink) SetPhase(phase calibration.Phase, index, count int) {
	logrus.WithFields(logrus.Fields{
		"phase": phase,
		"index": index,
		"count": count,
	}).Info("phase started")
}

func (LogSink) SetTitle(text string, category calibration.Category) {
	logrus.WithField("category", category).Info(text)
}

func (LogSink) SetMessage(text string, category calibration.Category) {
	if category == calibration.CategoryError {
		logrus.Error(text)
		return
	}
	logrus.Info(text)
}

func (LogSink) SetProgress(percent int) {
	logrus.WithField("progress", percent).Debug("progress")
}

func (LogSink) SetImage(string) {}

func (LogSink) RequestInteraction(req interaction.Request) {
	logrus.WithFields(logrus.Fields{
		"kind":   req.Kind,
		"button": req.Button,
	}).Info(req.Message)
}
