package protocol

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
)

// Prompts that block the tool until the user acts. Matched exactly.
var prompts = map[string]calibration.InteractionKind{
	"Place instrument on test window.":               calibration.InteractionAttachSensor,
	"Place instrument on spot to be measured,":       calibration.InteractionAttachSensor,
	"Set instrument sensor to calibration position,": calibration.InteractionCalibrationPosition,
	"Set instrument sensor to surface position,":     calibration.InteractionSurfacePosition,
}

// Markers of a fatal error anywhere in a line.
var fatalMarkers = []string{
	"Measurement misread",
	"Error - ",
}

// Sub-matches inside fatal error text, first match wins.
var fatalMessages = []struct {
	needle     string
	ignoreCase bool
	message    string
}{
	{"No PLD firmware pattern is available", false, "No firmware is installed for this instrument."},
	{"Pattern match wasn't good enough", false, "The pattern match wasn't good enough. Ensure you have the correct type of target selected."},
	{"aperture is closed", true, "The sensor aperture is closed. Open the aperture and try again."},
	{"Device or resource busy", false, "The device is in use by another program."},
}

var ignoredExact = map[string]struct{}{
	"User Aborted":                         {},
	"Calibration complete":                 {},
	"Hit any key to continue:":             {},
	"Sample read stopped at user request!": {},
}

var ignoredPrefixes = []string{
	"Hit Esc or Q",
	"Hit ESC or Q",
	"Esc or Q",
	"Hit any other key",
	"Or hit Esc",
	"or hit Esc",
	"Hit Esc to",
	"Hit ESC to",
}

var retryablePrefixes = []string{
	"Strip read failed",
	"Sample read failed",
	"Spot read failed",
}

const (
	progressPrefix    = "patch "
	stripComplete     = "(All rows read)"
	wrongStripPrefix  = "(Warning) Seem to have read strip pass "
	readyForStripPfx  = "Ready to read strip pass "
	spotResultMarker  = "Result is XYZ"
	progressTokenSize = 4
)

// Classify returns the event for one trimmed line of tool output.
func Classify(line string) Event {
	// 1. prompts
	if kind, ok := prompts[line]; ok {
		return InteractionRequired{Kind: kind, Keys: KeyContinue}
	}

	// 2. fatal errors
	for _, marker := range fatalMarkers {
		if strings.Contains(line, marker) {
			return fatalError(line)
		}
	}

	// 3. chatter
	if _, ok := ignoredExact[line]; ok {
		return Ignored{Reason: line}
	}
	for _, prefix := range ignoredPrefixes {
		if strings.HasPrefix(line, prefix) {
			return Ignored{Reason: prefix}
		}
	}

	// 4. progress
	if strings.HasPrefix(line, progressPrefix) {
		return progress(line)
	}

	// 5. chart finished
	if strings.Contains(line, stripComplete) {
		return StripComplete{Keys: KeyDone}
	}

	// 6. retryable read failures
	for _, prefix := range retryablePrefixes {
		if strings.HasPrefix(line, prefix) {
			return RetryableError{Message: line, Keys: KeyContinue}
		}
	}

	// 7. wrong strip
	if strings.HasPrefix(line, wrongStripPrefix) {
		return wrongStrip(line)
	}

	// 8. next strip
	if strings.HasPrefix(line, readyForStripPfx) {
		tokens := strings.Fields(line)
		return ReadyForStrip{Letter: tokens[len(tokens)-1]}
	}

	// 9. spot reading
	if strings.Contains(line, spotResultMarker) {
		return spotResult(line)
	}

	return Unrecognized{Line: line}
}

func fatalError(line string) Error {
	fragment := line
	if i := strings.Index(line, "Error - "); i >= 0 {
		fragment = strings.TrimSpace(line[i+len("Error - "):])
	}
	if fragment == "" {
		fragment = line
	}

	lower := strings.ToLower(line)
	for _, m := range fatalMessages {
		if m.ignoreCase {
			if strings.Contains(lower, strings.ToLower(m.needle)) {
				return Error{Category: calibration.CategoryError, Message: m.message, Raw: line}
			}
			continue
		}
		if strings.Contains(line, m.needle) {
			return Error{Category: calibration.CategoryError, Message: m.message, Raw: line}
		}
	}

	return Error{Category: calibration.CategoryError, Message: fragment, Raw: line}
}

// progress parses "patch 10 of 200". Anything else with the prefix is
// logged and ignored so a format change never stops a measurement.
func progress(line string) Event {
	tokens := strings.Fields(line)
	if len(tokens) != progressTokenSize || tokens[2] != "of" {
		logrus.WithField("line", line).Warn("malformed progress line")
		return Ignored{Reason: "malformed progress"}
	}

	current, err1 := strconv.Atoi(tokens[1])
	total, err2 := strconv.Atoi(tokens[3])
	if err1 != nil || err2 != nil {
		logrus.WithField("line", line).Warn("malformed progress numbers")
		return Ignored{Reason: "malformed progress"}
	}

	return Progress{Current: current, Total: total}
}

// wrongStrip parses
// "(Warning) Seem to have read strip pass B rather than A!".
func wrongStrip(line string) Event {
	tokens := strings.Fields(line)
	if len(tokens) < 11 {
		logrus.WithField("line", line).Warn("malformed strip warning")
		return Unrecognized{Line: line}
	}
	return WrongStripWarning{
		Actual:   tokens[7],
		Expected: strings.TrimRight(tokens[10], "!"),
	}
}

// spotResult parses "Result is XYZ: 95.1 100.0 108.9, D50 Lab: ...".
func spotResult(line string) Event {
	tokens := strings.Fields(line)
	if len(tokens) < 6 {
		logrus.WithField("line", line).Warn("malformed spot reading")
		return Unrecognized{Line: line}
	}

	var vals [3]float64
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimRight(tokens[3+i], ","), 64)
		if err != nil {
			logrus.WithField("line", line).Warn("malformed spot reading value")
			return Unrecognized{Line: line}
		}
		vals[i] = v
	}

	return SpotReadResult{XYZ: calibration.XYZ{X: vals[0], Y: vals[1], Z: vals[2]}}
}
