package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
)

// terminalSink prints pipeline updates and hands interaction requests to
// the prompt loop.
type terminalSink struct {
	out      io.Writer
	requests chan interaction.Request

	mu           sync.Mutex
	lastProgress int
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{
		out:          out,
		requests:     make(chan interaction.Request, 4),
		lastProgress: -10,
	}
}

func (s *terminalSink) printf(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *terminalSink) SetPhase(phase calibration.Phase, index, count int) {
	s.mu.Lock()
	s.lastProgress = -10
	s.mu.Unlock()
	s.printf("\n%s %s\n", color.New(color.Faint).Sprintf("[%d/%d]", index+1, count), bold("%s", phase))
}

func (s *terminalSink) SetTitle(text string, category calibration.Category) {
	if category == calibration.CategoryError {
		s.printf("%s\n", color.New(color.Bold, color.FgRed).Sprint(text))
		return
	}
	s.printf("%s\n", bold("%s", text))
}

func (s *terminalSink) SetMessage(text string, category calibration.Category) {
	if text == "" {
		return
	}
	if category == calibration.CategoryError {
		s.printf("  %s\n", color.RedString(text))
		return
	}
	s.printf("  %s\n", text)
}

// SetProgress prints at most every tenth percent.
func (s *terminalSink) SetProgress(percent int) {
	s.mu.Lock()
	if percent != 100 && percent/10 == s.lastProgress/10 {
		s.mu.Unlock()
		return
	}
	s.lastProgress = percent
	s.mu.Unlock()

	s.printf("  %s %3d%%\n", progressBar(percent, 20), percent)
}

func (s *terminalSink) SetImage(name string) {
	if name == "" {
		return
	}
	s.printf("  %s\n", color.New(color.Faint).Sprintf("(illustration: %s)", name))
}

func (s *terminalSink) RequestInteraction(req interaction.Request) {
	select {
	case s.requests <- req:
	default:
	}
}

func progressBar(percent, width int) string {
	percent = min(max(percent, 0), 100)
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
