// Package termscan turns the raw output a tool writes to its terminal into
// clean lines, delivering each line at most once.
package termscan

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Source is anything that exposes accumulated output by byte offset.
type Source interface {
	Snapshot(from int) ([]byte, int)
}

// Scanner tracks how much of a Source has already been turned into lines.
// The cursor only advances; it never moves backward.
type Scanner struct {
	src    Source
	cursor int
}

func New(src Source) *Scanner {
	return &Scanner{src: src}
}

// NewLines returns the complete lines written since the previous call. A
// line is complete once it is terminated by '\n' or '\r'; an unterminated
// tail stays unread until more output (or Flush) arrives. Escape sequences
// are removed, lines are trimmed and empty lines dropped.
func (s *Scanner) NewLines() []string {
	data, _ := s.src.Snapshot(s.cursor)
	if len(data) == 0 {
		return nil
	}

	last := bytes.LastIndexAny(data, "\r\n")
	if last < 0 {
		return nil
	}

	s.cursor += last + 1
	return split(data[:last+1])
}

// Flush returns every remaining line including an unterminated tail. It is
// meant for the output left behind after the process exited.
func (s *Scanner) Flush() []string {
	data, end := s.src.Snapshot(s.cursor)
	if end > s.cursor {
		s.cursor = end
	}
	return split(data)
}

// Cursor returns the byte offset up to which output has been consumed.
func (s *Scanner) Cursor() int {
	return s.cursor
}

// Reset attaches the scanner to a fresh source, e.g. when a phase restarts
// its tool.
func (s *Scanner) Reset(src Source) {
	s.src = src
	s.cursor = 0
}

func split(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	fields := strings.FieldsFunc(string(data), func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		line := strings.TrimSpace(ansi.Strip(f))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
