package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
)

// referenceKinds is the menu offered for select-reference requests.
var referenceKinds = []calibration.ReferenceKind{
	calibration.ReferenceIT8,
	calibration.ReferenceColorChecker,
	calibration.ReferenceColorCheckerDC,
	calibration.ReferenceColorCheckerSG,
	calibration.ReferenceColorCheckerPassport,
	calibration.ReferenceHutchcolor,
	calibration.ReferenceI1RGBScan,
	calibration.ReferenceLaserSoftDCPro,
	calibration.ReferenceQPCard201,
	calibration.ReferenceQPCard202,
}

// responder answers interaction requests.
type responder struct {
	confirm      func() error
	cancel       func()
	setReference func(calibration.ReferenceKind) error
}

// prompter turns interaction requests into terminal questions.
type prompter struct {
	out   io.Writer
	lines <-chan string
	r     responder
}

// readLines feeds lines from in until it is exhausted.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			ch <- strings.TrimSpace(sc.Text())
		}
	}()
	return ch
}

// run answers requests until ctx is done. Closed input cancels whatever
// is pending.
func (p *prompter) run(ctx context.Context, requests <-chan interaction.Request) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			if !p.answer(ctx, req) {
				return
			}
		}
	}
}

func (p *prompter) answer(ctx context.Context, req interaction.Request) bool {
	fmt.Fprintf(p.out, "\n%s\n", color.New(color.Bold, color.FgYellow).Sprint(req.Message))

	if req.Kind == calibration.InteractionSelectReference && p.r.setReference != nil {
		return p.selectReference(ctx)
	}

	button := req.Button
	if button == "" {
		button = "Continue"
	}
	fmt.Fprintf(p.out, "Press Enter to %s, or type q to cancel: ", strings.ToLower(button))

	line, ok := p.readLine(ctx)
	if !ok {
		p.r.cancel()
		return false
	}
	if strings.EqualFold(line, "q") {
		p.r.cancel()
		return true
	}
	if err := p.r.confirm(); err != nil {
		logrus.WithError(err).Warn("failed to confirm")
	}
	return true
}

func (p *prompter) selectReference(ctx context.Context) bool {
	for i, k := range referenceKinds {
		fmt.Fprintf(p.out, "  %2d) %s\n", i+1, k)
	}
	for {
		fmt.Fprintf(p.out, "Select the reference chart [1-%d], or q to cancel: ", len(referenceKinds))
		line, ok := p.readLine(ctx)
		if !ok {
			p.r.cancel()
			return false
		}
		if strings.EqualFold(line, "q") {
			p.r.cancel()
			return true
		}

		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(referenceKinds) {
			fmt.Fprintln(p.out, color.RedString("Invalid choice %q.", line))
			continue
		}
		if err := p.r.setReference(referenceKinds[n-1]); err != nil {
			fmt.Fprintln(p.out, color.RedString("%v", err))
			continue
		}
		if err := p.r.confirm(); err != nil {
			logrus.WithError(err).Warn("failed to confirm")
		}
		return true
	}
}

func (p *prompter) readLine(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-p.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}
