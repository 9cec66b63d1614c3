package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/events"
)

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

// fileSize returns a human readable size, or "" if path is not readable
// from here.
func fileSize(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return humanize.Bytes(uint64(fi.Size()))
}

func printResult(w io.Writer, res *calibration.Result) {
	if res == nil {
		return
	}
	if res.ProfilePath != "" {
		size := fileSize(res.ProfilePath)
		if size != "" {
			size = " (" + size + ")"
		}
		fmt.Fprintf(w, "Profile: %s%s\n", bold("%s", res.ProfilePath), size)
		if res.Checksum != "" {
			fmt.Fprintf(w, "Checksum: %s\n", res.Checksum)
		}
	}
	if len(res.Artifacts) > 0 {
		fmt.Fprintf(w, "Printable targets in %s:\n", bold("%s", res.WorkingDir))
		for _, a := range res.Artifacts {
			fmt.Fprintf(w, "  - %s\n", a)
		}
	}
}

func phaseText(st *calibration.Status) string {
	switch st.Phase {
	case calibration.PhaseFinished:
		return color.New(color.Bold, color.FgGreen).Sprint("finished")
	case calibration.PhaseError:
		if st.ErrorKind == calibration.KindUserAbort {
			return color.New(color.Bold, color.FgYellow).Sprint("cancelled")
		}
		return color.New(color.Bold, color.FgRed).Sprint("failed")
	case calibration.PhaseIdle, "":
		if st.SessionID == "" {
			return bold("idle")
		}
		return bold("starting")
	}
	return bold("%s", st.Phase) + fmt.Sprintf(" (%d/%d)", st.PhaseIndex+1, st.PhaseCount)
}

func printStatus(w io.Writer, st *calibration.Status) {
	if st.SessionID == "" {
		fmt.Fprintln(w, "No calibration has run yet.")
		return
	}

	fmt.Fprintf(w, "Session: %s\n", st.SessionID)
	if st.Device != "" {
		fmt.Fprintf(w, "Device: %s\n", st.Device)
	}
	fmt.Fprintf(w, "Phase: %s\n", phaseText(st))
	if st.Active() {
		fmt.Fprintf(w, "Progress: %s %d%%\n", progressBar(st.Progress, 20), st.Progress)
		fmt.Fprintf(w, "State: %s\n", st.State)
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(w, "Started: %s (%s)\n", st.StartedAt.Local().Format(time.DateTime), humanize.Time(st.StartedAt))
	}
	if !st.FinishedAt.IsZero() && !st.Active() {
		fmt.Fprintf(w, "Finished: %s (%s)\n", st.FinishedAt.Local().Format(time.DateTime), humanize.Time(st.FinishedAt))
	}
	if st.Title != "" {
		fmt.Fprintf(w, "Status: %s\n", st.Title)
	}
	if st.Message != "" {
		msg := st.Message
		if st.MessageCategory == calibration.CategoryError {
			msg = color.RedString(msg)
		}
		fmt.Fprintf(w, "Message: %s\n", msg)
	}
	if st.Interaction != nil {
		fmt.Fprintf(w, "Waiting for you: %s\n", color.New(color.Bold, color.FgYellow).Sprint(st.Interaction.Message))
		fmt.Fprintln(w, "  Answer with 'colorcal calibration confirm' or 'colorcal calibration cancel'.")
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Error: %s (%s)\n", color.RedString(st.LastError), st.ErrorKind)
	}
	if st.Active() {
		fmt.Fprintf(w, "Can Confirm: %s  Can Cancel: %s\n", bool2Text(st.CanConfirm), bool2Text(st.CanCancel))
	}
	printResult(w, st.Result)
}

// eventRenderer formats the event stream for 'calibration watch'.
type eventRenderer struct {
	lastProgress int
}

// render returns the line printed for ev, or "" for events that are not
// shown. Progress is printed at most every tenth percent.
func (r *eventRenderer) render(ev events.Event) string {
	switch ev.Name {
	case events.CalibrationPhase:
		p, err := events.DecodeAs[events.CalibrationPhaseEvent](ev)
		if err != nil {
			return ""
		}
		r.lastProgress = -10
		return fmt.Sprintf("%s %s", color.New(color.Faint).Sprintf("[%d/%d]", p.Index+1, p.Count), bold("%s", p.Phase))
	case events.CalibrationTitle, events.CalibrationMessage:
		p, err := events.DecodeAs[events.CalibrationTextEvent](ev)
		if err != nil || p.Text == "" {
			return ""
		}
		if p.Category == string(calibration.CategoryError) {
			return color.RedString("  %s", p.Text)
		}
		return "  " + p.Text
	case events.CalibrationProgress:
		p, err := events.DecodeAs[events.CalibrationProgressEvent](ev)
		if err != nil || (p.Percent != 100 && p.Percent/10 == r.lastProgress/10) {
			return ""
		}
		r.lastProgress = p.Percent
		return fmt.Sprintf("  %s %3d%%", progressBar(p.Percent, 20), p.Percent)
	case events.CalibrationInteraction:
		p, err := events.DecodeAs[events.CalibrationInteractionEvent](ev)
		if err != nil {
			return ""
		}
		return color.New(color.Bold, color.FgYellow).Sprintf("? %s", p.Message) + color.New(color.Faint).Sprint("  (colorcal calibration confirm | cancel)")
	case events.CalibrationFinished:
		p, err := events.DecodeAs[events.CalibrationFinishedEvent](ev)
		if err != nil {
			return ""
		}
		switch {
		case p.Error == "":
			if p.ProfilePath != "" {
				return color.GreenString("Calibration finished: %s", p.ProfilePath)
			}
			return color.GreenString("Calibration finished.")
		case p.ErrorKind == string(calibration.KindUserAbort):
			return color.YellowString("Calibration cancelled.")
		default:
			return color.RedString("Calibration failed: %s", p.Error)
		}
	case events.CalibrationReminder:
		p, err := events.DecodeAs[events.CalibrationReminderEvent](ev)
		if err != nil {
			return ""
		}
		return color.CyanString("Reminder: %s", p.Message)
	}
	return ""
}
