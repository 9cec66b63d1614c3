package daemon

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/events"
)

const reminderMessage = "It is time to recalibrate your devices."

// ScheduleInfo is returned by the schedule endpoints.
type ScheduleInfo struct {
	Cron     string      `json:"cron"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
	Running  bool        `json:"running"`
}

func newReminderScheduler() *Scheduler {
	return NewScheduler(remind, noActiveSession, announceReminder, func(err error) {
		logrus.WithError(err).Warn("recalibration reminder")
	})
}

func remind(at time.Time) error {
	logrus.WithField("dueAt", at.Format(time.DateTime)).Info("recalibration is due")
	sseHub.Publish(events.CalibrationReminder, events.CalibrationReminderEvent{
		DueAt:   at.Unix(),
		Message: reminderMessage,
		Ts:      time.Now().Unix(),
	})
	return nil
}

func announceReminder(at time.Time) {
	sseHub.Publish(events.CalibrationReminder, events.CalibrationReminderEvent{
		DueAt:    at.Unix(),
		Upcoming: true,
		Message:  fmt.Sprintf("Recalibration is due at %s.", at.Format(time.Kitchen)),
		Ts:       time.Now().Unix(),
	})
}

func getSchedule() ScheduleInfo {
	expr, _, running := scheduler.Status()
	return ScheduleInfo{Cron: expr, NextRuns: scheduler.NextRuns(3), Running: running}
}

// applySchedule installs expr without touching the config file. An empty
// expression disables the reminder.
func applySchedule(expr string) error {
	if expr == "" {
		scheduler.Stop()
		return scheduler.Schedule("")
	}
	if err := scheduler.Schedule(expr); err != nil {
		return err
	}
	scheduler.Start()
	return nil
}

func schedule(expr string) (ScheduleInfo, error) {
	if expr != "" {
		if _, err := ParseCron(expr); err != nil {
			return ScheduleInfo{}, calibration.WrapError(calibration.KindNoData, err, "invalid schedule")
		}
	}
	if err := applySchedule(expr); err != nil {
		return ScheduleInfo{}, err
	}

	conf.SetRecalibrationCron(expr)
	if err := conf.Save(); err != nil {
		logrus.WithError(err).Error("saveConfig failed")
		return ScheduleInfo{}, err
	}

	msg := "Recalibration reminder disabled"
	if expr != "" {
		msg = fmt.Sprintf("Recalibration reminder set to %q", expr)
	}
	logrus.Info(msg)
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  "Schedule",
		Message: msg,
		Ts:      time.Now().Unix(),
	})

	return getSchedule(), nil
}

func postpone(d time.Duration) (ScheduleInfo, error) {
	if err := scheduler.Postpone(d); err != nil {
		return ScheduleInfo{}, err
	}
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  "Postpone",
		Message: fmt.Sprintf("Recalibration reminder postponed by %s", d),
		Ts:      time.Now().Unix(),
	})
	return getSchedule(), nil
}

func skipNextSchedule() (ScheduleInfo, error) {
	if err := scheduler.Skip(); err != nil {
		return ScheduleInfo{}, err
	}
	sseHub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  "Skip",
		Message: "Next recalibration reminder skipped",
		Ts:      time.Now().Unix(),
	})
	return getSchedule(), nil
}
