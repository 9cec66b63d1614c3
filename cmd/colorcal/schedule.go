package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/colorcal/colorcal/pkg/client"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage the recalibration reminder",
		Long: `Manage the recalibration reminder.

Devices drift, so the daemon can remind you to recalibrate on a schedule.

  colorcal schedule 'minute hour day month weekday' Set the schedule
  colorcal schedule disable                         Disable the reminder
  colorcal schedule postpone [duration]             Postpone the next reminder
  colorcal schedule skip                            Skip the next reminder
  colorcal schedule show                            Show the schedule`,
		Example: `  colorcal schedule '0 10 1 * *'   (At 10:00 on the first day of every month)
  colorcal schedule '0 9 * * 1'    (At 09:00 every Monday)
  colorcal schedule '@monthly'`,
		GroupID: gDaemon,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the recalibration reminder",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleDisable(cmd)
			},
		},
		newSchedulePostponeCommand(),
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next reminder",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleSkip(cmd)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the schedule and the next reminders",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func newSchedulePostponeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postpone [duration]",
		Short: "Postpone the next reminder",
		Example: `  colorcal schedule postpone      (Postpone by 1 hour)
  colorcal schedule postpone 90m  (Postpone by 90 minutes)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := time.Hour
			if len(args) > 0 {
				parsed, err := time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", args[0], err)
				}
				d = parsed
			}
			return runSchedulePostpone(cmd, d)
		},
	}
	return cmd
}

func printNextRuns(cmd *cobra.Command, info *client.ScheduleInfo) {
	if len(info.NextRuns) == 0 {
		cmd.Println("Recalibration reminder is not set.")
		return
	}
	cmd.Printf("Schedule: %s\n", bold("%s", info.Cron))
	cmd.Printf("Next %d reminder(s):\n", len(info.NextRuns))
	for _, run := range info.NextRuns {
		cmd.Printf("  - %s (%s)\n", run.Local().Format(time.DateTime), humanize.Time(run))
	}
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	info, err := apiClient.SetSchedule(cronExpr)
	if err != nil {
		return err
	}
	printNextRuns(cmd, info)
	return nil
}

func runScheduleDisable(cmd *cobra.Command) error {
	if _, err := apiClient.SetSchedule(""); err != nil {
		return err
	}
	cmd.Println("Recalibration reminder disabled.")
	return nil
}

func runSchedulePostpone(cmd *cobra.Command, d time.Duration) error {
	info, err := apiClient.PostponeSchedule(d)
	if err != nil {
		return err
	}
	cmd.Printf("Next reminder postponed by %s.\n", d)
	printNextRuns(cmd, info)
	return nil
}

func runScheduleSkip(cmd *cobra.Command) error {
	info, err := apiClient.SkipSchedule()
	if err != nil {
		return err
	}
	cmd.Println("Next reminder skipped.")
	printNextRuns(cmd, info)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	info, err := apiClient.GetSchedule()
	if err != nil {
		return err
	}
	printNextRuns(cmd, info)
	return nil
}
