package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/events"
)

var errCalibrationFailed = errors.New("calibration failed")

func NewCalibrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"calibrate", "cali"},
		Short:   "Control calibrations running in the daemon",
		Long: `Start, monitor and answer calibrations running inside the colorcal daemon.

A running calibration stops whenever you have to act, for example to place
the sensor on the screen. 'colorcal calibration status' shows what it is
waiting for; answer with 'confirm' or 'cancel'.`,
		GroupID: gDaemon,
	}

	cmd.AddCommand(
		newCalibrationStartCommand(),
		newCalibrationConfirmCommand(),
		newCalibrationCancelCommand(),
		newCalibrationStatusCommand(),
		newCalibrationWatchCommand(),
		newCalibrationReferenceKindCommand(),
		newCalibrationWhitepointCommand(),
	)
	return cmd
}

func newCalibrationStartCommand() *cobra.Command {
	var (
		o     sessionFlags
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a calibration in the daemon",
		Example: `  colorcal calibration start --device display --sensor i1display3
  colorcal calibration start --session printer.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.build(cmd.Flags())
			if err != nil {
				return err
			}

			id, err := apiClient.StartCalibration(s)
			if err != nil {
				return err
			}
			cmd.Printf("Calibration %s started.\n", bold("%s", id))

			if !watch {
				return nil
			}
			return watchCalibration(cmd)
		},
	}

	o.register(cmd.Flags())
	cmd.Flags().BoolVar(&watch, "watch", false, "follow the calibration until it ends")
	return cmd
}

func newCalibrationConfirmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm",
		Short: "Confirm what the calibration is waiting for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.ConfirmCalibration(); err != nil {
				return fmt.Errorf("failed to confirm: %w", err)
			}
			cmd.Println("Confirmed.")
			return nil
		},
	}
}

func newCalibrationCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.CancelCalibration(); err != nil {
				return fmt.Errorf("failed to cancel calibration: %w", err)
			}
			cmd.Println("Calibration cancelled.")
			return nil
		},
	}
}

func newCalibrationStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the current or last calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetCalibrationStatus()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func newCalibrationWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the running calibration until it ends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return watchCalibration(cmd)
		},
	}
}

// watchCalibration prints daemon events until the session finishes. A
// failed session makes the command fail.
func watchCalibration(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := apiClient.SubscribeEvents(ctx)
	if err != nil {
		return err
	}

	st, err := apiClient.GetCalibrationStatus()
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), st)
	if !st.Active() {
		return nil
	}
	cmd.Println()

	r := &eventRenderer{lastProgress: st.Progress}
	for ev := range ch {
		if line := r.render(ev); line != "" {
			cmd.Println(line)
		}
		if ev.Name != events.CalibrationFinished {
			continue
		}
		p, err := events.DecodeAs[events.CalibrationFinishedEvent](ev)
		if err != nil || p.SessionID != st.SessionID {
			continue
		}
		if p.Error != "" && p.ErrorKind != string(calibration.KindUserAbort) {
			return errCalibrationFailed
		}
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("lost connection to the daemon")
}

func newCalibrationReferenceKindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reference-kind <kind>",
		Short: "Set the reference chart of the running calibration",
		Long: `Set the reference chart of the running calibration. This is only possible
before the first measurement starts.

Kinds: it8, colorchecker, colorchecker-dc, colorchecker-sg,
colorchecker-passport, hutchcolor, i1-rgb-scan, lasersoft-dc-pro,
qpcard-201, qpcard-202`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := calibration.ReferenceKind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown reference kind %q", args[0])
			}
			if _, err := apiClient.SetReferenceKind(kind); err != nil {
				return fmt.Errorf("failed to set reference kind: %w", err)
			}
			cmd.Printf("Reference chart set to %s.\n", bold("%s", kind))
			return nil
		},
	}
}

func newCalibrationWhitepointCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whitepoint <kelvin>",
		Short: "Set the target white point of the running calibration",
		Long: `Set the target white point of the running calibration in Kelvin. 0 keeps
the native white point. This is only possible before the first measurement
starts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := strconv.Atoi(args[0])
			if err != nil || k < 0 {
				return fmt.Errorf("invalid white point %q", args[0])
			}
			if _, err := apiClient.SetWhitepoint(k); err != nil {
				return fmt.Errorf("failed to set white point: %w", err)
			}
			cmd.Printf("White point set to %s.\n", bold("%dK", k))
			return nil
		},
	}
}
