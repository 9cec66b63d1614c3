package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/config"
	"github.com/colorcal/colorcal/pkg/pipeline"
)

// pipelineOptions reads the tool settings from the config file. A missing
// file gives the defaults.
func pipelineOptions() (pipeline.Options, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		ToolDirs:     conf.ToolSearchPaths(),
		ReferenceDir: conf.ReferenceDir(),
		InkDryDelay:  conf.InkDryDelay(),
	}
	if extra := conf.ExtraEnv(); len(extra) > 0 {
		opts.Env = append(os.Environ(), extra...)
	}
	return opts, nil
}

func warnIfNotInteractive() {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		logrus.Warn("stdin is not a terminal: prompts are answered line by line from stdin")
	}
}

func NewRunCommand() *cobra.Command {
	var o sessionFlags

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a calibration in the foreground",
		GroupID: gBasic,
		Long: `Run a calibration in the foreground and answer its prompts on this terminal.

The session is read from a YAML file (--session) and/or flags. Without a
working directory the current directory is used.`,
		Example: `  colorcal run --device display --sensor i1display3 --whitepoint 6500
  colorcal run --session scanner.yaml
  colorcal run -d printer --print-mode generate-targets -w ./targets`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.build(cmd.Flags())
			if err != nil {
				return err
			}
			if s.WorkingDir == "" && s.TargetFile == "" {
				if s.WorkingDir, err = os.Getwd(); err != nil {
					return err
				}
			}

			opts, err := pipelineOptions()
			if err != nil {
				return err
			}

			sink := newTerminalSink(cmd.OutOrStdout())
			orch, err := pipeline.New(s, sink, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			warnIfNotInteractive()
			p := &prompter{
				out:   cmd.OutOrStdout(),
				lines: readLines(cmd.InOrStdin()),
				r: responder{
					confirm:      orch.Confirm,
					cancel:       orch.Cancel,
					setReference: orch.SetReferenceKind,
				},
			}
			promptCtx, stopPrompts := context.WithCancel(ctx)
			defer stopPrompts()
			go p.run(promptCtx, sink.requests)

			res, err := orch.Run(ctx)
			if err != nil {
				if calibration.IsKind(err, calibration.KindUserAbort) {
					cmd.Println(color.YellowString("\nCalibration cancelled."))
					return nil
				}
				return err
			}

			cmd.Println()
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	o.register(cmd.Flags())
	return cmd
}

func NewSpotReadCommand() *cobra.Command {
	var sensor string

	cmd := &cobra.Command{
		Use:     "spotread",
		Short:   "Take a single XYZ reading with the sensor",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := pipelineOptions()
			if err != nil {
				return err
			}

			sink := newTerminalSink(cmd.OutOrStdout())
			sr := pipeline.NewSpotReader(calibration.SensorKind(sensor), sink, opts)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			warnIfNotInteractive()
			p := &prompter{
				out:   cmd.OutOrStdout(),
				lines: readLines(cmd.InOrStdin()),
				r: responder{
					confirm: sr.Confirm,
					cancel:  sr.Cancel,
				},
			}
			promptCtx, stopPrompts := context.WithCancel(ctx)
			defer stopPrompts()
			go p.run(promptCtx, sink.requests)

			xyz, err := sr.Read(ctx)
			if err != nil {
				if calibration.IsKind(err, calibration.KindUserAbort) {
					cmd.Println(color.YellowString("\nReading cancelled."))
					return nil
				}
				return err
			}

			cmd.Printf("\nX %s  Y %s  Z %s\n", bold("%.4f", xyz.X), bold("%.4f", xyz.Y), bold("%.4f", xyz.Z))
			return nil
		},
	}

	cmd.Flags().StringVar(&sensor, "sensor", "", "measuring instrument, e.g. i1pro, huey")
	return cmd
}
