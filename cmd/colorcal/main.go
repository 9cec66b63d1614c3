package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/client"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/colorcal.sock"
	configPath     = "/etc/colorcal.json"
)

var apiClient = client.NewClient(unixSocketPath)

var (
	gBasic        = "Basic:"
	gDaemon       = "Daemon:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gDaemon,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: colorcal daemon is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'colorcal daemon', or use 'colorcal run' to calibrate in the foreground.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or start the daemon with '--always-allow-non-root-access' to grant permissions to your user")
	case client.IsConflict(err):
		fmt.Fprintln(os.Stderr, "\nThe daemon refused the request in its current state. Check 'colorcal calibration status'.")
	case calibration.IsKind(err, calibration.KindNoSupport):
		fmt.Fprintln(os.Stderr, "\nThe calibration tools may be missing. Install ArgyllCMS or add its bin directory to toolSearchPaths in", configPath)
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "colorcal",
		Short: "colorcal calibrates displays, scanners and printers",
		Long: `colorcal calibrates displays, scanners and printers by driving the
ArgyllCMS command line tools, and produces ICC profiles.

Calibrations run either in the foreground ('colorcal run') or inside the
colorcal daemon, which is controlled with 'colorcal calibration'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			if cmd.GroupID != gDaemon && (cmd.Parent() == nil || cmd.Parent().GroupID != gDaemon) {
				return nil
			}
			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. colorcal may not work as expected.")
				}
			} else if errors.Is(err, client.ErrNotFound) {
				logrus.Error("colorcal daemon is too old to report its version.")
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "colorcal daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewRunCommand(),
		NewSpotReadCommand(),
		NewCleanupCommand(),
		NewCalibrationCommand(),
		NewScheduleCommand(),
		NewDaemonCommand(),
		NewVersionCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
