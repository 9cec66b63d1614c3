package main

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/colorcal/colorcal/pkg/daemon"
	"github.com/colorcal/colorcal/pkg/version"
)

// alwaysAllowNonRootAccess makes the daemon socket world-writable.
var alwaysAllowNonRootAccess = false

// daemonFields describes where the daemon reads and writes its files.
func daemonFields() logrus.Fields {
	return logrus.Fields{
		"version":      version.Version,
		"commit":       version.GitCommit,
		"config":       configPath,
		"state":        daemon.StatePath(configPath),
		"socket":       unixSocketPath,
		"allowNonRoot": alwaysAllowNonRootAccess,
	}
}

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run colorcal daemon in the foreground",
		Long: `Run the colorcal daemon in the foreground.

The daemon runs one calibration session at a time on behalf of
'colorcal calibration', and starts scheduled recalibrations from the
recalibrationCron setting. It listens on the socket given by
--daemon-socket and remembers the last session status in a state file
next to the config file, so an interrupted session is reported after a
restart. Send SIGHUP to reload the config.`,
		Example: `  sudo colorcal daemon --config /etc/colorcal.json
  colorcal daemon --config ~/.config/colorcal.json --daemon-socket /tmp/colorcal.sock`,
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			if abs, err := filepath.Abs(configPath); err == nil {
				configPath = abs
			}
			logrus.WithFields(daemonFields()).Info("colorcal daemon starting")
			return daemon.Run(configPath, unixSocketPath, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")

	return cmd
}
