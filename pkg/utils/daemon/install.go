// Package daemon installs the colorcal daemon as a systemd service.
package daemon

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

//go:embed colorcal.service
var unitTemplate string

var (
	unitName = "colorcal.service"
	unitDir  = "/etc/systemd/system"

	// systemctl is replaced in tests.
	systemctl = func(args ...string) error {
		out, err := exec.Command("systemctl", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
		return nil
	}
)

func unitPath() string {
	return filepath.Join(unitDir, unitName)
}

// renderUnit fills the executable and config paths into the unit template.
func renderUnit(exePath, configPath string) string {
	r := strings.NewReplacer(
		"/path/to/colorcal", exePath,
		"/path/to/config", configPath,
	)
	return r.Replace(unitTemplate)
}

// Install writes the unit file for the running executable, then enables
// and starts the service.
func Install(configPath string) error {
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the config: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	if err := os.MkdirAll(unitDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	path := unitPath()
	if _, err := os.Stat(path); err == nil {
		logrus.Warnf("%s already exists, overwriting", path)
	}

	logrus.Infof("writing systemd unit to %s", path)
	if err := os.WriteFile(path, []byte(renderUnit(exePath, configPath)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logrus.Infof("starting colorcal")
	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}
