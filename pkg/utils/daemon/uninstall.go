package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
)

// Uninstall stops and disables the service and removes its unit file.
func Uninstall() error {
	path := unitPath()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logrus.Infof("%s does not exist, nothing to uninstall", path)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	logrus.Infof("stopping colorcal")
	if err := systemctl("disable", "--now", unitName); err != nil {
		return fmt.Errorf("failed to stop the service: %w. Are you root?", err)
	}

	logrus.Infof("removing systemd unit")
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", path, err)
	}

	return systemctl("daemon-reload")
}
