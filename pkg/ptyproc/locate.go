package ptyproc

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
)

// DefaultSearchDirs is probed in order: the vendor install location, the
// distribution location, then the legacy manual install prefix.
var DefaultSearchDirs = []string{
	"/usr/bin",
	"/usr/local/bin",
	"/opt/Argyll/bin",
}

// Some distributions rename the tools to avoid clashes with other packages.
const distroPrefix = "argyll-"

// Locate returns the absolute path of tool. For each directory it tries
// <dir>/<tool> and then <dir>/argyll-<tool>. A missing tool is a
// NoSupport error.
func Locate(tool string, dirs []string) (string, error) {
	if len(dirs) == 0 {
		dirs = DefaultSearchDirs
	}

	for _, dir := range dirs {
		for _, name := range []string{tool, distroPrefix + tool} {
			candidate := filepath.Join(dir, name)
			if isExecutable(candidate) {
				logrus.WithFields(logrus.Fields{
					"tool": tool,
					"path": candidate,
				}).Debug("found tool")
				return candidate, nil
			}
		}
	}

	return "", calibration.Errorf(calibration.KindNoSupport, "the required tool %s is not installed", tool)
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}
