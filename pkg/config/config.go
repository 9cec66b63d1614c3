package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Config interface {
	// ToolSearchPaths are probed in order for the measurement tools. Empty
	// means the built-in list.
	ToolSearchPaths() []string
	ReferenceDir() string
	// WorkingDirRoot holds one directory per daemon-started session that
	// does not name its own working directory.
	WorkingDirRoot() string
	InkDryDelay() time.Duration
	AllowNonRootAccess() bool
	RecalibrationCron() string
	// ExtraEnv is appended to the environment of every tool as KEY=VALUE.
	ExtraEnv() []string

	SetToolSearchPaths([]string)
	SetReferenceDir(string)
	SetWorkingDirRoot(string)
	SetInkDryDelay(time.Duration)
	SetAllowNonRootAccess(bool)
	SetRecalibrationCron(string)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
