package calibration

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Artifact extensions produced next to the session basename.
const (
	ExtPatches     = ".ti1"
	ExtTarget      = ".ti2"
	ExtMeasurement = ".ti3"
	ExtCalibration = ".cal"
	ExtImage       = ".tif"
	ExtProfile     = ".icc"
)

// Auxiliary files used by the input device workflow.
const (
	ChartFile     = "scanin.cht"
	ReferenceFile = "scanin-ref.txt"
)

// Session is the configuration of one calibration run. It is created once
// per user-initiated calibration and owned by the pipeline for its lifetime.
type Session struct {
	ID        string        `json:"id,omitempty" yaml:"id,omitempty"`
	Device    DeviceKind    `json:"device" yaml:"device"`
	Reference ReferenceKind `json:"reference,omitempty" yaml:"reference,omitempty"`
	Precision Precision     `json:"precision,omitempty" yaml:"precision,omitempty"`

	// Whitepoint is the target color temperature in Kelvin. Zero keeps the
	// native (or already set) white point.
	Whitepoint int `json:"whitepoint,omitempty" yaml:"whitepoint,omitempty"`

	DisplayKind DisplayKind `json:"displayKind,omitempty" yaml:"displayKind,omitempty"`
	// DisplayIndex is the 1-based display number passed to the display tools.
	DisplayIndex int `json:"displayIndex,omitempty" yaml:"displayIndex,omitempty"`

	Sensor     SensorKind `json:"sensor,omitempty" yaml:"sensor,omitempty"`
	PrintMode  PrintMode  `json:"printMode,omitempty" yaml:"printMode,omitempty"`
	WorkingDir string     `json:"workingDir,omitempty" yaml:"workingDir,omitempty"`
	Basename   string     `json:"basename,omitempty" yaml:"basename,omitempty"`

	// DeviceID is the opaque identity of the device being profiled.
	DeviceID string   `json:"deviceId,omitempty" yaml:"deviceId,omitempty"`
	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// ReferenceImage and ReferenceData are the scanned target and its
	// measured values (input devices only).
	ReferenceImage string `json:"referenceImage,omitempty" yaml:"referenceImage,omitempty"`
	ReferenceData  string `json:"referenceData,omitempty" yaml:"referenceData,omitempty"`
	// TargetFile is an existing .ti2 descriptor (printer analyze-existing).
	TargetFile string `json:"targetFile,omitempty" yaml:"targetFile,omitempty"`
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// ApplyDefaults fills unset optional fields.
func (s *Session) ApplyDefaults() {
	if s.ID == "" {
		s.ID = NewSessionID()
	}
	if s.Precision == "" {
		s.Precision = PrecisionNormal
	}
	if s.Device == DeviceDisplay && s.DisplayKind == "" {
		s.DisplayKind = DisplayLCD
	}
	if s.DisplayIndex <= 0 {
		s.DisplayIndex = 1
	}
	if s.Device == DevicePrinter && s.PrintMode == "" {
		s.PrintMode = PrintLocal
	}
	if s.Device == DevicePrinter && s.PrintMode == PrintAnalyzeExisting && s.TargetFile != "" {
		if s.WorkingDir == "" {
			s.WorkingDir = filepath.Dir(s.TargetFile)
		}
		if s.Basename == "" {
			s.Basename = strings.TrimSuffix(filepath.Base(s.TargetFile), filepath.Ext(s.TargetFile))
		}
	}
	if s.Basename == "" {
		s.Basename = "calibration"
	}
}

// Validate checks the session is complete enough to build a pipeline.
func (s *Session) Validate() error {
	switch s.Device {
	case DeviceDisplay, DeviceInput, DevicePrinter:
	default:
		return Errorf(KindNoSupport, "unsupported device kind %q", s.Device)
	}

	switch s.Precision {
	case PrecisionShort, PrecisionNormal, PrecisionLong:
	default:
		return Errorf(KindNoSupport, "unsupported precision %q", s.Precision)
	}

	if s.WorkingDir == "" {
		return Errorf(KindNoData, "no working directory set")
	}
	if !filepath.IsAbs(s.WorkingDir) {
		return Errorf(KindNoData, "working directory %s is not absolute", s.WorkingDir)
	}
	if s.Basename == "" || s.Basename != filepath.Base(s.Basename) || strings.HasPrefix(s.Basename, ".") {
		return Errorf(KindNoData, "invalid basename %q", s.Basename)
	}

	if s.Whitepoint < 0 {
		return Errorf(KindNoData, "invalid whitepoint %d", s.Whitepoint)
	}

	switch s.Device {
	case DeviceInput:
		if s.ReferenceImage == "" || s.ReferenceData == "" {
			return Errorf(KindNoData, "input device calibration needs a reference image and reference data")
		}
	case DevicePrinter:
		switch s.PrintMode {
		case PrintLocal, PrintGenerateTargets:
		case PrintAnalyzeExisting:
			if s.TargetFile == "" {
				return Errorf(KindNoData, "no target descriptor given to analyze")
			}
		default:
			return Errorf(KindNoSupport, "unsupported print mode %q", s.PrintMode)
		}
	}

	return nil
}

// Path returns <WorkingDir>/<Basename><ext>.
func (s *Session) Path(ext string) string {
	return filepath.Join(s.WorkingDir, s.Basename+ext)
}

// AuxPath returns a fixed auxiliary file inside the working directory.
func (s *Session) AuxPath(name string) string {
	return filepath.Join(s.WorkingDir, name)
}

// LoadSessionFile reads a YAML session description.
func LoadSessionFile(path string) (*Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read session file %s", path)
	}

	var s Session
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to parse session file %s", path)
	}

	// Relative paths in the file are relative to the file itself.
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to resolve session file %s", path)
	}
	base := filepath.Dir(abs)
	for _, p := range []*string{&s.WorkingDir, &s.ReferenceImage, &s.ReferenceData, &s.TargetFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}

	return &s, nil
}
