package main

import (
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/colorcal/colorcal/pkg/calibration"
)

// sessionFlags override fields of a session file; only flags the user set
// are applied.
type sessionFlags struct {
	file string

	device         string
	reference      string
	precision      string
	whitepoint     int
	displayKind    string
	displayIndex   int
	sensor         string
	printMode      string
	workingDir     string
	basename       string
	referenceImage string
	referenceData  string
	targetFile     string
}

func (o *sessionFlags) register(f *pflag.FlagSet) {
	f.StringVarP(&o.file, "session", "s", "", "YAML session file")
	f.StringVarP(&o.device, "device", "d", "", "device kind (display, input, printer)")
	f.StringVar(&o.reference, "reference", "", "reference chart kind, e.g. it8, colorchecker")
	f.StringVar(&o.precision, "precision", "", "precision (short, normal, long)")
	f.IntVar(&o.whitepoint, "whitepoint", 0, "target white point in Kelvin (0 keeps the native white point)")
	f.StringVar(&o.displayKind, "display-kind", "", "display technology (lcd, crt, projector)")
	f.IntVar(&o.displayIndex, "display", 0, "1-based display number")
	f.StringVar(&o.sensor, "sensor", "", "measuring instrument, e.g. i1pro, huey")
	f.StringVar(&o.printMode, "print-mode", "", "printer workflow (local, generate-targets, analyze-existing)")
	f.StringVarP(&o.workingDir, "working-dir", "w", "", "directory for the intermediate files and the profile")
	f.StringVar(&o.basename, "basename", "", "file name stem of the artifacts")
	f.StringVar(&o.referenceImage, "reference-image", "", "scanned target image (input devices)")
	f.StringVar(&o.referenceData, "reference-data", "", "measured values of the scanned target (input devices)")
	f.StringVar(&o.targetFile, "target-file", "", "existing .ti2 descriptor (printer analyze-existing)")
}

// build loads the session file, if any, and applies the changed flags.
// Relative paths are made absolute against the current directory.
func (o *sessionFlags) build(f *pflag.FlagSet) (*calibration.Session, error) {
	s := &calibration.Session{}
	if o.file != "" {
		var err error
		if s, err = calibration.LoadSessionFile(o.file); err != nil {
			return nil, err
		}
	}

	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("device", func() { s.Device = calibration.DeviceKind(o.device) })
	set("reference", func() { s.Reference = calibration.ReferenceKind(o.reference) })
	set("precision", func() { s.Precision = calibration.Precision(o.precision) })
	set("whitepoint", func() { s.Whitepoint = o.whitepoint })
	set("display-kind", func() { s.DisplayKind = calibration.DisplayKind(o.displayKind) })
	set("display", func() { s.DisplayIndex = o.displayIndex })
	set("sensor", func() { s.Sensor = calibration.SensorKind(o.sensor) })
	set("print-mode", func() { s.PrintMode = calibration.PrintMode(o.printMode) })
	set("working-dir", func() { s.WorkingDir = o.workingDir })
	set("basename", func() { s.Basename = o.basename })
	set("reference-image", func() { s.ReferenceImage = o.referenceImage })
	set("reference-data", func() { s.ReferenceData = o.referenceData })
	set("target-file", func() { s.TargetFile = o.targetFile })

	for _, p := range []*string{&s.WorkingDir, &s.ReferenceImage, &s.ReferenceData, &s.TargetFile} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, err
		}
		*p = abs
	}

	return s, nil
}
