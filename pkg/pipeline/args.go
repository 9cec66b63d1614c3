package pipeline

import (
	"strconv"

	"github.com/colorcal/colorcal/pkg/calibration"
)

// Tool names.
const (
	toolDispcal   = "dispcal"
	toolTargen    = "targen"
	toolDispread  = "dispread"
	toolColprof   = "colprof"
	toolScanin    = "scanin"
	toolPrinttarg = "printtarg"
	toolChartread = "chartread"
	toolSpotread  = "spotread"
)

// DefaultReferenceDir holds the chart recognition templates shipped with
// the tools.
const DefaultReferenceDir = "/usr/share/color/argyll/ref"

// Charts with only a handful of patches cannot support a finer profile.
var coarseCharts = map[calibration.ReferenceKind]bool{
	calibration.ReferenceColorChecker:         true,
	calibration.ReferenceColorCheckerPassport: true,
	calibration.ReferenceQPCard201:            true,
	calibration.ReferenceQPCard202:            true,
}

var chartFiles = map[calibration.ReferenceKind]string{
	calibration.ReferenceIT8:                  "it8.cht",
	calibration.ReferenceColorChecker:         "ColorChecker.cht",
	calibration.ReferenceColorCheckerDC:       "ColorCheckerDC.cht",
	calibration.ReferenceColorCheckerSG:       "ColorCheckerSG.cht",
	calibration.ReferenceColorCheckerPassport: "ColorCheckerPassport.cht",
	calibration.ReferenceHutchcolor:           "Hutchcolor.cht",
	calibration.ReferenceI1RGBScan:            "i1_RGB_Scan_1.4.cht",
	calibration.ReferenceLaserSoftDCPro:       "LaserSoftDCPro.cht",
	calibration.ReferenceQPCard201:            "QPcard_201.cht",
	calibration.ReferenceQPCard202:            "QPcard_202.cht",
}

// Instrument codes understood by the target generator.
var instrumentCodes = map[calibration.SensorKind]string{
	calibration.SensorI1Pro:       "i1",
	calibration.SensorColorMunki:  "CM",
	calibration.SensorDTP20:       "20",
	calibration.SensorDTP22:       "22",
	calibration.SensorDTP41:       "41",
	calibration.SensorDTP51:       "51",
	calibration.SensorSpectroScan: "SS",
}

var displayLetters = map[calibration.DisplayKind]string{
	calibration.DisplayLCD:       "l",
	calibration.DisplayCRT:       "c",
	calibration.DisplayProjector: "p",
}

// qualityFlag maps precision and chart kind to the -q flag.
func qualityFlag(s *calibration.Session) string {
	if coarseCharts[s.Reference] {
		return "-ql"
	}
	switch s.Precision {
	case calibration.PrecisionShort:
		return "-ql"
	case calibration.PrecisionLong:
		return "-qh"
	default:
		return "-qm"
	}
}

func displayFlag(s *calibration.Session) (string, error) {
	letter, ok := displayLetters[s.DisplayKind]
	if !ok {
		return "", calibration.Errorf(calibration.KindNoSupport, "unsupported display kind %q", s.DisplayKind)
	}
	return "-y" + letter, nil
}

// ChartFile returns the recognition template name for a chart kind.
func ChartFile(kind calibration.ReferenceKind) (string, error) {
	name, ok := chartFiles[kind]
	if !ok {
		return "", calibration.Errorf(calibration.KindNoData, "no reference target kind has been selected")
	}
	return name, nil
}

func dispcalArgs(s *calibration.Session) ([]string, error) {
	y, err := displayFlag(s)
	if err != nil {
		return nil, err
	}
	args := []string{"-v9", qualityFlag(s), y, "-d" + strconv.Itoa(s.DisplayIndex)}
	// Zero keeps the native white point.
	if s.Whitepoint > 0 {
		args = append(args, "-t"+strconv.Itoa(s.Whitepoint))
	}
	return append(args, s.Basename), nil
}

func patchCount(s *calibration.Session) int {
	counts := map[calibration.Precision]int{
		calibration.PrecisionShort:  100,
		calibration.PrecisionNormal: 250,
		calibration.PrecisionLong:   500,
	}
	if s.Device == calibration.DevicePrinter {
		counts = map[calibration.Precision]int{
			calibration.PrecisionShort:  210,
			calibration.PrecisionNormal: 630,
			calibration.PrecisionLong:   1260,
		}
	}
	if n, ok := counts[s.Precision]; ok {
		return n
	}
	return counts[calibration.PrecisionNormal]
}

func targenArgs(s *calibration.Session) ([]string, error) {
	// -d3 is RGB display, -d2 is CMYK print.
	colorspace := "-d3"
	if s.Device == calibration.DevicePrinter {
		colorspace = "-d2"
	}
	return []string{"-v", colorspace, "-f" + strconv.Itoa(patchCount(s)), s.Basename}, nil
}

func dispreadArgs(s *calibration.Session) ([]string, error) {
	y, err := displayFlag(s)
	if err != nil {
		return nil, err
	}
	return []string{
		"-v9",
		"-d" + strconv.Itoa(s.DisplayIndex),
		y,
		"-k", s.Basename + calibration.ExtCalibration,
		s.Basename,
	}, nil
}

func scaninArgs(s *calibration.Session) ([]string, error) {
	return []string{
		"-v",
		s.Basename + calibration.ExtImage,
		calibration.ChartFile,
		calibration.ReferenceFile,
	}, nil
}

func colprofArgs(s *calibration.Session) ([]string, error) {
	args := []string{"-v"}
	for _, kv := range []struct{ flag, value string }{
		{"-A", s.Metadata.Manufacturer},
		{"-M", s.Metadata.Model},
		{"-D", s.Metadata.Description},
		{"-C", s.Metadata.Copyright},
	} {
		if kv.value != "" {
			args = append(args, kv.flag, kv.value)
		}
	}

	// Displays get a shaper+matrix profile, everything else a LUT.
	algorithm := "-al"
	if s.Device == calibration.DeviceDisplay {
		algorithm = "-as"
	}
	return append(args, qualityFlag(s), algorithm, s.Basename), nil
}

func printSensorFlag(s *calibration.Session) (string, error) {
	code, ok := instrumentCodes[s.Sensor]
	if !ok {
		return "", calibration.Errorf(calibration.KindNoSupport, "the sensor %q cannot read printed targets", s.Sensor)
	}
	return "-i" + code, nil
}

func checkPrintSensor(s *calibration.Session) error {
	_, err := printSensorFlag(s)
	return err
}

func checkDisplayKind(s *calibration.Session) error {
	_, err := displayFlag(s)
	return err
}

func printtargArgs(s *calibration.Session) ([]string, error) {
	i, err := printSensorFlag(s)
	if err != nil {
		return nil, err
	}
	return []string{"-v", i, "-t", "-pA4", s.Basename}, nil
}

func chartreadArgs(s *calibration.Session) ([]string, error) {
	return []string{"-v", s.Basename}, nil
}
