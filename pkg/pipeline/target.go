package pipeline

import (
	"bufio"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/colorcal/colorcal/pkg/calibration"
)

const keywordInstrument = "TARGET_INSTRUMENT"

// Substrings of normalized instrument names, checked in order.
var instrumentNames = []struct {
	needle string
	sensor calibration.SensorKind
}{
	{"i1pro", calibration.SensorI1Pro},
	{"eyeonepro", calibration.SensorI1Pro},
	{"colormunki", calibration.SensorColorMunki},
	{"dtp20", calibration.SensorDTP20},
	{"dtp22", calibration.SensorDTP22},
	{"dtp41", calibration.SensorDTP41},
	{"dtp51", calibration.SensorDTP51},
	{"spectroscan", calibration.SensorSpectroScan},
}

// ReadTargetInstrument returns the instrument a target descriptor (.ti2)
// was generated for.
func ReadTargetInstrument(path string) (calibration.SensorKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", calibration.WrapError(calibration.KindNoData, err, "could not open the target descriptor %s", path)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, keywordInstrument) {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, keywordInstrument))
		value = strings.Trim(value, `"`)
		return ParseInstrument(value)
	}
	if err := s.Err(); err != nil {
		return "", calibration.WrapError(calibration.KindNoData, pkgerrors.Wrapf(err, "failed to read %s", path), "could not read the target descriptor")
	}

	return "", calibration.Errorf(calibration.KindNoData, "the target descriptor %s does not name an instrument", path)
}

// ParseInstrument maps a free-form instrument name to a sensor kind.
func ParseInstrument(name string) (calibration.SensorKind, error) {
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(name))

	for _, n := range instrumentNames {
		if strings.Contains(normalized, n.needle) {
			return n.sensor, nil
		}
	}
	return "", calibration.Errorf(calibration.KindNoSupport, "the instrument %q cannot read printed targets", name)
}
