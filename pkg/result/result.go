// Package result locates the profile a calibration produced and removes the
// intermediate files left behind in the working directory.
package result

import (
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/colorcal/colorcal/pkg/calibration"
)

// Intermediate extensions removed by Cleanup. The profile extension is
// never in this list.
var intermediateExts = []string{
	calibration.ExtCalibration,
	calibration.ExtPatches,
	calibration.ExtTarget,
	calibration.ExtMeasurement,
	calibration.ExtImage,
}

// Fixed auxiliary files removed by Cleanup.
var auxiliaryFiles = []string{
	calibration.ChartFile,
	calibration.ReferenceFile,
}

// Locate verifies that <dir>/<base>.icc exists and returns it with its
// checksum.
func Locate(dir, base string) (*calibration.Result, error) {
	path := filepath.Join(dir, base+calibration.ExtProfile)

	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		logrus.WithFields(logrus.Fields{
			"path": path,
		}).Error("profile not generated")
		return nil, calibration.Errorf(calibration.KindNoData, "could not find completed profile")
	}

	sum, err := Checksum(path)
	if err != nil {
		return nil, calibration.WrapError(calibration.KindInternal, err, "failed to read profile %s", path)
	}

	logrus.WithFields(logrus.Fields{
		"path":     path,
		"checksum": sum,
	}).Info("located profile")

	return &calibration.Result{
		WorkingDir:  dir,
		ProfilePath: path,
		Checksum:    sum,
		Artifacts:   []string{path},
	}, nil
}

// Checksum returns the hex BLAKE3 digest of a file.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Targets collects the printable target files of a generate-targets run:
// the patch and target descriptors and every page image.
func Targets(dir, base string) ([]string, error) {
	var out []string
	for _, ext := range []string{calibration.ExtPatches, calibration.ExtTarget} {
		path := filepath.Join(dir, base+ext)
		if _, err := os.Stat(path); err == nil {
			out = append(out, path)
		}
	}

	// Multi-page targets are written as <base>_01.tif, <base>_02.tif...
	pages, err := filepath.Glob(filepath.Join(dir, globEscape(base)+"*"+calibration.ExtImage))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list target images in %s", dir)
	}
	sort.Strings(pages)
	out = append(out, pages...)

	if len(pages) == 0 {
		return nil, calibration.Errorf(calibration.KindNoData, "no printable targets were generated")
	}
	return out, nil
}

// Cleanup removes the intermediate files of base inside dir. It never
// removes the profile and never touches anything outside dir. Missing files
// are not an error. It returns the paths it removed.
func Cleanup(dir, base string) ([]string, error) {
	if dir == "" || base == "" || base != filepath.Base(base) {
		return nil, calibration.Errorf(calibration.KindInternal, "refusing to clean up %q in %q", base, dir)
	}

	var names []string
	for _, ext := range intermediateExts {
		names = append(names, base+ext)
	}
	names = append(names, auxiliaryFiles...)

	var (
		removed []string
		errs    []error
	)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if !inside(dir, path) || strings.EqualFold(filepath.Ext(path), calibration.ExtProfile) {
			continue
		}

		err := os.Remove(path)
		switch {
		case err == nil:
			removed = append(removed, path)
		case errors.Is(err, os.ErrNotExist):
		default:
			errs = append(errs, pkgerrors.Wrapf(err, "failed to remove %s", path))
		}
	}

	logrus.WithFields(logrus.Fields{
		"dir":     dir,
		"removed": len(removed),
	}).Info("removed intermediate files")

	return removed, errors.Join(errs...)
}

func inside(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
