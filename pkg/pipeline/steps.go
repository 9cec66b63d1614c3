package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/imaging"
	"github.com/colorcal/colorcal/pkg/result"
)

// inkDryTick is how often the ink drying wait reports progress.
var inkDryTick = time.Second

func copyReferenceFiles(ctx context.Context, o *Orchestrator) error {
	s := o.Session()

	if !s.Reference.Valid() {
		o.r.machine.Begin()
		err := o.r.machine.AwaitLoop(ctx, selectReferenceRequest())
		o.r.machine.End()
		if err != nil {
			return err
		}
		s = o.Session()
	}

	chart, err := ChartFile(s.Reference)
	if err != nil {
		return err
	}

	copies := []struct{ src, dst string }{
		{filepath.Join(o.opts.ReferenceDir, chart), s.AuxPath(calibration.ChartFile)},
		{s.ReferenceData, s.AuxPath(calibration.ReferenceFile)},
		{s.ReferenceImage, s.Path(calibration.ExtImage)},
	}
	for _, c := range copies {
		if err := copyFile(c.src, c.dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return calibration.WrapError(calibration.KindNoData, err, "could not find %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return calibration.WrapError(calibration.KindInternal, err, "could not create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return calibration.WrapError(calibration.KindInternal, err, "could not copy %s", src)
	}
	if err := out.Close(); err != nil {
		return calibration.WrapError(calibration.KindInternal, err, "could not write %s", dst)
	}

	logrus.WithFields(logrus.Fields{
		"src": src,
		"dst": dst,
	}).Debug("copied file")
	return nil
}

func stripAlphaChannel(_ context.Context, o *Orchestrator) error {
	s := o.Session()
	changed, err := imaging.StripAlpha(s.Path(calibration.ExtImage))
	if err != nil {
		return calibration.WrapError(calibration.KindInternal, err, "could not prepare the scanned image")
	}
	if changed {
		o.r.sink.SetMessage("Removed the alpha channel from the scanned image.", calibration.CategoryStatus)
	}
	return nil
}

func printTargets(ctx context.Context, o *Orchestrator) error {
	s := o.Session()

	o.r.machine.Begin()
	defer o.r.machine.End()

	return o.r.machine.AwaitLoop(ctx, printRequest(s.WorkingDir))
}

func waitForInkDry(ctx context.Context, o *Orchestrator) error {
	d := o.opts.InkDryDelay
	if d <= 0 {
		return nil
	}

	o.r.sink.SetMessage(fmt.Sprintf("Waiting %s for the ink to dry.", d), calibration.CategoryStatus)

	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()
	tick := time.NewTicker(inkDryTick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return calibration.UserAbort()
		case <-timer.C:
			o.r.setProgress(100)
			return nil
		case <-tick.C:
			o.r.setProgress(min(int(time.Since(start)*100/d), 99))
		}
	}
}

func parseTargetDescriptor(_ context.Context, o *Orchestrator) error {
	s := o.Session()
	if filepath.Ext(s.TargetFile) != calibration.ExtTarget {
		return calibration.Errorf(calibration.KindNoData, "%s is not a target descriptor", s.TargetFile)
	}

	sensor, err := ReadTargetInstrument(s.TargetFile)
	if err != nil {
		return err
	}
	if s.Sensor != calibration.SensorUnknown && s.Sensor != sensor {
		return calibration.Errorf(calibration.KindNoSupport, "the target was made for the %s but the %s is connected", sensor, s.Sensor)
	}

	o.setSensor(sensor)
	logrus.WithField("sensor", sensor).Info("target descriptor names instrument")
	return nil
}

func removeTempFiles(_ context.Context, o *Orchestrator) error {
	s := o.Session()
	if _, err := result.Cleanup(s.WorkingDir, s.Basename); err != nil {
		// Leftover intermediates never fail a calibration.
		logrus.WithError(err).Warn("failed to remove some temporary files")
	}
	return nil
}

func locateResult(_ context.Context, o *Orchestrator) error {
	s := o.Session()
	res, err := result.Locate(s.WorkingDir, s.Basename)
	if err != nil {
		return err
	}
	o.setResult(res)
	return nil
}

func collectTargets(_ context.Context, o *Orchestrator) error {
	s := o.Session()
	files, err := result.Targets(s.WorkingDir, s.Basename)
	if err != nil {
		return err
	}
	o.setResult(&calibration.Result{WorkingDir: s.WorkingDir, Artifacts: files})
	return nil
}
