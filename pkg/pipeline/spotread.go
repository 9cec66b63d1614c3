package pipeline

import (
	"context"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
	"github.com/colorcal/colorcal/pkg/protocol"
)

// SpotReader takes a single reading with the connected sensor.
type SpotReader struct {
	r      *runner
	sensor calibration.SensorKind
	dir    string

	mu        sync.Mutex
	sample    *calibration.XYZ
	cancelled bool
	cancel    context.CancelFunc
}

// NewSpotReader returns a reader using opts.Launcher (or the tool search
// directories) to run the spot reading tool.
func NewSpotReader(sensor calibration.SensorKind, sink Sink, opts Options) *SpotReader {
	if opts.Launcher == nil {
		opts.Launcher = PTYLauncher{SearchDirs: opts.ToolDirs}
	}
	if sink == nil {
		sink = LogSink{}
	}
	return &SpotReader{
		r:      newRunner(opts.Launcher, sink, opts.Env),
		sensor: sensor,
		dir:    os.TempDir(),
	}
}

// Confirm answers the pending interaction (usually "attach the sensor").
func (sr *SpotReader) Confirm() error {
	return sr.r.machine.Confirm()
}

// Cancel answers the pending interaction negatively. With nothing pending
// it aborts the reading, killing the tool if it is running.
func (sr *SpotReader) Cancel() {
	if err := sr.r.machine.Cancel(); err == nil {
		return
	}

	sr.mu.Lock()
	sr.cancelled = true
	cancel := sr.cancel
	sr.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Pending returns the outstanding interaction request, if any.
func (sr *SpotReader) Pending() *interaction.Request {
	return sr.r.machine.Pending()
}

// Read runs the tool until the first sample arrives, then quits it.
func (sr *SpotReader) Read(ctx context.Context) (*calibration.XYZ, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sr.mu.Lock()
	sr.cancel = cancel
	cancelled := sr.cancelled
	sr.mu.Unlock()
	if cancelled {
		return nil, calibration.UserAbort()
	}

	if _, err := sr.r.launcher.Locate(toolSpotread); err != nil {
		return nil, err
	}

	sr.r.sink.SetPhase(calibration.PhaseSpotRead, 0, 1)
	sr.r.sink.SetTitle(phaseTitle(calibration.PhaseSpotRead), calibration.CategoryStatus)

	err := sr.r.run(ctx, toolCall{
		phase:       calibration.PhaseSpotRead,
		tool:        toolSpotread,
		args:        []string{"-v"},
		dir:         sr.dir,
		interactive: true,
		sensor:      sr.sensor,
		onSample:    sr.onSample,
	})

	sr.mu.Lock()
	sample := sr.sample
	sr.mu.Unlock()

	// Quitting may make the tool exit non-zero; a sample wins.
	if sample != nil {
		return sample, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, calibration.Errorf(calibration.KindNoData, "no reading was taken")
}

func (sr *SpotReader) onSample(xyz calibration.XYZ, proc Process) {
	sr.mu.Lock()
	first := sr.sample == nil
	if first {
		sr.sample = &xyz
	}
	sr.mu.Unlock()

	if !first {
		return
	}
	if _, err := proc.Write([]byte(protocol.KeyQuit)); err != nil {
		logrus.WithError(err).Warn("failed to quit spot reading")
	}
}
