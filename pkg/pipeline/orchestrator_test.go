package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/image/tiff"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/imaging"
	"github.com/colorcal/colorcal/pkg/interaction"
	"github.com/colorcal/colorcal/pkg/result"
)

func displaySession(t *testing.T) *calibration.Session {
	return &calibration.Session{
		Device:     calibration.DeviceDisplay,
		Sensor:     calibration.SensorHuey,
		WorkingDir: filepath.Join(t.TempDir(), "work"),
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func recordTransitions(o *Orchestrator) func() []string {
	var (
		mu  sync.Mutex
		out []string
	)
	o.OnTransition(func(from, to interaction.State) {
		mu.Lock()
		defer mu.Unlock()
		out = append(out, string(from)+"->"+string(to))
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), out...)
	}
}

func TestDisplayPipeline(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolDispcal: func(p *fakeProcess) {
			p.emit("Argyll 'V2.3.1' Build 'Linux 64 bit'", "Place instrument on test window.", "Hit Esc or Q to give up, any other key to continue:")
			if p.key() != " " {
				p.exit(1)
				return
			}
			p.emit("patch 1 of 2", "patch 2 of 2")
			p.create(calibration.ExtCalibration)
			p.exit(0)
		},
		toolTargen:   succeed(calibration.ExtPatches),
		toolDispread: succeed(calibration.ExtMeasurement),
		toolColprof:  succeed(calibration.ExtProfile),
	})
	sink := newFakeSink()
	s := displaySession(t)

	o, err := New(s, sink, Options{Launcher: l})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	transitions := recordTransitions(o)

	ch := startRun(o)
	req := nextRequest(t, sink, o, calibration.InteractionAttachSensor)
	if req.Keys != " " {
		t.Fatalf("recorded keys %q, want a space", req.Keys)
	}
	if o.State() != interaction.WaitingForStdin {
		t.Fatalf("state = %s, want WaitingForStdin", o.State())
	}
	if err := o.Confirm(); err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}

	r := waitRun(t, ch)
	if r.err != nil {
		t.Fatalf("Run returned error: %v", r.err)
	}

	profile := filepath.Join(s.WorkingDir, "calibration.icc")
	if r.res.ProfilePath != profile {
		t.Fatalf("profile path = %s, want %s", r.res.ProfilePath, profile)
	}
	if !fileExists(profile) {
		t.Fatalf("profile does not exist")
	}
	for _, ext := range []string{".cal", ".ti1", ".ti3"} {
		if fileExists(filepath.Join(s.WorkingDir, "calibration"+ext)) {
			t.Errorf("intermediate %s was not removed", ext)
		}
	}
	if _, err := result.Cleanup(s.WorkingDir, "calibration"); err != nil {
		t.Fatalf("Cleanup returned error: %v", err)
	}
	if !fileExists(profile) {
		t.Fatalf("cleanup removed the profile")
	}

	if diff := cmp.Diff([]string{toolDispcal, toolTargen, toolDispread, toolColprof}, l.tools()); diff != "" {
		t.Errorf("unexpected tools (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{" "}, l.process(toolDispcal).Writes()); diff != "" {
		t.Errorf("unexpected keystrokes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-v9", "-qm", "-yl", "-d1", "calibration"}, l.process(toolDispcal).req.Args); diff != "" {
		t.Errorf("unexpected dispcal args (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-v9", "-d1", "-yl", "-k", "calibration.cal", "calibration"}, l.process(toolDispread).req.Args); diff != "" {
		t.Errorf("unexpected dispread args (-want +got):\n%s", diff)
	}

	wantPhases := []calibration.Phase{
		calibration.PhaseNeutralize,
		calibration.PhaseGeneratePatches,
		calibration.PhaseDrawAndMeasure,
		calibration.PhaseGenerateProfile,
		calibration.PhaseRemoveTempFiles,
		calibration.PhaseLocateResult,
	}
	if diff := cmp.Diff(wantPhases, sink.Phases()); diff != "" {
		t.Errorf("unexpected phases (-want +got):\n%s", diff)
	}
	if !sink.sawProgress(50) || !sink.sawProgress(100) {
		t.Errorf("progress not reported")
	}
	if o.Phase() != calibration.PhaseFinished {
		t.Errorf("phase = %s, want Finished", o.Phase())
	}

	// The first tool phase: Running -> WaitingForStdin -> Running -> Idle.
	got := transitions()
	want := []string{
		"Idle->Running",
		"Running->WaitingForStdin",
		"WaitingForStdin->Running",
		"Running->Idle",
	}
	if len(got) < len(want) {
		t.Fatalf("too few transitions: %v", got)
	}
	if diff := cmp.Diff(want, got[:len(want)]); diff != "" {
		t.Errorf("unexpected transitions (-want +got):\n%s", diff)
	}
}

func TestConfirmFromSink(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolDispcal: func(p *fakeProcess) {
			p.emit("Place instrument on test window.")
			if p.key() != " " {
				p.exit(1)
				return
			}
			p.create(calibration.ExtCalibration)
			p.exit(0)
		},
		toolTargen:   succeed(calibration.ExtPatches),
		toolDispread: succeed(calibration.ExtMeasurement),
		toolColprof:  succeed(calibration.ExtProfile),
	})
	sink := &answeringSink{fakeSink: newFakeSink()}

	o, err := New(displaySession(t), sink, Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}
	sink.answer = o.Confirm

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if diff := cmp.Diff([]error{nil}, sink.Answers(), cmpopts.EquateErrors()); diff != "" {
		t.Errorf("unexpected confirm results (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{" "}, l.process(toolDispcal).Writes()); diff != "" {
		t.Errorf("unexpected keystrokes (-want +got):\n%s", diff)
	}
}

func TestMissingToolFailsBeforeSpawning(t *testing.T) {
	l := newFakeLauncher(nil)
	l.missing[toolDispcal] = true
	s := displaySession(t)

	o, err := New(s, newFakeSink(), Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.Run(context.Background())
	if !calibration.IsKind(err, calibration.KindNoSupport) {
		t.Fatalf("expected NoSupport, got %v", err)
	}
	if len(l.tools()) != 0 {
		t.Fatalf("tools were started: %v", l.tools())
	}
	if fileExists(s.WorkingDir) {
		t.Fatalf("working directory was created")
	}
}

func TestUnsupportedSessionFailsBeforeSpawning(t *testing.T) {
	tests := []struct {
		name    string
		session func(dir string) *calibration.Session
	}{
		{
			name: "printer without sensor",
			session: func(dir string) *calibration.Session {
				return &calibration.Session{Device: calibration.DevicePrinter, PrintMode: calibration.PrintLocal, WorkingDir: dir}
			},
		},
		{
			name: "targets for a display colorimeter",
			session: func(dir string) *calibration.Session {
				return &calibration.Session{Device: calibration.DevicePrinter, PrintMode: calibration.PrintGenerateTargets, Sensor: calibration.SensorHuey, WorkingDir: dir}
			},
		},
		{
			name: "unknown display kind",
			session: func(dir string) *calibration.Session {
				return &calibration.Session{Device: calibration.DeviceDisplay, DisplayKind: "oled", WorkingDir: dir}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLauncher(nil)
			s := tt.session(filepath.Join(t.TempDir(), "work"))

			o, err := New(s, newFakeSink(), Options{Launcher: l})
			if err != nil {
				t.Fatal(err)
			}

			_, err = o.Run(context.Background())
			if !calibration.IsKind(err, calibration.KindNoSupport) {
				t.Fatalf("expected NoSupport, got %v", err)
			}
			if len(l.tools()) != 0 {
				t.Fatalf("tools were started: %v", l.tools())
			}
			if fileExists(s.WorkingDir) {
				t.Fatalf("working directory was created")
			}
		})
	}
}

func TestFatalErrorAcknowledged(t *testing.T) {
	release := make(chan struct{})
	l := newFakeLauncher(map[string]script{
		toolDispcal: func(p *fakeProcess) {
			p.emit("dispcal: Error - No PLD firmware pattern is available")
			if p.hold(release) {
				p.exit(1)
			}
		},
	})
	sink := newFakeSink()
	s := displaySession(t)

	o, err := New(s, sink, Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}
	transitions := recordTransitions(o)

	ch := startRun(o)
	req := nextRequest(t, sink, o, calibration.InteractionAcknowledgeError)
	if req.Message != "No firmware is installed for this instrument." {
		t.Fatalf("unexpected message %q", req.Message)
	}
	if o.State() != interaction.WaitingForLoop {
		t.Fatalf("state = %s, want WaitingForLoop", o.State())
	}
	if err := o.Confirm(); err != nil {
		t.Fatal(err)
	}
	close(release)

	r := waitRun(t, ch)
	if !calibration.IsKind(r.err, calibration.KindInternal) {
		t.Fatalf("expected Internal, got %v", r.err)
	}
	if calibration.Message(r.err) != "No firmware is installed for this instrument." {
		t.Fatalf("unexpected message %q", calibration.Message(r.err))
	}

	got := transitions()
	want := []string{"Idle->Running", "Running->WaitingForLoop", "WaitingForLoop->Running", "Running->Idle"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected transitions (-want +got):\n%s", diff)
	}
	if len(l.process(toolDispcal).Writes()) != 0 {
		t.Errorf("wrote to the tool while acknowledging an error")
	}
	if o.Phase() != calibration.PhaseError {
		t.Errorf("phase = %s, want Error", o.Phase())
	}
}

func TestFatalErrorCancelled(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolDispcal: func(p *fakeProcess) {
			p.create(calibration.ExtCalibration)
			p.emit("dispcal: Error - No PLD firmware pattern is available")
			p.hold(make(chan struct{}))
		},
	})
	sink := newFakeSink()
	s := displaySession(t)

	o, err := New(s, sink, Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	ch := startRun(o)
	nextRequest(t, sink, o, calibration.InteractionAcknowledgeError)
	o.Cancel()

	r := waitRun(t, ch)
	if !calibration.IsKind(r.err, calibration.KindUserAbort) {
		t.Fatalf("expected UserAbort, got %v", r.err)
	}
	p := l.process(toolDispcal)
	if !p.wasKilled() {
		t.Errorf("tool left running after cancel")
	}
	if len(p.Writes()) != 0 {
		t.Errorf("wrote %v to the tool", p.Writes())
	}
	if fileExists(filepath.Join(s.WorkingDir, "calibration.cal")) {
		t.Errorf("intermediates not cleaned up after failure")
	}
}

func TestMissingProfileIsNoData(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolDispcal:  succeed(calibration.ExtCalibration),
		toolTargen:   succeed(calibration.ExtPatches),
		toolDispread: succeed(calibration.ExtMeasurement),
		toolColprof:  succeed(),
	})
	sink := newFakeSink()
	s := displaySession(t)

	o, err := New(s, sink, Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.Run(context.Background())
	if !calibration.IsKind(err, calibration.KindNoData) {
		t.Fatalf("expected NoData, got %v", err)
	}
	if calibration.Message(err) != "could not find completed profile" {
		t.Fatalf("unexpected message %q", calibration.Message(err))
	}
	for _, ext := range []string{".cal", ".ti1", ".ti3"} {
		if fileExists(filepath.Join(s.WorkingDir, "calibration"+ext)) {
			t.Errorf("intermediate %s was not removed", ext)
		}
	}
	phases := sink.Phases()
	if phases[len(phases)-1] != calibration.PhaseLocateResult {
		t.Errorf("last phase = %s", phases[len(phases)-1])
	}
}

func TestToolFailures(t *testing.T) {
	tests := []struct {
		name    string
		scripts map[string]script
		kind    calibration.ErrorKind
		message string
	}{
		{
			name: "non-zero exit",
			scripts: map[string]script{
				toolDispcal: succeed(calibration.ExtCalibration),
				toolTargen: func(p *fakeProcess) {
					p.emit("targen: generating")
					p.exit(2)
				},
			},
			kind:    calibration.KindInternal,
			message: "targen failed with exit status 2",
		},
		{
			name: "error from a waited-on tool",
			scripts: map[string]script{
				toolDispcal:  succeed(calibration.ExtCalibration),
				toolTargen:   succeed(calibration.ExtPatches),
				toolDispread: succeed(calibration.ExtMeasurement),
				toolColprof: func(p *fakeProcess) {
					p.emit("colprof: Error - Can't open file 'calibration.ti3'")
					p.exit(1)
				},
			},
			kind:    calibration.KindInternal,
			message: "Can't open file 'calibration.ti3'",
		},
		{
			name: "artifact missing after success",
			scripts: map[string]script{
				toolDispcal: succeed(),
			},
			kind: calibration.KindNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLauncher(tt.scripts)
			o, err := New(displaySession(t), newFakeSink(), Options{Launcher: l})
			if err != nil {
				t.Fatal(err)
			}

			_, err = o.Run(context.Background())
			if !calibration.IsKind(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if tt.message != "" && calibration.Message(err) != tt.message {
				t.Fatalf("message = %q, want %q", calibration.Message(err), tt.message)
			}
		})
	}
}

func TestTopLevelCancel(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolDispcal: func(p *fakeProcess) {
			p.emit("patch 1 of 10")
			p.hold(make(chan struct{}))
		},
	})
	sink := newFakeSink()

	o, err := New(displaySession(t), sink, Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	ch := startRun(o)
	deadline := time.Now().Add(5 * time.Second)
	for !sink.sawProgress(10) {
		if time.Now().After(deadline) {
			t.Fatalf("progress never reported")
		}
		time.Sleep(time.Millisecond)
	}
	if o.Progress() != 10 {
		t.Fatalf("Progress() = %d", o.Progress())
	}
	o.Cancel()

	r := waitRun(t, ch)
	if !calibration.IsKind(r.err, calibration.KindUserAbort) {
		t.Fatalf("expected UserAbort, got %v", r.err)
	}
	if !l.process(toolDispcal).wasKilled() {
		t.Fatalf("tool still running after cancel")
	}
}

func TestCancelAtPrompt(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolDispcal: func(p *fakeProcess) {
			p.emit("Place instrument on test window.")
			if p.key() == "Q" {
				p.emit("User Aborted")
				p.exit(1)
			}
		},
	})
	sink := newFakeSink()

	o, err := New(displaySession(t), sink, Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	ch := startRun(o)
	nextRequest(t, sink, o, calibration.InteractionAttachSensor)
	o.Cancel()

	r := waitRun(t, ch)
	if !calibration.IsKind(r.err, calibration.KindUserAbort) {
		t.Fatalf("expected UserAbort, got %v", r.err)
	}
	if diff := cmp.Diff([]string{"Q"}, l.process(toolDispcal).Writes()); diff != "" {
		t.Fatalf("unexpected keystrokes (-want +got):\n%s", diff)
	}
}

func TestCancelBeforeRun(t *testing.T) {
	l := newFakeLauncher(nil)
	o, err := New(displaySession(t), newFakeSink(), Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	o.Cancel()
	if _, err := o.Run(context.Background()); !calibration.IsKind(err, calibration.KindUserAbort) {
		t.Fatalf("expected UserAbort, got %v", err)
	}
	if len(l.tools()) != 0 {
		t.Fatalf("tools were started")
	}
	if _, err := o.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestAmendSession(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolDispcal:  succeed(calibration.ExtCalibration),
		toolTargen:   succeed(calibration.ExtPatches),
		toolDispread: succeed(calibration.ExtMeasurement),
		toolColprof:  succeed(calibration.ExtProfile),
	})
	o, err := New(displaySession(t), newFakeSink(), Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	if err := o.SetWhitepoint(6500); err != nil {
		t.Fatalf("SetWhitepoint returned error: %v", err)
	}
	if err := o.SetReferenceKind("nonsense"); !calibration.IsKind(err, calibration.KindNoSupport) {
		t.Fatalf("expected NoSupport, got %v", err)
	}

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := []string{"-v9", "-qm", "-yl", "-d1", "-t6500", "calibration"}
	if diff := cmp.Diff(want, l.process(toolDispcal).req.Args); diff != "" {
		t.Errorf("unexpected dispcal args (-want +got):\n%s", diff)
	}
	if err := o.SetWhitepoint(5000); !errors.Is(err, ErrSessionFrozen) {
		t.Errorf("expected ErrSessionFrozen, got %v", err)
	}
}

func TestAnalyzeExistingTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "chart.ti2")
	ti2 := "CTI2\n\nDESCRIPTOR \"Argyll Calibration Target chart information 2\"\nTARGET_INSTRUMENT \"X-Rite i1 Pro\"\n"
	if err := os.WriteFile(target, []byte(ti2), 0o644); err != nil {
		t.Fatal(err)
	}

	l := newFakeLauncher(map[string]script{
		toolChartread: func(p *fakeProcess) {
			p.emit("Ready to read strip pass A", "Strip read failed due to misread", "Hit Esc or Q to give up, any other key to retry:")
			if p.key() != " " {
				p.exit(1)
				return
			}
			p.emit("(Warning) Seem to have read strip pass B rather than A!", "(All rows read)")
			if p.key() != "d" {
				p.exit(1)
				return
			}
			p.create(calibration.ExtMeasurement)
			p.exit(0)
		},
		toolColprof: succeed(calibration.ExtProfile),
	})
	sink := newFakeSink()
	s := &calibration.Session{
		Device:     calibration.DevicePrinter,
		PrintMode:  calibration.PrintAnalyzeExisting,
		TargetFile: target,
	}

	o, err := New(s, sink, Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	ch := startRun(o)
	req := nextRequest(t, sink, o, calibration.InteractionRetryMisread)
	if req.Button != "Retry" {
		t.Errorf("button = %q, want Retry", req.Button)
	}
	if err := o.Confirm(); err != nil {
		t.Fatal(err)
	}

	r := waitRun(t, ch)
	if r.err != nil {
		t.Fatalf("Run returned error: %v", r.err)
	}
	if r.res.ProfilePath != filepath.Join(dir, "chart.icc") {
		t.Errorf("unexpected profile %s", r.res.ProfilePath)
	}
	if o.Session().Sensor != calibration.SensorI1Pro {
		t.Errorf("sensor = %q, want i1pro", o.Session().Sensor)
	}

	p := l.process(toolChartread)
	if diff := cmp.Diff([]string{"-v", "chart"}, p.req.Args); diff != "" {
		t.Errorf("unexpected chartread args (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{" ", "d"}, p.Writes()); diff != "" {
		t.Errorf("unexpected keystrokes (-want +got):\n%s", diff)
	}

	// The files belong to the user.
	for _, name := range []string{"chart.ti2", "chart.ti3"} {
		if !fileExists(filepath.Join(dir, name)) {
			t.Errorf("%s was removed", name)
		}
	}

	wantMessages := []string{"Read strip A.", "Strip B was read instead of strip A. Read strip A."}
	msgs := sink.Messages()
	if len(msgs) < 2 {
		t.Fatalf("messages: %v", msgs)
	}
	if diff := cmp.Diff(wantMessages, msgs[:2]); diff != "" {
		t.Errorf("unexpected messages (-want +got):\n%s", diff)
	}
}

func TestAnalyzeExistingWrongSensor(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "chart.ti2")
	if err := os.WriteFile(target, []byte("CTI2\nTARGET_INSTRUMENT \"X-Rite ColorMunki\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := newFakeLauncher(nil)
	s := &calibration.Session{
		Device:     calibration.DevicePrinter,
		PrintMode:  calibration.PrintAnalyzeExisting,
		TargetFile: target,
		Sensor:     calibration.SensorDTP41,
	}
	o, err := New(s, newFakeSink(), Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.Run(context.Background()); !calibration.IsKind(err, calibration.KindNoSupport) {
		t.Fatalf("expected NoSupport, got %v", err)
	}
	if len(l.tools()) != 0 {
		t.Fatalf("tools were started: %v", l.tools())
	}
	if !fileExists(target) {
		t.Fatalf("target was removed")
	}
}

func TestGenerateTargets(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolTargen: succeed(calibration.ExtPatches),
		toolPrinttarg: func(p *fakeProcess) {
			p.create(calibration.ExtTarget)
			p.createFile("chart_01.tif")
			p.createFile("chart_02.tif")
			p.exit(0)
		},
	})
	wd := t.TempDir()
	s := &calibration.Session{
		Device:     calibration.DevicePrinter,
		PrintMode:  calibration.PrintGenerateTargets,
		Sensor:     calibration.SensorI1Pro,
		WorkingDir: wd,
		Basename:   "chart",
	}

	o, err := New(s, newFakeSink(), Options{Launcher: l})
	if err != nil {
		t.Fatal(err)
	}

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.ProfilePath != "" {
		t.Errorf("unexpected profile %s", res.ProfilePath)
	}
	want := []string{
		filepath.Join(wd, "chart.ti1"),
		filepath.Join(wd, "chart.ti2"),
		filepath.Join(wd, "chart_01.tif"),
		filepath.Join(wd, "chart_02.tif"),
	}
	if diff := cmp.Diff(want, res.Artifacts); diff != "" {
		t.Errorf("unexpected artifacts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-v", "-d2", "-f630", "chart"}, l.process(toolTargen).req.Args); diff != "" {
		t.Errorf("unexpected targen args (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-v", "-ii1", "-t", "-pA4", "chart"}, l.process(toolPrinttarg).req.Args); diff != "" {
		t.Errorf("unexpected printtarg args (-want +got):\n%s", diff)
	}
}

func TestPrinterLocal(t *testing.T) {
	oldTick := inkDryTick
	inkDryTick = 5 * time.Millisecond
	defer func() { inkDryTick = oldTick }()

	l := newFakeLauncher(map[string]script{
		toolTargen: succeed(calibration.ExtPatches),
		toolPrinttarg: func(p *fakeProcess) {
			p.create(calibration.ExtTarget, calibration.ExtImage)
			p.exit(0)
		},
		toolChartread: func(p *fakeProcess) {
			p.emit("(All rows read)")
			if p.key() != "d" {
				p.exit(1)
				return
			}
			p.create(calibration.ExtMeasurement)
			p.exit(0)
		},
		toolColprof: succeed(calibration.ExtProfile),
	})
	sink := newFakeSink()
	s := &calibration.Session{
		Device:     calibration.DevicePrinter,
		Sensor:     calibration.SensorColorMunki,
		WorkingDir: t.TempDir(),
	}

	o, err := New(s, sink, Options{Launcher: l, InkDryDelay: 30 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ch := startRun(o)
	nextRequest(t, sink, o, calibration.InteractionPrintTargets)
	if err := o.Confirm(); err != nil {
		t.Fatal(err)
	}

	r := waitRun(t, ch)
	if r.err != nil {
		t.Fatalf("Run returned error: %v", r.err)
	}

	wantPhases := []calibration.Phase{
		calibration.PhaseGeneratePatches,
		calibration.PhaseGenerateTargets,
		calibration.PhasePrintTargets,
		calibration.PhaseWaitForInkDry,
		calibration.PhaseReadChart,
		calibration.PhaseGenerateProfile,
		calibration.PhaseRemoveTempFiles,
		calibration.PhaseLocateResult,
	}
	if diff := cmp.Diff(wantPhases, sink.Phases()); diff != "" {
		t.Errorf("unexpected phases (-want +got):\n%s", diff)
	}
	for _, ext := range []string{".ti1", ".ti2", ".ti3", ".tif"} {
		if fileExists(filepath.Join(s.WorkingDir, "calibration"+ext)) {
			t.Errorf("intermediate %s was not removed", ext)
		}
	}
}

func TestInputDevicePipeline(t *testing.T) {
	refDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(refDir, "ColorChecker.cht"), []byte("chart"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := t.TempDir()
	scan := filepath.Join(src, "scan.tif")
	f, err := os.Create(scan)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	f.Close()
	refData := filepath.Join(src, "ref.txt")
	if err := os.WriteFile(refData, []byte("values"), 0o644); err != nil {
		t.Fatal(err)
	}

	type seen struct {
		chart, ref, alpha bool
	}
	seenCh := make(chan seen, 1)

	l := newFakeLauncher(map[string]script{
		toolScanin: func(p *fakeProcess) {
			alpha, _ := imaging.HasAlpha(filepath.Join(p.req.Dir, "calibration.tif"))
			seenCh <- seen{
				chart: fileExists(filepath.Join(p.req.Dir, "scanin.cht")),
				ref:   fileExists(filepath.Join(p.req.Dir, "scanin-ref.txt")),
				alpha: alpha,
			}
			p.createFile("calibration.ti3")
			p.exit(0)
		},
		toolColprof: succeed(calibration.ExtProfile),
	})
	sink := newFakeSink()
	s := &calibration.Session{
		Device:         calibration.DeviceInput,
		WorkingDir:     filepath.Join(t.TempDir(), "work"),
		ReferenceImage: scan,
		ReferenceData:  refData,
	}

	o, err := New(s, sink, Options{Launcher: l, ReferenceDir: refDir})
	if err != nil {
		t.Fatal(err)
	}

	ch := startRun(o)
	nextRequest(t, sink, o, calibration.InteractionSelectReference)
	if err := o.SetReferenceKind(calibration.ReferenceColorChecker); err != nil {
		t.Fatalf("SetReferenceKind returned error: %v", err)
	}
	if err := o.Confirm(); err != nil {
		t.Fatal(err)
	}

	r := waitRun(t, ch)
	if r.err != nil {
		t.Fatalf("Run returned error: %v", r.err)
	}

	got := <-seenCh
	if !got.chart || !got.ref {
		t.Errorf("reference files not copied: %+v", got)
	}
	if got.alpha {
		t.Errorf("alpha channel not stripped before measuring")
	}

	if diff := cmp.Diff([]string{"-v", "calibration.tif", "scanin.cht", "scanin-ref.txt"}, l.process(toolScanin).req.Args); diff != "" {
		t.Errorf("unexpected scanin args (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"-v", "-ql", "-al", "calibration"}, l.process(toolColprof).req.Args); diff != "" {
		t.Errorf("unexpected colprof args (-want +got):\n%s", diff)
	}
	for _, name := range []string{"scanin.cht", "scanin-ref.txt", "calibration.tif", "calibration.ti3"} {
		if fileExists(filepath.Join(s.WorkingDir, name)) {
			t.Errorf("%s was not removed", name)
		}
	}
	if !fileExists(scan) {
		t.Errorf("the user's scan was removed")
	}
}

func TestSpotRead(t *testing.T) {
	l := newFakeLauncher(map[string]script{
		toolSpotread: func(p *fakeProcess) {
			p.emit("Place instrument on spot to be measured,")
			if p.key() != " " {
				p.exit(1)
				return
			}
			p.emit("Result is XYZ: 1.000000 2.000000 3.000000, D50 Lab: 0.0 0.0 0.0")
			if p.key() == "Q" {
				p.exit(0)
			}
		},
	})
	sink := newFakeSink()
	sr := NewSpotReader(calibration.SensorI1Display3, sink, Options{Launcher: l})

	type readResult struct {
		xyz *calibration.XYZ
		err error
	}
	ch := make(chan readResult, 1)
	go func() {
		xyz, err := sr.Read(context.Background())
		ch <- readResult{xyz, err}
	}()

	nextRequest(t, sink, sr, calibration.InteractionAttachSensor)
	if err := sr.Confirm(); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("Read returned error: %v", r.err)
		}
		if diff := cmp.Diff(calibration.XYZ{X: 1, Y: 2, Z: 3}, *r.xyz); diff != "" {
			t.Fatalf("unexpected sample (-want +got):\n%s", diff)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Read did not return")
	}
}

func TestSpotReadMissingTool(t *testing.T) {
	l := newFakeLauncher(nil)
	l.missing[toolSpotread] = true

	sr := NewSpotReader(calibration.SensorHuey, newFakeSink(), Options{Launcher: l})
	if _, err := sr.Read(context.Background()); !calibration.IsKind(err, calibration.KindNoSupport) {
		t.Fatalf("expected NoSupport, got %v", err)
	}
}

func TestSpotReadCancelWithoutRequest(t *testing.T) {
	started := make(chan struct{})
	l := newFakeLauncher(map[string]script{
		toolSpotread: func(p *fakeProcess) {
			close(started)
			p.hold(make(chan struct{}))
		},
	})
	sr := NewSpotReader(calibration.SensorHuey, newFakeSink(), Options{Launcher: l})

	errCh := make(chan error, 1)
	go func() {
		_, err := sr.Read(context.Background())
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatalf("spot reading tool was not started")
	}
	if sr.Pending() != nil {
		t.Fatalf("unexpected pending request %v", sr.Pending())
	}
	sr.Cancel()

	select {
	case err := <-errCh:
		if !calibration.IsKind(err, calibration.KindUserAbort) {
			t.Fatalf("expected UserAbort, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Read did not return after Cancel")
	}
	if !l.process(toolSpotread).wasKilled() {
		t.Fatalf("spot reading tool was not killed")
	}
}

func TestSpotReadCancelledBeforeRead(t *testing.T) {
	l := newFakeLauncher(nil)
	sr := NewSpotReader(calibration.SensorHuey, newFakeSink(), Options{Launcher: l})

	sr.Cancel()
	if _, err := sr.Read(context.Background()); !calibration.IsKind(err, calibration.KindUserAbort) {
		t.Fatalf("expected UserAbort, got %v", err)
	}
	if len(l.tools()) != 0 {
		t.Fatalf("tools were started: %v", l.tools())
	}
}
