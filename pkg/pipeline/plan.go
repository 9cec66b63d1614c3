package pipeline

import (
	"context"

	"github.com/colorcal/colorcal/pkg/calibration"
)

// step is one phase. Tool phases run an external tool with an argument
// vector built from the session alone; the others run do in-process.
type step struct {
	phase       calibration.Phase
	tool        string
	args        func(*calibration.Session) ([]string, error)
	interactive bool
	// produces lists the extensions that must exist after a successful
	// tool run.
	produces []string
	do       func(ctx context.Context, o *Orchestrator) error
	// check rejects sessions the step can never serve. Every check runs
	// before the first tool is spawned.
	check func(*calibration.Session) error
}

type plan struct {
	steps []step
	// cleanup removes intermediates when a step fails.
	cleanup bool
}

// tools returns the distinct tools the plan needs, in order.
func (p plan) tools() []string {
	var out []string
	seen := map[string]bool{}
	for _, st := range p.steps {
		if st.tool == "" || seen[st.tool] {
			continue
		}
		seen[st.tool] = true
		out = append(out, st.tool)
	}
	return out
}

// phases returns the phase names of the plan.
func (p plan) phases() []calibration.Phase {
	out := make([]calibration.Phase, 0, len(p.steps))
	for _, st := range p.steps {
		out = append(out, st.phase)
	}
	return out
}

var (
	stepNeutralize = step{
		phase:       calibration.PhaseNeutralize,
		tool:        toolDispcal,
		args:        dispcalArgs,
		interactive: true,
		produces:    []string{calibration.ExtCalibration},
		check:       checkDisplayKind,
	}
	stepGeneratePatches = step{
		phase:    calibration.PhaseGeneratePatches,
		tool:     toolTargen,
		args:     targenArgs,
		produces: []string{calibration.ExtPatches},
	}
	stepDrawAndMeasure = step{
		phase:       calibration.PhaseDrawAndMeasure,
		tool:        toolDispread,
		args:        dispreadArgs,
		interactive: true,
		produces:    []string{calibration.ExtMeasurement},
		check:       checkDisplayKind,
	}
	stepGenerateProfile = step{
		phase: calibration.PhaseGenerateProfile,
		tool:  toolColprof,
		args:  colprofArgs,
	}
	stepRemoveTempFiles = step{
		phase: calibration.PhaseRemoveTempFiles,
		do:    removeTempFiles,
	}
	stepLocateResult = step{
		phase: calibration.PhaseLocateResult,
		do:    locateResult,
	}
	stepCopyReferenceFiles = step{
		phase: calibration.PhaseCopyReferenceFiles,
		do:    copyReferenceFiles,
	}
	stepStripAlpha = step{
		phase: calibration.PhaseStripAlpha,
		do:    stripAlphaChannel,
	}
	stepMeasurePatches = step{
		phase:       calibration.PhaseMeasurePatches,
		tool:        toolScanin,
		args:        scaninArgs,
		interactive: true,
		produces:    []string{calibration.ExtMeasurement},
	}
	stepGenerateTargets = step{
		phase:    calibration.PhaseGenerateTargets,
		tool:     toolPrinttarg,
		args:     printtargArgs,
		produces: []string{calibration.ExtTarget},
		check:    checkPrintSensor,
	}
	stepPrintTargets = step{
		phase: calibration.PhasePrintTargets,
		do:    printTargets,
	}
	stepWaitForInkDry = step{
		phase: calibration.PhaseWaitForInkDry,
		do:    waitForInkDry,
	}
	stepReadChart = step{
		phase:       calibration.PhaseReadChart,
		tool:        toolChartread,
		args:        chartreadArgs,
		interactive: true,
		produces:    []string{calibration.ExtMeasurement},
	}
	stepRasterPreview = step{
		phase: calibration.PhaseRasterPreview,
		do:    collectTargets,
	}
	stepParseTarget = step{
		phase: calibration.PhaseParseTarget,
		do:    parseTargetDescriptor,
	}
)

// planFor selects the phase list for a session. The device kind is
// resolved once here.
func planFor(s *calibration.Session) (plan, error) {
	switch s.Device {
	case calibration.DeviceDisplay:
		return plan{cleanup: true, steps: []step{
			stepNeutralize,
			stepGeneratePatches,
			stepDrawAndMeasure,
			stepGenerateProfile,
			stepRemoveTempFiles,
			stepLocateResult,
		}}, nil

	case calibration.DeviceInput:
		return plan{cleanup: true, steps: []step{
			stepCopyReferenceFiles,
			stepStripAlpha,
			stepMeasurePatches,
			stepGenerateProfile,
			stepRemoveTempFiles,
			stepLocateResult,
		}}, nil

	case calibration.DevicePrinter:
		switch s.PrintMode {
		case calibration.PrintLocal:
			return plan{cleanup: true, steps: []step{
				stepGeneratePatches,
				stepGenerateTargets,
				stepPrintTargets,
				stepWaitForInkDry,
				stepReadChart,
				stepGenerateProfile,
				stepRemoveTempFiles,
				stepLocateResult,
			}}, nil

		case calibration.PrintGenerateTargets:
			return plan{cleanup: true, steps: []step{
				stepGeneratePatches,
				stepGenerateTargets,
				stepRasterPreview,
			}}, nil

		case calibration.PrintAnalyzeExisting:
			// The files belong to the user, nothing is removed.
			return plan{steps: []step{
				stepParseTarget,
				stepReadChart,
				stepGenerateProfile,
				stepLocateResult,
			}}, nil
		}
		return plan{}, calibration.Errorf(calibration.KindNoSupport, "unsupported print mode %q", s.PrintMode)
	}

	return plan{}, calibration.Errorf(calibration.KindNoSupport, "unsupported device kind %q", s.Device)
}

// Phases returns the phase list a session would run.
func Phases(s *calibration.Session) ([]calibration.Phase, error) {
	p, err := planFor(s)
	if err != nil {
		return nil, err
	}
	return p.phases(), nil
}
