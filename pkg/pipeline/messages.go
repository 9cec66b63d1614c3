package pipeline

import (
	"fmt"

	"github.com/colorcal/colorcal/pkg/calibration"
	"github.com/colorcal/colorcal/pkg/interaction"
)

var phaseTitles = map[calibration.Phase]string{
	calibration.PhaseNeutralize:         "Resetting the display to a neutral state",
	calibration.PhaseGeneratePatches:    "Generating the patches",
	calibration.PhaseDrawAndMeasure:     "Drawing the patches",
	calibration.PhaseGenerateProfile:    "Generating the profile",
	calibration.PhaseRemoveTempFiles:    "Removing temporary files",
	calibration.PhaseLocateResult:       "Checking the profile",
	calibration.PhaseCopyReferenceFiles: "Copying files",
	calibration.PhaseStripAlpha:         "Preparing the image",
	calibration.PhaseMeasurePatches:     "Measuring the patches",
	calibration.PhaseGenerateTargets:    "Generating the targets",
	calibration.PhasePrintTargets:       "Printing the targets",
	calibration.PhaseWaitForInkDry:      "Waiting for the ink to dry",
	calibration.PhaseReadChart:          "Reading the patches",
	calibration.PhaseRasterPreview:      "Preparing the printable targets",
	calibration.PhaseParseTarget:        "Checking the target",
	calibration.PhaseSpotRead:           "Reading the sample",
}

func phaseTitle(p calibration.Phase) string {
	if t, ok := phaseTitles[p]; ok {
		return t
	}
	return string(p)
}

// imageName returns the illustration for an interaction, specific to the
// sensor when one is known.
func imageName(kind calibration.InteractionKind, sensor calibration.SensorKind) string {
	var suffix string
	switch kind {
	case calibration.InteractionAttachSensor:
		suffix = "attach"
	case calibration.InteractionCalibrationPosition:
		suffix = "calibrate"
	case calibration.InteractionSurfacePosition:
		suffix = "surface"
	default:
		return ""
	}
	if sensor == calibration.SensorUnknown {
		return "sensor-" + suffix
	}
	return string(sensor) + "-" + suffix
}

func promptRequest(kind calibration.InteractionKind, device calibration.DeviceKind, keys string) interaction.Request {
	req := interaction.Request{Kind: kind, Button: "Continue", Keys: keys}
	switch kind {
	case calibration.InteractionAttachSensor:
		if device == calibration.DeviceDisplay {
			req.Message = "Place the calibration device on the screen over the square and press Continue."
		} else {
			req.Message = "Place the calibration device on the spot to be measured and press Continue."
		}
	case calibration.InteractionCalibrationPosition:
		req.Message = "Set the calibration device to the calibration position and press Continue."
	case calibration.InteractionSurfacePosition:
		req.Message = "Set the calibration device to the surface position and press Continue."
	default:
		req.Message = "Press Continue when ready."
	}
	return req
}

func retryRequest(message, keys string) interaction.Request {
	return interaction.Request{
		Kind:    calibration.InteractionRetryMisread,
		Message: fmt.Sprintf("%s. Check the calibration device is positioned correctly and press Retry.", trimPeriod(message)),
		Button:  "Retry",
		Keys:    keys,
	}
}

func acknowledgeRequest(message string) interaction.Request {
	return interaction.Request{
		Kind:    calibration.InteractionAcknowledgeError,
		Message: message,
		Button:  "Continue",
	}
}

func printRequest(dir string) interaction.Request {
	return interaction.Request{
		Kind:    calibration.InteractionPrintTargets,
		Message: fmt.Sprintf("Print the target images in %s without color management and press Continue.", dir),
		Button:  "Continue",
	}
}

func selectReferenceRequest() interaction.Request {
	return interaction.Request{
		Kind:    calibration.InteractionSelectReference,
		Message: "Select the kind of reference target that was scanned and press Continue.",
		Button:  "Continue",
	}
}

func trimPeriod(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '.' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
