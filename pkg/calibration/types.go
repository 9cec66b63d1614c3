package calibration

import "time"

// Phase names one step of a calibration pipeline.
type Phase string

const (
	PhaseIdle               Phase = "Idle"
	PhaseNeutralize         Phase = "neutralize"
	PhaseGeneratePatches    Phase = "generate-patches"
	PhaseDrawAndMeasure     Phase = "draw-and-measure"
	PhaseGenerateProfile    Phase = "generate-profile"
	PhaseRemoveTempFiles    Phase = "remove-temp-files"
	PhaseLocateResult       Phase = "locate-result"
	PhaseCopyReferenceFiles Phase = "copy-reference-files"
	PhaseStripAlpha         Phase = "strip-alpha-channel"
	PhaseMeasurePatches     Phase = "measure-patches"
	PhaseGenerateTargets    Phase = "generate-targets"
	PhasePrintTargets       Phase = "print-targets"
	PhaseWaitForInkDry      Phase = "wait-for-ink-dry"
	PhaseReadChart          Phase = "read-chart"
	PhaseRasterPreview      Phase = "convert-to-raster-preview"
	PhaseParseTarget        Phase = "parse-target-descriptor"
	PhaseSpotRead           Phase = "spot-read"
	PhaseFinished           Phase = "Finished"
	PhaseError              Phase = "Error"
)

// Action defines user actions on a calibration session.
type Action string

const (
	ActionStart   Action = "Start"
	ActionConfirm Action = "Confirm"
	ActionCancel  Action = "Cancel"
	ActionAmend   Action = "Amend"
)

// DeviceKind selects the phase plan of a session.
type DeviceKind string

const (
	DeviceDisplay DeviceKind = "display"
	DeviceInput   DeviceKind = "input"
	DevicePrinter DeviceKind = "printer"
)

// ReferenceKind is the physical color target used for input device and
// printer profiling.
type ReferenceKind string

const (
	ReferenceUnknown              ReferenceKind = ""
	ReferenceIT8                  ReferenceKind = "it8"
	ReferenceColorChecker         ReferenceKind = "colorchecker"
	ReferenceColorCheckerDC       ReferenceKind = "colorchecker-dc"
	ReferenceColorCheckerSG       ReferenceKind = "colorchecker-sg"
	ReferenceColorCheckerPassport ReferenceKind = "colorchecker-passport"
	ReferenceHutchcolor           ReferenceKind = "hutchcolor"
	ReferenceI1RGBScan            ReferenceKind = "i1-rgb-scan"
	ReferenceLaserSoftDCPro       ReferenceKind = "lasersoft-dc-pro"
	ReferenceQPCard201            ReferenceKind = "qpcard-201"
	ReferenceQPCard202            ReferenceKind = "qpcard-202"
)

// Valid reports whether k is a known chart kind.
func (k ReferenceKind) Valid() bool {
	switch k {
	case ReferenceIT8, ReferenceColorChecker, ReferenceColorCheckerDC, ReferenceColorCheckerSG,
		ReferenceColorCheckerPassport, ReferenceHutchcolor, ReferenceI1RGBScan,
		ReferenceLaserSoftDCPro, ReferenceQPCard201, ReferenceQPCard202:
		return true
	}
	return false
}

// Precision trades measurement time against accuracy.
type Precision string

const (
	PrecisionShort  Precision = "short"
	PrecisionNormal Precision = "normal"
	PrecisionLong   Precision = "long"
)

// DisplayKind is the display technology, mapped to the -y flag of the
// display tools.
type DisplayKind string

const (
	DisplayLCD       DisplayKind = "lcd"
	DisplayCRT       DisplayKind = "crt"
	DisplayProjector DisplayKind = "projector"
)

// SensorKind identifies the measuring instrument.
type SensorKind string

const (
	SensorUnknown     SensorKind = ""
	SensorHuey        SensorKind = "huey"
	SensorSpyder      SensorKind = "spyder"
	SensorDTP94       SensorKind = "dtp94"
	SensorI1Display   SensorKind = "i1display"
	SensorI1Display3  SensorKind = "i1display3"
	SensorColorMunki  SensorKind = "colormunki"
	SensorI1Pro       SensorKind = "i1pro"
	SensorDTP20       SensorKind = "dtp20"
	SensorDTP22       SensorKind = "dtp22"
	SensorDTP41       SensorKind = "dtp41"
	SensorDTP51       SensorKind = "dtp51"
	SensorSpectroScan SensorKind = "spectroscan"
)

// PrintMode selects one of the printer workflows.
type PrintMode string

const (
	PrintLocal           PrintMode = "local"
	PrintGenerateTargets PrintMode = "generate-targets"
	PrintAnalyzeExisting PrintMode = "analyze-existing"
)

// InteractionKind tags a request for a human decision.
type InteractionKind string

const (
	InteractionAttachSensor        InteractionKind = "attach-sensor"
	InteractionCalibrationPosition InteractionKind = "set-to-calibration-position"
	InteractionSurfacePosition     InteractionKind = "set-to-surface-position"
	InteractionRetryMisread        InteractionKind = "retry-after-misread"
	InteractionAcknowledgeError    InteractionKind = "acknowledge-error"
	InteractionPrintTargets        InteractionKind = "print-targets"
	InteractionSelectReference     InteractionKind = "select-reference"
)

// Category classifies status sink updates.
type Category string

const (
	CategoryStatus Category = "status"
	CategoryError  Category = "error"
)

// Metadata is copied into the generated profile. It is never parsed.
type Metadata struct {
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	Copyright    string `json:"copyright,omitempty" yaml:"copyright,omitempty"`
}

// XYZ is a single CIE XYZ reading.
type XYZ struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Result is what a finished pipeline hands back. ProfilePath is empty for
// pipelines that stop after producing printable targets.
type Result struct {
	WorkingDir  string   `json:"workingDir"`
	ProfilePath string   `json:"profilePath,omitempty"`
	Checksum    string   `json:"checksum,omitempty"`
	Artifacts   []string `json:"artifacts,omitempty"`
}

// InteractionView is the caller-visible part of an outstanding request.
type InteractionView struct {
	Kind    InteractionKind `json:"kind"`
	Message string          `json:"message"`
	Button  string          `json:"button,omitempty"`
}

// Status is a synthesized view of the active (or last) session, returned by
// the daemon API and rendered by the CLI.
type Status struct {
	SessionID       string           `json:"sessionId,omitempty"`
	Device          DeviceKind       `json:"device,omitempty"`
	Phase           Phase            `json:"phase"`
	PhaseIndex      int              `json:"phaseIndex"`
	PhaseCount      int              `json:"phaseCount"`
	State           string           `json:"state"`
	Title           string           `json:"title,omitempty"`
	Message         string           `json:"message,omitempty"`
	MessageCategory Category         `json:"messageCategory,omitempty"`
	Image           string           `json:"image,omitempty"`
	Progress        int              `json:"progress"`
	Interaction     *InteractionView `json:"interaction,omitempty"`
	StartedAt       time.Time        `json:"startedAt"`
	FinishedAt      time.Time        `json:"finishedAt"`
	Result          *Result          `json:"result,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
	ErrorKind       ErrorKind        `json:"errorKind,omitempty"`
	CanConfirm      bool             `json:"canConfirm"`
	CanCancel       bool             `json:"canCancel"`
}

// Active reports whether the status belongs to a running session.
func (s *Status) Active() bool {
	return s.Phase != PhaseIdle && s.Phase != PhaseFinished && s.Phase != PhaseError && s.Phase != ""
}
