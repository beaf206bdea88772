package flow

import "github.com/hvaldezm/delivery-incidents/internal/domain/report"

// Step identifies one wizard screen. Numeric identifiers come from the
// driver-facing flow definition and are part of the stored data, so they
// never change meaning.
type Step string

const (
	StepArrivalPhoto    Step = "4a"
	StepFacadePhoto     Step = "4b"
	StepScalePhoto      Step = "4c"
	StepIncidentCheck   Step = "incident_check"
	StepProductArranged Step = "6"
	StepWasteCheck      Step = "waste_check"
	StepTicketPhoto     Step = "8"
	StepReturnCheck     Step = "return_check"
	StepReturnTicket    Step = "11"
	StepFinish          Step = "finish"
)

// String returns the string representation of the step
func (s Step) String() string {
	return string(s)
}

var entregaSteps = []Step{
	StepArrivalPhoto,
	StepIncidentCheck,
	StepProductArranged,
	StepWasteCheck,
	StepTicketPhoto,
	StepReturnCheck,
	StepReturnTicket,
	StepFinish,
}

var tiendaCerradaSteps = []Step{
	StepFacadePhoto,
	StepFinish,
}

var basculaSteps = []Step{
	StepScalePhoto,
	StepFinish,
}

// StepsFor returns the ordered valid steps for a report type. Unknown types
// use the entrega sequence, matching the controller's fallback.
func StepsFor(t report.Type) []Step {
	switch t {
	case report.TypeTiendaCerrada:
		return tiendaCerradaSteps
	case report.TypeBascula:
		return basculaSteps
	default:
		return entregaSteps
	}
}

// IsValidStep reports whether the step belongs to the type's sequence
func IsValidStep(t report.Type, s Step) bool {
	for _, step := range StepsFor(t) {
		if step == s {
			return true
		}
	}
	return false
}

// FirstStep returns the first step of the type's sequence, the redirect
// target for out-of-set navigation requests
func FirstStep(t report.Type) Step {
	return StepsFor(t)[0]
}
