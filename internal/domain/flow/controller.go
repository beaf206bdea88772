// Package flow recomputes the wizard position from persisted report state.
// No client-held step pointer is ever trusted: evidence presence and a pair
// of explicit detour signals are the only inputs, which makes the wizard
// resumable from any device at any time.
package flow

import (
	"errors"

	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

var (
	// ErrUnknownReportType signals a type outside the three supported flows.
	// The controller recovers by using the entrega branch; callers may log it.
	ErrUnknownReportType = errors.New("unknown report type")

	// ErrInvalidStepForType signals a navigation request for a step outside
	// the type's valid set. Recovered by redirecting to the first valid step.
	ErrInvalidStepForType = errors.New("step not valid for report type")
)

// Input is the persisted state the controller derives the step from. It is
// never mutated.
type Input struct {
	Type               report.Type
	Status             report.Status
	Evidence           map[string]string
	IncidentCount      int
	ShouldReturnToStep string
	LastStepBeforeChat string
}

// FromReport builds a controller input from a report
func FromReport(r *report.Report) Input {
	return Input{
		Type:               r.Type,
		Status:             r.Status,
		Evidence:           r.Evidence,
		IncidentCount:      len(r.IncidentDetails),
		ShouldReturnToStep: r.ShouldReturnToStep,
		LastStepBeforeChat: r.LastStepBeforeChat,
	}
}

func (in Input) hasEvidence(key string) bool {
	return in.Evidence[key] != ""
}

// rule is one named resolution rule; the first rule that matches wins
type rule struct {
	name    string
	resolve func(in Input) (Step, bool)
}

// Resolution order matters: the post-chat return override beats the
// in-chat detour, which beats normal evidence dispatch.
var rules = []rule{
	{
		name: "return_override",
		resolve: func(in Input) (Step, bool) {
			if in.ShouldReturnToStep != "" {
				return Step(in.ShouldReturnToStep), true
			}
			return "", false
		},
	},
	{
		name: "chat_detour",
		resolve: func(in Input) (Step, bool) {
			if in.LastStepBeforeChat != "" && in.Status == report.StatusSubmitted {
				return Step(in.LastStepBeforeChat), true
			}
			return "", false
		},
	},
	{
		name: "type_dispatch",
		resolve: func(in Input) (Step, bool) {
			switch in.Type {
			case report.TypeTiendaCerrada:
				if in.hasEvidence(report.EvidenceFacade) {
					return StepFinish, true
				}
				return StepFacadePhoto, true
			case report.TypeBascula:
				if in.hasEvidence(report.EvidenceScale) {
					return StepFinish, true
				}
				return StepScalePhoto, true
			default:
				// entrega, and the fallback for unknown legacy types
				return entregaStep(in), true
			}
		},
	},
}

// entregaStep walks the delivery branch ladder. Evidence keys are never
// cleared, so satisfied rungs stay satisfied and the flow only moves forward.
func entregaStep(in Input) Step {
	if !in.hasEvidence(report.EvidenceArrivalExhibit) {
		return StepArrivalPhoto
	}
	if !in.hasEvidence(report.EvidenceProductArranged) {
		// With incidents already recorded the driver goes straight to the
		// product-arranged photo; otherwise ask whether anything happened.
		// This can re-prompt incident_check for externally imported rows
		// that carry later evidence but no incident answer.
		if in.IncidentCount > 0 {
			return StepProductArranged
		}
		return StepIncidentCheck
	}
	if !in.hasEvidence(report.EvidenceWaste) && !in.hasEvidence(report.EvidenceRemission) {
		return StepWasteCheck
	}
	if !in.hasEvidence(report.EvidenceTicket) {
		return StepTicketPhoto
	}
	if !in.hasEvidence(report.EvidenceReturnTicket) {
		return StepReturnCheck
	}
	return StepReturnTicket
}

// NextStep returns the step the wizard must render for the given state.
// Deterministic: identical inputs always produce identical output.
func NextStep(in Input) Step {
	for _, r := range rules {
		if step, ok := r.resolve(in); ok {
			return step
		}
	}
	// type_dispatch always matches; unreachable
	return FirstStep(in.Type)
}

// Resolve validates a requested step against the type's valid set. Requests
// outside the set redirect to the first valid step and report
// ErrInvalidStepForType so the caller can log the redirect.
func Resolve(in Input, requested Step) (Step, error) {
	if !IsValidStep(in.Type, requested) {
		return FirstStep(in.Type), ErrInvalidStepForType
	}
	return requested, nil
}
