package lifecycle

import (
	"fmt"
	"time"

	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

// GuardFunc evaluates whether a transition is allowed. A nil return allows
// the transition; a non-nil return names the failed condition. Guards must
// not mutate the report.
type GuardFunc func(r *report.Report, now time.Time) error

// EffectFunc applies a transition's side effects (timestamps) to the report
// before the status changes
type EffectFunc func(r *report.Report, now time.Time)

// Machine validates and applies lifecycle events against a report. The
// machine holds no per-report state; the report carries its own status and
// the machine is safe to share across goroutines.
type Machine interface {
	// CanTransition returns true if the event is permitted for the report's
	// current status, guards included. It never mutates the report.
	CanTransition(r *report.Report, event Event, now time.Time) bool

	// Transition applies the event, running its effect and updating the
	// status. Illegal events fail with ErrInvalidTransition; rejected guards
	// fail with ErrGuardFailed. The report is untouched on failure.
	Transition(r *report.Report, event Event, now time.Time) error

	// PermittedEvents returns the events currently legal for the report
	PermittedEvents(r *report.Report, now time.Time) []Event
}

// transition is one configured row of the event table
type transition struct {
	event    Event
	toStatus report.Status
	guard    GuardFunc
	effect   EffectFunc
}

// StatusConfiguration configures transitions out of a specific status
type StatusConfiguration struct {
	fromStatus  report.Status
	transitions []transition
}

// Builder builds a configured lifecycle machine
type Builder struct {
	configurations map[report.Status]*StatusConfiguration
}

// NewBuilder creates a new machine builder
func NewBuilder() *Builder {
	return &Builder{
		configurations: make(map[report.Status]*StatusConfiguration),
	}
}

// Configure returns the configuration for the given status, creating it on
// first use. Panics on an unknown status: the event table is wired at
// startup and a typo there is a programming error.
func (b *Builder) Configure(status report.Status) *StatusConfiguration {
	if !status.IsValid() {
		panic(fmt.Errorf("%w: %s", ErrInvalidStatus, status))
	}

	config, exists := b.configurations[status]
	if !exists {
		config = &StatusConfiguration{fromStatus: status}
		b.configurations[status] = config
	}
	return config
}

// Build creates an immutable machine from the configured event table
func (b *Builder) Build() Machine {
	configsCopy := make(map[report.Status]*StatusConfiguration, len(b.configurations))
	for status, config := range b.configurations {
		configsCopy[status] = &StatusConfiguration{
			fromStatus:  status,
			transitions: append([]transition{}, config.transitions...),
		}
	}
	return &machine{configurations: configsCopy}
}

// Permit allows an event to transition to the target status unconditionally
func (c *StatusConfiguration) Permit(event Event, toStatus report.Status) *StatusConfiguration {
	return c.PermitIf(event, toStatus, nil)
}

// PermitIf allows an event to transition to the target status when the guard
// passes. Each event has exactly one row per status; configuring it twice
// panics.
func (c *StatusConfiguration) PermitIf(event Event, toStatus report.Status, guard GuardFunc) *StatusConfiguration {
	if !toStatus.IsValid() {
		panic(fmt.Errorf("%w: target %s", ErrInvalidStatus, toStatus))
	}
	for _, t := range c.transitions {
		if t.event == event {
			panic(fmt.Sprintf("event %s already configured for status %s", event, c.fromStatus))
		}
	}

	c.transitions = append(c.transitions, transition{
		event:    event,
		toStatus: toStatus,
		guard:    guard,
	})
	return c
}

// WithEffect attaches a side effect to the most recently configured
// transition
func (c *StatusConfiguration) WithEffect(effect EffectFunc) *StatusConfiguration {
	if len(c.transitions) == 0 {
		panic("WithEffect called before any transition was configured")
	}
	c.transitions[len(c.transitions)-1].effect = effect
	return c
}

// machine implements Machine
type machine struct {
	configurations map[report.Status]*StatusConfiguration
}

// resolve finds the transition for (status, event) and evaluates its guard
func (m *machine) resolve(r *report.Report, event Event, now time.Time) (*transition, error) {
	config, exists := m.configurations[r.Status]
	if !exists {
		return nil, fmt.Errorf("%w: event %s from status %s", ErrInvalidTransition, event, r.Status)
	}

	for i := range config.transitions {
		t := &config.transitions[i]
		if t.event != event {
			continue
		}
		if t.guard != nil {
			if err := t.guard(r, now); err != nil {
				return nil, fmt.Errorf("%w: event %s from status %s: %v", ErrGuardFailed, event, r.Status, err)
			}
		}
		return t, nil
	}

	return nil, fmt.Errorf("%w: event %s from status %s", ErrInvalidTransition, event, r.Status)
}

// CanTransition returns true if the event is permitted for the report's
// current status
func (m *machine) CanTransition(r *report.Report, event Event, now time.Time) bool {
	_, err := m.resolve(r, event, now)
	return err == nil
}

// Transition applies the event to the report
func (m *machine) Transition(r *report.Report, event Event, now time.Time) error {
	t, err := m.resolve(r, event, now)
	if err != nil {
		return err
	}

	if t.effect != nil {
		t.effect(r, now)
	}
	r.Status = t.toStatus
	r.UpdatedAt = now
	return nil
}

// PermittedEvents returns the events whose guards currently pass, in
// configuration order
func (m *machine) PermittedEvents(r *report.Report, now time.Time) []Event {
	config, exists := m.configurations[r.Status]
	if !exists {
		return []Event{}
	}

	events := make([]Event, 0, len(config.transitions))
	for _, t := range config.transitions {
		if t.guard != nil && t.guard(r, now) != nil {
			continue
		}
		events = append(events, t.event)
	}
	return events
}
