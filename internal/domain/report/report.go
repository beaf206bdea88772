package report

import "time"

// Status represents where a report sits in its lifecycle
type Status string

const (
	StatusDraft            Status = "draft"
	StatusSubmitted        Status = "submitted"
	StatusResolvedByDriver Status = "resolved_by_driver"
	StatusTimedOut         Status = "timed_out"
	StatusCompleted        Status = "completed"
	StatusArchived         Status = "archived"
)

var validStatuses = map[Status]bool{
	StatusDraft:            true,
	StatusSubmitted:        true,
	StatusResolvedByDriver: true,
	StatusTimedOut:         true,
	StatusCompleted:        true,
	StatusArchived:         true,
}

// IsValid returns true if the status is a known lifecycle status
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Type identifies which incident flow a report follows
type Type string

const (
	TypeEntrega       Type = "entrega"
	TypeTiendaCerrada Type = "tienda_cerrada"
	TypeBascula       Type = "bascula"
)

// IsKnown returns true for the three supported report types. Legacy values
// survive in old rows but have no wizard flow.
func (t Type) IsKnown() bool {
	return t == TypeEntrega || t == TypeTiendaCerrada || t == TypeBascula
}

// RequiresTicketConfirmation reports whether SUBMIT is gated on the driver
// confirming the extracted ticket data
func (t Type) RequiresTicketConfirmation() bool {
	return t == TypeEntrega
}

// Evidence keys. Absence of a key is the only signal the flow uses to mean
// "this step not yet done", so keys are never cleared once set.
const (
	EvidenceArrivalExhibit  = "arrival_exhibit"
	EvidenceProductArranged = "product_arranged"
	EvidenceWaste           = "waste_evidence"
	EvidenceRemission       = "remission"
	EvidenceTicket          = "ticket"
	EvidenceReturnTicket    = "return_ticket"
	EvidenceFacade          = "facade"
	EvidenceScale           = "scale"
)

var evidenceKeys = map[string]bool{
	EvidenceArrivalExhibit:  true,
	EvidenceProductArranged: true,
	EvidenceWaste:           true,
	EvidenceRemission:       true,
	EvidenceTicket:          true,
	EvidenceReturnTicket:    true,
	EvidenceFacade:          true,
	EvidenceScale:           true,
}

// IsEvidenceKey reports whether key is one of the known evidence keys.
// Arbitrary keys are rejected before they reach storage; the evidence map
// must stay a flat key-to-reference map.
func IsEvidenceKey(key string) bool {
	return evidenceKeys[key]
}

// IncidentItem is one product-level incident line recorded by the driver
type IncidentItem struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
	PhotoRef string `json:"photo_ref,omitempty"`
}

// Report is the persisted state of one delivery-incident report. Status only
// changes through the lifecycle machine; evidence and flow signals change
// through their dedicated repository operations.
type Report struct {
	ID      string
	StoreID string
	Zone    string
	Type    Type
	Status  Status

	Evidence        map[string]string
	IncidentDetails []IncidentItem

	// Flow side-channel signals for the chat detour and post-chat return
	ShouldReturnToStep string
	LastStepBeforeChat string

	TicketExtractionConfirmed       bool
	ReturnTicketExtractionConfirmed bool

	// CurrentStepHint is an advisory cache; the flow controller's output is
	// authoritative and may override it
	CurrentStepHint string

	CreatedAt   time.Time
	SubmittedAt *time.Time
	ResolvedAt  *time.Time
	TimeoutAt   *time.Time
	UpdatedAt   time.Time
}

// HasEvidence reports whether the key holds a non-empty reference
func (r *Report) HasEvidence(key string) bool {
	return r.Evidence[key] != ""
}

// SetEvidence records a reference under a key, replacing any prior value
func (r *Report) SetEvidence(key, ref string) {
	if r.Evidence == nil {
		r.Evidence = make(map[string]string)
	}
	r.Evidence[key] = ref
}

// HasIncidents reports whether any incident lines are recorded
func (r *Report) HasIncidents() bool {
	return len(r.IncidentDetails) > 0
}

// TransitionRecord is one applied lifecycle event, kept for audit
type TransitionRecord struct {
	ID         int64
	ReportID   string
	FromStatus Status
	ToStatus   Status
	Event      string
	Actor      string
	RecordedAt time.Time
}
