package port

import (
	"context"

	"github.com/hvaldezm/delivery-incidents/internal/domain/report"
)

// EvidenceStore persists a raw image under an evidence key and returns a
// stable reference string. The core treats the reference as opaque.
type EvidenceStore interface {
	Save(ctx context.Context, reportID, key string, content []byte, mimeType string) (string, error)
	Read(ctx context.Context, reference string) ([]byte, string, error)
}

// TicketLine is one extracted line item from a delivery ticket
type TicketLine struct {
	Product  string  `json:"product"`
	Quantity float64 `json:"quantity"`
	Amount   float64 `json:"amount"`
}

// TicketExtraction is the structured result of OCR over a ticket photo. The
// lifecycle only consumes the driver's confirmation flag; these fields exist
// for display and reconciliation.
type TicketExtraction struct {
	StoreCode  string       `json:"store_code"`
	Items      []TicketLine `json:"items"`
	Total      float64      `json:"total"`
	Confidence float64      `json:"confidence"`
}

// TicketExtractor extracts structured ticket data from an evidence image
type TicketExtractor interface {
	Extract(ctx context.Context, imageData []byte, mimeType string) (*TicketExtraction, error)
}

// AgentNotifier notifies the zone's commercial agents. Invoked fire-and-forget
// on transitions; failures are logged and never fail the triggering
// transition.
type AgentNotifier interface {
	NotifySubmission(ctx context.Context, r *report.Report) error
	NotifyTimeout(ctx context.Context, r *report.Report) error
}
