package incident

import "time"

// Kind classifies what condition raised an incident.
type Kind string

const (
	KindSLABreach         Kind = "SLA_BREACH"
	KindMissingMilestone  Kind = "MISSING_MILESTONE"
	KindOutOfOrder        Kind = "OUT_OF_ORDER"
	KindDuplicateConflict Kind = "DUPLICATE_CONFLICT"
	KindException         Kind = "EXCEPTION"
)

// Severity of an incident. The engine assigns medium and high; low and
// critical exist for operator tooling.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank orders severities so hints can only escalate.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusOpen means raised, awaiting an operator.
	StatusOpen Status = "OPEN"

	// StatusAcknowledged means an operator has taken ownership.
	StatusAcknowledged Status = "ACKNOWLEDGED"

	// StatusClosed means resolved; terminal.
	StatusClosed Status = "CLOSED"
)

// Incident is a durable operational exception requiring human attention.
type Incident struct {
	ID             string    `json:"incident_id"`
	ShipmentRef    string    `json:"shipment_ref"`
	PartnerID      string    `json:"partner_id"`
	Kind           Kind      `json:"kind"`
	Severity       Severity  `json:"severity"`
	Status         Status    `json:"status"`
	Detail         string    `json:"detail,omitempty"`
	TriggerCount   int       `json:"trigger_count"`
	OpenedAt       time.Time `json:"opened_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ClosedAt       time.Time `json:"closed_at,omitzero"`
	ResolutionNote string    `json:"resolution_note,omitempty"`
}

// Live reports whether the incident still counts for dedup and open-incident
// listings (OPEN or ACKNOWLEDGED).
func (i *Incident) Live() bool {
	return i.Status == StatusOpen || i.Status == StatusAcknowledged
}

// Clone returns a copy safe to hand across goroutines.
func (i *Incident) Clone() *Incident {
	cp := *i
	return &cp
}
