package correlate

import (
	"time"

	"github.com/venkata-adulla/edi-control-tower/internal/edi"
)

// State tracks where a shipment is in its lifecycle.
type State string

const (
	StateCreated   State = "CREATED"
	StatePickedUp  State = "PICKED_UP"
	StateInTransit State = "IN_TRANSIT"
	StateDelivered State = "DELIVERED"
	StateClosed    State = "CLOSED"

	// StateException is a parallel terminal state reachable from any
	// non-terminal state.
	StateException State = "EXCEPTION"
)

// DefaultRoute is the total default milestone ordering. Partner-specific
// routes may override it via Correlator.SetRoute.
var DefaultRoute = Route{
	StateCreated, StatePickedUp, StateInTransit, StateDelivered, StateClosed,
}

// Route is an ordered sequence of forward milestone states for a partner.
type Route []State

// indexOf returns the position of s in the route, or -1.
func (r Route) indexOf(s State) int {
	for i, st := range r {
		if st == s {
			return i
		}
	}
	return -1
}

// next returns the successor of s, or "" at the end of the route.
func (r Route) next(s State) State {
	i := r.indexOf(s)
	if i < 0 || i+1 >= len(r) {
		return ""
	}
	return r[i+1]
}

// targetState maps a transaction type to the state it drives toward.
func targetState(t edi.TxType) State {
	switch t {
	case edi.TxPickup:
		return StatePickedUp
	case edi.TxInTransit:
		return StateInTransit
	case edi.TxDelivered:
		return StateDelivered
	case edi.TxClosed:
		return StateClosed
	case edi.TxException:
		return StateException
	}
	return ""
}

// Milestone records one applied transition.
type Milestone struct {
	State         State     `json:"state"`
	TransactionID string    `json:"transaction_id"`
	DocType       string    `json:"doc_type,omitempty"`
	At            time.Time `json:"at"`
}

// Shipment is the per-ref state machine instance. Mutated exclusively by
// the Correlator under the per-shipment lock.
type Shipment struct {
	Ref               string              `json:"shipment_ref"`
	PartnerID         string              `json:"partner_id"`
	State             State               `json:"state"`
	Milestones        []Milestone         `json:"milestones,omitempty"`
	LastTransactionID string              `json:"last_transaction_id,omitempty"`
	Applied           map[string]struct{} `json:"-"`
	OpenIncidentIDs   []string            `json:"open_incident_ids,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Terminal reports whether the shipment accepts no further transitions.
func (s *Shipment) Terminal() bool {
	return s.State == StateClosed || s.State == StateException
}

// MilestoneAt returns the recorded milestone for a state, if any.
func (s *Shipment) MilestoneAt(st State) (Milestone, bool) {
	for _, m := range s.Milestones {
		if m.State == st {
			return m, true
		}
	}
	return Milestone{}, false
}

// Clone returns a deep copy safe to hand out of the correlator.
func (s *Shipment) Clone() *Shipment {
	cp := *s
	cp.Milestones = append([]Milestone(nil), s.Milestones...)
	cp.OpenIncidentIDs = append([]string(nil), s.OpenIncidentIDs...)
	if s.Applied != nil {
		cp.Applied = make(map[string]struct{}, len(s.Applied))
		for id := range s.Applied {
			cp.Applied[id] = struct{}{}
		}
	}
	return &cp
}

// AnomalyKind classifies sequencing anomalies the correlator emits.
type AnomalyKind string

const (
	AnomalyOutOfOrder        AnomalyKind = "OUT_OF_ORDER"
	AnomalyMissingMilestone  AnomalyKind = "MISSING_MILESTONE"
	AnomalyDuplicateConflict AnomalyKind = "DUPLICATE_CONFLICT"
)

// Anomaly describes a sequencing problem on a single shipment. Recoverable:
// it is recorded and may become an incident, but never stops correlation.
type Anomaly struct {
	Kind          AnomalyKind `json:"kind"`
	PartnerID     string      `json:"partner_id"`
	ShipmentRef   string      `json:"shipment_ref"`
	TransactionID string      `json:"transaction_id"`
	Detail        string      `json:"detail"`
	At            time.Time   `json:"at"`
}

// TransitionEvent is emitted for every accepted transition, while the
// per-shipment lock is still held.
type TransitionEvent struct {
	PartnerID     string
	ShipmentRef   string
	From          State
	To            State
	Next          State // successor on the route, "" at route end or on exception
	TransactionID string
	At            time.Time
	Terminal      bool
	Exception     bool

	// Transit is pickup-to-delivered duration, set only when To is DELIVERED
	// and a pickup milestone exists.
	Transit time.Duration
}

// Decision is the outcome of applying one transaction.
type Decision string

const (
	DecisionAccepted  Decision = "accepted"
	DecisionDuplicate Decision = "duplicate"
	DecisionAnomaly   Decision = "anomaly"
)

// ApplyResult reports what the correlator did with a transaction.
type ApplyResult struct {
	Decision Decision
	Anomaly  *Anomaly // set when Decision is DecisionAnomaly
	Shipment *Shipment
}
