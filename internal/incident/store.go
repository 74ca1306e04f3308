package incident

import "context"

// ListFilter narrows open-incident listings. Zero values match everything.
type ListFilter struct {
	PartnerID string
	Severity  Severity
}

// Store is the persistence interface for incidents.
type Store interface {
	Get(ctx context.Context, id string) (*Incident, bool, error)
	// GetLive returns the OPEN or ACKNOWLEDGED incident for a
	// (shipmentRef, kind) pair, for deduplication.
	GetLive(ctx context.Context, shipmentRef string, kind Kind) (*Incident, bool, error)
	Put(ctx context.Context, inc *Incident) error
	ListOpen(ctx context.Context, f ListFilter) ([]*Incident, error)
}
