package correlate

import "context"

// ShipmentStore is the persistence interface for shipment state.
// Implementations must return copies; the correlator owns all mutation.
type ShipmentStore interface {
	Get(ctx context.Context, ref string) (*Shipment, bool, error)
	Put(ctx context.Context, s *Shipment) error
}
