// Package query serves read-only views over shipments, incidents, and KPIs.
package query

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
	"github.com/venkata-adulla/edi-control-tower/internal/incident"
	"github.com/venkata-adulla/edi-control-tower/internal/kpi"
)

// Service answers read queries. It never mutates state.
type Service struct {
	shipments correlate.ShipmentStore
	incidents incident.Store
	kpis      *kpi.Aggregator
	logger    log.Logger
}

// NewService creates a query Service over the given stores.
func NewService(shipments correlate.ShipmentStore, incidents incident.Store, kpis *kpi.Aggregator, logger log.Logger) *Service {
	if shipments == nil {
		panic(xerrors.New("shipment store is required"))
	}
	if incidents == nil {
		panic(xerrors.New("incident store is required"))
	}
	if kpis == nil {
		panic(xerrors.New("kpi aggregator is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		shipments: shipments,
		incidents: incidents,
		kpis:      kpis,
		logger:    logger,
	}
}

// GetShipment returns a shipment by reference. A missing shipment is
// (nil, false, nil), not an error.
func (s *Service) GetShipment(ctx context.Context, ref string) (*correlate.Shipment, bool, error) {
	return s.shipments.Get(ctx, ref)
}

// GetIncident returns an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	return s.incidents.Get(ctx, id)
}

// ListOpenIncidents returns live incidents matching the filter, newest first.
func (s *Service) ListOpenIncidents(ctx context.Context, f incident.ListFilter) ([]*incident.Incident, error) {
	return s.incidents.ListOpen(ctx, f)
}

// PartnerKPI returns the sliding-window KPI snapshot for a partner. Unknown
// partners get an empty snapshot.
func (s *Service) PartnerKPI(_ context.Context, partnerID string) kpi.Snapshot {
	return s.kpis.Snapshot(partnerID)
}
