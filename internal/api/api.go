// Package api exposes the control tower over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
	"github.com/venkata-adulla/edi-control-tower/internal/engine"
	"github.com/venkata-adulla/edi-control-tower/internal/incident"
	"github.com/venkata-adulla/edi-control-tower/internal/kpi"
	"github.com/venkata-adulla/edi-control-tower/internal/sla"
)

// PipelineService defines the write operations the API needs.
type PipelineService interface {
	SubmitTransaction(ctx context.Context, raw []byte) (*engine.Result, error)
	LoadRules(ctx context.Context, rules []sla.Rule) error
	AcknowledgeIncident(ctx context.Context, id string) (*incident.Incident, error)
	CloseIncident(ctx context.Context, id, note string) (*incident.Incident, error)
}

// QueryService defines the read operations the API needs.
type QueryService interface {
	GetShipment(ctx context.Context, ref string) (*correlate.Shipment, bool, error)
	GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error)
	ListOpenIncidents(ctx context.Context, f incident.ListFilter) ([]*incident.Incident, error)
	PartnerKPI(ctx context.Context, partnerID string) kpi.Snapshot
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	pipeline PipelineService
	query    QueryService

	// operatorAuth guards mutating operator routes; nil means no auth.
	operatorAuth func(http.Handler) http.Handler
}

// New creates a new API handler. operatorAuth may be nil.
func New(logger log.Logger, pipeline PipelineService, query QueryService, operatorAuth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if pipeline == nil {
		panic(xerrors.New("pipeline service is required"))
	}
	if query == nil {
		panic(xerrors.New("query service is required"))
	}
	return &API{
		logger:       logger,
		pipeline:     pipeline,
		query:        query,
		operatorAuth: operatorAuth,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transactions", a.handleSubmitTransaction)
		r.Get("/shipments/{ref}", a.handleGetShipment)
		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Get("/partners/{id}/kpi", a.handlePartnerKPI)

		r.Group(func(r chi.Router) {
			if a.operatorAuth != nil {
				r.Use(a.operatorAuth)
			}
			r.Post("/incidents/{id}/ack", a.handleAckIncident)
			r.Post("/incidents/{id}/close", a.handleCloseIncident)
			r.Put("/sla-rules", a.handlePutRules)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
