package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (a *API) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("edict.shipment.ref", ref))

	s, ok, err := a.query.GetShipment(r.Context(), ref)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get shipment", "ref", ref)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("edict.shipment.state", string(s.State)))

	writeJSON(w, http.StatusOK, s)
}

func (a *API) handlePartnerKPI(w http.ResponseWriter, r *http.Request) {
	partnerID := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("edict.partner.id", partnerID))

	writeJSON(w, http.StatusOK, a.query.PartnerKPI(r.Context(), partnerID))
}
