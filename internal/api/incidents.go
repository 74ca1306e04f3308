package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/venkata-adulla/edi-control-tower/internal/incident"
)

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	f := incident.ListFilter{
		PartnerID: r.URL.Query().Get("partner"),
		Severity:  incident.Severity(r.URL.Query().Get("severity")),
	}

	incidents, err := a.query.ListOpenIncidents(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("edict.incident.id", id))

	inc, ok, err := a.query.GetIncident(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleAckIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inc, err := a.pipeline.AcknowledgeIncident(r.Context(), id)
	if err != nil {
		a.writeIncidentError(w, r, err, id, "acknowledge")
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleCloseIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Note string `json:"note"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}

	inc, err := a.pipeline.CloseIncident(r.Context(), id, req.Note)
	if err != nil {
		a.writeIncidentError(w, r, err, id, "close")
		return
	}

	writeJSON(w, http.StatusOK, inc)
}

func (a *API) writeIncidentError(w http.ResponseWriter, r *http.Request, err error, id, op string) {
	switch {
	case errors.Is(err, incident.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, incident.ErrStateConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		a.logger.Error(r.Context(), err, "incident "+op+" failed", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
