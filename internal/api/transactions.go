package api

import (
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/venkata-adulla/edi-control-tower/internal/edi"
)

func (a *API) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	res, err := a.pipeline.SubmitTransaction(r.Context(), body)
	if err != nil {
		var verr *edi.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": verr.Error(),
				"field": verr.Field,
			})
			return
		}
		a.logger.Error(r.Context(), err, "transaction submit failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("edict.transaction.id", res.TransactionID),
		attribute.String("edict.shipment.ref", res.ShipmentRef),
		attribute.String("edict.submit.status", string(res.Status)),
	)

	writeJSON(w, http.StatusAccepted, res)
}
