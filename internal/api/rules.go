package api

import (
	"encoding/json"
	"net/http"

	"github.com/venkata-adulla/edi-control-tower/internal/sla"
)

func (a *API) handlePutRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules []sla.Rule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	if err := a.pipeline.LoadRules(r.Context(), req.Rules); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"loaded": len(req.Rules)})
}
