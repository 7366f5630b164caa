package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DomainDNS returns the records the domain owner must publish for the
// platform to sign and receive on their behalf.
func (h *Handlers) DomainDNS(w http.ResponseWriter, r *http.Request) {
	records, err := h.dir.DNSRecords(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}
