package api

import (
	"net/http"
	"strconv"
)

// Pull returns the caller's new incoming mail since their last pull
// and advances the cursor. Message bodies are included, raw RFC 5322
// text is not; use PullRaw for that.
func (h *Handlers) Pull(w http.ResponseWriter, r *http.Request) {
	p, ok := pullParams(w, r)
	if !ok {
		return
	}
	res, err := h.sync.Pull(r.Context(), actorFrom(r), p.mailbox, p.limit, p.lastSyncedAt)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// PullRaw is Pull for raw message text.
func (h *Handlers) PullRaw(w http.ResponseWriter, r *http.Request) {
	p, ok := pullParams(w, r)
	if !ok {
		return
	}
	res, err := h.sync.PullRaw(r.Context(), actorFrom(r), p.mailbox, p.limit, p.lastSyncedAt)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type pullRequest struct {
	mailbox      string
	limit        int
	lastSyncedAt string
}

func pullParams(w http.ResponseWriter, r *http.Request) (pullRequest, bool) {
	var p pullRequest
	p.mailbox = r.URL.Query().Get("mailbox")
	if p.mailbox == "" {
		respondError(w, http.StatusBadRequest, "mailbox is required")
		return p, false
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return p, false
		}
		p.limit = n
	}
	// Validated downstream; a malformed value maps to invalid_date_format.
	p.lastSyncedAt = r.URL.Query().Get("last_synced_at")
	return p, true
}
