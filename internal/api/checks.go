package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ignite/mailflow/internal/spam"
)

// BlacklistLookup resolves the blocklist verdict for one IP address.
func (h *Handlers) BlacklistLookup(w http.ResponseWriter, r *http.Request) {
	if h.blacklist == nil {
		respondError(w, http.StatusServiceUnavailable, "blacklist is not configured")
		return
	}
	addr := r.URL.Query().Get("ip_address")
	if addr == "" {
		respondError(w, http.StatusBadRequest, "ip_address is required")
		return
	}
	entry, err := h.blacklist.Lookup(r.Context(), addr)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

type spamScanRequest struct {
	Message string `json:"message"`
}

// SpamScan runs one message through spamd and returns the full verdict
// without storing anything.
func (h *Handlers) SpamScan(w http.ResponseWriter, r *http.Request) {
	res, ok := h.scanBody(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"score":        res.Score,
		"threshold":    res.Threshold,
		"is_spam":      res.IsSpam,
		"scanned_size": res.ScannedSize,
	})
}

// SpamIsSpam is SpamScan reduced to the boolean verdict.
func (h *Handlers) SpamIsSpam(w http.ResponseWriter, r *http.Request) {
	res, ok := h.scanBody(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"is_spam": res.IsSpam})
}

// SpamScore is SpamScan reduced to the score.
func (h *Handlers) SpamScore(w http.ResponseWriter, r *http.Request) {
	res, ok := h.scanBody(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"score": res.Score})
}

// scanBody reads the message from the request (JSON envelope or raw
// body) and runs it through spamd; on failure the response is already
// written.
func (h *Handlers) scanBody(w http.ResponseWriter, r *http.Request) (*spam.Result, bool) {
	if h.scanner == nil {
		respondError(w, http.StatusServiceUnavailable, "spam scanning is not configured")
		return nil, false
	}

	var raw []byte
	if r.Header.Get("Content-Type") == "application/json" {
		var req spamScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return nil, false
		}
		raw = []byte(req.Message)
	} else {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "unreadable body")
			return nil, false
		}
		raw = b
	}
	if len(raw) == 0 {
		respondError(w, http.StatusBadRequest, "message is required")
		return nil, false
	}

	res, err := h.scanner.Scan(r.Context(), raw)
	if err != nil {
		respondError(w, http.StatusBadGateway, "spamd unavailable")
		return nil, false
	}
	return res, true
}
