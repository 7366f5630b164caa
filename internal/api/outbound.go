package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/compose"
)

// Send composes and queues one outgoing mail. Mails submitted inside
// the immediate window skip the batch drain and transfer right away.
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sub.RawMessage = nil
	sub.ViaAPI = true

	h.compose(w, r, sub)
}

type sendRawRequest struct {
	Sender      string `json:"sender"`
	DisplayName string `json:"display_name"`
	RawMessage  string `json:"raw_message"`
}

// SendRaw accepts a prebuilt RFC 5322 message. The platform still
// reinjects the sender, strips Bcc and signs it.
func (h *Handlers) SendRaw(w http.ResponseWriter, r *http.Request) {
	var req sendRawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RawMessage == "" {
		respondError(w, http.StatusBadRequest, "raw_message is required")
		return
	}

	sub := domain.Submission{
		Sender:      req.Sender,
		DisplayName: req.DisplayName,
		RawMessage:  []byte(req.RawMessage),
		ViaAPI:      true,
	}
	h.compose(w, r, sub)
}

func (h *Handlers) compose(w http.ResponseWriter, r *http.Request, sub domain.Submission) {
	actor := actorFrom(r)
	m, err := h.composer.Compose(r.Context(), actor, sub)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if h.transfer != nil && compose.ShouldTransferNow(m) {
		if err := h.transfer.TransferNow(r.Context(), m.ID); err != nil {
			// The batch drain picks the mail up on its next tick.
			logger.Warn("immediate transfer failed", "mail_id", m.ID, "error", err)
		}
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         m.ID,
		"message_id": m.MessageID,
		"status":     m.Status,
	})
}

type sendBatchRequest struct {
	Mails []domain.Submission `json:"mails"`
}

// SendBatch queues newsletter submissions for the batch worker instead
// of composing inline, so large sends cannot stall the request.
func (h *Handlers) SendBatch(w http.ResponseWriter, r *http.Request) {
	if h.batch == nil {
		respondError(w, http.StatusServiceUnavailable, "batch sending is not configured")
		return
	}

	var req sendBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Mails) == 0 {
		respondError(w, http.StatusBadRequest, "mails is required")
		return
	}
	if max := h.outCfg.MaxBatchSize; max > 0 && len(req.Mails) > max {
		respondError(w, http.StatusBadRequest,
			"batch exceeds the maximum of "+strconv.Itoa(max)+" mails")
		return
	}

	actor := actorFrom(r)
	queued := 0
	for _, sub := range req.Mails {
		sub.IsNewsletter = true
		sub.ViaAPI = true
		if err := h.batch.Enqueue(r.Context(), actor, sub); err != nil {
			respondServiceError(w, err)
			return
		}
		queued++
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

// GetOutgoing returns one outgoing mail with its recipient statuses.
func (h *Handlers) GetOutgoing(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// Retry resets a Failed or Bounced mail so the next transfer drain
// picks it up again.
func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	switch m.Status {
	case domain.OutgoingFailed:
		err = h.composer.RetryFailed(r.Context(), id)
	case domain.OutgoingBounced:
		// Re-sending to addresses that already bounced risks the
		// platform's sending reputation; operators only.
		if !h.mailCfg.IsSystemManager(actorFrom(r).User) {
			respondError(w, http.StatusForbidden, "retrying a bounced mail requires a system manager")
			return
		}
		err = h.composer.RetryBounced(r.Context(), id)
	default:
		respondError(w, http.StatusConflict, "mail is not in a retryable status")
		return
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.OutgoingPending)})
}

// ReplyTemplate returns a prefilled submission replying to the given
// mail. ?type=Incoming|Outgoing selects the source, ?all=true includes
// every original recipient.
func (h *Handlers) ReplyTemplate(w http.ResponseWriter, r *http.Request) {
	mailType := r.URL.Query().Get("type")
	if mailType == "" {
		mailType = domain.MailTypeOutgoing
	}
	replyAll := r.URL.Query().Get("all") == "true"

	sub, err := h.composer.BuildReply(r.Context(), chi.URLParam(r, "id"), mailType, replyAll)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}
