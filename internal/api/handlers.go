package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ignite/mailflow/internal/blacklist"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/compose"
	"github.com/ignite/mailflow/internal/service/directory"
	"github.com/ignite/mailflow/internal/service/mailsync"
	"github.com/ignite/mailflow/internal/spam"
)

// MailStore is the slice of the outgoing repository the handlers need.
type MailStore interface {
	Get(ctx context.Context, id string) (*domain.OutgoingMail, error)
	TrackOpen(ctx context.Context, trackingID, fromIP string) error
	StatusCounts(ctx context.Context, since time.Time) (map[domain.OutgoingStatus]int, error)
}

// Transferer hands a freshly composed mail to the broker ahead of the
// batch drain.
type Transferer interface {
	TransferNow(ctx context.Context, mailID string) error
}

// BatchEnqueuer queues newsletter submissions for the batch worker.
type BatchEnqueuer interface {
	Enqueue(ctx context.Context, actor domain.Context, sub domain.Submission) error
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	composer  *compose.Service
	sync      *mailsync.Service
	dir       *directory.Service
	store     MailStore
	transfer  Transferer
	batch     BatchEnqueuer
	blacklist *blacklist.Service
	scanner   *spam.Scanner
	mailCfg   config.MailConfig
	outCfg    config.OutgoingConfig
}

// NewHandlers creates a Handlers instance. transfer, batch, blacklist
// and scanner may each be nil; the matching endpoints then degrade.
func NewHandlers(
	composer *compose.Service,
	sync *mailsync.Service,
	dir *directory.Service,
	store MailStore,
	transfer Transferer,
	batch BatchEnqueuer,
	bl *blacklist.Service,
	scanner *spam.Scanner,
	mailCfg config.MailConfig,
	outCfg config.OutgoingConfig,
) *Handlers {
	return &Handlers{
		composer: composer, sync: sync, dir: dir, store: store,
		transfer: transfer, batch: batch,
		blacklist: bl, scanner: scanner,
		mailCfg: mailCfg, outCfg: outCfg,
	}
}

// HealthCheck reports process liveness plus a one-hour outbound status
// breakdown when the store is reachable.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok", "time": time.Now().UTC()}
	if counts, err := h.store.StatusCounts(r.Context(), time.Now().Add(-time.Hour)); err != nil {
		resp["status"] = "degraded"
		resp["error"] = "storage unreachable"
		logger.Error("health check", "error", err)
	} else {
		resp["outbound_last_hour"] = counts
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	if v, ok := compose.AsValidation(err); ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": v.Message,
			"kind":  string(v.Kind),
		})
		return
	}
	switch {
	case errors.Is(err, mailsync.ErrInvalidDateFormat):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"kind":  "invalid_date_format",
		})
	case errors.Is(err, compose.ErrNotFound),
		errors.Is(err, mailsync.ErrMailboxNotFound),
		errors.Is(err, directory.ErrDomainNotFound),
		errors.Is(err, directory.ErrMailboxNotFound),
		errors.Is(err, directory.ErrNoDKIMKey):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, mailsync.ErrNotOwner),
		errors.Is(err, directory.ErrNotOwner):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, directory.ErrDomainDisabled),
		errors.Is(err, directory.ErrDomainNotVerified),
		errors.Is(err, directory.ErrMailboxDisabled),
		errors.Is(err, directory.ErrMailboxNoOutgoing):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, compose.ErrNotPending),
		errors.Is(err, compose.ErrRetryNotAllowed):
		respondError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
