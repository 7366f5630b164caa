package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ignite/mailflow/internal/broker"
	"github.com/ignite/mailflow/internal/domain"
)

// transfer publish retry policy: 3 attempts, 5s apart, then Failed.
const (
	transferAttempts  = 3
	transferRetryWait = 5 * time.Second
)

// TransferRepository is the slice of the outgoing repository the
// transfer worker drives.
type TransferRepository interface {
	ListPendingForTransfer(ctx context.Context, limit int) ([]domain.OutgoingMail, error)
	GetForTransfer(ctx context.Context, id string) (*domain.OutgoingMail, error)
	MarkTransferring(ctx context.Context, ids []string) error
	MarkTransferred(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errorLog string) error
}

// QueuePublisher publishes one message to a priority queue.
type QueuePublisher interface {
	PublishTo(ctx context.Context, queue string, maxPriority int, body []byte, priority uint8) error
}

// TransferWorker pushes composed mails onto the outbound queue.
type TransferWorker struct {
	repo       TransferRepository
	pub        QueuePublisher
	rootDomain string
	batchSize  int
	retryWait  time.Duration

	transferred int64
	failed      int64
}

// NewTransferWorker creates a transfer worker.
func NewTransferWorker(repo TransferRepository, pub QueuePublisher, rootDomain string, batchSize int) *TransferWorker {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &TransferWorker{
		repo: repo, pub: pub, rootDomain: rootDomain,
		batchSize: batchSize, retryWait: transferRetryWait,
	}
}

// TransferNow pushes one mail immediately at top priority. Used for
// interactive API sends inside the immediate window.
func (w *TransferWorker) TransferNow(ctx context.Context, mailID string) error {
	m, err := w.repo.GetForTransfer(ctx, mailID)
	if err != nil {
		return err
	}
	if err := w.repo.MarkTransferring(ctx, []string{m.ID}); err != nil {
		return err
	}
	return w.transfer(ctx, m, domain.PriorityImmediate)
}

// DrainPending moves every Pending mail to the outbound queue, batch by
// batch. Returns how many mails were transferred.
func (w *TransferWorker) DrainPending(ctx context.Context) (int, error) {
	total := 0
	for {
		mails, err := w.repo.ListPendingForTransfer(ctx, w.batchSize)
		if err != nil {
			return total, err
		}
		if len(mails) == 0 {
			return total, nil
		}

		ids := make([]string, len(mails))
		for i := range mails {
			ids[i] = mails[i].ID
		}
		if err := w.repo.MarkTransferring(ctx, ids); err != nil {
			return total, err
		}

		for i := range mails {
			m := &mails[i]
			priority := domain.TransferPriority(
				m.IsNewsletter, strings.EqualFold(m.DomainName, w.rootDomain))
			if err := w.transfer(ctx, m, priority); err != nil {
				log.Printf("[Transfer] mail %s failed: %v", m.ID, err)
				continue
			}
			total++
		}
		if len(mails) < w.batchSize {
			return total, nil
		}
	}
}

// transfer publishes one mail and settles its status. Publish errors are
// retried a few times before the mail is marked Failed.
func (w *TransferWorker) transfer(ctx context.Context, m *domain.OutgoingMail, priority uint8) error {
	payload, err := json.Marshal(domain.TransferPayload{
		OutgoingMail: m.ID,
		Recipients:   m.RecipientEmails(),
		Message:      m.Message,
	})
	if err != nil {
		return fmt.Errorf("encode transfer payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= transferAttempts; attempt++ {
		lastErr = w.pub.PublishTo(ctx, broker.OutgoingMailQueue, broker.MaxPriority, payload, priority)
		if lastErr == nil {
			atomic.AddInt64(&w.transferred, 1)
			return w.repo.MarkTransferred(ctx, m.ID)
		}
		if attempt < transferAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retryWait):
			}
		}
	}

	atomic.AddInt64(&w.failed, 1)
	if err := w.repo.MarkFailed(ctx, m.ID, lastErr.Error()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return lastErr
}

// Stats returns lifetime transfer counters.
func (w *TransferWorker) Stats() (transferred, failed int64) {
	return atomic.LoadInt64(&w.transferred), atomic.LoadInt64(&w.failed)
}
