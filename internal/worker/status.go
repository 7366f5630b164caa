package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/mailflow/internal/broker"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/compose"
)

// StatusRepository applies delivery reports to stored mails.
type StatusRepository interface {
	ApplyQueueOK(ctx context.Context, mailID, agentID, queueID string) error
	ApplyRecipientHook(ctx context.Context, hook *domain.DeliveryHook) error
}

// StatusWorker reconciles agent delivery reports from the status queue.
type StatusWorker struct {
	repo StatusRepository
	pool *broker.Pool

	applied int64
	dropped int64
}

// NewStatusWorker creates a status reconciliation worker.
func NewStatusWorker(repo StatusRepository, pool *broker.Pool) *StatusWorker {
	return &StatusWorker{repo: repo, pool: pool}
}

// Drain consumes the status queue until it is empty. Reports that can
// never apply (malformed, or for mails this system does not know) are
// logged and dropped so they cannot wedge the queue.
func (w *StatusWorker) Drain(ctx context.Context) (int, error) {
	processed := 0
	err := w.pool.With(ctx, func(c *broker.Client) error {
		if err := c.DeclareQueue(broker.OutgoingMailStatusQueue, 0); err != nil {
			return err
		}
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, ok, err := c.Get(broker.OutgoingMailStatusQueue)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := w.handle(ctx, d); err != nil {
				d.Nack(false, true)
				return err
			}
			d.Ack(false)
			processed++
		}
	})
	return processed, err
}

// handle applies one report. Returns an error only for transient
// failures worth requeueing.
func (w *StatusWorker) handle(ctx context.Context, d amqp.Delivery) error {
	var hook domain.DeliveryHook
	if err := json.Unmarshal(d.Body, &hook); err != nil {
		log.Printf("[Status] dropping malformed report: %v", err)
		atomic.AddInt64(&w.dropped, 1)
		return nil
	}

	var err error
	switch hook.Hook {
	case domain.HookQueueOK:
		err = w.repo.ApplyQueueOK(ctx, hook.OutgoingMail, d.AppId, hook.QueueID)
	case domain.HookDeferred, domain.HookBounce, domain.HookDelivered:
		err = w.repo.ApplyRecipientHook(ctx, &hook)
	default:
		log.Printf("[Status] dropping unknown hook %q", hook.Hook)
		atomic.AddInt64(&w.dropped, 1)
		return nil
	}

	if errors.Is(err, compose.ErrNotFound) {
		// A report for a mail this system never sent (agent shared with
		// another deployment, or the mail was purged). Nothing to retry.
		log.Printf("[Status] dropping %s report for unknown mail (id=%q queue_id=%q)",
			hook.Hook, hook.OutgoingMail, hook.QueueID)
		atomic.AddInt64(&w.dropped, 1)
		return nil
	}
	if err != nil {
		return err
	}
	atomic.AddInt64(&w.applied, 1)
	return nil
}

// Stats returns lifetime reconciliation counters.
func (w *StatusWorker) Stats() (applied, dropped int64) {
	return atomic.LoadInt64(&w.applied), atomic.LoadInt64(&w.dropped)
}
