package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"

	"github.com/ignite/mailflow/internal/broker"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/compose"
)

// NewsletterJob is one queued newsletter submission. Batch API sends
// land here instead of composing inline, so a 10k-recipient campaign
// cannot stall interactive traffic.
type NewsletterJob struct {
	Actor      domain.Context    `json:"actor"`
	Submission domain.Submission `json:"submission"`
}

// NewsletterWorker drains the newsletter queue and composes the queued
// submissions at batch pace.
type NewsletterWorker struct {
	composer Composer
	pool     *broker.Pool
	maxBatch int

	composed int64
	dropped  int64
}

// NewNewsletterWorker creates a newsletter batch worker.
func NewNewsletterWorker(composer Composer, pool *broker.Pool, maxBatch int) *NewsletterWorker {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &NewsletterWorker{composer: composer, pool: pool, maxBatch: maxBatch}
}

// Enqueue publishes one newsletter submission for a later Drain.
func (w *NewsletterWorker) Enqueue(ctx context.Context, actor domain.Context, sub domain.Submission) error {
	body, err := json.Marshal(NewsletterJob{Actor: actor, Submission: sub})
	if err != nil {
		return err
	}
	return w.pool.With(ctx, func(c *broker.Client) error {
		if err := c.DeclareQueue(broker.NewsletterQueue, 0); err != nil {
			return err
		}
		return c.Publish(ctx, broker.NewsletterQueue, body, 0)
	})
}

// Drain consumes up to maxBatch jobs. Submissions the composer rejects
// outright are dropped with a log line; infrastructure errors requeue.
func (w *NewsletterWorker) Drain(ctx context.Context) (int, error) {
	processed := 0
	err := w.pool.With(ctx, func(c *broker.Client) error {
		if err := c.DeclareQueue(broker.NewsletterQueue, 0); err != nil {
			return err
		}
		for processed < w.maxBatch {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, ok, err := c.Get(broker.NewsletterQueue)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			var job NewsletterJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				log.Printf("[Newsletter] dropping malformed job: %v", err)
				atomic.AddInt64(&w.dropped, 1)
				d.Ack(false)
				continue
			}
			job.Submission.IsNewsletter = true
			job.Submission.ViaAPI = true

			if _, err := w.composer.Compose(ctx, job.Actor, job.Submission); err != nil {
				if _, ok := compose.AsValidation(err); ok {
					log.Printf("[Newsletter] dropping invalid submission from %s: %v",
						logger.RedactEmail(job.Submission.Sender), err)
					atomic.AddInt64(&w.dropped, 1)
					d.Ack(false)
					continue
				}
				d.Nack(false, true)
				return err
			}
			atomic.AddInt64(&w.composed, 1)
			d.Ack(false)
			processed++
		}
		return nil
	})
	return processed, err
}

// Stats returns lifetime newsletter counters.
func (w *NewsletterWorker) Stats() (composed, dropped int64) {
	return atomic.LoadInt64(&w.composed), atomic.LoadInt64(&w.dropped)
}
