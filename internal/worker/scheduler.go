package worker

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ignite/mailflow/internal/pkg/distlock"
)

// jobTimeout bounds one scheduled run; the lock TTL matches so a
// crashed host frees the job for the others.
const jobTimeout = 10 * time.Minute

// Scheduler runs the recurring jobs on cron schedules, each guarded by
// a cross-host lock so multiple workers never double-run one.
type Scheduler struct {
	cron *cron.Cron
	rdb  *redis.Client
	db   *sql.DB
}

// NewScheduler creates a scheduler. rdb may be nil; locking then falls
// back to Postgres advisory locks on db.
func NewScheduler(rdb *redis.Client, db *sql.DB) *Scheduler {
	return &Scheduler{cron: cron.New(), rdb: rdb, db: db}
}

// AddJob registers fn on a cron spec under a distributed lock.
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		lock := distlock.NewLock(s.rdb, s.db, "job:"+name, jobTimeout)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			log.Printf("[Scheduler] %s: lock error: %v", name, err)
			return
		}
		if !ok {
			return // another host holds it
		}
		defer lock.Release(ctx)

		start := time.Now()
		fn(ctx)
		log.Printf("[Scheduler] %s completed in %s", name, time.Since(start).Round(time.Millisecond))
	})
	return err
}

// Start begins scheduling. Non-blocking.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and returns a context that is done when the
// running jobs have finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// RegisterJobs wires the standard background jobs onto the scheduler.
func RegisterJobs(
	s *Scheduler,
	transfer *TransferWorker,
	status *StatusWorker,
	intake *IntakeWorker,
	newsletter *NewsletterWorker,
	retention *RetentionWorker,
) error {
	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context)
	}{
		{"transfer_pending", "* * * * *", func(ctx context.Context) {
			if n, err := transfer.DrainPending(ctx); err != nil {
				log.Printf("[Transfer] drain failed after %d mails: %v", n, err)
			}
		}},
		{"intake_incoming", "* * * * *", func(ctx context.Context) {
			if n, err := intake.Drain(ctx); err != nil {
				log.Printf("[Intake] drain failed after %d mails: %v", n, err)
			}
		}},
		{"reconcile_status", "*/2 * * * *", func(ctx context.Context) {
			if n, err := status.Drain(ctx); err != nil {
				log.Printf("[Status] drain failed after %d reports: %v", n, err)
			}
		}},
		{"newsletter_batch", "*/2 * * * *", func(ctx context.Context) {
			if n, err := newsletter.Drain(ctx); err != nil {
				log.Printf("[Newsletter] drain failed after %d jobs: %v", n, err)
			}
		}},
		{"retention_sweep", "0 2 * * *", retention.Run},
	}
	for _, j := range jobs {
		if err := s.AddJob(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}
