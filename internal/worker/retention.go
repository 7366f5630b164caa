package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/mailflow/internal/config"
)

// NewsletterPruner removes sent newsletters past their domain's
// retention window.
type NewsletterPruner interface {
	DeleteExpiredNewsletters(ctx context.Context) (int64, error)
}

// RejectedPruner removes old rejected incoming mails.
type RejectedPruner interface {
	DeleteRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SpamLogPruner removes old spamd logs.
type SpamLogPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionWorker runs the daily retention sweeps.
type RetentionWorker struct {
	newsletters NewsletterPruner
	rejected    RejectedPruner
	spamLogs    SpamLogPruner
	incoming    config.IncomingConfig
	spamCfg     config.SpamCheckConfig
}

// NewRetentionWorker creates a retention worker. spamLogs may be nil.
func NewRetentionWorker(
	newsletters NewsletterPruner, rejected RejectedPruner, spamLogs SpamLogPruner,
	incoming config.IncomingConfig, spamCfg config.SpamCheckConfig,
) *RetentionWorker {
	return &RetentionWorker{
		newsletters: newsletters, rejected: rejected, spamLogs: spamLogs,
		incoming: incoming, spamCfg: spamCfg,
	}
}

// Run executes one sweep. Each delete is independent; a failure in one
// does not stop the others.
func (w *RetentionWorker) Run(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := w.newsletters.DeleteExpiredNewsletters(ctx); err != nil {
		log.Printf("[Retention] newsletter sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("[Retention] removed %d expired newsletters", n)
	}

	if days := w.incoming.RejectedMailRetentionDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		if n, err := w.rejected.DeleteRejectedBefore(ctx, cutoff); err != nil {
			log.Printf("[Retention] rejected mail sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("[Retention] removed %d rejected mails", n)
		}
	}

	if w.spamLogs != nil && w.spamCfg.LogRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -w.spamCfg.LogRetentionDays)
		if n, err := w.spamLogs.DeleteOlderThan(ctx, cutoff); err != nil {
			log.Printf("[Retention] spam log sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("[Retention] removed %d spam logs", n)
		}
	}
}
