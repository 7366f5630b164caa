package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// SpamLogRepo stores spamd round-trip logs.
type SpamLogRepo struct{ db *sql.DB }

// NewSpamLogRepo creates a Postgres-backed spam log repository.
func NewSpamLogRepo(db *sql.DB) *SpamLogRepo { return &SpamLogRepo{db: db} }

func (r *SpamLogRepo) Create(ctx context.Context, l *domain.SpamCheckLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO spam_check_logs
			(id, source_ip, source_host, message_size, scanning_mode,
			 spam_score, is_spam, spam_headers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ID, l.SourceIP, l.SourceHost, l.MessageSize, l.ScanningMode,
		l.SpamScore, l.IsSpam, l.SpamHeaders, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert spam log: %w", err)
	}
	return nil
}

// DeleteOlderThan clears logs past the retention window.
func (r *SpamLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM spam_check_logs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete spam logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
