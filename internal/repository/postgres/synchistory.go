package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/domain"
)

// SyncHistoryRepo persists pull cursors. One row per
// (source, user, mailbox).
type SyncHistoryRepo struct{ db *sql.DB }

// NewSyncHistoryRepo creates a Postgres-backed sync history repository.
func NewSyncHistoryRepo(db *sql.DB) *SyncHistoryRepo { return &SyncHistoryRepo{db: db} }

// WithCursor locks the cursor row for (source, user, mailbox), creating
// it at epoch when absent, runs fn and persists the cursor fn leaves
// behind. The row lock serializes concurrent pulls of the same key.
func (r *SyncHistoryRepo) WithCursor(ctx context.Context, source, user, mailbox string, fn func(cur *domain.MailSyncHistory) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cursor: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO mail_sync_history (id, source, user_id, mailbox, last_sync_at)
		VALUES ($1, $2, $3, $4, to_timestamp(0))
		ON CONFLICT (source, user_id, mailbox) DO NOTHING
	`, uuid.Must(uuid.NewV7()).String(), source, user, mailbox); err != nil {
		return fmt.Errorf("ensure cursor row: %w", err)
	}

	h := &domain.MailSyncHistory{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, source, user_id, mailbox, last_sync_at
		FROM mail_sync_history
		WHERE source = $1 AND user_id = $2 AND mailbox = $3
		FOR UPDATE
	`, source, user, mailbox).Scan(&h.ID, &h.Source, &h.User, &h.Mailbox, &h.LastSyncAt)
	if err != nil {
		return fmt.Errorf("lock cursor: %w", err)
	}

	if err := fn(h); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE mail_sync_history SET last_sync_at = $2 WHERE id = $1
	`, h.ID, h.LastSyncAt); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return tx.Commit()
}
