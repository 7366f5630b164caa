package mailsync

import (
	"context"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// Repository defines the data access contract for the pull API.
type Repository interface {
	// ListProcessedSince returns submitted incoming mails of a receiver
	// processed strictly after since, oldest first, capped at limit.
	ListProcessedSince(ctx context.Context, receiver string, since time.Time, limit int) ([]domain.IncomingMail, error)

	// WithCursor runs fn while holding an exclusive lock on the cursor
	// row for (source, user, mailbox), creating the row first when
	// absent. Changes fn makes to the cursor are persisted when fn
	// returns nil. Concurrent pulls of the same key serialize here.
	WithCursor(ctx context.Context, source, user, mailbox string, fn func(cur *domain.MailSyncHistory) error) error
}

// Directory is the slice of the directory service the pull API needs.
type Directory interface {
	Mailbox(ctx context.Context, email string) (*domain.Mailbox, error)
}
