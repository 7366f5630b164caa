package compose

import (
	"context"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/spam"
)

// Repository defines the data access contract for outgoing mails.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create persists a mail with its recipients, headers and
	// attachment references in one transaction.
	Create(ctx context.Context, m *domain.OutgoingMail) error

	// Get returns a mail with its child rows. Returns ErrNotFound.
	Get(ctx context.Context, id string) (*domain.OutgoingMail, error)

	// MessageIDFor resolves the RFC 5322 Message-ID of a stored mail,
	// outgoing or incoming, for reply threading.
	MessageIDFor(ctx context.Context, mailType, mailID string) (string, error)

	// GetIncoming loads an incoming mail (reply building).
	GetIncoming(ctx context.Context, id string) (*domain.IncomingMail, error)

	// ResetForRetry flips a mail whose status is in from back to
	// Pending and clears the error log. Returns ErrRetryNotAllowed
	// when the current status does not match.
	ResetForRetry(ctx context.Context, id string, from []domain.OutgoingStatus) error
}

// Directory is the slice of the directory service the composer needs.
type Directory interface {
	ResolveSender(ctx context.Context, actor domain.Context, sender string, viaAPI, isNewsletter bool) (*domain.Mailbox, *domain.MailDomain, error)
	EnabledDKIMKey(ctx context.Context, domainName string) (*domain.DKIMKey, error)
	IsRootDomain(name string) bool
	SyncContact(ctx context.Context, user, email, displayName string) error
}

// Store persists attachment content.
type Store interface {
	Save(mailType, mailID, filename string, content []byte) (string, error)
}

// Scanner scores a message; nil disables the outbound gate.
type Scanner interface {
	Scan(ctx context.Context, raw []byte) (*spam.Result, error)
}
