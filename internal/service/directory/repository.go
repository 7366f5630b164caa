package directory

import (
	"context"

	"github.com/ignite/mailflow/internal/domain"
)

// Repository defines the data access contract for the directory.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetDomain returns a hosted domain. Returns ErrDomainNotFound if absent.
	GetDomain(ctx context.Context, name string) (*domain.MailDomain, error)

	// EnabledDKIMKey returns the domain's enabled signing key.
	// Returns ErrNoDKIMKey when none is enabled.
	EnabledDKIMKey(ctx context.Context, domainName string) (*domain.DKIMKey, error)

	// CreateDKIMKey inserts a key. When the key is enabled, every other
	// key of the domain is disabled in the same transaction.
	CreateDKIMKey(ctx context.Context, key *domain.DKIMKey) error

	// GetMailbox returns a mailbox by address. Returns ErrMailboxNotFound.
	GetMailbox(ctx context.Context, email string) (*domain.Mailbox, error)

	// GetDefaultMailbox returns the user's default outgoing mailbox.
	// Returns ErrMailboxNotFound when the user has none.
	GetDefaultMailbox(ctx context.Context, user string) (*domain.Mailbox, error)

	// GetPostmaster returns the postmaster mailbox of a domain.
	GetPostmaster(ctx context.Context, domainName string) (*domain.Mailbox, error)

	// GetAlias returns an alias with its target mailboxes.
	// Returns ErrNoRoute when the alias does not exist.
	GetAlias(ctx context.Context, email string) (*domain.MailAlias, error)

	// GetContact returns a user's contact for an address, or nil.
	GetContact(ctx context.Context, user, email string) (*domain.MailContact, error)

	// UpsertContact inserts or updates a contact row.
	UpsertContact(ctx context.Context, c *domain.MailContact) error
}
