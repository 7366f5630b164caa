package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/directory"
)

// DirectoryRepo implements directory.Repository against PostgreSQL.
type DirectoryRepo struct{ db *sql.DB }

// NewDirectoryRepo creates a Postgres-backed directory repository.
func NewDirectoryRepo(db *sql.DB) *DirectoryRepo { return &DirectoryRepo{db: db} }

func (r *DirectoryRepo) GetDomain(ctx context.Context, name string) (*domain.MailDomain, error) {
	d := &domain.MailDomain{}
	err := r.db.QueryRowContext(ctx, `
		SELECT name, user_id, enabled, is_verified, newsletter_retention_days,
		       created_at, updated_at
		FROM mail_domains
		WHERE name = $1
	`, name).Scan(
		&d.Name, &d.User, &d.Enabled, &d.IsVerified, &d.NewsletterRetentionDays,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, directory.ErrDomainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

func (r *DirectoryRepo) EnabledDKIMKey(ctx context.Context, domainName string) (*domain.DKIMKey, error) {
	k := &domain.DKIMKey{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, domain_name, selector, key_size, private_key, public_key,
		       enabled, created_at
		FROM dkim_keys
		WHERE domain_name = $1 AND enabled
		ORDER BY created_at DESC
		LIMIT 1
	`, domainName).Scan(
		&k.ID, &k.DomainName, &k.Selector, &k.KeySize, &k.PrivateKey, &k.PublicKey,
		&k.Enabled, &k.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, directory.ErrNoDKIMKey
	}
	if err != nil {
		return nil, fmt.Errorf("get dkim key: %w", err)
	}
	return k, nil
}

func (r *DirectoryRepo) CreateDKIMKey(ctx context.Context, key *domain.DKIMKey) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dkim rotation: %w", err)
	}
	defer tx.Rollback()

	if key.Enabled {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dkim_keys SET enabled = FALSE WHERE domain_name = $1 AND enabled
		`, key.DomainName); err != nil {
			return fmt.Errorf("disable prior dkim keys: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dkim_keys
			(id, domain_name, selector, key_size, private_key, public_key, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, key.ID, key.DomainName, key.Selector, key.KeySize,
		key.PrivateKey, key.PublicKey, key.Enabled, key.CreatedAt); err != nil {
		return fmt.Errorf("insert dkim key: %w", err)
	}
	return tx.Commit()
}

const mailboxColumns = `
	email, domain_name, user_id, COALESCE(display_name,''), enabled, incoming,
	outgoing, is_default, override_display_name, override_reply_to,
	COALESCE(reply_to,''), track_outgoing_mail, create_mail_contact, created_at`

func scanMailbox(row *sql.Row) (*domain.Mailbox, error) {
	m := &domain.Mailbox{}
	err := row.Scan(
		&m.Email, &m.DomainName, &m.User, &m.DisplayName, &m.Enabled, &m.Incoming,
		&m.Outgoing, &m.IsDefault, &m.OverrideDisplayName, &m.OverrideReplyTo,
		&m.ReplyTo, &m.TrackOutgoingMail, &m.CreateMailContact, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, directory.ErrMailboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mailbox: %w", err)
	}
	return m, nil
}

func (r *DirectoryRepo) GetMailbox(ctx context.Context, email string) (*domain.Mailbox, error) {
	return scanMailbox(r.db.QueryRowContext(ctx, `
		SELECT `+mailboxColumns+` FROM mailboxes WHERE email = $1
	`, email))
}

func (r *DirectoryRepo) GetDefaultMailbox(ctx context.Context, user string) (*domain.Mailbox, error) {
	return scanMailbox(r.db.QueryRowContext(ctx, `
		SELECT `+mailboxColumns+`
		FROM mailboxes
		WHERE user_id = $1 AND is_default AND enabled
		ORDER BY created_at
		LIMIT 1
	`, user))
}

func (r *DirectoryRepo) GetPostmaster(ctx context.Context, domainName string) (*domain.Mailbox, error) {
	return scanMailbox(r.db.QueryRowContext(ctx, `
		SELECT `+mailboxColumns+`
		FROM mailboxes
		WHERE domain_name = $1 AND email = 'postmaster@' || $1
	`, domainName))
}

func (r *DirectoryRepo) GetAlias(ctx context.Context, email string) (*domain.MailAlias, error) {
	a := &domain.MailAlias{}
	err := r.db.QueryRowContext(ctx, `
		SELECT email, domain_name, enabled
		FROM mail_aliases
		WHERE email = $1
	`, email).Scan(&a.Email, &a.DomainName, &a.Enabled)
	if err == sql.ErrNoRows {
		return nil, directory.ErrNoRoute
	}
	if err != nil {
		return nil, fmt.Errorf("get alias: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT mailbox FROM mail_alias_targets WHERE alias_email = $1 ORDER BY mailbox
	`, email)
	if err != nil {
		return nil, fmt.Errorf("get alias targets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mb string
		if err := rows.Scan(&mb); err != nil {
			return nil, fmt.Errorf("scan alias target: %w", err)
		}
		a.Mailboxes = append(a.Mailboxes, mb)
	}
	return a, rows.Err()
}

func (r *DirectoryRepo) GetContact(ctx context.Context, user, email string) (*domain.MailContact, error) {
	c := &domain.MailContact{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, COALESCE(display_name,''), created_at, updated_at
		FROM mail_contacts
		WHERE user_id = $1 AND email = $2
	`, user, email).Scan(&c.ID, &c.User, &c.Email, &c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (r *DirectoryRepo) UpsertContact(ctx context.Context, c *domain.MailContact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mail_contacts (id, user_id, email, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, email)
		DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
	`, c.ID, c.User, c.Email, c.DisplayName, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// ListDomains returns every hosted domain, for retention sweeps.
func (r *DirectoryRepo) ListDomains(ctx context.Context) ([]domain.MailDomain, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, user_id, enabled, is_verified, newsletter_retention_days,
		       created_at, updated_at
		FROM mail_domains
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []domain.MailDomain
	for rows.Next() {
		var d domain.MailDomain
		if err := rows.Scan(
			&d.Name, &d.User, &d.Enabled, &d.IsVerified, &d.NewsletterRetentionDays,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
