package domain

import "time"

// MailDomain is a hosted sending/receiving domain.
type MailDomain struct {
	Name       string `json:"name" db:"name"`
	User       string `json:"user" db:"user_id"`
	Enabled    bool   `json:"enabled" db:"enabled"`
	IsVerified bool   `json:"is_verified" db:"is_verified"`

	// NewsletterRetentionDays bounds how long sent newsletters are kept.
	NewsletterRetentionDays int `json:"newsletter_retention_days" db:"newsletter_retention_days"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DKIMKey is a signing keypair for a domain. At most one key per domain
// is enabled; rotation disables the others in the same transaction.
type DKIMKey struct {
	ID         string    `json:"id" db:"id"`
	DomainName string    `json:"domain_name" db:"domain_name"`
	Selector   string    `json:"selector" db:"selector"`
	KeySize    int       `json:"key_size" db:"key_size"`
	PrivateKey string    `json:"-" db:"private_key"`
	PublicKey  string    `json:"public_key" db:"public_key"`
	Enabled    bool      `json:"enabled" db:"enabled"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DNSRecord is one record the domain owner must publish.
type DNSRecord struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Value    string `json:"value"`
	Priority int    `json:"priority,omitempty"`
	TTL      int    `json:"ttl"`
}

// Mailbox is an addressable account on a hosted domain.
type Mailbox struct {
	Email      string `json:"email" db:"email"`
	DomainName string `json:"domain_name" db:"domain_name"`
	User       string `json:"user" db:"user_id"`

	DisplayName string `json:"display_name" db:"display_name"`
	Enabled     bool   `json:"enabled" db:"enabled"`
	Incoming    bool   `json:"incoming" db:"incoming"`
	Outgoing    bool   `json:"outgoing" db:"outgoing"`
	IsDefault   bool   `json:"is_default" db:"is_default"`

	// Per-mailbox composer overrides
	OverrideDisplayName bool   `json:"override_display_name" db:"override_display_name"`
	OverrideReplyTo     bool   `json:"override_reply_to" db:"override_reply_to"`
	ReplyTo             string `json:"reply_to" db:"reply_to"`
	TrackOutgoingMail   bool   `json:"track_outgoing_mail" db:"track_outgoing_mail"`
	CreateMailContact   bool   `json:"create_mail_contact" db:"create_mail_contact"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Active reports whether the mailbox can take part in mail flow at all.
func (m *Mailbox) Active() bool { return m.Enabled }

// MailAlias fans an address out to one or more mailboxes.
type MailAlias struct {
	Email      string   `json:"email" db:"email"`
	DomainName string   `json:"domain_name" db:"domain_name"`
	Enabled    bool     `json:"enabled" db:"enabled"`
	Mailboxes  []string `json:"mailboxes" db:"-"`
}

// MailContact is an address-book entry auto-maintained per user.
type MailContact struct {
	ID          string    `json:"id" db:"id"`
	User        string    `json:"user" db:"user_id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
