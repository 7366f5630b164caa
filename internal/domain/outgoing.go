package domain

import (
	"time"
)

// OutgoingStatus enumerates the lifecycle states of an outgoing mail.
type OutgoingStatus string

const (
	OutgoingPending       OutgoingStatus = "Pending"
	OutgoingTransferring  OutgoingStatus = "Transferring"
	OutgoingFailed        OutgoingStatus = "Failed"
	OutgoingTransferred   OutgoingStatus = "Transferred"
	OutgoingQueued        OutgoingStatus = "Queued"
	OutgoingDeferred      OutgoingStatus = "Deferred"
	OutgoingBounced       OutgoingStatus = "Bounced"
	OutgoingPartiallySent OutgoingStatus = "Partially Sent"
	OutgoingSent          OutgoingStatus = "Sent"
	OutgoingBlockedSpam   OutgoingStatus = "Blocked (Spam)"
)

// Folder enumerates the mailbox folders a mail can live in.
type Folder string

const (
	FolderDrafts Folder = "Drafts"
	FolderSent   Folder = "Sent"
	FolderInbox  Folder = "Inbox"
	FolderSpam   Folder = "Spam"
	FolderTrash  Folder = "Trash"
)

// Document states. Submitted documents are immutable except for
// delivery bookkeeping columns.
const (
	DocDraft     = 0
	DocSubmitted = 1
	DocCancelled = 2
)

// Transfer priorities. The broker queue is declared with x-max-priority 3.
const (
	PriorityNewsletter = 0
	PriorityDefault    = 1
	PriorityRootDomain = 2
	PriorityImmediate  = 3
)

// TransferPriority returns the publish priority for a batch-drained mail.
// Immediate API transfers use PriorityImmediate directly.
func TransferPriority(isNewsletter, isRootDomain bool) uint8 {
	switch {
	case isNewsletter:
		return PriorityNewsletter
	case isRootDomain:
		return PriorityRootDomain
	default:
		return PriorityDefault
	}
}

// ImmediateTransferWindow bounds how stale a submit may be and still
// qualify for an immediate priority-3 transfer.
const ImmediateTransferWindow = 5 * time.Second

// OutgoingMail represents a composed mail moving through the outbound
// pipeline. The Message column holds the final signed RFC 5322 text.
type OutgoingMail struct {
	ID         string `json:"id" db:"id"`
	DomainName string `json:"domain_name" db:"domain_name"`
	User       string `json:"user" db:"user_id"`

	Sender      string `json:"sender" db:"sender"`
	DisplayName string `json:"display_name" db:"display_name"`
	ReplyTo     string `json:"reply_to" db:"reply_to"`
	Subject     string `json:"subject" db:"subject"`
	BodyHTML    string `json:"body_html" db:"body_html"`
	BodyPlain   string `json:"body_plain" db:"body_plain"`

	InReplyToMailID   *string `json:"in_reply_to_mail_id" db:"in_reply_to_mail_id"`
	InReplyToMailType string  `json:"in_reply_to_mail_type" db:"in_reply_to_mail_type"`

	MessageID   string `json:"message_id" db:"message_id"`
	Message     string `json:"-" db:"message"`
	MessageSize int    `json:"message_size" db:"message_size"`

	Status       OutgoingStatus `json:"status" db:"status"`
	DocStatus    int            `json:"docstatus" db:"docstatus"`
	Folder       Folder         `json:"folder" db:"folder"`
	IsNewsletter bool           `json:"is_newsletter" db:"is_newsletter"`
	ViaAPI       bool           `json:"via_api" db:"via_api"`
	ErrorLog     string         `json:"error_log" db:"error_log"`

	// Delivery bookkeeping, filled by the status reconciler
	AgentID string `json:"agent_id" db:"agent_id"`
	QueueID string `json:"queue_id" db:"queue_id"`

	// Open tracking
	Track            bool       `json:"track" db:"track"`
	TrackingID       string     `json:"tracking_id" db:"tracking_id"`
	OpenCount        int        `json:"open_count" db:"open_count"`
	FirstOpenedAt    *time.Time `json:"first_opened_at" db:"first_opened_at"`
	LastOpenedAt     *time.Time `json:"last_opened_at" db:"last_opened_at"`
	LastOpenedFromIP string     `json:"last_opened_from_ip" db:"last_opened_from_ip"`

	SpamScore float64 `json:"spam_score" db:"spam_score"`

	// CreatedAt mirrors the Date header; the *_after columns are
	// second durations between consecutive pipeline stages.
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	SubmittedAt            *time.Time `json:"submitted_at" db:"submitted_at"`
	SubmittedAfter         float64    `json:"submitted_after" db:"submitted_after"`
	TransferStartedAt      *time.Time `json:"transfer_started_at" db:"transfer_started_at"`
	TransferStartedAfter   float64    `json:"transfer_started_after" db:"transfer_started_after"`
	TransferCompletedAt    *time.Time `json:"transfer_completed_at" db:"transfer_completed_at"`
	TransferCompletedAfter float64    `json:"transfer_completed_after" db:"transfer_completed_after"`

	Recipients    []MailRecipient `json:"recipients" db:"-"`
	CustomHeaders []CustomHeader  `json:"custom_headers" db:"-"`
	Attachments   []Attachment    `json:"attachments" db:"-"`
}

// RecipientEmails returns the addresses of all recipients (To, Cc, Bcc).
func (m *OutgoingMail) RecipientEmails() []string {
	out := make([]string, 0, len(m.Recipients))
	for _, r := range m.Recipients {
		out = append(out, r.Email)
	}
	return out
}

// IsTerminal returns true once delivery reporting can no longer change
// the mail's status.
func (s OutgoingStatus) IsTerminal() bool {
	return s == OutgoingSent || s == OutgoingBlockedSpam
}

// RecipientType distinguishes envelope placements.
type RecipientType string

const (
	RecipientTo  RecipientType = "To"
	RecipientCc  RecipientType = "Cc"
	RecipientBcc RecipientType = "Bcc"
)

// RecipientStatus enumerates per-recipient delivery states. The empty
// string means no delivery report has arrived yet.
type RecipientStatus string

const (
	RecipientPending  RecipientStatus = ""
	RecipientSent     RecipientStatus = "Sent"
	RecipientDeferred RecipientStatus = "Deferred"
	RecipientBounced  RecipientStatus = "Bounced"
)

// CanTransitionTo reports whether a delivery hook may move a recipient
// from s to next. Transitions only move forward: Sent and Bounced are
// terminal, Deferred may repeat (each retry updates the bookkeeping).
func (s RecipientStatus) CanTransitionTo(next RecipientStatus) bool {
	switch s {
	case RecipientPending:
		return next != RecipientPending
	case RecipientDeferred:
		return next == RecipientDeferred || next == RecipientSent || next == RecipientBounced
	default: // Sent, Bounced
		return false
	}
}

// MailRecipient is one envelope recipient of an outgoing mail.
type MailRecipient struct {
	ID          int64           `json:"id" db:"id"`
	MailID      string          `json:"mail_id" db:"mail_id"`
	Type        RecipientType   `json:"type" db:"type"`
	Email       string          `json:"email" db:"email"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Status      RecipientStatus `json:"status" db:"status"`

	// Delivery report bookkeeping
	Retries  int        `json:"retries" db:"retries"`
	ActionAt *time.Time `json:"action_at" db:"action_at"`
	// ActionAfter is seconds between transfer completion and the agent action.
	ActionAfter float64 `json:"action_after" db:"action_after"`
	Details     string  `json:"details" db:"details"`
}

// DeriveStatus computes the mail-level status from its recipient rows.
// The mail stays Queued only until the first delivery report arrives;
// from then on unreported recipients count as not-sent, so a partial
// picture already yields Partially Sent, Deferred or Bounced.
func DeriveStatus(recipients []MailRecipient) OutgoingStatus {
	if len(recipients) == 0 {
		return OutgoingQueued
	}
	sent, deferred, reported := 0, 0, 0
	for _, r := range recipients {
		switch r.Status {
		case RecipientSent:
			sent++
			reported++
		case RecipientDeferred:
			deferred++
			reported++
		case RecipientBounced:
			reported++
		}
	}
	switch {
	case reported == 0:
		return OutgoingQueued
	case sent == len(recipients):
		return OutgoingSent
	case sent > 0:
		return OutgoingPartiallySent
	case deferred == len(recipients):
		return OutgoingDeferred
	default:
		return OutgoingBounced
	}
}

// CustomHeader is a user-supplied extension header on an outgoing mail.
// Names are forced into the X- namespace; X-MF- is reserved.
type CustomHeader struct {
	Name  string `json:"name" db:"name"`
	Value string `json:"value" db:"value"`
}

// Attachment is a stored file attached to a mail. Content lives on disk;
// the row carries only the reference.
type Attachment struct {
	ID          string `json:"id" db:"id"`
	MailID      string `json:"mail_id" db:"mail_id"`
	Filename    string `json:"filename" db:"filename"`
	Path        string `json:"-" db:"path"`
	Size        int    `json:"size" db:"size"`
	ContentType string `json:"content_type" db:"content_type"`
	Inline      bool   `json:"inline" db:"inline"`
	ContentID   string `json:"content_id" db:"content_id"`
}
