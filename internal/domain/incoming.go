package domain

import "time"

// IncomingStatus enumerates the terminal states of an incoming mail.
type IncomingStatus string

const (
	IncomingAccepted IncomingStatus = "Accepted"
	IncomingRejected IncomingStatus = "Rejected"
)

// RejectionSMTPResponse is the canned response recorded for mails whose
// recipient could not be routed to an active mailbox.
const RejectionSMTPResponse = "550 5.4.1 Recipient address rejected: Access denied."

// IncomingMail is a mail received for a hosted domain, routed to exactly
// one receiver mailbox. Alias fan-out creates one row per target mailbox.
type IncomingMail struct {
	ID         string `json:"id" db:"id"`
	DomainName string `json:"domain_name" db:"domain_name"`
	User       string `json:"user" db:"user_id"`

	// Receiver is the mailbox address the mail was routed to;
	// DeliveredTo preserves the raw Delivered-To header value.
	Receiver    string `json:"receiver" db:"receiver"`
	DeliveredTo string `json:"delivered_to" db:"delivered_to"`

	Sender      string `json:"sender" db:"sender"`
	DisplayName string `json:"display_name" db:"display_name"`
	Subject     string `json:"subject" db:"subject"`
	BodyHTML    string `json:"body_html" db:"body_html"`
	BodyPlain   string `json:"body_plain" db:"body_plain"`
	ReplyTo     string `json:"reply_to" db:"reply_to"`

	MessageID   string `json:"message_id" db:"message_id"`
	Message     string `json:"-" db:"message"`
	MessageSize int    `json:"message_size" db:"message_size"`

	// Thread pointer, resolved against stored mails by Message-ID
	InReplyToMailID   *string `json:"in_reply_to_mail_id" db:"in_reply_to_mail_id"`
	InReplyToMailType string  `json:"in_reply_to_mail_type" db:"in_reply_to_mail_type"`

	Status           IncomingStatus `json:"status" db:"status"`
	RejectionMessage string         `json:"rejection_message" db:"rejection_message"`
	Folder           Folder         `json:"folder" db:"folder"`
	DocStatus        int            `json:"docstatus" db:"docstatus"`

	IsSpam    bool    `json:"is_spam" db:"is_spam"`
	SpamScore float64 `json:"spam_score" db:"spam_score"`

	// Relay provenance from the trusted Received header
	FromIP   string `json:"from_ip" db:"from_ip"`
	FromHost string `json:"from_host" db:"from_host"`

	// Authentication-Results outcomes
	SPFPass          bool   `json:"spf_pass" db:"spf_pass"`
	SPFDescription   string `json:"spf_description" db:"spf_description"`
	DKIMPass         bool   `json:"dkim_pass" db:"dkim_pass"`
	DMARCPass        bool   `json:"dmarc_pass" db:"dmarc_pass"`

	// CreatedAt mirrors the Date header; ReceivedAt the trusted Received
	// stamp; ProcessedAt is when intake finished and is the sync cursor.
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ReceivedAt     *time.Time `json:"received_at" db:"received_at"`
	ReceivedAfter  float64    `json:"received_after" db:"received_after"`
	ProcessedAt    *time.Time `json:"processed_at" db:"processed_at"`
	ProcessedAfter float64    `json:"processed_after" db:"processed_after"`
}

// MailType tags thread pointers and attachment owners.
const (
	MailTypeOutgoing = "Outgoing"
	MailTypeIncoming = "Incoming"
)
