package domain

import "time"

// ScanningMode selects how attachments are handled during a spam scan.
type ScanningMode string

const (
	// ScanExcludeAttachments strips attachment parts before scanning.
	ScanExcludeAttachments ScanningMode = "exclude_attachments"
	// ScanIncludeAttachments scans the full message as-is.
	ScanIncludeAttachments ScanningMode = "include_attachments"
	// ScanHybrid scans without attachments first and rescans the full
	// message only when the first pass is already at the threshold.
	ScanHybrid ScanningMode = "hybrid"
)

// SpamCheckLog records one spamd round-trip.
type SpamCheckLog struct {
	ID           string       `json:"id" db:"id"`
	SourceIP     string       `json:"source_ip" db:"source_ip"`
	SourceHost   string       `json:"source_host" db:"source_host"`
	MessageSize  int          `json:"message_size" db:"message_size"`
	ScanningMode ScanningMode `json:"scanning_mode" db:"scanning_mode"`
	SpamScore    float64      `json:"spam_score" db:"spam_score"`
	IsSpam       bool         `json:"is_spam" db:"is_spam"`
	// SpamHeaders holds the X-Spam-* headers from the scanned result, as JSON.
	SpamHeaders string    `json:"spam_headers" db:"spam_headers"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
