package domain

import "time"

// MailSyncHistory is a resumable pull cursor, keyed by
// (source, user, mailbox). Source identifies the calling site or IP.
type MailSyncHistory struct {
	ID         string    `json:"id" db:"id"`
	Source     string    `json:"source" db:"source"`
	User       string    `json:"user" db:"user_id"`
	Mailbox    string    `json:"mailbox" db:"mailbox"`
	LastSyncAt time.Time `json:"last_sync_at" db:"last_sync_at"`
}
