package mailsync

import "errors"

var (
	ErrMailboxNotFound   = errors.New("mailbox not found")
	ErrNotOwner          = errors.New("user does not own this mailbox")
	ErrInvalidDateFormat = errors.New("last_synced_at is not a valid ISO 8601 datetime")
)
