package directory

import "errors"

// Sentinel errors for the directory service layer.
var (
	ErrDomainNotFound    = errors.New("mail domain not found")
	ErrDomainDisabled    = errors.New("mail domain is disabled")
	ErrDomainNotVerified = errors.New("mail domain is not verified")
	ErrMailboxNotFound   = errors.New("mailbox not found")
	ErrMailboxDisabled   = errors.New("mailbox is disabled")
	ErrMailboxNoOutgoing = errors.New("mailbox cannot send outgoing mail")
	ErrMailboxNoIncoming = errors.New("mailbox cannot receive incoming mail")
	ErrNotOwner          = errors.New("user does not own this mailbox")
	ErrNoRoute           = errors.New("no active mailbox for address")
	ErrNoDKIMKey         = errors.New("domain has no enabled DKIM key")
)
