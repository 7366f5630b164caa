package compose

import (
	"errors"
	"fmt"
)

// Sentinel errors for the compose service layer.
var (
	ErrNotFound        = errors.New("outgoing mail not found")
	ErrNotPending      = errors.New("mail is not pending transfer")
	ErrRetryNotAllowed = errors.New("mail is not in a retryable status")
)

// Kind classifies a submission validation failure so HTTP adapters can
// map it to a response without string matching.
type Kind string

const (
	KindInvalidRecipient   Kind = "invalid_recipient"
	KindDuplicateRecipient Kind = "duplicate_recipient"
	KindNoRecipients       Kind = "no_recipients"
	KindTooManyRecipients  Kind = "too_many_recipients"
	KindBadHeader          Kind = "bad_header"
	KindTooManyHeaders     Kind = "too_many_headers"
	KindMessageTooLarge    Kind = "message_too_large"
	KindTooManyAttachments Kind = "too_many_attachments"
	KindAttachmentTooLarge Kind = "attachment_too_large"
	KindAttachmentsTotal   Kind = "attachments_total_too_large"
	KindFutureDate         Kind = "future_date"
	KindBadRawMessage      Kind = "bad_raw_message"
)

// ValidationError is a rejected submission with its classification.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(kind Kind, format string, args ...interface{}) error {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsValidation unwraps err into a ValidationError, if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
