package compose

import (
	"fmt"
	"html"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/mailparse"
)

// bounceDisplayName labels rejection notices in the recipient's client.
const bounceDisplayName = "Mail Delivery System"

// BuildRejectionNotice prepares the postmaster bounce sent back to the
// external sender of an unroutable mail. The notice goes out through the
// normal compose pipeline. Returns false when the original has no
// usable return address.
func BuildRejectionNotice(postmaster string, original *mailparse.Message, rejectedAddress, reason string) (domain.Submission, bool) {
	var to string
	switch {
	case len(original.ReplyTo) > 0:
		to = original.ReplyTo[0].Address
	case original.From != nil:
		to = original.From.Address
	default:
		return domain.Submission{}, false
	}

	body := fmt.Sprintf(
		"<p>Your message to %s could not be delivered.</p>"+
			"<p>Reason: %s</p>"+
			"<p>Subject: %s<br>Message-ID: %s</p>",
		html.EscapeString(rejectedAddress),
		html.EscapeString(reason),
		html.EscapeString(original.Subject),
		html.EscapeString(original.MessageID),
	)

	return domain.Submission{
		Sender:      postmaster,
		DisplayName: bounceDisplayName,
		To:          []string{to},
		Subject:     "Undeliverable: " + original.Subject,
		BodyHTML:    body,
	}, true
}
