package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/mailparse"
)

// BuildReply prepares a submission replying to a stored mail. replyAll
// carries the original To and Cc lists over, minus the replying mailbox.
func (s *Service) BuildReply(ctx context.Context, mailID, mailType string, replyAll bool) (*domain.Submission, error) {
	switch mailType {
	case domain.MailTypeIncoming:
		return s.replyToIncoming(ctx, mailID, replyAll)
	case domain.MailTypeOutgoing:
		return s.replyToOutgoing(ctx, mailID, replyAll)
	default:
		return nil, fmt.Errorf("unknown mail type %q", mailType)
	}
}

func (s *Service) replyToIncoming(ctx context.Context, mailID string, replyAll bool) (*domain.Submission, error) {
	in, err := s.repo.GetIncoming(ctx, mailID)
	if err != nil {
		return nil, err
	}

	to := in.Sender
	if in.ReplyTo != "" {
		to = in.ReplyTo
	}
	sub := &domain.Submission{
		Sender:            in.Receiver,
		To:                []string{to},
		Subject:           replySubject(in.Subject),
		InReplyToMailID:   mailID,
		InReplyToMailType: domain.MailTypeIncoming,
	}

	if replyAll {
		// The original To/Cc lists only exist inside the stored message.
		parsed, err := mailparse.Parse([]byte(in.Message))
		if err == nil {
			for _, a := range parsed.To {
				if !strings.EqualFold(a.Address, in.Receiver) && !strings.EqualFold(a.Address, to) {
					sub.To = append(sub.To, a.String())
				}
			}
			for _, a := range parsed.Cc {
				if !strings.EqualFold(a.Address, in.Receiver) {
					sub.Cc = append(sub.Cc, a.String())
				}
			}
		}
	}
	return sub, nil
}

func (s *Service) replyToOutgoing(ctx context.Context, mailID string, replyAll bool) (*domain.Submission, error) {
	m, err := s.repo.Get(ctx, mailID)
	if err != nil {
		return nil, err
	}

	sub := &domain.Submission{
		Sender:            m.Sender,
		Subject:           replySubject(m.Subject),
		InReplyToMailID:   mailID,
		InReplyToMailType: domain.MailTypeOutgoing,
	}
	for _, r := range m.Recipients {
		switch r.Type {
		case domain.RecipientTo:
			sub.To = append(sub.To, r.Email)
		case domain.RecipientCc:
			if replyAll {
				sub.Cc = append(sub.Cc, r.Email)
			}
		}
	}
	return sub, nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
