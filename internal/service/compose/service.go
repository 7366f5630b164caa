package compose

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/dkim"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/mailparse"
	"github.com/ignite/mailflow/internal/pkg/htmltext"
)

// futureDateSlack tolerates small clock skew on raw message Date headers.
const futureDateSlack = 5 * time.Minute

// Service implements outgoing mail composition.
type Service struct {
	repo    Repository
	dir     Directory
	store   Store
	scanner Scanner
	out     config.OutgoingConfig
	spam    config.SpamCheckConfig
}

// NewService creates a composer. scanner may be nil to disable the
// outbound spam gate.
func NewService(repo Repository, dir Directory, store Store, scanner Scanner, out config.OutgoingConfig, spamCfg config.SpamCheckConfig) *Service {
	return &Service{repo: repo, dir: dir, store: store, scanner: scanner, out: out, spam: spamCfg}
}

// Compose validates a submission, assembles and signs the message, runs
// the outbound spam gate and persists the result. The returned mail is
// Pending and ready for transfer unless the gate blocked it or the
// submission asked to stay in Drafts.
func (s *Service) Compose(ctx context.Context, actor domain.Context, sub domain.Submission) (*domain.OutgoingMail, error) {
	mb, _, err := s.dir.ResolveSender(ctx, actor, sub.Sender, sub.ViaAPI, sub.IsNewsletter)
	if err != nil {
		return nil, err
	}

	recipients, err := s.validateRecipients(sub)
	if err != nil {
		return nil, err
	}
	headers, err := s.validateHeaders(sub.CustomHeaders)
	if err != nil {
		return nil, err
	}
	if err := s.validateAttachments(sub.Attachments); err != nil {
		return nil, err
	}

	displayName := sub.DisplayName
	if mb.OverrideDisplayName || displayName == "" {
		if mb.DisplayName != "" {
			displayName = mb.DisplayName
		}
	}
	replyTo := sub.ReplyTo
	if mb.OverrideReplyTo && mb.ReplyTo != "" {
		replyTo = mb.ReplyTo
	}

	var inReplyToID *string
	var inReplyToType, inReplyToMessageID string
	if sub.InReplyToMailID != "" {
		inReplyToMessageID, err = s.repo.MessageIDFor(ctx, sub.InReplyToMailType, sub.InReplyToMailID)
		if err != nil {
			return nil, fmt.Errorf("resolve thread parent: %w", err)
		}
		id := sub.InReplyToMailID
		inReplyToID, inReplyToType = &id, sub.InReplyToMailType
	}

	mailID := uuid.Must(uuid.NewV7()).String()
	from := &mail.Address{Name: displayName, Address: mb.Email}
	now := time.Now().UTC()

	track := mb.TrackOutgoingMail && !sub.IsNewsletter && len(sub.RawMessage) == 0
	trackingID := ""
	if track {
		// Random v4, not time-ordered: the id is exposed in pixel URLs.
		trackingID = uuid.New().String()
	}

	stored, err := s.saveAttachments(mailID, sub.Attachments)
	if err != nil {
		return nil, err
	}

	var (
		raw       []byte
		messageID string
		subject   = sub.Subject
		bodyHTML  = sub.BodyHTML
		bodyPlain = sub.BodyPlain
		createdAt = now
	)
	if len(sub.RawMessage) > 0 {
		parsed, perr := mailparse.Parse(sub.RawMessage)
		if perr != nil {
			return nil, invalid(KindBadRawMessage, "unparseable raw message: %v", perr)
		}
		if !parsed.Date.IsZero() {
			if parsed.Date.After(now.Add(futureDateSlack)) {
				return nil, invalid(KindFutureDate, "message date %s is in the future", parsed.Date.Format(time.RFC3339))
			}
			createdAt = parsed.Date.UTC()
		}
		subject = parsed.Subject
		bodyHTML, bodyPlain = parsed.BodyHTML, parsed.BodyPlain
		raw, messageID, err = rewriteRawMessage(sub.RawMessage, mailID, from, replyTo, mb.DomainName)
	} else {
		bodyHTML = rewriteInlineRefs(bodyHTML, sub.Attachments)
		if bodyPlain == "" && bodyHTML != "" {
			bodyPlain = htmltext.Convert(bodyHTML)
		}
		if track && s.out.TrackingBaseURL != "" && bodyHTML != "" {
			bodyHTML = injectTrackingPixel(bodyHTML, s.pixelURL(trackingID))
		}
		raw, messageID, err = buildMessage(buildInput{
			mailID:    mailID,
			from:      from,
			to:        addressesOf(recipients, domain.RecipientTo),
			cc:        addressesOf(recipients, domain.RecipientCc),
			replyTo:   replyTo,
			subject:   subject,
			inReplyTo: inReplyToMessageID,
			date:      now,
			bodyHTML:  bodyHTML,
			bodyPlain: bodyPlain,
			headers:   headers,
			parts:     sub.Attachments,
		})
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > s.out.MaxMessageSize() {
		return nil, invalid(KindMessageTooLarge, "message is %d bytes, limit %d", len(raw), s.out.MaxMessageSize())
	}

	key, err := s.dir.EnabledDKIMKey(ctx, mb.DomainName)
	if err != nil {
		return nil, err
	}
	raw, err = dkim.Sign(raw, mb.DomainName, key.Selector, key.PrivateKey)
	if err != nil {
		return nil, err
	}

	status, spamScore, errorLog := s.outboundGate(ctx, raw)

	m := &domain.OutgoingMail{
		ID:                mailID,
		DomainName:        mb.DomainName,
		User:              mb.User,
		Sender:            mb.Email,
		DisplayName:       displayName,
		ReplyTo:           replyTo,
		Subject:           subject,
		BodyHTML:          bodyHTML,
		BodyPlain:         bodyPlain,
		InReplyToMailID:   inReplyToID,
		InReplyToMailType: inReplyToType,
		MessageID:         messageID,
		Message:           string(raw),
		MessageSize:       len(raw),
		Status:            status,
		DocStatus:         domain.DocSubmitted,
		Folder:            domain.FolderSent,
		IsNewsletter:      sub.IsNewsletter,
		ViaAPI:            sub.ViaAPI,
		ErrorLog:          errorLog,
		Track:             track,
		TrackingID:        trackingID,
		SpamScore:         spamScore,
		CreatedAt:         createdAt,
		Recipients:        recipients,
		CustomHeaders:     headers,
		Attachments:       stored,
	}
	if sub.DoNotSubmit {
		m.DocStatus = domain.DocDraft
		m.Folder = domain.FolderDrafts
	} else {
		submitted := time.Now().UTC()
		m.SubmittedAt = &submitted
		m.SubmittedAfter = submitted.Sub(createdAt).Seconds()
	}

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create outgoing mail: %w", err)
	}

	if mb.CreateMailContact && !sub.IsNewsletter {
		for _, r := range recipients {
			_ = s.dir.SyncContact(ctx, mb.User, r.Email, r.DisplayName)
		}
	}
	return m, nil
}

// ShouldTransferNow reports whether a just-composed mail qualifies for
// an immediate priority transfer instead of waiting for the batch drain.
func ShouldTransferNow(m *domain.OutgoingMail) bool {
	return m.ViaAPI && !m.IsNewsletter &&
		m.DocStatus == domain.DocSubmitted && m.Status == domain.OutgoingPending &&
		m.SubmittedAfter <= domain.ImmediateTransferWindow.Seconds()
}

// RetryFailed re-queues a mail that failed before transfer.
func (s *Service) RetryFailed(ctx context.Context, id string) error {
	return s.repo.ResetForRetry(ctx, id, []domain.OutgoingStatus{domain.OutgoingFailed})
}

// RetryBounced re-queues a mail whose every recipient bounced.
func (s *Service) RetryBounced(ctx context.Context, id string) error {
	return s.repo.ResetForRetry(ctx, id, []domain.OutgoingStatus{domain.OutgoingBounced})
}

// outboundGate scores the signed message. Scan failures let the mail
// through with the error recorded; only a confirmed excessive score
// blocks, and only when blocking is enabled.
func (s *Service) outboundGate(ctx context.Context, raw []byte) (domain.OutgoingStatus, float64, string) {
	if s.scanner == nil || !s.spam.Enabled || !s.spam.ScanOutgoing {
		return domain.OutgoingPending, 0, ""
	}
	res, err := s.scanner.Scan(ctx, raw)
	if err != nil {
		return domain.OutgoingPending, 0, fmt.Sprintf("spam scan failed: %v", err)
	}
	if res.Score > s.spam.MaxSpamScore && s.spam.BlockOutgoing {
		return domain.OutgoingBlockedSpam, res.Score,
			fmt.Sprintf("spam score %.1f exceeds limit %.1f", res.Score, s.spam.MaxSpamScore)
	}
	return domain.OutgoingPending, res.Score, ""
}

func (s *Service) pixelURL(trackingID string) string {
	return strings.TrimSuffix(s.out.TrackingBaseURL, "/") + "/track/open/" + trackingID + ".gif"
}

func (s *Service) validateRecipients(sub domain.Submission) ([]domain.MailRecipient, error) {
	groups := []struct {
		kind domain.RecipientType
		list []string
	}{
		{domain.RecipientTo, sub.To},
		{domain.RecipientCc, sub.Cc},
		{domain.RecipientBcc, sub.Bcc},
	}

	seen := map[string]bool{}
	var out []domain.MailRecipient
	for _, g := range groups {
		for _, entry := range g.list {
			addr, err := mail.ParseAddress(entry)
			if err != nil {
				return nil, invalid(KindInvalidRecipient, "invalid %s recipient %q", g.kind, entry)
			}
			email := strings.ToLower(addr.Address)
			key := string(g.kind) + "|" + email
			if seen[key] {
				return nil, invalid(KindDuplicateRecipient, "duplicate %s recipient %s", g.kind, email)
			}
			seen[key] = true
			out = append(out, domain.MailRecipient{
				Type:        g.kind,
				Email:       email,
				DisplayName: addr.Name,
			})
		}
	}
	if len(out) == 0 {
		return nil, invalid(KindNoRecipients, "at least one recipient is required")
	}
	if len(out) > s.out.MaxRecipients {
		return nil, invalid(KindTooManyRecipients, "%d recipients, limit %d", len(out), s.out.MaxRecipients)
	}
	return out, nil
}

// validateHeaders forces custom headers into the X- namespace and keeps
// the platform prefix reserved.
func (s *Service) validateHeaders(headers []domain.CustomHeader) ([]domain.CustomHeader, error) {
	if len(headers) > s.out.MaxHeaders {
		return nil, invalid(KindTooManyHeaders, "%d custom headers, limit %d", len(headers), s.out.MaxHeaders)
	}
	seen := map[string]bool{}
	out := make([]domain.CustomHeader, 0, len(headers))
	for _, h := range headers {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return nil, invalid(KindBadHeader, "empty header name")
		}
		if !strings.HasPrefix(strings.ToLower(name), "x-") {
			name = "X-" + name
		}
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(reservedHeaderPrefix)) {
			return nil, invalid(KindBadHeader, "header %s uses the reserved %s namespace", name, reservedHeaderPrefix)
		}
		lower := strings.ToLower(name)
		if seen[lower] {
			return nil, invalid(KindBadHeader, "duplicate header %s", name)
		}
		seen[lower] = true
		out = append(out, domain.CustomHeader{Name: name, Value: h.Value})
	}
	return out, nil
}

func (s *Service) validateAttachments(parts []domain.AttachmentInput) error {
	if len(parts) > s.out.MaxAttachments {
		return invalid(KindTooManyAttachments, "%d attachments, limit %d", len(parts), s.out.MaxAttachments)
	}
	total := 0
	for _, a := range parts {
		if len(a.Content) > s.out.MaxAttachmentSize() {
			return invalid(KindAttachmentTooLarge, "attachment %s is %d bytes, limit %d",
				a.Filename, len(a.Content), s.out.MaxAttachmentSize())
		}
		total += len(a.Content)
	}
	if total > s.out.TotalAttachmentsSize() {
		return invalid(KindAttachmentsTotal, "attachments total %d bytes, limit %d",
			total, s.out.TotalAttachmentsSize())
	}
	return nil
}

func (s *Service) saveAttachments(mailID string, parts []domain.AttachmentInput) ([]domain.Attachment, error) {
	out := make([]domain.Attachment, 0, len(parts))
	for _, a := range parts {
		path, err := s.store.Save(domain.MailTypeOutgoing, mailID, a.Filename, a.Content)
		if err != nil {
			return nil, fmt.Errorf("save attachment %s: %w", a.Filename, err)
		}
		out = append(out, domain.Attachment{
			ID:          uuid.Must(uuid.NewV7()).String(),
			MailID:      mailID,
			Filename:    a.Filename,
			Path:        path,
			Size:        len(a.Content),
			ContentType: a.ContentType,
			Inline:      a.Inline,
			ContentID:   a.ContentID,
		})
	}
	return out, nil
}

func addressesOf(recipients []domain.MailRecipient, kind domain.RecipientType) []*mail.Address {
	var out []*mail.Address
	for _, r := range recipients {
		if r.Type == kind {
			out = append(out, &mail.Address{Name: r.DisplayName, Address: r.Email})
		}
	}
	return out
}
