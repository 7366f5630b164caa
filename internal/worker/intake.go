package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/broker"
	"github.com/ignite/mailflow/internal/cache"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/mailparse"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/compose"
	"github.com/ignite/mailflow/internal/service/directory"
	"github.com/ignite/mailflow/internal/spam"
)

// IntakeRepository persists routed incoming mails.
type IntakeRepository interface {
	Create(ctx context.Context, m *domain.IncomingMail) error
	ResolveMessageID(ctx context.Context, messageID string) (mailID, mailType string, err error)
}

// IntakeDirectory is the slice of the directory service intake needs.
type IntakeDirectory interface {
	RouteInbound(ctx context.Context, address string) (*directory.Route, error)
	Postmaster(ctx context.Context, domainName string) (*domain.Mailbox, error)
	SyncContact(ctx context.Context, user, email, displayName string) error
}

// Composer sends the postmaster rejection bounces.
type Composer interface {
	Compose(ctx context.Context, actor domain.Context, sub domain.Submission) (*domain.OutgoingMail, error)
}

// SpamLogger records spamd round-trips; nil disables logging.
type SpamLogger interface {
	Create(ctx context.Context, l *domain.SpamCheckLog) error
}

// BlacklistLookup resolves relay address verdicts; nil disables the gate.
type BlacklistLookup interface {
	Lookup(ctx context.Context, addr string) (*domain.IPBlacklist, error)
}

// Notifier fans realtime events out to connected clients; nil disables.
type Notifier interface {
	Publish(ctx context.Context, channel string, event interface{}) error
}

// IntakeWorker drains the inbound queue: parse, route, gate, persist,
// and bounce what cannot be delivered.
type IntakeWorker struct {
	repo      IntakeRepository
	dir       IntakeDirectory
	composer  Composer
	scanner   *spam.Scanner
	spamLog   SpamLogger
	blacklist BlacklistLookup
	notifier  Notifier
	pool      *broker.Pool
	spamCfg   config.SpamCheckConfig
	incoming  config.IncomingConfig
	rootDom   string

	accepted int64
	rejected int64
}

// NewIntakeWorker creates an inbound intake worker. scanner, spamLog,
// blacklist and notifier may each be nil.
func NewIntakeWorker(
	repo IntakeRepository, dir IntakeDirectory, composer Composer,
	scanner *spam.Scanner, spamLog SpamLogger, blacklist BlacklistLookup,
	notifier Notifier, pool *broker.Pool,
	spamCfg config.SpamCheckConfig, incoming config.IncomingConfig, rootDomain string,
) *IntakeWorker {
	return &IntakeWorker{
		repo: repo, dir: dir, composer: composer,
		scanner: scanner, spamLog: spamLog, blacklist: blacklist,
		notifier: notifier, pool: pool,
		spamCfg: spamCfg, incoming: incoming, rootDom: rootDomain,
	}
}

// Drain consumes the inbound queue until it is empty. Unparseable
// messages are logged and dropped; per-mail processing failures requeue.
func (w *IntakeWorker) Drain(ctx context.Context) (int, error) {
	processed := 0
	err := w.pool.With(ctx, func(c *broker.Client) error {
		if err := c.DeclareQueue(broker.IncomingMailQueue, 0); err != nil {
			return err
		}
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, ok, err := c.Get(broker.IncomingMailQueue)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := w.Process(ctx, d.Body); err != nil {
				d.Nack(false, true)
				return err
			}
			d.Ack(false)
			processed++
		}
	})
	return processed, err
}

// Process handles one raw inbound message end to end.
func (w *IntakeWorker) Process(ctx context.Context, raw []byte) error {
	parsed, err := mailparse.Parse(raw)
	if err != nil {
		log.Printf("[Intake] dropping unparseable message: %v", err)
		return nil
	}

	address := strings.ToLower(strings.TrimSpace(parsed.DeliveredTo))
	if address == "" && len(parsed.To) > 0 {
		address = strings.ToLower(parsed.To[0].Address)
	}
	if address == "" {
		log.Printf("[Intake] dropping message %s without recipient", parsed.MessageID)
		return nil
	}

	route, err := w.dir.RouteInbound(ctx, address)
	switch {
	case err == nil:
		for _, mb := range route.Mailboxes {
			if err := w.accept(ctx, parsed, address, &mb); err != nil {
				return err
			}
		}
		return nil
	case errors.Is(err, directory.ErrNoRoute),
		errors.Is(err, directory.ErrDomainNotFound),
		errors.Is(err, directory.ErrDomainDisabled),
		errors.Is(err, directory.ErrMailboxNotFound):
		return w.reject(ctx, parsed, address)
	default:
		return fmt.Errorf("route %s: %w", address, err)
	}
}

// accept stores one routed copy of the mail for a target mailbox.
func (w *IntakeWorker) accept(ctx context.Context, parsed *mailparse.Message, address string, mb *domain.Mailbox) error {
	m := w.newIncoming(parsed, address)
	m.Receiver = mb.Email
	m.DomainName = mb.DomainName
	m.User = mb.User
	m.Status = domain.IncomingAccepted
	m.Folder = domain.FolderInbox

	if w.blacklist != nil && m.FromIP != "" {
		if entry, err := w.blacklist.Lookup(ctx, m.FromIP); err == nil && entry.IsBlacklisted {
			m.Status = domain.IncomingRejected
			m.RejectionMessage = fmt.Sprintf("relay %s is blacklisted: %s", m.FromIP, entry.Reason)
		}
	}

	if m.Status == domain.IncomingAccepted && w.spamCfg.Enabled && w.spamCfg.ScanIncoming && w.scanner != nil {
		if res, err := w.scanner.Scan(ctx, parsed.Raw); err != nil {
			log.Printf("[Intake] spam scan failed for %s: %v", m.MessageID, err)
		} else {
			m.SpamScore = res.Score
			m.IsSpam = res.Score > w.spamCfg.MaxSpamScore
			if m.IsSpam {
				m.Folder = domain.FolderSpam
			}
			w.logScan(ctx, m, res)
		}
	}

	if parsed.InReplyTo != "" {
		if id, mailType, err := w.repo.ResolveMessageID(ctx, parsed.InReplyTo); err == nil && id != "" {
			m.InReplyToMailID = &id
			m.InReplyToMailType = mailType
		}
	}

	if err := w.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("store incoming mail: %w", err)
	}
	atomic.AddInt64(&w.accepted, 1)

	if mb.CreateMailContact && m.Status == domain.IncomingAccepted && m.Sender != "" {
		if err := w.dir.SyncContact(ctx, mb.User, m.Sender, m.DisplayName); err != nil {
			log.Printf("[Intake] contact sync failed: %v", err)
		}
	}

	if w.notifier != nil {
		event := map[string]string{"id": m.ID, "receiver": m.Receiver}
		if err := w.notifier.Publish(ctx, cache.IncomingMailChannel, event); err != nil {
			log.Printf("[Intake] realtime notify failed: %v", err)
		}
	}
	return nil
}

// reject stores the rejection record and bounces the mail back through
// the root domain postmaster.
func (w *IntakeWorker) reject(ctx context.Context, parsed *mailparse.Message, address string) error {
	m := w.newIncoming(parsed, address)
	m.Receiver = address
	if _, d, ok := strings.Cut(address, "@"); ok {
		m.DomainName = d
	}
	m.Status = domain.IncomingRejected
	m.RejectionMessage = domain.RejectionSMTPResponse
	m.Folder = domain.FolderSpam

	if err := w.repo.Create(ctx, m); err != nil {
		return fmt.Errorf("store rejected mail: %w", err)
	}
	atomic.AddInt64(&w.rejected, 1)

	if w.incoming.SendNotificationOnReject {
		w.bounce(ctx, parsed, address)
	}
	return nil
}

// bounce sends the undeliverable notice, unless doing so would answer
// another delivery system and loop.
func (w *IntakeWorker) bounce(ctx context.Context, parsed *mailparse.Message, address string) {
	if isDeliverySystem(parsed) {
		return
	}
	pm, err := w.dir.Postmaster(ctx, w.rootDom)
	if err != nil {
		log.Printf("[Intake] no postmaster for %s, skipping bounce: %v", w.rootDom, err)
		return
	}
	sub, ok := compose.BuildRejectionNotice(pm.Email, parsed, address, domain.RejectionSMTPResponse)
	if !ok {
		return
	}
	if _, err := w.composer.Compose(ctx, domain.Context{User: pm.User}, sub); err != nil {
		log.Printf("[Intake] bounce for %s failed: %v", logger.RedactEmail(address), err)
	}
}

// newIncoming fills the fields every stored copy shares.
func (w *IntakeWorker) newIncoming(parsed *mailparse.Message, address string) *domain.IncomingMail {
	now := time.Now().UTC()
	m := &domain.IncomingMail{
		ID:          uuid.Must(uuid.NewV7()).String(),
		DeliveredTo: parsed.DeliveredTo,
		Subject:     parsed.Subject,
		BodyHTML:    parsed.BodyHTML,
		BodyPlain:   parsed.BodyPlain,
		MessageID:   parsed.MessageID,
		Message:     string(parsed.Raw),
		MessageSize: parsed.Size(),
		DocStatus:   domain.DocSubmitted,
		CreatedAt:   now,
	}
	if parsed.From != nil {
		m.Sender = strings.ToLower(parsed.From.Address)
		m.DisplayName = parsed.From.Name
	}
	if len(parsed.ReplyTo) > 0 {
		m.ReplyTo = parsed.ReplyTo[0].Address
	}
	if !parsed.Date.IsZero() {
		m.CreatedAt = parsed.Date.UTC()
	}

	relay := parsed.ReceivedStamp()
	m.FromHost = relay.FromHost
	m.FromIP = relay.FromIP
	if relay.At != nil {
		m.ReceivedAt = relay.At
		m.ReceivedAfter = relay.At.Sub(m.CreatedAt).Seconds()
	}

	auth := parsed.AuthenticationResults()
	m.SPFPass = auth.SPFPass
	m.SPFDescription = auth.SPFDescription
	m.DKIMPass = auth.DKIMPass
	m.DMARCPass = auth.DMARCPass

	processed := time.Now().UTC()
	m.ProcessedAt = &processed
	if m.ReceivedAt != nil {
		m.ProcessedAfter = processed.Sub(*m.ReceivedAt).Seconds()
	}
	return m
}

func (w *IntakeWorker) logScan(ctx context.Context, m *domain.IncomingMail, res *spam.Result) {
	if w.spamLog == nil {
		return
	}
	err := w.spamLog.Create(ctx, &domain.SpamCheckLog{
		ID:           uuid.Must(uuid.NewV7()).String(),
		SourceIP:     m.FromIP,
		SourceHost:   m.FromHost,
		MessageSize:  m.MessageSize,
		ScanningMode: domain.ScanningMode(w.spamCfg.ScanningMode),
		SpamScore:    res.Score,
		IsSpam:       m.IsSpam,
		SpamHeaders:  spamHeadersJSON(res),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[Intake] spam log failed: %v", err)
	}
}

func spamHeadersJSON(res *spam.Result) string {
	b, err := json.Marshal(res.Headers)
	if err != nil {
		return ""
	}
	return string(b)
}

// isDeliverySystem recognises bounces and auto-replies that must never
// be answered with another bounce.
func isDeliverySystem(parsed *mailparse.Message) bool {
	if parsed.From == nil {
		return true
	}
	from := strings.ToLower(parsed.From.Address)
	local, _, _ := strings.Cut(from, "@")
	switch local {
	case "mailer-daemon", "postmaster", "no-reply", "noreply":
		return true
	}
	return strings.EqualFold(parsed.From.Name, "Mail Delivery System")
}

// Stats returns lifetime intake counters.
func (w *IntakeWorker) Stats() (accepted, rejected int64) {
	return atomic.LoadInt64(&w.accepted), atomic.LoadInt64(&w.rejected)
}
