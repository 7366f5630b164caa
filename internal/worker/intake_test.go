package worker

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/directory"
)

type memIntakeRepo struct {
	mu      sync.Mutex
	mails   []*domain.IncomingMail
	threads map[string][2]string // message id -> (mail id, type)
}

func (r *memIntakeRepo) Create(_ context.Context, m *domain.IncomingMail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.mails = append(r.mails, &cp)
	return nil
}

func (r *memIntakeRepo) ResolveMessageID(_ context.Context, messageID string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.threads[messageID]; ok {
		return ref[0], ref[1], nil
	}
	return "", "", nil
}

type fakeIntakeDir struct {
	routes     map[string][]domain.Mailbox
	postmaster *domain.Mailbox
	contacts   []string
}

func (d *fakeIntakeDir) RouteInbound(_ context.Context, address string) (*directory.Route, error) {
	if mbs, ok := d.routes[address]; ok {
		return &directory.Route{Mailboxes: mbs}, nil
	}
	return nil, directory.ErrNoRoute
}

func (d *fakeIntakeDir) Postmaster(_ context.Context, _ string) (*domain.Mailbox, error) {
	if d.postmaster == nil {
		return nil, directory.ErrMailboxNotFound
	}
	return d.postmaster, nil
}

func (d *fakeIntakeDir) SyncContact(_ context.Context, user, email, _ string) error {
	d.contacts = append(d.contacts, user+"/"+email)
	return nil
}

type fakeComposer struct {
	mu   sync.Mutex
	subs []domain.Submission
}

func (c *fakeComposer) Compose(_ context.Context, _ domain.Context, sub domain.Submission) (*domain.OutgoingMail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, sub)
	return &domain.OutgoingMail{ID: "bounce-1"}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []interface{}
}

func (n *fakeNotifier) Publish(_ context.Context, _ string, event interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func inboundMessage(deliveredTo string) []byte {
	return []byte(strings.Join([]string{
		"Received: from relay.example.com (relay.example.com [203.0.113.7]) by mx1.mailflow.dev; Mon, 02 Jun 2025 10:00:00 +0000",
		"Authentication-Results: mx1.mailflow.dev; spf=pass smtp.mailfrom=example.com; dkim=pass; dmarc=fail",
		"Delivered-To: " + deliveredTo,
		"From: Alice <alice@example.com>",
		"To: " + deliveredTo,
		"Subject: Hello",
		"Message-Id: <msg-1@example.com>",
		"In-Reply-To: <parent@acme.com>",
		"Date: Mon, 02 Jun 2025 09:59:58 +0000",
		"Content-Type: text/plain",
		"",
		"hi there",
	}, "\r\n") + "\r\n")
}

func newTestIntake(repo *memIntakeRepo, dir *fakeIntakeDir, composer *fakeComposer, notifier *fakeNotifier) *IntakeWorker {
	var n Notifier
	if notifier != nil {
		n = notifier
	}
	return NewIntakeWorker(repo, dir, composer, nil, nil, nil, n, nil,
		config.SpamCheckConfig{},
		config.IncomingConfig{SendNotificationOnReject: true},
		"mailflow.dev")
}

func TestIntakeAccept(t *testing.T) {
	repo := &memIntakeRepo{threads: map[string][2]string{
		"<parent@acme.com>": {"out-9", domain.MailTypeOutgoing},
	}}
	dir := &fakeIntakeDir{routes: map[string][]domain.Mailbox{
		"sales@acme.com": {{Email: "sales@acme.com", DomainName: "acme.com", User: "u1", CreateMailContact: true}},
	}}
	notifier := &fakeNotifier{}
	w := newTestIntake(repo, dir, &fakeComposer{}, notifier)

	require.NoError(t, w.Process(context.Background(), inboundMessage("sales@acme.com")))
	require.Len(t, repo.mails, 1)

	m := repo.mails[0]
	require.Equal(t, domain.IncomingAccepted, m.Status)
	require.Equal(t, "sales@acme.com", m.Receiver)
	require.Equal(t, "u1", m.User)
	require.Equal(t, domain.FolderInbox, m.Folder)
	require.Equal(t, "alice@example.com", m.Sender)
	require.Equal(t, "Alice", m.DisplayName)
	require.Equal(t, "<msg-1@example.com>", m.MessageID)

	// Relay provenance from the trusted Received header
	require.Equal(t, "203.0.113.7", m.FromIP)
	require.Equal(t, "relay.example.com", m.FromHost)
	require.NotNil(t, m.ReceivedAt)

	// Authentication-Results verdicts
	require.True(t, m.SPFPass)
	require.True(t, m.DKIMPass)
	require.False(t, m.DMARCPass)

	// Thread pointer resolved by Message-ID
	require.NotNil(t, m.InReplyToMailID)
	require.Equal(t, "out-9", *m.InReplyToMailID)
	require.Equal(t, domain.MailTypeOutgoing, m.InReplyToMailType)

	// Sync cursor fields are set
	require.NotNil(t, m.ProcessedAt)
	require.Equal(t, domain.DocSubmitted, m.DocStatus)

	// Realtime event fired, sender added to the receiver's contacts
	require.Len(t, notifier.events, 1)
	require.Equal(t, []string{"u1/alice@example.com"}, dir.contacts)
}

func TestIntakeAliasFanOutStoresOneCopyPerMailbox(t *testing.T) {
	repo := &memIntakeRepo{}
	dir := &fakeIntakeDir{routes: map[string][]domain.Mailbox{
		"team@acme.com": {
			{Email: "sales@acme.com", DomainName: "acme.com", User: "u1"},
			{Email: "ops@acme.com", DomainName: "acme.com", User: "u2"},
		},
	}}
	w := newTestIntake(repo, dir, &fakeComposer{}, nil)

	require.NoError(t, w.Process(context.Background(), inboundMessage("team@acme.com")))
	require.Len(t, repo.mails, 2)
	require.Equal(t, "sales@acme.com", repo.mails[0].Receiver)
	require.Equal(t, "ops@acme.com", repo.mails[1].Receiver)
}

func TestIntakeRejectBounces(t *testing.T) {
	repo := &memIntakeRepo{}
	dir := &fakeIntakeDir{
		routes:     map[string][]domain.Mailbox{},
		postmaster: &domain.Mailbox{Email: "postmaster@mailflow.dev", User: "admin"},
	}
	composer := &fakeComposer{}
	w := newTestIntake(repo, dir, composer, nil)

	require.NoError(t, w.Process(context.Background(), inboundMessage("gone@acme.com")))
	require.Len(t, repo.mails, 1)

	m := repo.mails[0]
	require.Equal(t, domain.IncomingRejected, m.Status)
	require.Equal(t, domain.RejectionSMTPResponse, m.RejectionMessage)
	require.Equal(t, "acme.com", m.DomainName)

	require.Len(t, composer.subs, 1)
	bounce := composer.subs[0]
	require.Equal(t, "postmaster@mailflow.dev", bounce.Sender)
	require.Equal(t, "Mail Delivery System", bounce.DisplayName)
	require.Equal(t, []string{"alice@example.com"}, bounce.To)
	require.Equal(t, "Undeliverable: Hello", bounce.Subject)
}

func TestIntakeRejectNotificationDisabled(t *testing.T) {
	repo := &memIntakeRepo{}
	dir := &fakeIntakeDir{
		routes:     map[string][]domain.Mailbox{},
		postmaster: &domain.Mailbox{Email: "postmaster@mailflow.dev", User: "admin"},
	}
	composer := &fakeComposer{}
	w := NewIntakeWorker(repo, dir, composer, nil, nil, nil, nil, nil,
		config.SpamCheckConfig{}, config.IncomingConfig{}, "mailflow.dev")

	require.NoError(t, w.Process(context.Background(), inboundMessage("gone@acme.com")))
	require.Len(t, repo.mails, 1)
	require.Equal(t, domain.IncomingRejected, repo.mails[0].Status)
	require.Empty(t, composer.subs, "rejection notices are off unless configured")
}

func TestIntakeNeverBouncesDeliverySystems(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"Delivered-To: gone@acme.com",
		"From: MAILER-DAEMON@other.net",
		"To: gone@acme.com",
		"Subject: failure notice",
		"Content-Type: text/plain",
		"",
		"bounce body",
	}, "\r\n") + "\r\n")

	repo := &memIntakeRepo{}
	dir := &fakeIntakeDir{
		routes:     map[string][]domain.Mailbox{},
		postmaster: &domain.Mailbox{Email: "postmaster@mailflow.dev", User: "admin"},
	}
	composer := &fakeComposer{}
	w := newTestIntake(repo, dir, composer, nil)

	require.NoError(t, w.Process(context.Background(), raw))
	require.Len(t, repo.mails, 1)
	require.Equal(t, domain.IncomingRejected, repo.mails[0].Status)
	require.Empty(t, composer.subs, "bounces must not answer another delivery system")
}

func TestIntakeDropsUnparseable(t *testing.T) {
	repo := &memIntakeRepo{}
	w := newTestIntake(repo, &fakeIntakeDir{}, &fakeComposer{}, nil)

	// No recipient at all: dropped without error so the queue moves on
	raw := []byte("Subject: orphan\r\nContent-Type: text/plain\r\n\r\nx\r\n")
	require.NoError(t, w.Process(context.Background(), raw))
	require.Empty(t, repo.mails)
}
