package directory_test

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

type memRepo struct {
	mu        sync.Mutex
	domains   map[string]*domain.MailDomain
	keys      map[string][]*domain.DKIMKey // by domain
	mailboxes map[string]*domain.Mailbox
	aliases   map[string]*domain.MailAlias
	contacts  map[string]*domain.MailContact // user|email
}

func newMemRepo() *memRepo {
	return &memRepo{
		domains:   map[string]*domain.MailDomain{},
		keys:      map[string][]*domain.DKIMKey{},
		mailboxes: map[string]*domain.Mailbox{},
		aliases:   map[string]*domain.MailAlias{},
		contacts:  map[string]*domain.MailContact{},
	}
}

func (m *memRepo) GetDomain(_ context.Context, name string) (*domain.MailDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[name]
	if !ok {
		return nil, directory.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) EnabledDKIMKey(_ context.Context, domainName string) (*domain.DKIMKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys[domainName] {
		if k.Enabled {
			cp := *k
			return &cp, nil
		}
	}
	return nil, directory.ErrNoDKIMKey
}

func (m *memRepo) CreateDKIMKey(_ context.Context, key *domain.DKIMKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.Enabled {
		for _, k := range m.keys[key.DomainName] {
			k.Enabled = false
		}
	}
	cp := *key
	m.keys[key.DomainName] = append(m.keys[key.DomainName], &cp)
	return nil
}

func (m *memRepo) GetMailbox(_ context.Context, email string) (*domain.Mailbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.mailboxes[email]
	if !ok {
		return nil, directory.ErrMailboxNotFound
	}
	cp := *mb
	return &cp, nil
}

func (m *memRepo) GetDefaultMailbox(_ context.Context, user string) (*domain.Mailbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mb := range m.mailboxes {
		if mb.User == user && mb.IsDefault {
			cp := *mb
			return &cp, nil
		}
	}
	return nil, directory.ErrMailboxNotFound
}

func (m *memRepo) GetPostmaster(_ context.Context, domainName string) (*domain.Mailbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, mb := range m.mailboxes {
		if mb.DomainName == domainName && strings.HasPrefix(email, "postmaster@") {
			cp := *mb
			return &cp, nil
		}
	}
	return nil, directory.ErrMailboxNotFound
}

func (m *memRepo) GetAlias(_ context.Context, email string) (*domain.MailAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.aliases[email]
	if !ok {
		return nil, directory.ErrNoRoute
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) GetContact(_ context.Context, user, email string) (*domain.MailContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[user+"|"+email]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) UpsertContact(_ context.Context, c *domain.MailContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contacts[c.User+"|"+c.Email] = &cp
	return nil
}

func testMailConfig() config.MailConfig {
	return config.MailConfig{
		RootDomainName:     "mailflow.dev",
		SPFHost:            "spf",
		DefaultDKIMKeySize: 1024,
		DefaultTTL:         300,
		Postmaster:         "postmaster",
	}
}

func seed(repo *memRepo) {
	repo.domains["acme.com"] = &domain.MailDomain{Name: "acme.com", Enabled: true, IsVerified: true}
	repo.mailboxes["sales@acme.com"] = &domain.Mailbox{
		Email: "sales@acme.com", DomainName: "acme.com", User: "u1",
		Enabled: true, Incoming: true, Outgoing: true, IsDefault: true,
	}
}

func TestResolveSenderOwned(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	svc := directory.NewService(repo, nil, testMailConfig())

	mb, d, err := svc.ResolveSender(context.Background(), domain.Context{User: "u1"}, "sales@acme.com", false, false)
	require.NoError(t, err)
	require.Equal(t, "sales@acme.com", mb.Email)
	require.Equal(t, "acme.com", d.Name)
}

func TestResolveSenderNotOwner(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	svc := directory.NewService(repo, nil, testMailConfig())

	_, _, err := svc.ResolveSender(context.Background(), domain.Context{User: "intruder"}, "sales@acme.com", false, false)
	require.ErrorIs(t, err, directory.ErrNotOwner)
}

func TestResolveSenderAPIFallsBackToDefault(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	repo.mailboxes["other@acme.com"] = &domain.Mailbox{
		Email: "other@acme.com", DomainName: "acme.com", User: "u2",
		Enabled: true, Outgoing: true,
	}
	svc := directory.NewService(repo, nil, testMailConfig())

	// u1 submits via API from u2's mailbox: falls back to u1's default
	mb, _, err := svc.ResolveSender(context.Background(), domain.Context{User: "u1"}, "other@acme.com", true, false)
	require.NoError(t, err)
	require.Equal(t, "sales@acme.com", mb.Email)

	// Newsletters do not fall back
	_, _, err = svc.ResolveSender(context.Background(), domain.Context{User: "u1"}, "other@acme.com", true, true)
	require.ErrorIs(t, err, directory.ErrNotOwner)
}

func TestResolveSenderDomainChecks(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	repo.domains["acme.com"].IsVerified = false
	svc := directory.NewService(repo, nil, testMailConfig())

	_, _, err := svc.ResolveSender(context.Background(), domain.Context{User: "u1"}, "sales@acme.com", false, false)
	require.ErrorIs(t, err, directory.ErrDomainNotVerified)

	// System managers bypass verification
	cfg := testMailConfig()
	cfg.SystemManagers = []string{"admin"}
	svc = directory.NewService(repo, nil, cfg)
	_, _, err = svc.ResolveSender(context.Background(), domain.Context{User: "admin"}, "sales@acme.com", false, false)
	require.NoError(t, err)
}

func TestRouteInboundDirect(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	svc := directory.NewService(repo, nil, testMailConfig())

	route, err := svc.RouteInbound(context.Background(), "Sales@acme.com")
	require.NoError(t, err)
	require.Len(t, route.Mailboxes, 1)
	require.Equal(t, "sales@acme.com", route.Mailboxes[0].Email)
}

func TestRouteInboundAliasFanOut(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	repo.mailboxes["ops@acme.com"] = &domain.Mailbox{
		Email: "ops@acme.com", DomainName: "acme.com", User: "u3",
		Enabled: true, Incoming: true,
	}
	repo.mailboxes["closed@acme.com"] = &domain.Mailbox{
		Email: "closed@acme.com", DomainName: "acme.com", User: "u4",
		Enabled: false, Incoming: true,
	}
	repo.aliases["team@acme.com"] = &domain.MailAlias{
		Email: "team@acme.com", DomainName: "acme.com", Enabled: true,
		Mailboxes: []string{"sales@acme.com", "ops@acme.com", "closed@acme.com"},
	}
	svc := directory.NewService(repo, nil, testMailConfig())

	route, err := svc.RouteInbound(context.Background(), "team@acme.com")
	require.NoError(t, err)
	require.Len(t, route.Mailboxes, 2, "disabled target must be dropped from fan-out")
}

func TestRouteInboundAliasWinsOverMailbox(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	repo.mailboxes["ops@acme.com"] = &domain.Mailbox{
		Email: "ops@acme.com", DomainName: "acme.com", User: "u3",
		Enabled: true, Incoming: true,
	}
	// The address exists as both a mailbox and an alias: the alias
	// fan-out is the delivery target.
	repo.aliases["sales@acme.com"] = &domain.MailAlias{
		Email: "sales@acme.com", DomainName: "acme.com", Enabled: true,
		Mailboxes: []string{"sales@acme.com", "ops@acme.com"},
	}
	svc := directory.NewService(repo, nil, testMailConfig())

	route, err := svc.RouteInbound(context.Background(), "sales@acme.com")
	require.NoError(t, err)
	require.Len(t, route.Mailboxes, 2)
}

func TestRouteInboundRejections(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	svc := directory.NewService(repo, nil, testMailConfig())

	_, err := svc.RouteInbound(context.Background(), "nobody@acme.com")
	require.ErrorIs(t, err, directory.ErrNoRoute)

	_, err = svc.RouteInbound(context.Background(), "x@unknown.com")
	require.ErrorIs(t, err, directory.ErrDomainNotFound)

	repo.domains["acme.com"].Enabled = false
	_, err = svc.RouteInbound(context.Background(), "sales@acme.com")
	require.ErrorIs(t, err, directory.ErrDomainDisabled)
}

func TestRotateDKIMKeyDisablesPrior(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	svc := directory.NewService(repo, nil, testMailConfig())
	ctx := context.Background()

	k1, err := svc.RotateDKIMKey(ctx, "acme.com", 0)
	require.NoError(t, err)
	require.True(t, k1.Enabled)
	require.Equal(t, 1024, k1.KeySize)

	k2, err := svc.RotateDKIMKey(ctx, "acme.com", 0)
	require.NoError(t, err)
	require.NotEqual(t, k1.Selector, k2.Selector)

	active, err := svc.EnabledDKIMKey(ctx, "acme.com")
	require.NoError(t, err)
	require.Equal(t, k2.ID, active.ID)
}

func TestDNSRecords(t *testing.T) {
	repo := newMemRepo()
	seed(repo)
	svc := directory.NewService(repo, nil, testMailConfig())
	ctx := context.Background()

	key, err := svc.RotateDKIMKey(ctx, "acme.com", 0)
	require.NoError(t, err)

	records, err := svc.DNSRecords(ctx, "acme.com")
	require.NoError(t, err)
	require.Len(t, records, 5)

	byHost := map[string]domain.DNSRecord{}
	for _, r := range records {
		byHost[r.Type+" "+r.Host] = r
	}
	require.Equal(t, "v=spf1 include:spf.mailflow.dev ~all", byHost["TXT acme.com"].Value)
	require.Contains(t, byHost["TXT "+key.Selector+"._domainkey.acme.com"].Value, "v=DKIM1")
	require.Equal(t, "v=DMARC1; p=none;", byHost["TXT _dmarc.acme.com"].Value)
	require.Equal(t, "mx2.mailflow.dev", byHost["MX acme.com"].Value)
}

func TestSyncContact(t *testing.T) {
	repo := newMemRepo()
	svc := directory.NewService(repo, nil, testMailConfig())
	ctx := context.Background()

	require.NoError(t, svc.SyncContact(ctx, "u1", "Friend@Example.com", "Friend"))
	c, err := repo.GetContact(ctx, "u1", "friend@example.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	require.Equal(t, "Friend", c.DisplayName)

	// Display-name drift updates the row
	require.NoError(t, svc.SyncContact(ctx, "u1", "friend@example.com", "Friend Renamed"))
	c, _ = repo.GetContact(ctx, "u1", "friend@example.com")
	require.Equal(t, "Friend Renamed", c.DisplayName)

	// dmarc@ reports never become contacts
	require.NoError(t, svc.SyncContact(ctx, "u1", "dmarc@reports.net", "DMARC"))
	c, _ = repo.GetContact(ctx, "u1", "dmarc@reports.net")
	require.Nil(t, c)
}
