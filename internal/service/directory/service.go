package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/cache"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/dkim"
	"github.com/ignite/mailflow/internal/domain"
)

// Service implements directory business logic.
type Service struct {
	repo  Repository
	cache *cache.Cache
	mail  config.MailConfig
}

// NewService creates a directory service. cache may be nil.
func NewService(repo Repository, c *cache.Cache, mail config.MailConfig) *Service {
	return &Service{repo: repo, cache: c, mail: mail}
}

// GetDomain returns a hosted domain.
func (s *Service) GetDomain(ctx context.Context, name string) (*domain.MailDomain, error) {
	return s.repo.GetDomain(ctx, name)
}

// Mailbox returns a mailbox by address.
func (s *Service) Mailbox(ctx context.Context, email string) (*domain.Mailbox, error) {
	return s.repo.GetMailbox(ctx, strings.ToLower(email))
}

// IsRootDomain reports whether name is the platform root domain.
func (s *Service) IsRootDomain(name string) bool {
	return strings.EqualFold(name, s.mail.RootDomainName)
}

// ResolveSender returns the mailbox an outgoing mail will be sent from,
// enforcing ownership and sending capability. API submits from a mailbox
// the user does not own fall back to the user's default mailbox, except
// for newsletters.
func (s *Service) ResolveSender(ctx context.Context, actor domain.Context, sender string, viaAPI, isNewsletter bool) (*domain.Mailbox, *domain.MailDomain, error) {
	mb, err := s.repo.GetMailbox(ctx, strings.ToLower(sender))
	systemManager := s.mail.IsSystemManager(actor.User)

	switch {
	case err == nil && (systemManager || mb.User == actor.User):
		// sender is usable as-is
	case viaAPI && !isNewsletter:
		mb, err = s.defaultMailbox(ctx, actor.User)
		if err != nil {
			return nil, nil, err
		}
	case err != nil:
		return nil, nil, err
	default:
		return nil, nil, ErrNotOwner
	}

	if !mb.Enabled {
		return nil, nil, ErrMailboxDisabled
	}
	if !mb.Outgoing {
		return nil, nil, ErrMailboxNoOutgoing
	}

	d, err := s.repo.GetDomain(ctx, mb.DomainName)
	if err != nil {
		return nil, nil, err
	}
	// System managers may send through unverified domains (smoke tests)
	if !systemManager {
		if !d.Enabled {
			return nil, nil, ErrDomainDisabled
		}
		if !d.IsVerified {
			return nil, nil, ErrDomainNotVerified
		}
	}
	return mb, d, nil
}

func (s *Service) defaultMailbox(ctx context.Context, user string) (*domain.Mailbox, error) {
	if s.cache != nil {
		var mb domain.Mailbox
		if ok, err := s.cache.Get(ctx, cache.UserDefaultKey(user), &mb); err == nil && ok {
			return &mb, nil
		}
	}
	mb, err := s.repo.GetDefaultMailbox(ctx, user)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, cache.UserDefaultKey(user), mb, 10*time.Minute)
	}
	return mb, nil
}

// Route is the inbound classification outcome for one address.
type Route struct {
	// Mailboxes are the active delivery targets (one, or several when
	// the address is an alias).
	Mailboxes []domain.Mailbox
}

// RouteInbound classifies a recipient address: alias fan-out first,
// direct mailbox second. Disabled domains and inactive targets reject.
func (s *Service) RouteInbound(ctx context.Context, address string) (*Route, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	_, domainPart, found := strings.Cut(address, "@")
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, address)
	}

	d, err := s.repo.GetDomain(ctx, domainPart)
	if err != nil {
		return nil, err
	}
	if !d.Enabled {
		return nil, ErrDomainDisabled
	}

	if alias, err := s.repo.GetAlias(ctx, address); err == nil {
		if !alias.Enabled {
			return nil, ErrNoRoute
		}
		var targets []domain.Mailbox
		for _, email := range alias.Mailboxes {
			mb, err := s.repo.GetMailbox(ctx, email)
			if err != nil {
				continue
			}
			if mb.Enabled && mb.Incoming {
				targets = append(targets, *mb)
			}
		}
		if len(targets) == 0 {
			return nil, ErrNoRoute
		}
		return &Route{Mailboxes: targets}, nil
	} else if !errors.Is(err, ErrNoRoute) {
		return nil, err
	}

	mb, err := s.repo.GetMailbox(ctx, address)
	if err != nil {
		if errors.Is(err, ErrMailboxNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoRoute, address)
		}
		return nil, err
	}
	if !mb.Enabled || !mb.Incoming {
		return nil, ErrNoRoute
	}
	return &Route{Mailboxes: []domain.Mailbox{*mb}}, nil
}

// Postmaster returns the postmaster mailbox for a domain, cached.
func (s *Service) Postmaster(ctx context.Context, domainName string) (*domain.Mailbox, error) {
	if s.cache != nil {
		var mb domain.Mailbox
		if ok, err := s.cache.Get(ctx, cache.PostmasterKey(), &mb); err == nil && ok && mb.DomainName == domainName {
			return &mb, nil
		}
	}
	mb, err := s.repo.GetPostmaster(ctx, domainName)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, cache.PostmasterKey(), mb, 10*time.Minute)
	}
	return mb, nil
}

// EnabledDKIMKey returns the signing key for a domain.
func (s *Service) EnabledDKIMKey(ctx context.Context, domainName string) (*domain.DKIMKey, error) {
	return s.repo.EnabledDKIMKey(ctx, domainName)
}

// RotateDKIMKey generates a fresh keypair for the domain and enables it.
// The repository disables every prior key in the same transaction.
func (s *Service) RotateDKIMKey(ctx context.Context, domainName string, keySize int) (*domain.DKIMKey, error) {
	if keySize == 0 {
		keySize = s.mail.DefaultDKIMKeySize
	}
	priv, pub, err := dkim.GenerateKeyPair(keySize)
	if err != nil {
		return nil, err
	}
	key := &domain.DKIMKey{
		ID:         uuid.Must(uuid.NewV7()).String(),
		DomainName: domainName,
		Selector:   newSelector(),
		KeySize:    keySize,
		PrivateKey: priv,
		PublicKey:  pub,
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.CreateDKIMKey(ctx, key); err != nil {
		return nil, fmt.Errorf("rotate dkim key: %w", err)
	}
	return key, nil
}

func newSelector() string {
	b := make([]byte, 3)
	rand.Read(b)
	return "mf-" + time.Now().UTC().Format("200601") + "-" + hex.EncodeToString(b)
}

// DNSRecords computes the records the domain owner must publish:
// SPF include, DKIM TXT, DMARC policy and the MX pair.
func (s *Service) DNSRecords(ctx context.Context, domainName string) ([]domain.DNSRecord, error) {
	if _, err := s.repo.GetDomain(ctx, domainName); err != nil {
		return nil, err
	}
	key, err := s.repo.EnabledDKIMKey(ctx, domainName)
	if err != nil {
		return nil, err
	}

	ttl := s.mail.DefaultTTL
	root := s.mail.RootDomainName

	dmarc := "v=DMARC1; p=none;"
	if s.IsRootDomain(domainName) {
		dmarc = "v=DMARC1; p=reject;"
	}

	return []domain.DNSRecord{
		{Type: "TXT", Host: domainName,
			Value: fmt.Sprintf("v=spf1 include:%s.%s ~all", s.mail.SPFHost, root), TTL: ttl},
		{Type: "TXT", Host: key.Selector + "._domainkey." + domainName,
			Value: dkim.TXTValue(key.PublicKey), TTL: ttl},
		{Type: "TXT", Host: "_dmarc." + domainName, Value: dmarc, TTL: ttl},
		{Type: "MX", Host: domainName, Value: "mx1." + root, Priority: 10, TTL: ttl},
		{Type: "MX", Host: domainName, Value: "mx2." + root, Priority: 20, TTL: ttl},
	}, nil
}

// SyncContact upserts user's address-book entry for email, updating the
// display name when it drifted. dmarc@ report addresses are skipped.
func (s *Service) SyncContact(ctx context.Context, user, email, displayName string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.HasPrefix(email, "dmarc@") {
		return nil
	}

	existing, err := s.repo.GetContact(ctx, user, email)
	if err != nil {
		return fmt.Errorf("get contact: %w", err)
	}
	now := time.Now().UTC()
	if existing == nil {
		return s.repo.UpsertContact(ctx, &domain.MailContact{
			ID:          uuid.Must(uuid.NewV7()).String(),
			User:        user,
			Email:       email,
			DisplayName: displayName,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if displayName == "" || existing.DisplayName == displayName {
		return nil
	}
	existing.DisplayName = displayName
	existing.UpdatedAt = now
	return s.repo.UpsertContact(ctx, existing)
}
