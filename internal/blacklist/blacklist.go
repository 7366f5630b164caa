// Package blacklist answers "is this relay address blocklisted" with a
// 24h per-group cache in front of the database. Unknown addresses are
// recorded as non-blacklisted so repeat lookups stay on the fast path.
package blacklist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/cache"
	"github.com/ignite/mailflow/internal/domain"
)

// GroupCacheTTL bounds how stale a cached group may get.
const GroupCacheTTL = 24 * time.Hour

// Repository is the data access contract for blacklist entries.
type Repository interface {
	// ListByGroup returns every entry in an IP group.
	ListByGroup(ctx context.Context, group string) ([]domain.IPBlacklist, error)
	// Create inserts a new entry.
	Create(ctx context.Context, e *domain.IPBlacklist) error
}

// Service resolves blacklist verdicts.
type Service struct {
	repo  Repository
	cache *cache.Cache
}

// NewService creates a blacklist service. cache may be nil; lookups then
// always go to the repository.
func NewService(repo Repository, c *cache.Cache) *Service {
	return &Service{repo: repo, cache: c}
}

// Lookup returns the entry for the address, creating a non-blacklisted
// one when the address has never been seen.
func (s *Service) Lookup(ctx context.Context, addr string) (*domain.IPBlacklist, error) {
	expanded, version, err := domain.ExpandIP(addr)
	if err != nil {
		return nil, err
	}
	group, _ := domain.BlacklistGroup(addr)

	entries, err := s.groupEntries(ctx, group)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].IPAddressExpanded == expanded {
			return &entries[i], nil
		}
	}

	// First sighting: record it so the verdict is cacheable
	now := time.Now().UTC()
	entry := &domain.IPBlacklist{
		ID:                uuid.Must(uuid.NewV7()).String(),
		IPAddress:         addr,
		IPAddressExpanded: expanded,
		IPVersion:         version,
		IPGroup:           group,
		IsBlacklisted:     false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("create blacklist entry: %w", err)
	}
	s.invalidate(ctx, group)
	return entry, nil
}

func (s *Service) groupEntries(ctx context.Context, group string) ([]domain.IPBlacklist, error) {
	if s.cache != nil {
		var cached []domain.IPBlacklist
		if ok, err := s.cache.Get(ctx, cache.BlacklistGroupKey(group), &cached); err == nil && ok {
			return cached, nil
		}
	}
	entries, err := s.repo.ListByGroup(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("load blacklist group %s: %w", group, err)
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, cache.BlacklistGroupKey(group), entries, GroupCacheTTL)
	}
	return entries, nil
}

func (s *Service) invalidate(ctx context.Context, group string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, cache.BlacklistGroupKey(group))
	}
}
