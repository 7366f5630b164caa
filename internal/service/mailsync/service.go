package mailsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
)

// Service implements cursor-based incoming mail pulls.
type Service struct {
	repo Repository
	dir  Directory
	cfg  config.IncomingConfig
}

func NewService(repo Repository, dir Directory, cfg config.IncomingConfig) *Service {
	return &Service{repo: repo, dir: dir, cfg: cfg}
}

// Result is one pull of mail metadata plus the advanced cursor.
type Result struct {
	Mails      []domain.IncomingMail `json:"mails"`
	LastSyncAt time.Time             `json:"last_sync_at"`
}

// RawMessage pairs a mail id with its full RFC 5322 text.
type RawMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// RawResult is one pull of raw messages plus the advanced cursor.
type RawResult struct {
	Messages   []RawMessage `json:"messages"`
	LastSyncAt time.Time    `json:"last_sync_at"`
}

// Pull returns the mails of mailbox processed since the caller's last
// pull and advances the cursor. A non-empty lastSyncedAt overrides the
// stored cursor for this pull. The stored message text is omitted; use
// PullRaw for it.
func (s *Service) Pull(ctx context.Context, actor domain.Context, mailbox string, limit int, lastSyncedAt string) (*Result, error) {
	mails, cursor, err := s.pull(ctx, actor, mailbox, limit, lastSyncedAt)
	if err != nil {
		return nil, err
	}
	for i := range mails {
		mails[i].Message = ""
	}
	return &Result{Mails: mails, LastSyncAt: cursor}, nil
}

// PullRaw returns the raw messages processed since the caller's last
// pull and advances the cursor.
func (s *Service) PullRaw(ctx context.Context, actor domain.Context, mailbox string, limit int, lastSyncedAt string) (*RawResult, error) {
	mails, cursor, err := s.pull(ctx, actor, mailbox, limit, lastSyncedAt)
	if err != nil {
		return nil, err
	}
	out := make([]RawMessage, 0, len(mails))
	for _, m := range mails {
		out = append(out, RawMessage{ID: m.ID, Message: m.Message})
	}
	return &RawResult{Messages: out, LastSyncAt: cursor}, nil
}

// pullDateLayouts are the accepted last_synced_at forms.
var pullDateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"}

func parseLastSynced(v string) (time.Time, error) {
	for _, layout := range pullDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidDateFormat
}

func (s *Service) pull(ctx context.Context, actor domain.Context, mailbox string, limit int, lastSyncedAt string) ([]domain.IncomingMail, time.Time, error) {
	mailbox = strings.ToLower(strings.TrimSpace(mailbox))
	mb, err := s.dir.Mailbox(ctx, mailbox)
	if err != nil {
		return nil, time.Time{}, ErrMailboxNotFound
	}
	if mb.User != actor.User {
		return nil, time.Time{}, ErrNotOwner
	}

	var override time.Time
	if lastSyncedAt != "" {
		if override, err = parseLastSynced(lastSyncedAt); err != nil {
			return nil, time.Time{}, err
		}
	}

	if limit <= 0 || limit > s.cfg.MaxSyncViaAPI {
		limit = s.cfg.MaxSyncViaAPI
	}

	// The repository holds an exclusive lock on the cursor row across
	// list and advance, so two simultaneous pulls of the same mailbox
	// serve disjoint batches.
	var mails []domain.IncomingMail
	var cursor time.Time
	err = s.repo.WithCursor(ctx, actor.Source(), actor.User, mailbox, func(cur *domain.MailSyncHistory) error {
		since := cur.LastSyncAt
		if lastSyncedAt != "" {
			since = override
		}
		mails, err = s.repo.ListProcessedSince(ctx, mailbox, since, limit)
		if err != nil {
			return fmt.Errorf("list incoming mails: %w", err)
		}

		// Advance to the newest delivered mail so the next pull resumes
		// exactly after it; an empty pull advances to now.
		cursor = time.Now().UTC()
		if len(mails) > 0 && mails[len(mails)-1].ProcessedAt != nil {
			cursor = *mails[len(mails)-1].ProcessedAt
		}
		cur.LastSyncAt = cursor
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return mails, cursor, nil
}
