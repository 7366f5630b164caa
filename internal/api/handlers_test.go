package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/compose"
	"github.com/ignite/mailflow/internal/service/mailsync"
)

// ---- fakes ----

type fakeMailStore struct {
	mails  map[string]*domain.OutgoingMail
	tracks []string
}

func (s *fakeMailStore) Get(_ context.Context, id string) (*domain.OutgoingMail, error) {
	if m, ok := s.mails[id]; ok {
		return m, nil
	}
	return nil, compose.ErrNotFound
}

func (s *fakeMailStore) TrackOpen(_ context.Context, trackingID, _ string) error {
	if trackingID != "tracked-1" {
		return compose.ErrNotFound
	}
	s.tracks = append(s.tracks, trackingID)
	return nil
}

func (s *fakeMailStore) StatusCounts(context.Context, time.Time) (map[domain.OutgoingStatus]int, error) {
	return map[domain.OutgoingStatus]int{domain.OutgoingSent: 3}, nil
}

type fakeComposeRepo struct {
	created []*domain.OutgoingMail
	resets  []string
}

func (r *fakeComposeRepo) Create(_ context.Context, m *domain.OutgoingMail) error {
	r.created = append(r.created, m)
	return nil
}

func (r *fakeComposeRepo) Get(context.Context, string) (*domain.OutgoingMail, error) {
	return nil, compose.ErrNotFound
}

func (r *fakeComposeRepo) MessageIDFor(context.Context, string, string) (string, error) {
	return "", compose.ErrNotFound
}

func (r *fakeComposeRepo) GetIncoming(context.Context, string) (*domain.IncomingMail, error) {
	return nil, compose.ErrNotFound
}

func (r *fakeComposeRepo) ResetForRetry(_ context.Context, id string, _ []domain.OutgoingStatus) error {
	r.resets = append(r.resets, id)
	return nil
}

type fakeComposeDir struct{}

func (fakeComposeDir) ResolveSender(_ context.Context, _ domain.Context, sender string, _, _ bool) (*domain.Mailbox, *domain.MailDomain, error) {
	return &domain.Mailbox{Email: sender, DomainName: "acme.com", User: "u1"},
		&domain.MailDomain{Name: "acme.com"}, nil
}

func (fakeComposeDir) EnabledDKIMKey(context.Context, string) (*domain.DKIMKey, error) {
	return nil, compose.ErrNotFound
}

func (fakeComposeDir) IsRootDomain(string) bool { return false }

func (fakeComposeDir) SyncContact(context.Context, string, string, string) error { return nil }

type fakeSyncRepo struct {
	mails  []domain.IncomingMail
	cursor *domain.MailSyncHistory
}

func (r *fakeSyncRepo) ListProcessedSince(_ context.Context, _ string, since time.Time, limit int) ([]domain.IncomingMail, error) {
	out := []domain.IncomingMail{}
	for _, m := range r.mails {
		if m.ProcessedAt != nil && m.ProcessedAt.After(since) && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeSyncRepo) WithCursor(_ context.Context, source, user, mailbox string, fn func(cur *domain.MailSyncHistory) error) error {
	if r.cursor == nil {
		r.cursor = &domain.MailSyncHistory{Source: source, User: user, Mailbox: mailbox}
	}
	return fn(r.cursor)
}

type fakeSyncDir struct{ owner string }

func (d fakeSyncDir) Mailbox(_ context.Context, email string) (*domain.Mailbox, error) {
	return &domain.Mailbox{Email: email, User: d.owner}, nil
}

func newTestHandler(store *fakeMailStore, composeRepo *fakeComposeRepo, syncRepo *fakeSyncRepo) http.Handler {
	composer := compose.NewService(composeRepo, fakeComposeDir{}, nil, nil,
		config.OutgoingConfig{MaxRecipients: 25, MaxHeaders: 10, MaxBatchSize: 100},
		config.SpamCheckConfig{})
	sync := mailsync.NewService(syncRepo, fakeSyncDir{owner: "u1"},
		config.IncomingConfig{MaxSyncViaAPI: 100})
	h := NewHandlers(composer, sync, nil, store, nil, nil, nil, nil,
		config.MailConfig{SystemManagers: []string{"admin"}},
		config.OutgoingConfig{MaxBatchSize: 100})
	return SetupRoutes(h)
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "u1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ---- tests ----

func TestActorRequired(t *testing.T) {
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, &fakeSyncRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inbound/pull?mailbox=a@b.com", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendRejectsMissingRecipients(t *testing.T) {
	repo := &fakeComposeRepo{}
	handler := newTestHandler(&fakeMailStore{}, repo, &fakeSyncRepo{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/outbound/send", domain.Submission{
		Sender:  "alice@acme.com",
		Subject: "no one to send to",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(compose.KindNoRecipients), resp["kind"])
	assert.Empty(t, repo.created)
}

func TestSendRejectsBadJSON(t *testing.T) {
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, &fakeSyncRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbound/send", bytes.NewBufferString("{"))
	req.Header.Set("X-User", "u1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOutgoing(t *testing.T) {
	store := &fakeMailStore{mails: map[string]*domain.OutgoingMail{
		"m1": {ID: "m1", Status: domain.OutgoingSent, Subject: "hello"},
	}}
	handler := newTestHandler(store, &fakeComposeRepo{}, &fakeSyncRepo{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/outbound/m1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var m domain.OutgoingMail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "hello", m.Subject)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/outbound/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetry(t *testing.T) {
	store := &fakeMailStore{mails: map[string]*domain.OutgoingMail{
		"failed-1": {ID: "failed-1", Status: domain.OutgoingFailed},
		"sent-1":   {ID: "sent-1", Status: domain.OutgoingSent},
	}}
	repo := &fakeComposeRepo{}
	handler := newTestHandler(store, repo, &fakeSyncRepo{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/outbound/failed-1/retry", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"failed-1"}, repo.resets)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/outbound/sent-1/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryBouncedNeedsSystemManager(t *testing.T) {
	store := &fakeMailStore{mails: map[string]*domain.OutgoingMail{
		"bounced-1": {ID: "bounced-1", Status: domain.OutgoingBounced},
	}}
	repo := &fakeComposeRepo{}
	handler := newTestHandler(store, repo, &fakeSyncRepo{})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/outbound/bounced-1/retry", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, repo.resets)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbound/bounced-1/retry", nil)
	req.Header.Set("X-User", "admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"bounced-1"}, repo.resets)
}

func TestPull(t *testing.T) {
	processed := time.Now().UTC().Add(-time.Minute)
	syncRepo := &fakeSyncRepo{mails: []domain.IncomingMail{
		{ID: "in-1", Receiver: "a@acme.com", ProcessedAt: &processed, Message: "raw one"},
	}}
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, syncRepo)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/inbound/pull?mailbox=a@acme.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res mailsync.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Mails, 1)
	assert.Equal(t, "in-1", res.Mails[0].ID)
	assert.Empty(t, res.Mails[0].Message, "pull omits message bodies")
	assert.WithinDuration(t, processed, res.LastSyncAt, time.Second)

	// The cursor advanced past the only mail, so the next pull is empty
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inbound/pull?mailbox=a@acme.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Mails)
}

func TestPullRaw(t *testing.T) {
	processed := time.Now().UTC().Add(-time.Minute)
	syncRepo := &fakeSyncRepo{mails: []domain.IncomingMail{
		{ID: "in-1", Receiver: "a@acme.com", ProcessedAt: &processed, Message: "raw one"},
	}}
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, syncRepo)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/inbound/pull-raw?mailbox=a@acme.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res mailsync.RawResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "raw one", res.Messages[0].Message)
}

func TestPullValidatesParams(t *testing.T) {
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, &fakeSyncRepo{})

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/inbound/pull", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inbound/pull?mailbox=a@b.com&limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inbound/pull?mailbox=a@b.com&last_synced_at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_date_format", resp["kind"])
}

func TestPullExplicitCursor(t *testing.T) {
	processed := time.Now().UTC().Add(-time.Minute)
	syncRepo := &fakeSyncRepo{mails: []domain.IncomingMail{
		{ID: "in-1", Receiver: "a@acme.com", ProcessedAt: &processed, Message: "raw one"},
	}}
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, syncRepo)

	// Drain, then rewind with an explicit last_synced_at
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/inbound/pull?mailbox=a@acme.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	since := processed.Add(-time.Second).Format(time.RFC3339Nano)
	rec = doJSON(t, handler, http.MethodGet,
		"/api/v1/inbound/pull?mailbox=a@acme.com&last_synced_at="+url.QueryEscape(since), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res mailsync.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Mails, 1)
	assert.Equal(t, "in-1", res.Mails[0].ID)
}

func TestTrackOpenAlwaysServesPixel(t *testing.T) {
	store := &fakeMailStore{}
	handler := newTestHandler(store, &fakeComposeRepo{}, &fakeSyncRepo{})

	for _, id := range []string{"tracked-1", "unknown-9"} {
		req := httptest.NewRequest(http.MethodGet, "/track/open/"+id+".gif", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
		assert.Equal(t, pixelGIF, rec.Body.Bytes())
	}
	assert.Equal(t, []string{"tracked-1"}, store.tracks)
}

func TestSpamEndpointsUnconfigured(t *testing.T) {
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, &fakeSyncRepo{})

	for _, path := range []string{"/spamd/scan", "/spamd/is_spam", "/spamd/score"} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1"+path,
			map[string]string{"message": "Subject: x\r\n\r\nbody"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestHealthCheck(t *testing.T) {
	handler := newTestHandler(&fakeMailStore{}, &fakeComposeRepo{}, &fakeSyncRepo{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
