package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/broker"
	"github.com/ignite/mailflow/internal/domain"
)

type memTransferRepo struct {
	mu           sync.Mutex
	pending      []domain.OutgoingMail
	listed       bool
	transferring []string
	transferred  []string
	failed       map[string]string
}

func newMemTransferRepo(mails ...domain.OutgoingMail) *memTransferRepo {
	return &memTransferRepo{pending: mails, failed: map[string]string{}}
}

func (r *memTransferRepo) ListPendingForTransfer(_ context.Context, _ int) ([]domain.OutgoingMail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listed {
		return nil, nil
	}
	r.listed = true
	return r.pending, nil
}

func (r *memTransferRepo) GetForTransfer(_ context.Context, id string) (*domain.OutgoingMail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.pending {
		if r.pending[i].ID == id {
			cp := r.pending[i]
			return &cp, nil
		}
	}
	return nil, errors.New("not pending")
}

func (r *memTransferRepo) MarkTransferring(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transferring = append(r.transferring, ids...)
	return nil
}

func (r *memTransferRepo) MarkTransferred(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transferred = append(r.transferred, id)
	return nil
}

func (r *memTransferRepo) MarkFailed(_ context.Context, id, errorLog string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = errorLog
	return nil
}

type publishedMsg struct {
	queue       string
	maxPriority int
	body        []byte
	priority    uint8
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	messages []publishedMsg
}

func (p *fakePublisher) PublishTo(_ context.Context, queue string, maxPriority int, body []byte, priority uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMsg{queue, maxPriority, body, priority})
	return nil
}

func pendingMail(id, domainName string, newsletter bool) domain.OutgoingMail {
	return domain.OutgoingMail{
		ID:           id,
		DomainName:   domainName,
		IsNewsletter: newsletter,
		Status:       domain.OutgoingPending,
		Message:      "raw " + id,
		Recipients: []domain.MailRecipient{
			{Type: domain.RecipientTo, Email: "rcpt@example.com"},
		},
	}
}

func TestTransferNowPublishesImmediate(t *testing.T) {
	repo := newMemTransferRepo(pendingMail("m1", "acme.com", false))
	pub := &fakePublisher{}
	w := NewTransferWorker(repo, pub, "mailflow.dev", 0)

	require.NoError(t, w.TransferNow(context.Background(), "m1"))

	require.Equal(t, []string{"m1"}, repo.transferring)
	require.Equal(t, []string{"m1"}, repo.transferred)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	require.Equal(t, broker.OutgoingMailQueue, msg.queue)
	require.Equal(t, broker.MaxPriority, msg.maxPriority)
	require.EqualValues(t, domain.PriorityImmediate, msg.priority)

	var payload domain.TransferPayload
	require.NoError(t, json.Unmarshal(msg.body, &payload))
	require.Equal(t, "m1", payload.OutgoingMail)
	require.Equal(t, []string{"rcpt@example.com"}, payload.Recipients)
	require.Equal(t, "raw m1", payload.Message)
}

func TestDrainPendingPrioritizesByKind(t *testing.T) {
	repo := newMemTransferRepo(
		pendingMail("news", "acme.com", true),
		pendingMail("plain", "acme.com", false),
		pendingMail("system", "mailflow.dev", false),
	)
	pub := &fakePublisher{}
	w := NewTransferWorker(repo, pub, "mailflow.dev", 0)

	n, err := w.DrainPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"news", "plain", "system"}, repo.transferring)
	require.Equal(t, []string{"news", "plain", "system"}, repo.transferred)

	priorities := map[string]uint8{}
	for _, msg := range pub.messages {
		var payload domain.TransferPayload
		require.NoError(t, json.Unmarshal(msg.body, &payload))
		priorities[payload.OutgoingMail] = msg.priority
	}
	require.Equal(t, map[string]uint8{
		"news":   domain.PriorityNewsletter,
		"plain":  domain.PriorityDefault,
		"system": domain.PriorityRootDomain,
	}, priorities)
}

func TestTransferMarksFailedAfterRetries(t *testing.T) {
	repo := newMemTransferRepo(pendingMail("m1", "acme.com", false))
	pub := &fakePublisher{err: errors.New("broker down")}
	w := NewTransferWorker(repo, pub, "mailflow.dev", 0)
	w.retryWait = time.Millisecond

	n, err := w.DrainPending(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	require.Empty(t, repo.transferred)
	require.Contains(t, repo.failed["m1"], "broker down")
	_, failed := w.Stats()
	require.EqualValues(t, 1, failed)
}
