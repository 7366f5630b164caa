package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/compose"
)

func newMock(t *testing.T) (*OutgoingRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOutgoingRepo(db), mock
}

func TestTrackOpen(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE outgoing_mails").
		WithArgs("tid-1", "203.0.113.9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.TrackOpen(ctx, "tid-1", "203.0.113.9"))

	mock.ExpectExec("UPDATE outgoing_mails").
		WithArgs("missing", "203.0.113.9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, repo.TrackOpen(ctx, "missing", "203.0.113.9"), compose.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetForRetry(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	from := []domain.OutgoingStatus{domain.OutgoingFailed}

	mock.ExpectExec("UPDATE outgoing_mails").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.ResetForRetry(ctx, "m1", from))

	// Wrong status: the row exists but was not flipped
	mock.ExpectExec("UPDATE outgoing_mails").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("m2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	require.ErrorIs(t, repo.ResetForRetry(ctx, "m2", from), compose.ErrRetryNotAllowed)

	// Unknown mail
	mock.ExpectExec("UPDATE outgoing_mails").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("m3").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	require.ErrorIs(t, repo.ResetForRetry(ctx, "m3", from), compose.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyQueueOK(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE outgoing_mails").
		WithArgs("m1", "agent-1", "q-9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.ApplyQueueOK(ctx, "m1", "agent-1", "q-9"))

	// Late report after the mail already advanced: no-op, not an error
	mock.ExpectExec("UPDATE outgoing_mails").
		WithArgs("m1", "agent-1", "q-9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	require.NoError(t, repo.ApplyQueueOK(ctx, "m1", "agent-1", "q-9"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTransferredStampsDuration(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("EXTRACT(EPOCH FROM (NOW() - transfer_started_at))")).
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkTransferred(context.Background(), "m1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRecipientHookMonotonic(t *testing.T) {
	repo, mock := newMock(t)
	completed := time.Now().UTC().Add(-30 * time.Second)
	actionAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, transfer_completed_at FROM outgoing_mails").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "transfer_completed_at"}).
			AddRow("m1", completed))
	// First recipient is still pending: transition applies
	mock.ExpectQuery("SELECT id, status FROM mail_recipients").
		WithArgs("m1", "a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(1), ""))
	mock.ExpectExec("UPDATE mail_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Second recipient already bounced: report dropped
	mock.ExpectQuery("SELECT id, status FROM mail_recipients").
		WithArgs("m1", "b@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(2), "Bounced"))
	mock.ExpectQuery("SELECT status FROM mail_recipients").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).
			AddRow("Sent").AddRow("Bounced"))
	mock.ExpectExec("UPDATE outgoing_mails").
		WithArgs("m1", string(domain.OutgoingPartiallySent)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	hook := &domain.DeliveryHook{
		Hook:         domain.HookDelivered,
		OutgoingMail: "m1",
		ActionAt:     &actionAt,
		Params: &domain.DeliveredParams{
			Host: "mx.example.com",
			OkRecips: []domain.HookRecipient{
				{Original: "Alice <a@example.com>"},
				{Original: "b@example.com"},
			},
		},
	}
	require.NoError(t, repo.ApplyRecipientHook(context.Background(), hook))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRecipientHookUnknownMail(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, transfer_completed_at FROM outgoing_mails").
		WithArgs("q-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "transfer_completed_at"}))
	mock.ExpectRollback()

	hook := &domain.DeliveryHook{
		Hook:    domain.HookBounce,
		QueueID: "q-404",
		RcptTo:  []domain.HookRecipient{{Original: "a@example.com"}},
	}
	require.ErrorIs(t, repo.ApplyRecipientHook(context.Background(), hook), compose.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageIDForPicksTable(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM incoming_mails").
		WithArgs("in-1").
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}).AddRow("<x@y>"))
	id, err := repo.MessageIDFor(ctx, domain.MailTypeIncoming, "in-1")
	require.NoError(t, err)
	require.Equal(t, "<x@y>", id)

	mock.ExpectQuery("FROM outgoing_mails").
		WithArgs("out-1").
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}))
	_, err = repo.MessageIDFor(ctx, domain.MailTypeOutgoing, "out-1")
	require.ErrorIs(t, err, compose.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
