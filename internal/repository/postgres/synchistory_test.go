package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/domain"
)

func TestWithCursorLocksAndAdvances(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewSyncHistoryRepo(db)

	stored := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	advanced := stored.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mail_sync_history").
		WithArgs(sqlmock.AnyArg(), "site-a", "u1", "sales@acme.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("site-a", "u1", "sales@acme.com").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "source", "user_id", "mailbox", "last_sync_at"}).
			AddRow("h1", "site-a", "u1", "sales@acme.com", stored))
	mock.ExpectExec("UPDATE mail_sync_history").
		WithArgs("h1", advanced).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.WithCursor(context.Background(), "site-a", "u1", "sales@acme.com",
		func(cur *domain.MailSyncHistory) error {
			require.Equal(t, stored, cur.LastSyncAt.UTC())
			cur.LastSyncAt = advanced
			return nil
		})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithCursorRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewSyncHistoryRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO mail_sync_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "source", "user_id", "mailbox", "last_sync_at"}).
			AddRow("h1", "site-a", "u1", "sales@acme.com", time.Unix(0, 0)))
	mock.ExpectRollback()

	wantErr := context.DeadlineExceeded
	err = repo.WithCursor(context.Background(), "site-a", "u1", "sales@acme.com",
		func(*domain.MailSyncHistory) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
	require.NoError(t, mock.ExpectationsWereMet())
}
