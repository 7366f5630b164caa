package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/compose"
)

// IncomingRepo implements intake persistence and the pull API queries.
type IncomingRepo struct{ db *sql.DB }

// NewIncomingRepo creates a Postgres-backed incoming mail repository.
func NewIncomingRepo(db *sql.DB) *IncomingRepo { return &IncomingRepo{db: db} }

func (r *IncomingRepo) Create(ctx context.Context, m *domain.IncomingMail) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO incoming_mails
			(id, domain_name, user_id, receiver, delivered_to, sender, display_name,
			 subject, body_html, body_plain, reply_to, message_id, message,
			 message_size, in_reply_to_mail_id, in_reply_to_mail_type, status,
			 rejection_message, folder, docstatus, is_spam, spam_score, from_ip,
			 from_host, spf_pass, spf_description, dkim_pass, dmarc_pass,
			 created_at, received_at, received_after, processed_at, processed_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
		        $29, $30, $31, $32, $33)
	`, m.ID, m.DomainName, m.User, m.Receiver, m.DeliveredTo, m.Sender, m.DisplayName,
		m.Subject, m.BodyHTML, m.BodyPlain, m.ReplyTo, m.MessageID, m.Message,
		m.MessageSize, m.InReplyToMailID, m.InReplyToMailType, m.Status,
		m.RejectionMessage, m.Folder, m.DocStatus, m.IsSpam, m.SpamScore, m.FromIP,
		m.FromHost, m.SPFPass, m.SPFDescription, m.DKIMPass, m.DMARCPass,
		m.CreatedAt, m.ReceivedAt, m.ReceivedAfter, m.ProcessedAt, m.ProcessedAfter)
	if err != nil {
		return fmt.Errorf("insert incoming mail: %w", err)
	}
	return nil
}

const incomingColumns = `
	id, domain_name, user_id, receiver, COALESCE(delivered_to,''), sender,
	COALESCE(display_name,''), COALESCE(subject,''), COALESCE(body_html,''),
	COALESCE(body_plain,''), COALESCE(reply_to,''), COALESCE(message_id,''),
	message, message_size, in_reply_to_mail_id, COALESCE(in_reply_to_mail_type,''),
	status, COALESCE(rejection_message,''), folder, docstatus, is_spam, spam_score,
	COALESCE(from_ip,''), COALESCE(from_host,''), spf_pass,
	COALESCE(spf_description,''), dkim_pass, dmarc_pass, created_at, received_at,
	received_after, processed_at, processed_after`

func scanIncoming(s interface{ Scan(...interface{}) error }) (*domain.IncomingMail, error) {
	m := &domain.IncomingMail{}
	err := s.Scan(
		&m.ID, &m.DomainName, &m.User, &m.Receiver, &m.DeliveredTo, &m.Sender,
		&m.DisplayName, &m.Subject, &m.BodyHTML,
		&m.BodyPlain, &m.ReplyTo, &m.MessageID,
		&m.Message, &m.MessageSize, &m.InReplyToMailID, &m.InReplyToMailType,
		&m.Status, &m.RejectionMessage, &m.Folder, &m.DocStatus, &m.IsSpam, &m.SpamScore,
		&m.FromIP, &m.FromHost, &m.SPFPass,
		&m.SPFDescription, &m.DKIMPass, &m.DMARCPass, &m.CreatedAt, &m.ReceivedAt,
		&m.ReceivedAfter, &m.ProcessedAt, &m.ProcessedAfter,
	)
	return m, err
}

func getIncoming(ctx context.Context, db *sql.DB, id string) (*domain.IncomingMail, error) {
	m, err := scanIncoming(db.QueryRowContext(ctx, `
		SELECT `+incomingColumns+` FROM incoming_mails WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, compose.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incoming mail: %w", err)
	}
	return m, nil
}

func (r *IncomingRepo) Get(ctx context.Context, id string) (*domain.IncomingMail, error) {
	return getIncoming(ctx, r.db, id)
}

// ListProcessedSince serves the pull API: submitted mails of a receiver
// processed strictly after the cursor, oldest first.
func (r *IncomingRepo) ListProcessedSince(ctx context.Context, receiver string, since time.Time, limit int) ([]domain.IncomingMail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+incomingColumns+`
		FROM incoming_mails
		WHERE receiver = $1 AND docstatus = 1 AND processed_at > $2
		ORDER BY processed_at
		LIMIT $3
	`, receiver, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list incoming since: %w", err)
	}
	defer rows.Close()

	var out []domain.IncomingMail
	for rows.Next() {
		m, err := scanIncoming(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incoming mail: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ResolveMessageID finds a stored mail by its RFC 5322 Message-ID for
// thread linking. Outgoing mails win over incoming on collision; both
// empty when the id is unknown.
func (r *IncomingRepo) ResolveMessageID(ctx context.Context, messageID string) (string, string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM outgoing_mails WHERE message_id = $1 LIMIT 1`, messageID,
	).Scan(&id)
	if err == nil {
		return id, domain.MailTypeOutgoing, nil
	}
	if err != sql.ErrNoRows {
		return "", "", fmt.Errorf("resolve message id: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM incoming_mails WHERE message_id = $1 LIMIT 1`, messageID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("resolve message id: %w", err)
	}
	return id, domain.MailTypeIncoming, nil
}

// DeleteRejectedBefore removes rejected mails older than the cutoff.
func (r *IncomingRepo) DeleteRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM incoming_mails
		WHERE status = 'Rejected' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete rejected mails: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
