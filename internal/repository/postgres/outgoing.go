package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/compose"
)

// OutgoingRepo implements compose.Repository plus the transfer and
// delivery-reconciliation queries the workers run.
type OutgoingRepo struct{ db *sql.DB }

// NewOutgoingRepo creates a Postgres-backed outgoing mail repository.
func NewOutgoingRepo(db *sql.DB) *OutgoingRepo { return &OutgoingRepo{db: db} }

func (r *OutgoingRepo) Create(ctx context.Context, m *domain.OutgoingMail) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create mail: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outgoing_mails
			(id, domain_name, user_id, sender, display_name, reply_to, subject,
			 body_html, body_plain, in_reply_to_mail_id, in_reply_to_mail_type,
			 message_id, message, message_size, status, docstatus, folder,
			 is_newsletter, via_api, error_log, track, tracking_id, spam_score,
			 created_at, submitted_at, submitted_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`, m.ID, m.DomainName, m.User, m.Sender, m.DisplayName, m.ReplyTo, m.Subject,
		m.BodyHTML, m.BodyPlain, m.InReplyToMailID, m.InReplyToMailType,
		m.MessageID, m.Message, m.MessageSize, m.Status, m.DocStatus, m.Folder,
		m.IsNewsletter, m.ViaAPI, m.ErrorLog, m.Track, m.TrackingID, m.SpamScore,
		m.CreatedAt, m.SubmittedAt, m.SubmittedAfter)
	if err != nil {
		return fmt.Errorf("insert mail: %w", err)
	}

	for _, rc := range m.Recipients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mail_recipients (mail_id, type, email, display_name, status)
			VALUES ($1, $2, $3, $4, $5)
		`, m.ID, rc.Type, rc.Email, rc.DisplayName, rc.Status); err != nil {
			return fmt.Errorf("insert recipient %s: %w", rc.Email, err)
		}
	}
	for i, h := range m.CustomHeaders {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mail_custom_headers (mail_id, position, name, value)
			VALUES ($1, $2, $3, $4)
		`, m.ID, i, h.Name, h.Value); err != nil {
			return fmt.Errorf("insert header %s: %w", h.Name, err)
		}
	}
	for _, a := range m.Attachments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mail_attachments
				(id, mail_id, filename, path, size, content_type, inline, content_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, a.ID, a.MailID, a.Filename, a.Path, a.Size, a.ContentType, a.Inline, a.ContentID); err != nil {
			return fmt.Errorf("insert attachment %s: %w", a.Filename, err)
		}
	}
	return tx.Commit()
}

const outgoingColumns = `
	id, domain_name, user_id, sender, COALESCE(display_name,''),
	COALESCE(reply_to,''), COALESCE(subject,''), COALESCE(body_html,''),
	COALESCE(body_plain,''), in_reply_to_mail_id, COALESCE(in_reply_to_mail_type,''),
	COALESCE(message_id,''), message, message_size, status, docstatus, folder,
	is_newsletter, via_api, COALESCE(error_log,''), COALESCE(agent_id,''),
	COALESCE(queue_id,''), track, COALESCE(tracking_id,''), open_count,
	first_opened_at, last_opened_at, COALESCE(last_opened_from_ip,''), spam_score,
	created_at, submitted_at, submitted_after, transfer_started_at,
	transfer_started_after, transfer_completed_at, transfer_completed_after`

func scanOutgoing(s interface{ Scan(...interface{}) error }) (*domain.OutgoingMail, error) {
	m := &domain.OutgoingMail{}
	err := s.Scan(
		&m.ID, &m.DomainName, &m.User, &m.Sender, &m.DisplayName,
		&m.ReplyTo, &m.Subject, &m.BodyHTML,
		&m.BodyPlain, &m.InReplyToMailID, &m.InReplyToMailType,
		&m.MessageID, &m.Message, &m.MessageSize, &m.Status, &m.DocStatus, &m.Folder,
		&m.IsNewsletter, &m.ViaAPI, &m.ErrorLog, &m.AgentID,
		&m.QueueID, &m.Track, &m.TrackingID, &m.OpenCount,
		&m.FirstOpenedAt, &m.LastOpenedAt, &m.LastOpenedFromIP, &m.SpamScore,
		&m.CreatedAt, &m.SubmittedAt, &m.SubmittedAfter, &m.TransferStartedAt,
		&m.TransferStartedAfter, &m.TransferCompletedAt, &m.TransferCompletedAfter,
	)
	return m, err
}

func (r *OutgoingRepo) Get(ctx context.Context, id string) (*domain.OutgoingMail, error) {
	m, err := scanOutgoing(r.db.QueryRowContext(ctx, `
		SELECT `+outgoingColumns+` FROM outgoing_mails WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, compose.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mail: %w", err)
	}
	if m.Recipients, err = r.loadRecipients(ctx, id); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *OutgoingRepo) loadRecipients(ctx context.Context, mailID string) ([]domain.MailRecipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mail_id, type, email, COALESCE(display_name,''), status,
		       retries, action_at, COALESCE(action_after, 0), COALESCE(details,'')
		FROM mail_recipients
		WHERE mail_id = $1
		ORDER BY id
	`, mailID)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.MailRecipient
	for rows.Next() {
		var rc domain.MailRecipient
		if err := rows.Scan(
			&rc.ID, &rc.MailID, &rc.Type, &rc.Email, &rc.DisplayName, &rc.Status,
			&rc.Retries, &rc.ActionAt, &rc.ActionAfter, &rc.Details,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *OutgoingRepo) loadChildren(ctx context.Context, m *domain.OutgoingMail) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, value FROM mail_custom_headers WHERE mail_id = $1 ORDER BY position
	`, m.ID)
	if err != nil {
		return fmt.Errorf("load headers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h domain.CustomHeader
		if err := rows.Scan(&h.Name, &h.Value); err != nil {
			return fmt.Errorf("scan header: %w", err)
		}
		m.CustomHeaders = append(m.CustomHeaders, h)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	arows, err := r.db.QueryContext(ctx, `
		SELECT id, mail_id, filename, path, size, content_type, inline,
		       COALESCE(content_id,'')
		FROM mail_attachments
		WHERE mail_id = $1
		ORDER BY filename
	`, m.ID)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var a domain.Attachment
		if err := arows.Scan(
			&a.ID, &a.MailID, &a.Filename, &a.Path, &a.Size, &a.ContentType,
			&a.Inline, &a.ContentID,
		); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, a)
	}
	return arows.Err()
}

func (r *OutgoingRepo) MessageIDFor(ctx context.Context, mailType, mailID string) (string, error) {
	table := "outgoing_mails"
	if mailType == domain.MailTypeIncoming {
		table = "incoming_mails"
	}
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(message_id,'') FROM `+table+` WHERE id = $1`, mailID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", compose.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve message id: %w", err)
	}
	return id, nil
}

func (r *OutgoingRepo) GetIncoming(ctx context.Context, id string) (*domain.IncomingMail, error) {
	return getIncoming(ctx, r.db, id)
}

func (r *OutgoingRepo) ResetForRetry(ctx context.Context, id string, from []domain.OutgoingStatus) error {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outgoing_mails
		SET status = 'Pending', error_log = ''
		WHERE id = $1 AND status = ANY($2)
	`, id, pq.Array(statuses))
	if err != nil {
		return fmt.Errorf("reset mail for retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM outgoing_mails WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check mail exists: %w", err)
		}
		if !exists {
			return compose.ErrNotFound
		}
		return compose.ErrRetryNotAllowed
	}
	return nil
}

// ---- transfer lifecycle ----

// ListPendingForTransfer returns submitted Pending mails oldest first,
// with recipients loaded, ready to publish.
func (r *OutgoingRepo) ListPendingForTransfer(ctx context.Context, limit int) ([]domain.OutgoingMail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outgoingColumns+`
		FROM outgoing_mails
		WHERE docstatus = 1 AND status = 'Pending'
		ORDER BY submitted_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending mails: %w", err)
	}
	defer rows.Close()

	var out []domain.OutgoingMail
	for rows.Next() {
		m, err := scanOutgoing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending mail: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Recipients, err = r.loadRecipients(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetForTransfer loads a single mail for an immediate transfer. Returns
// ErrNotPending unless the mail is submitted and Pending.
func (r *OutgoingRepo) GetForTransfer(ctx context.Context, id string) (*domain.OutgoingMail, error) {
	m, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.DocStatus != domain.DocSubmitted || m.Status != domain.OutgoingPending {
		return nil, compose.ErrNotPending
	}
	return m, nil
}

// MarkTransferring flips Pending mails to Transferring and stamps the
// start of the transfer. Already-moved mails are left alone.
func (r *OutgoingRepo) MarkTransferring(ctx context.Context, ids []string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outgoing_mails
		SET status = 'Transferring',
		    transfer_started_at = NOW(),
		    transfer_started_after = EXTRACT(EPOCH FROM (NOW() - submitted_at))
		WHERE id = ANY($1) AND status = 'Pending'
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark transferring: %w", err)
	}
	return nil
}

// MarkTransferred records a successful publish to the outbound queue.
func (r *OutgoingRepo) MarkTransferred(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outgoing_mails
		SET status = 'Transferred',
		    transfer_completed_at = NOW(),
		    transfer_completed_after = EXTRACT(EPOCH FROM (NOW() - transfer_started_at))
		WHERE id = $1 AND status IN ('Pending', 'Transferring')
	`, id)
	if err != nil {
		return fmt.Errorf("mark transferred: %w", err)
	}
	return nil
}

// MarkFailed records a transfer failure after retries were exhausted.
func (r *OutgoingRepo) MarkFailed(ctx context.Context, id, errorLog string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outgoing_mails
		SET status = 'Failed', error_log = $2
		WHERE id = $1 AND status IN ('Pending', 'Transferring')
	`, id, errorLog)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ---- delivery reconciliation ----

// ApplyQueueOK records the agent's acceptance of a transferred mail.
// Reports for mails that already moved past Queued are no-ops.
func (r *OutgoingRepo) ApplyQueueOK(ctx context.Context, mailID, agentID, queueID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outgoing_mails
		SET status = 'Queued', agent_id = $2, queue_id = $3
		WHERE id = $1 AND status IN ('Pending', 'Transferring', 'Transferred')
	`, mailID, agentID, queueID)
	if err != nil {
		return fmt.Errorf("apply queue_ok: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM outgoing_mails WHERE id = $1)`, mailID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check mail exists: %w", err)
		}
		if !exists {
			return compose.ErrNotFound
		}
	}
	return nil
}

// ApplyRecipientHook applies a deferred, bounce or delivered report to
// the matching recipient rows and recomputes the mail-level status.
// Recipient transitions are monotonic; stale or repeated reports are
// dropped row by row.
func (r *OutgoingRepo) ApplyRecipientHook(ctx context.Context, hook *domain.DeliveryHook) error {
	next, reported := hookStatus(hook)
	if len(reported) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hook: %w", err)
	}
	defer tx.Rollback()

	var mailID string
	var transferCompletedAt sql.NullTime
	switch {
	case hook.OutgoingMail != "":
		err = tx.QueryRowContext(ctx, `
			SELECT id, transfer_completed_at FROM outgoing_mails
			WHERE id = $1 FOR UPDATE
		`, hook.OutgoingMail).Scan(&mailID, &transferCompletedAt)
	case hook.QueueID != "":
		err = tx.QueryRowContext(ctx, `
			SELECT id, transfer_completed_at FROM outgoing_mails
			WHERE queue_id = $1 FOR UPDATE
		`, hook.QueueID).Scan(&mailID, &transferCompletedAt)
	default:
		return fmt.Errorf("hook carries neither mail id nor queue id")
	}
	if err == sql.ErrNoRows {
		return compose.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock mail for hook: %w", err)
	}

	details := hookDetails(hook)
	for _, email := range reported {
		var rcptID int64
		var current domain.RecipientStatus
		err := tx.QueryRowContext(ctx, `
			SELECT id, status FROM mail_recipients
			WHERE mail_id = $1 AND email = $2 FOR UPDATE
		`, mailID, email).Scan(&rcptID, &current)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("lock recipient %s: %w", email, err)
		}
		if !current.CanTransitionTo(next) {
			continue
		}

		var actionAfter sql.NullFloat64
		if hook.ActionAt != nil && transferCompletedAt.Valid {
			actionAfter = sql.NullFloat64{
				Float64: hook.ActionAt.Sub(transferCompletedAt.Time).Seconds(),
				Valid:   true,
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE mail_recipients
			SET status = $2, retries = $3, action_at = $4, action_after = $5, details = $6
			WHERE id = $1
		`, rcptID, next, hook.Retries, hook.ActionAt, actionAfter, details); err != nil {
			return fmt.Errorf("update recipient %s: %w", email, err)
		}
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT status FROM mail_recipients WHERE mail_id = $1`, mailID)
	if err != nil {
		return fmt.Errorf("reload recipient statuses: %w", err)
	}
	var recipients []domain.MailRecipient
	for rows.Next() {
		var rc domain.MailRecipient
		if err := rows.Scan(&rc.Status); err != nil {
			rows.Close()
			return fmt.Errorf("scan recipient status: %w", err)
		}
		recipients = append(recipients, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE outgoing_mails
		SET status = $2
		WHERE id = $1
		  AND status IN ('Transferred', 'Queued', 'Deferred', 'Partially Sent', 'Bounced', 'Sent')
	`, mailID, domain.DeriveStatus(recipients)); err != nil {
		return fmt.Errorf("derive mail status: %w", err)
	}
	return tx.Commit()
}

// hookStatus maps a hook to the recipient status it reports and the
// affected addresses.
func hookStatus(hook *domain.DeliveryHook) (domain.RecipientStatus, []string) {
	var next domain.RecipientStatus
	var list []domain.HookRecipient
	switch hook.Hook {
	case domain.HookDeferred:
		next, list = domain.RecipientDeferred, hook.RcptTo
	case domain.HookBounce:
		next, list = domain.RecipientBounced, hook.RcptTo
	case domain.HookDelivered:
		next = domain.RecipientSent
		if hook.Params != nil {
			list = hook.Params.OkRecips
		}
	default:
		return "", nil
	}

	out := make([]string, 0, len(list))
	for _, rc := range list {
		out = append(out, normalizeRcpt(rc.Original))
	}
	return next, out
}

// normalizeRcpt strips a display name and lowercases the address.
func normalizeRcpt(original string) string {
	if addr, err := mail.ParseAddress(original); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(original), "<>"))
}

func hookDetails(hook *domain.DeliveryHook) string {
	var v interface{}
	if hook.Hook == domain.HookDelivered && hook.Params != nil {
		v = hook.Params
	} else {
		v = map[string]interface{}{"response": hook.Response, "retries": hook.Retries}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// ---- open tracking ----

// TrackOpen records one tracking pixel hit. Only submitted, tracked
// mails match; anything else reports ErrNotFound.
func (r *OutgoingRepo) TrackOpen(ctx context.Context, trackingID, fromIP string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outgoing_mails
		SET open_count = open_count + 1,
		    first_opened_at = COALESCE(first_opened_at, NOW()),
		    last_opened_at = NOW(),
		    last_opened_from_ip = $2
		WHERE tracking_id = $1 AND track AND docstatus = 1
	`, trackingID, fromIP)
	if err != nil {
		return fmt.Errorf("track open: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return compose.ErrNotFound
	}
	return nil
}

// ---- retention ----

// DeleteExpiredNewsletters removes sent newsletters older than their
// domain's retention window.
func (r *OutgoingRepo) DeleteExpiredNewsletters(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outgoing_mails m
		USING mail_domains d
		WHERE m.domain_name = d.name
		  AND m.is_newsletter
		  AND m.status = 'Sent'
		  AND d.newsletter_retention_days > 0
		  AND m.created_at < NOW() - (d.newsletter_retention_days * INTERVAL '1 day')
	`)
	if err != nil {
		return 0, fmt.Errorf("delete expired newsletters: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StatusCounts returns mail counts per status since a cutoff, for the
// health endpoint.
func (r *OutgoingRepo) StatusCounts(ctx context.Context, since time.Time) (map[domain.OutgoingStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM outgoing_mails
		WHERE created_at >= $1
		GROUP BY status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	out := map[domain.OutgoingStatus]int{}
	for rows.Next() {
		var s domain.OutgoingStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}
