package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/mailflow/internal/domain"
)

// BlacklistRepo implements blacklist.Repository against PostgreSQL.
type BlacklistRepo struct{ db *sql.DB }

// NewBlacklistRepo creates a Postgres-backed blacklist repository.
func NewBlacklistRepo(db *sql.DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

func (r *BlacklistRepo) ListByGroup(ctx context.Context, group string) ([]domain.IPBlacklist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ip_address, ip_address_expanded, ip_version, ip_group,
		       is_blacklisted, COALESCE(host,''), COALESCE(source_url,''),
		       source_updated_at, COALESCE(blacklist_reason,''),
		       created_at, updated_at
		FROM ip_blacklist
		WHERE ip_group = $1
	`, group)
	if err != nil {
		return nil, fmt.Errorf("list blacklist group: %w", err)
	}
	defer rows.Close()

	var out []domain.IPBlacklist
	for rows.Next() {
		var e domain.IPBlacklist
		if err := rows.Scan(
			&e.ID, &e.IPAddress, &e.IPAddressExpanded, &e.IPVersion, &e.IPGroup,
			&e.IsBlacklisted, &e.Host, &e.SourceURL,
			&e.SourceUpdatedAt, &e.Reason,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan blacklist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *BlacklistRepo) Create(ctx context.Context, e *domain.IPBlacklist) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ip_blacklist
			(id, ip_address, ip_address_expanded, ip_version, ip_group,
			 is_blacklisted, host, source_url, source_updated_at,
			 blacklist_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ip_address_expanded) DO NOTHING
	`, e.ID, e.IPAddress, e.IPAddressExpanded, e.IPVersion, e.IPGroup,
		e.IsBlacklisted, e.Host, e.SourceURL, e.SourceUpdatedAt,
		e.Reason, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create blacklist entry: %w", err)
	}
	return nil
}
