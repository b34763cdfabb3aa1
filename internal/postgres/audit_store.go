package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scholargrid/harvester/internal/domain"
)

// auditColumns is the column list shared by audit queries.
const auditColumns = `id, actor, action, detail, COALESCE(ip, ''), occurred_at`

// AuditStore persists the trail of operator actions: manual triggers,
// breaker resets, source toggles. Entries are append-only; the reaper is
// the only deleter.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore returns an AuditStore writing through the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// scanAuditEntry scans a single audit row.
func scanAuditEntry(row pgx.Row) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	err := row.Scan(&e.ID, &e.Actor, &e.Action, &e.Detail, &e.IP, &e.OccurredAt)
	return e, err
}

// Log records an audit entry. Zero ID and OccurredAt are filled in.
func (s *AuditStore) Log(ctx context.Context, e domain.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, actor, action, detail, ip, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Actor, e.Action, e.Detail, textOrNull(e.IP), e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log
		ORDER BY occurred_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan drops entries whose occurred_at predates the cutoff and
// reports how many went.
func (s *AuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM audit_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old audit entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
