package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scholargrid/harvester/internal/domain"
)

// scholarshipColumns is the full column list for scholarship queries.
const scholarshipColumns = `id, title, title_norm, description, eligibility, amount,
	deadline, deadline_assumed, application_url, source_url, provider, category,
	target_audience, education_level, is_active, link_status, quality_score,
	source_id, last_validated, scraped_at, created_at, updated_at`

// ScholarshipStore persists admitted records. It is the ingest.Store the
// gate writes through and the retention surface the reaper sweeps.
type ScholarshipStore struct {
	pool *pgxpool.Pool
}

// NewScholarshipStore creates a ScholarshipStore backed by the given pool.
func NewScholarshipStore(pool *pgxpool.Pool) *ScholarshipStore {
	return &ScholarshipStore{pool: pool}
}

// scanScholarship scans a single scholarship row into domain.Scholarship.
func scanScholarship(row pgx.Row) (*domain.Scholarship, error) {
	var (
		sch             domain.Scholarship
		category, level string
		audience        []string
		status          string
	)

	err := row.Scan(&sch.ID, &sch.Title, &sch.TitleNorm, &sch.Description,
		&sch.Eligibility, &sch.Amount, &sch.Deadline, &sch.DeadlineAssumed,
		&sch.ApplicationURL, &sch.SourceURL, &sch.Provider, &category,
		&audience, &level, &sch.IsActive, &status, &sch.QualityScore,
		&sch.SourceID, &sch.LastValidated, &sch.ScrapedAt,
		&sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sch.Category = domain.Category(category)
	sch.TargetAudience = audiencesFromStrings(audience)
	sch.EducationLevel = domain.EducationLevel(level)
	sch.LinkStatus = domain.LinkStatus(status)
	return &sch, nil
}

// collectScholarships drains a multi-row result set.
func collectScholarships(rows pgx.Rows) ([]domain.Scholarship, error) {
	var result []domain.Scholarship
	for rows.Next() {
		sch, err := scanScholarship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scholarship: %w", err)
		}
		result = append(result, *sch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		result = []domain.Scholarship{}
	}
	return result, nil
}

// FindByKey looks up a record by its normalized title and provider, the
// primary duplicate key. Returns domain.ErrNotFound when no row matches.
func (s *ScholarshipStore) FindByKey(ctx context.Context, titleKey, provider string) (*domain.Scholarship, error) {
	query := `SELECT ` + scholarshipColumns + ` FROM scholarships
		WHERE title_norm = $1 AND lower(provider) = lower($2)`

	sch, err := scanScholarship(s.pool.QueryRow(ctx, query, titleKey, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find scholarship by key: %w", err)
	}
	return sch, nil
}

// FindByURL looks up a record by its application URL, the secondary
// duplicate key. Returns domain.ErrNotFound when no row matches.
func (s *ScholarshipStore) FindByURL(ctx context.Context, applicationURL string) (*domain.Scholarship, error) {
	query := `SELECT ` + scholarshipColumns + ` FROM scholarships
		WHERE application_url = $1`

	sch, err := scanScholarship(s.pool.QueryRow(ctx, query, applicationURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find scholarship by url: %w", err)
	}
	return sch, nil
}

// Upsert inserts the record or, when a row with the same ID exists, rewrites
// it. A unique violation on either duplicate key (application URL, or
// normalized title plus provider) means a concurrent writer won an insert
// race after the caller's lookup; the write is redirected onto the winning
// row and retried once.
func (s *ScholarshipStore) Upsert(ctx context.Context, sch *domain.Scholarship) error {
	err := s.upsert(ctx, sch)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return fmt.Errorf("upsert scholarship: %w", err)
	}

	winner, lookupErr := s.findDuplicate(ctx, sch)
	if lookupErr != nil {
		return fmt.Errorf("resolve upsert race: %w", lookupErr)
	}
	sch.ID = winner.ID
	sch.CreatedAt = winner.CreatedAt

	if err := s.upsert(ctx, sch); err != nil {
		return fmt.Errorf("upsert scholarship after insert race: %w", err)
	}
	return nil
}

func (s *ScholarshipStore) upsert(ctx context.Context, sch *domain.Scholarship) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scholarships (id, title, title_norm, description, eligibility, amount,
			deadline, deadline_assumed, application_url, source_url, provider, category,
			target_audience, education_level, is_active, link_status, quality_score,
			source_id, last_validated, scraped_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			title_norm = EXCLUDED.title_norm,
			description = EXCLUDED.description,
			eligibility = EXCLUDED.eligibility,
			amount = EXCLUDED.amount,
			deadline = EXCLUDED.deadline,
			deadline_assumed = EXCLUDED.deadline_assumed,
			application_url = EXCLUDED.application_url,
			source_url = EXCLUDED.source_url,
			provider = EXCLUDED.provider,
			category = EXCLUDED.category,
			target_audience = EXCLUDED.target_audience,
			education_level = EXCLUDED.education_level,
			is_active = EXCLUDED.is_active,
			link_status = EXCLUDED.link_status,
			quality_score = EXCLUDED.quality_score,
			source_id = EXCLUDED.source_id,
			last_validated = EXCLUDED.last_validated,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = EXCLUDED.updated_at`,
		sch.ID, sch.Title, sch.TitleNorm, sch.Description, sch.Eligibility, sch.Amount,
		sch.Deadline, sch.DeadlineAssumed, sch.ApplicationURL, sch.SourceURL, sch.Provider,
		string(sch.Category), audiencesToStrings(sch.TargetAudience), string(sch.EducationLevel),
		sch.IsActive, string(sch.LinkStatus), sch.QualityScore,
		sch.SourceID, sch.LastValidated, sch.ScrapedAt, sch.CreatedAt, sch.UpdatedAt)
	return err
}

// findDuplicate locates the row a failed insert collided with, checking the
// URL key first because it is the more selective of the two.
func (s *ScholarshipStore) findDuplicate(ctx context.Context, sch *domain.Scholarship) (*domain.Scholarship, error) {
	byURL, err := s.FindByURL(ctx, sch.ApplicationURL)
	if err == nil {
		return byURL, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.FindByKey(ctx, sch.TitleNorm, sch.Provider)
}

// FindActive pages through active records, soonest deadline first.
func (s *ScholarshipStore) FindActive(ctx context.Context, limit, offset int) ([]domain.Scholarship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scholarshipColumns+` FROM scholarships
		 WHERE is_active ORDER BY deadline, quality_score DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("find active scholarships: %w", err)
	}
	defer rows.Close()

	return collectScholarships(rows)
}

// CountActive returns how many active records the store holds.
func (s *ScholarshipStore) CountActive(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scholarships WHERE is_active`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active scholarships: %w", err)
	}
	return count, nil
}

// DeactivateExpired marks active records whose deadline passed before cutoff
// as inactive. Returns how many rows changed. Assumed deadlines count too:
// the sentinel lands months out, so a record whose sentinel has passed was
// never re-seen by any scrape since.
func (s *ScholarshipStore) DeactivateExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scholarships SET is_active = FALSE, updated_at = now()
		 WHERE is_active AND deadline < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired scholarships: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkStale flags active verified records whose last validation predates
// olderThan. Returns how many rows changed.
func (s *ScholarshipStore) MarkStale(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scholarships SET link_status = $1, updated_at = now()
		 WHERE is_active AND link_status = $2 AND last_validated < $3`,
		string(domain.LinkStale), string(domain.LinkVerified), olderThan)
	if err != nil {
		return 0, fmt.Errorf("mark stale scholarships: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindStale returns active stale-linked records, oldest validation first,
// for the reaper's re-probe pass.
func (s *ScholarshipStore) FindStale(ctx context.Context, limit int) ([]domain.Scholarship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scholarshipColumns+` FROM scholarships
		 WHERE is_active AND link_status = $1 ORDER BY last_validated LIMIT $2`,
		string(domain.LinkStale), limit)
	if err != nil {
		return nil, fmt.Errorf("find stale scholarships: %w", err)
	}
	defer rows.Close()

	return collectScholarships(rows)
}

// UpdateLinkStatus records a re-probe result for one row. Returns
// domain.ErrNotFound when the row no longer exists.
func (s *ScholarshipStore) UpdateLinkStatus(ctx context.Context, id uuid.UUID, status domain.LinkStatus, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scholarships SET link_status = $2, last_validated = $3, updated_at = now()
		 WHERE id = $1`,
		id, string(status), checkedAt)
	if err != nil {
		return fmt.Errorf("update link status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
