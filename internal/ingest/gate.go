// Package ingest admits validated records into the store. The gate is the
// last line before persistence: it rejects records carrying placeholder
// markers, detects duplicates by either upsert key, and merges re-scraped
// records so a field never gets less informative than what is already
// stored.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/scholargrid/harvester/internal/domain"
)

// placeholderPattern catches adapter regressions that leak synthesized
// records. Whole-word match so "attested" or "Contest" pass; URLs are not
// checked because hostnames are keys, not prose, and the link check already
// probed them.
var placeholderPattern = regexp.MustCompile(`(?i)\b(test|sample|mock|demo|example|placeholder|dummy|fake|template)\b`)

// Disposition says what the gate did with a record.
type Disposition string

const (
	DispositionInserted Disposition = "inserted"
	DispositionMerged   Disposition = "merged"
	DispositionRejected Disposition = "rejected"
)

// Store is the slice of the record store the gate needs. Lookups return
// domain.ErrNotFound when no row matches. Upsert must be safe under
// concurrent writers for the same key; the gate treats a duplicate-insert
// race as an update.
type Store interface {
	FindByKey(ctx context.Context, titleKey, provider string) (*domain.Scholarship, error)
	FindByURL(ctx context.Context, applicationURL string) (*domain.Scholarship, error)
	Upsert(ctx context.Context, s *domain.Scholarship) error
}

// Gate decides between insert, merge and reject for each validated record.
type Gate struct {
	store Store
	log   *slog.Logger
}

func New(store Store, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{store: store, log: log}
}

// Admit writes one validated record. Idempotent per call: admitting the
// same record again merges into the existing row instead of creating a
// second one.
func (g *Gate) Admit(ctx context.Context, rec domain.ValidatedRecord) (Disposition, error) {
	if marker := PlaceholderMarker(rec); marker != "" {
		g.log.Warn("placeholder marker in validated record, refusing to store",
			"marker", marker,
			"title", rec.Title,
			"provider", rec.Provider,
			"source_id", rec.SourceID,
		)
		return DispositionRejected, nil
	}

	existing, err := g.lookup(ctx, rec)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	if existing != nil {
		merge(existing, rec, now)
		if err := g.store.Upsert(ctx, existing); err != nil {
			return "", fmt.Errorf("merge upsert: %w", err)
		}
		return DispositionMerged, nil
	}

	if err := g.store.Upsert(ctx, newScholarship(rec, now)); err != nil {
		return "", fmt.Errorf("insert upsert: %w", err)
	}
	return DispositionInserted, nil
}

// PlaceholderMarker returns the first placeholder word found in any prose
// field of the record, or "" when the record is clean.
func PlaceholderMarker(rec domain.ValidatedRecord) string {
	for _, field := range []string{rec.Title, rec.Description, rec.Eligibility, rec.Amount, rec.Provider} {
		if m := placeholderPattern.FindString(field); m != "" {
			return m
		}
	}
	return ""
}

// lookup finds an existing row by (normalized title, provider) first, then
// by application URL. Either match makes the record a duplicate.
func (g *Gate) lookup(ctx context.Context, rec domain.ValidatedRecord) (*domain.Scholarship, error) {
	byKey, err := g.store.FindByKey(ctx, domain.TitleKey(rec.Title), rec.Provider)
	if err == nil {
		return byKey, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find by key: %w", err)
	}

	byURL, err := g.store.FindByURL(ctx, rec.ApplicationURL)
	if err == nil {
		return byURL, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find by url: %w", err)
	}
	return nil, nil
}

// merge folds a re-scraped record into the stored row. Prose fields update
// only when the new value is strictly more informative; validation metadata
// always refreshes, and a row that had gone inactive comes back since its
// link just verified.
func merge(old *domain.Scholarship, rec domain.ValidatedRecord, now time.Time) {
	if moreInformative(rec.Description, old.Description) {
		old.Description = rec.Description
	}
	if moreInformative(rec.Eligibility, old.Eligibility) {
		old.Eligibility = rec.Eligibility
	}
	if old.Amount == "" && rec.Amount != "" {
		old.Amount = rec.Amount
	}
	if deadlineImproves(old, rec) {
		old.Deadline = rec.Deadline
		old.DeadlineAssumed = rec.DeadlineAssumed
	}

	old.QualityScore = rec.QualityScore
	old.LinkStatus = domain.LinkVerified
	old.IsActive = true
	old.LastValidated = rec.ValidatedAt
	old.UpdatedAt = now
}

func moreInformative(candidate, current string) bool {
	if candidate == "" {
		return false
	}
	return current == "" || len(candidate) > len(current)
}

// deadlineImproves: a parsed deadline beats an assumed one, and a later
// parsed deadline beats an earlier parsed one (deadline extensions are
// common on government portals). An assumed deadline never overwrites
// anything.
func deadlineImproves(old *domain.Scholarship, rec domain.ValidatedRecord) bool {
	if rec.DeadlineAssumed {
		return false
	}
	if old.DeadlineAssumed {
		return true
	}
	return rec.Deadline.After(old.Deadline)
}

func newScholarship(rec domain.ValidatedRecord, now time.Time) *domain.Scholarship {
	return &domain.Scholarship{
		ID:              uuid.New(),
		Title:           rec.Title,
		TitleNorm:       domain.TitleKey(rec.Title),
		Description:     rec.Description,
		Eligibility:     rec.Eligibility,
		Amount:          rec.Amount,
		Deadline:        rec.Deadline,
		DeadlineAssumed: rec.DeadlineAssumed,
		ApplicationURL:  rec.ApplicationURL,
		SourceURL:       rec.SourceURL,
		Provider:        rec.Provider,
		Category:        rec.Category,
		TargetAudience:  rec.TargetAudience,
		EducationLevel:  rec.EducationLevel,
		IsActive:        true,
		LinkStatus:      domain.LinkVerified,
		QualityScore:    rec.QualityScore,
		SourceID:        rec.SourceID,
		LastValidated:   rec.ValidatedAt,
		ScrapedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
