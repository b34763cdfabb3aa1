// Package domain defines the core business types shared across harvestd.
// These types represent the pipeline's data model, not HTTP specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses. This is intentional: Go's stdlib encoding/json uses struct tags
// for field mapping, and having separate API response types for every domain
// model would add boilerplate without measurable benefit. When the API shape
// diverges from the domain type (computed fields, envelopes), a response
// struct in the api package wraps these types instead.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates a lookup matched no stored record.
var ErrNotFound = errors.New("record not found")

// Priority tiers control the default scheduling interval of a source.
const (
	PriorityHigh     = 1 // government portals, primary feeds
	PriorityStandard = 2 // everything else
)

// Source describes one upstream site the pipeline scrapes.
// Sources are declared in configuration at startup; only the enabled flag
// is mutable at runtime (admin enable/disable).
type Source struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Adapter  string        `json:"adapter"`
	BaseURL  string        `json:"base_url"`
	Priority int           `json:"priority"`
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval,omitempty"` // overrides the tier default when > 0
	Cron     string        `json:"cron,omitempty"`     // overrides interval scheduling when set
}

// Outcome classifies how a scrape job ended.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeFailed             Outcome = "failed"
	OutcomeSkippedOpenBreaker Outcome = "skipped-open-breaker"
	OutcomeSkippedDisabled    Outcome = "skipped-disabled"
)

// ValidOutcome checks if a string is a known job outcome.
func ValidOutcome(s string) bool {
	switch Outcome(s) {
	case OutcomeSuccess, OutcomeFailed, OutcomeSkippedOpenBreaker, OutcomeSkippedDisabled:
		return true
	}
	return false
}

// ReasonCancelled marks a failed job that ended because its context was
// cancelled. Cancellation never counts against the source's breaker.
const ReasonCancelled = "cancelled"

// Trigger identifies what started a scrape job.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerBundle    Trigger = "bundle"
)

// JobCounts accumulates per-candidate results within one scrape job.
type JobCounts struct {
	Candidates         int `json:"candidates"`
	Admitted           int `json:"admitted"`
	Rejected           int `json:"rejected"`
	Duplicates         int `json:"duplicates"`
	ValidationFailures int `json:"validation_failures"`
	StoreErrors        int `json:"store_errors"`
}

// Add merges another set of counts into c.
func (c *JobCounts) Add(o JobCounts) {
	c.Candidates += o.Candidates
	c.Admitted += o.Admitted
	c.Rejected += o.Rejected
	c.Duplicates += o.Duplicates
	c.ValidationFailures += o.ValidationFailures
	c.StoreErrors += o.StoreErrors
}

// ScrapeJob records a single attempt to harvest one source.
// Jobs are immutable once FinishedAt is set; the orchestrator retains the
// most recent jobs per source in memory for status reporting.
type ScrapeJob struct {
	ID         uuid.UUID  `json:"id"`
	SourceID   string     `json:"source_id"`
	Trigger    Trigger    `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Outcome    Outcome    `json:"outcome"`
	Reason     string     `json:"reason,omitempty"`
	Counts     JobCounts  `json:"counts"`
	FirstError string     `json:"first_error,omitempty"`
}

// BundleSummary is the result of a RunAllNow invocation: one job per
// enabled source, plus the aggregate counters.
type BundleSummary struct {
	ID         uuid.UUID   `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Jobs       []ScrapeJob `json:"jobs"`
	Totals     JobCounts   `json:"totals"`
}

// AllFailed reports whether every job in the bundle ended in failure.
// Skipped jobs (disabled sources, open breakers) do not count as failures.
func (b BundleSummary) AllFailed() bool {
	failed := 0
	for _, j := range b.Jobs {
		switch j.Outcome {
		case OutcomeFailed:
			failed++
		case OutcomeSuccess:
			return false
		}
	}
	return failed > 0 && failed == len(b.Jobs)
}

// CandidateRecord is a raw item extracted by a source adapter.
// Candidates are transient: they live only for the duration of the job that
// produced them and are never persisted as-is.
type CandidateRecord struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Eligibility    string   `json:"eligibility"`
	Amount         string   `json:"amount"`
	DeadlineText   string   `json:"deadline_text"`
	ApplicationURL string   `json:"application_url"`
	SourceURL      string   `json:"source_url"`
	Provider       string   `json:"provider"`
	Category       string   `json:"category"`
	TargetAudience []string `json:"target_audience"`
	EducationLevel string   `json:"education_level"`
}

// Category buckets a scholarship by its selection basis.
type Category string

const (
	CategoryMerit       Category = "Merit-based"
	CategoryNeed        Category = "Need-based"
	CategorySports      Category = "Sports"
	CategoryArts        Category = "Arts"
	CategoryEngineering Category = "Engineering"
	CategoryMedical     Category = "Medical"
	CategoryResearch    Category = "Research"
	CategoryMinority    Category = "Minority"
	CategoryOther       Category = "Other"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{
		CategoryMerit, CategoryNeed, CategorySports, CategoryArts,
		CategoryEngineering, CategoryMedical, CategoryResearch,
		CategoryMinority, CategoryOther,
	}
}

// CanonicalCategory maps free-form adapter output onto a valid category.
// Unknown values fall back to CategoryOther.
func CanonicalCategory(s string) Category {
	trimmed := strings.TrimSpace(s)
	for _, c := range Categories() {
		if strings.EqualFold(trimmed, string(c)) {
			return c
		}
	}
	return CategoryOther
}

// Audience identifies a group a scholarship targets.
type Audience string

const (
	AudienceSCST     Audience = "SC/ST"
	AudienceOBC      Audience = "OBC"
	AudienceGeneral  Audience = "General"
	AudienceMinority Audience = "Minority"
	AudienceWomen    Audience = "Women"
	AudienceDisabled Audience = "Disabled"
	AudienceAll      Audience = "All"
)

// Audiences lists every valid target audience.
func Audiences() []Audience {
	return []Audience{
		AudienceSCST, AudienceOBC, AudienceGeneral, AudienceMinority,
		AudienceWomen, AudienceDisabled, AudienceAll,
	}
}

// CanonicalAudiences filters raw audience strings down to the valid set,
// preserving input order and dropping duplicates. Empty input yields [All].
func CanonicalAudiences(raw []string) []Audience {
	var out []Audience
	seen := make(map[Audience]bool)
	for _, r := range raw {
		trimmed := strings.TrimSpace(r)
		for _, a := range Audiences() {
			if strings.EqualFold(trimmed, string(a)) && !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	if len(out) == 0 {
		return []Audience{AudienceAll}
	}
	return out
}

// EducationLevel identifies the study stage a scholarship applies to.
type EducationLevel string

const (
	LevelSchool        EducationLevel = "School"
	LevelUndergraduate EducationLevel = "Undergraduate"
	LevelPostgraduate  EducationLevel = "Postgraduate"
	LevelDoctoral      EducationLevel = "Doctoral"
	LevelAll           EducationLevel = "All"
)

// EducationLevels lists every valid education level.
func EducationLevels() []EducationLevel {
	return []EducationLevel{
		LevelSchool, LevelUndergraduate, LevelPostgraduate, LevelDoctoral, LevelAll,
	}
}

// CanonicalEducationLevel maps free-form adapter output onto a valid level.
// Unknown values fall back to LevelAll.
func CanonicalEducationLevel(s string) EducationLevel {
	trimmed := strings.TrimSpace(s)
	for _, l := range EducationLevels() {
		if strings.EqualFold(trimmed, string(l)) {
			return l
		}
	}
	return LevelAll
}

// MinTitleLength is the shortest title an admitted record may carry.
const MinTitleLength = 10

// NormalizedRecord is a CandidateRecord after field cleanup, deadline
// parsing, and enum clamping. DeadlineAssumed marks records whose deadline
// was unparsable or already past and was substituted with a sentinel date.
type NormalizedRecord struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Eligibility     string         `json:"eligibility"`
	Amount          string         `json:"amount"`
	Deadline        time.Time      `json:"deadline"`
	DeadlineAssumed bool           `json:"deadline_assumed"`
	ApplicationURL  string         `json:"application_url"`
	SourceURL       string         `json:"source_url"`
	Provider        string         `json:"provider"`
	Category        Category       `json:"category"`
	TargetAudience  []Audience     `json:"target_audience"`
	EducationLevel  EducationLevel `json:"education_level"`
}

// ValidatedRecord is a normalized record that passed link validation.
// Invariants: QualityScore >= the configured admission threshold, the
// application URL is absolute http(s), and the deadline is present.
type ValidatedRecord struct {
	NormalizedRecord
	SourceID     string    `json:"source_id"`
	FinalURL     string    `json:"final_url"`
	QualityScore int       `json:"quality_score"`
	ValidatedAt  time.Time `json:"validated_at"`
}

// LinkStatus tracks the most recent knowledge about a stored record's
// application link.
type LinkStatus string

const (
	LinkVerified LinkStatus = "verified"
	LinkStale    LinkStatus = "stale"
	LinkBroken   LinkStatus = "broken"
)

// Scholarship is a persisted record in the store.
type Scholarship struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	TitleNorm       string         `json:"-"`
	Description     string         `json:"description"`
	Eligibility     string         `json:"eligibility"`
	Amount          string         `json:"amount"`
	Deadline        time.Time      `json:"deadline"`
	DeadlineAssumed bool           `json:"deadline_assumed"`
	ApplicationURL  string         `json:"application_url"`
	SourceURL       string         `json:"source_url"`
	Provider        string         `json:"provider"`
	Category        Category       `json:"category"`
	TargetAudience  []Audience     `json:"target_audience"`
	EducationLevel  EducationLevel `json:"education_level"`
	IsActive        bool           `json:"is_active"`
	LinkStatus      LinkStatus     `json:"link_status"`
	QualityScore    int            `json:"quality_score"`
	SourceID        string         `json:"source_id"`
	LastValidated   time.Time      `json:"last_validated"`
	ScrapedAt       time.Time      `json:"scraped_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TitleKey normalizes a title for upsert-key comparison: lower-cased with
// runs of whitespace collapsed to single spaces.
func TitleKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// BreakerState names a circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a read-only view of one source's breaker.
type BreakerSnapshot struct {
	SourceID            string        `json:"source_id"`
	State               BreakerState  `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ZeroCandidateRuns   int           `json:"zero_candidate_runs"`
	LastFailureAt       *time.Time    `json:"last_failure_at,omitempty"`
	OpenedAt            *time.Time    `json:"opened_at,omitempty"`
	Threshold           int           `json:"threshold"`
	CoolDown            time.Duration `json:"-"`
	CoolDownMs          int64         `json:"cool_down_ms"`
}

// AuditEntry records one mutating admin action against the API.
type AuditEntry struct {
	ID         uuid.UUID `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail"`
	IP         string    `json:"ip"`
	OccurredAt time.Time `json:"occurred_at"`
}
