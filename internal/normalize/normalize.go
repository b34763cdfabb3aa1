// Package normalize turns raw adapter candidates into schema-clean records.
// It collapses whitespace, resolves relative application URLs against the
// source's base URL, parses Indian-format deadlines, and clamps category,
// audience and education level to the persisted vocabulary. Records missing
// the basics (title, application URL, provider) are rejected here so the
// validator never probes links for garbage candidates.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/scholargrid/harvester/internal/domain"
)

// AssumedDeadlineDays is how far in the future the sentinel deadline lands
// when the raw text is unparsable or already past.
const AssumedDeadlineDays = 60

var (
	ErrTitleTooShort   = errors.New("title missing or too short")
	ErrMissingURL      = errors.New("application URL missing")
	ErrMissingProvider = errors.New("provider missing")
	ErrUnresolvableURL = errors.New("application URL is not absolute and cannot be resolved")
)

// deadlineLayouts in trial order. Day-first layouts come before month-first
// so an ambiguous slash date reads as Indian dd/mm; the month-first layouts
// only catch dates that are impossible day-first (day position > 12).
var deadlineLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
	"1/2/2006",
	"1-2-2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

var (
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	embeddedDate  = regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{4}|\d{4}-\d{1,2}-\d{1,2})\b`)
)

// Record cleans a raw candidate and clamps it to the persisted schema.
// The base URL is the adapter's origin, used to resolve relative
// application links.
func Record(c domain.CandidateRecord, baseURL string) (domain.NormalizedRecord, error) {
	title := Collapse(c.Title)
	if len(title) < domain.MinTitleLength {
		return domain.NormalizedRecord{}, fmt.Errorf("%w: %q", ErrTitleTooShort, title)
	}
	provider := Collapse(c.Provider)
	if provider == "" {
		return domain.NormalizedRecord{}, ErrMissingProvider
	}
	rawURL := strings.TrimSpace(c.ApplicationURL)
	if rawURL == "" {
		return domain.NormalizedRecord{}, ErrMissingURL
	}
	resolved, err := resolveURL(rawURL, baseURL)
	if err != nil {
		return domain.NormalizedRecord{}, err
	}

	deadline, assumed := Deadline(c.DeadlineText, time.Now().UTC())

	return domain.NormalizedRecord{
		Title:           title,
		Description:     Collapse(c.Description),
		Eligibility:     Collapse(c.Eligibility),
		Amount:          Collapse(c.Amount),
		Deadline:        deadline,
		DeadlineAssumed: assumed,
		ApplicationURL:  resolved,
		SourceURL:       strings.TrimSpace(c.SourceURL),
		Provider:        provider,
		Category:        domain.CanonicalCategory(c.Category),
		TargetAudience:  domain.CanonicalAudiences(c.TargetAudience),
		EducationLevel:  domain.CanonicalEducationLevel(c.EducationLevel),
	}, nil
}

// Deadline parses raw deadline text. A date falling today is still open;
// only strictly earlier days count as past. Past or unparsable input yields
// the sentinel date and assumed = true.
func Deadline(raw string, now time.Time) (time.Time, bool) {
	parsed, ok := parseDeadline(raw)
	if !ok {
		return sentinel(now), true
	}
	today := now.Truncate(24 * time.Hour)
	if parsed.Before(today) {
		return sentinel(now), true
	}
	return parsed, false
}

// Collapse trims a string and folds internal whitespace runs to single
// spaces.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sentinel(now time.Time) time.Time {
	return now.AddDate(0, 0, AssumedDeadlineDays)
}

func parseDeadline(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	s = ordinalSuffix.ReplaceAllString(s, "$1")

	if t, ok := parseLayouts(s); ok {
		return t, true
	}
	if t, ok := parseLayouts(canonicalMonthCase(s)); ok {
		return t, true
	}
	// Upstream pages often embed the date in a sentence ("Last date:
	// 31/12/2025"); fish the first date-shaped token out.
	if m := embeddedDate.FindString(s); m != "" {
		return parseLayouts(m)
	}
	return time.Time{}, false
}

func parseLayouts(s string) (time.Time, bool) {
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// canonicalMonthCase rewrites "31 DECEMBER 2025" or "31 december 2025" into
// the capitalization time.Parse expects.
func canonicalMonthCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := w[0]
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
	}
	return strings.Join(words, " ")
}

func resolveURL(raw, base string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvableURL, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if base == "" {
		return "", ErrUnresolvableURL
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", fmt.Errorf("%w: bad base %q", ErrUnresolvableURL, base)
	}
	return b.ResolveReference(u).String(), nil
}
