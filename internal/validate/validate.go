// Package validate scores candidate application links. Each link is fetched
// through the rate-limited HTTP client, its content analyzed, and a 0..100
// quality score computed; links clearing the configured threshold are
// eligible for ingestion, everything else is rejected. Verdicts are cached
// by URL for a short window because the same application link routinely
// surfaces from several sources within one scheduling cycle.
package validate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/scholargrid/harvester/internal/cache"
	"github.com/scholargrid/harvester/internal/fetch"
	"github.com/scholargrid/harvester/internal/metrics"
)

const (
	// DefaultMinScore is the admission threshold: a link scoring below it
	// is rejected.
	DefaultMinScore = 70

	// DefaultBatchSize bounds concurrent validations in batch mode.
	DefaultBatchSize = 3

	// DefaultBatchPause separates successive batches so bulk validation
	// stays polite even across many distinct domains.
	DefaultBatchPause = time.Second
)

const genericURLMessage = "Generic URL - requires specific application link"

// aggregatorHosts are commercial listing sites whose index pages circulate
// widely as "application links". Their listing paths carry no per-scheme
// information and are rejected without a probe.
var aggregatorHosts = []string{
	"buddy4study.com",
	"scholarshipsindia.com",
	"wemakescholars.com",
	"vidhyasaarathi.co.in",
}

var aggregatorListingPaths = map[string]struct{}{
	"/scholarships": {},
	"/scholarship":  {},
	"/search":       {},
	"/home":         {},
}

// Fetcher is the slice of the HTTP layer the validator needs.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Result, error)
}

// Target names one link to validate in batch mode.
type Target struct {
	Title string
	URL   string
}

// Result is the validator's verdict for a single link.
type Result struct {
	URL            string          `json:"url"`
	FinalURL       string          `json:"finalUrl,omitempty"`
	Accessible     bool            `json:"accessible"`
	IsSecure       bool            `json:"isSecure"`
	StatusCode     int             `json:"statusCode,omitempty"`
	ResponseTimeMs int64           `json:"responseTimeMs"`
	Content        ContentAnalysis `json:"contentAnalysis"`
	Accessibility  Accessibility   `json:"accessibility"`
	QualityScore   int             `json:"qualityScore"`
	Valid          bool            `json:"isValid"`
	Errors         []string        `json:"errors,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	CheckedAt      time.Time       `json:"checkedAt"`

	// Body is the fetched page, carried so admitted records can be
	// archived without a second fetch. Never serialized, never cached.
	Body []byte `json:"-"`
}

// Config tunes the validator. Zero values fall back to package defaults.
type Config struct {
	MinScore   int
	BatchSize  int
	BatchPause time.Duration
	CacheTTL   time.Duration
	CacheSize  int
}

// Validator probes links and scores them. Safe for concurrent use.
type Validator struct {
	fetcher    Fetcher
	cache      *cache.Cache[string, Result]
	log        *slog.Logger
	minScore   int
	batchSize  int
	batchPause time.Duration
}

// New builds a Validator on top of the given fetcher.
func New(f Fetcher, cfg Config, log *slog.Logger) *Validator {
	if cfg.MinScore <= 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = DefaultBatchPause
	}
	if log == nil {
		log = slog.Default()
	}
	return &Validator{
		fetcher:    f,
		cache:      cache.New[string, Result](cache.Options{TTL: cfg.CacheTTL, MaxEntries: cfg.CacheSize}),
		log:        log,
		minScore:   cfg.MinScore,
		batchSize:  cfg.BatchSize,
		batchPause: cfg.BatchPause,
	}
}

// MinScore returns the admission threshold in effect.
func (v *Validator) MinScore() int {
	return v.minScore
}

// CacheStats exposes verdict-cache effectiveness for status reporting.
func (v *Validator) CacheStats() cache.Stats {
	return v.cache.Stats()
}

// Validate fetches and scores one link. The title is the candidate's claimed
// title and is matched against the page content. Verdicts for fetched pages
// are cached by URL; fast rejections (malformed or generic URLs) are cheap
// enough to recompute and are not cached. A fetch cut short by context
// cancellation is never cached so a later run re-probes the link.
func (v *Validator) Validate(ctx context.Context, title, rawURL string) Result {
	now := time.Now().UTC()

	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{
			URL:       rawURL,
			Errors:    []string{"invalid application URL"},
			CheckedAt: now,
		}
	}
	if isGenericLanding(u) {
		return Result{
			URL:       rawURL,
			Errors:    []string{genericURLMessage},
			CheckedAt: now,
		}
	}

	if cached, ok := v.cache.Get(rawURL); ok {
		v.log.Debug("validation verdict reused",
			"url", rawURL,
			"score", cached.QualityScore,
		)
		return cached
	}

	res, err := v.fetcher.Get(ctx, rawURL)
	if err != nil {
		out := Result{
			URL:       rawURL,
			Errors:    []string{err.Error()},
			CheckedAt: now,
		}
		if ctx.Err() == nil {
			v.cache.Set(rawURL, out)
		}
		return out
	}

	out := v.assess(title, rawURL, res)
	stripped := out
	stripped.Body = nil
	v.cache.Set(rawURL, stripped)
	v.log.Debug("link validated",
		"url", rawURL,
		"status", res.Status,
		"score", out.QualityScore,
		"valid", out.Valid,
	)
	return out
}

// ValidateBatch validates targets with bounded parallelism, pausing between
// batches. Results align with targets by index. If the context is cancelled
// between batches, remaining targets are marked with the context error and
// never probed.
func (v *Validator) ValidateBatch(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))

	for start := 0; start < len(targets); start += v.batchSize {
		end := min(start+v.batchSize, len(targets))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = v.Validate(ctx, targets[i].Title, targets[i].URL)
			}(i)
		}
		wg.Wait()

		if end >= len(targets) {
			break
		}
		select {
		case <-ctx.Done():
			for i := end; i < len(targets); i++ {
				results[i] = Result{
					URL:       targets[i].URL,
					Errors:    []string{ctx.Err().Error()},
					CheckedAt: time.Now().UTC(),
				}
			}
			return results
		case <-time.After(v.batchPause):
		}
	}
	return results
}

// assess turns a fetched page into a scored Result.
func (v *Validator) assess(title, rawURL string, res *fetch.Result) Result {
	out := Result{
		URL:            rawURL,
		FinalURL:       res.FinalURL,
		Accessible:     res.Status >= 200 && res.Status < 400,
		IsSecure:       strings.HasPrefix(strings.ToLower(res.FinalURL), "https://"),
		StatusCode:     res.Status,
		ResponseTimeMs: res.Elapsed.Milliseconds(),
		CheckedAt:      time.Now().UTC(),
		Body:           res.Body,
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		out.Warnings = append(out.Warnings, "unparseable HTML body")
	} else {
		out.Content = analyzeContent(doc, res.Body, title)
		out.Accessibility = analyzeAccessibility(doc)
	}

	if res.Status >= 400 {
		out.Errors = append(out.Errors, fmt.Sprintf("HTTP %d", res.Status))
	}

	out.QualityScore = computeScore(out)
	out.Valid = out.QualityScore >= v.minScore
	metrics.ValidationScore.Observe(float64(out.QualityScore))

	if out.Accessible && !out.Content.ScholarshipRelevant {
		out.Warnings = append(out.Warnings, "low scholarship relevance")
	}
	if len(out.Content.RedFlags) > 0 {
		out.Warnings = append(out.Warnings, "red flags present: "+strings.Join(out.Content.RedFlags, ", "))
	}
	if !out.IsSecure {
		out.Warnings = append(out.Warnings, "not served over https")
	}
	return out
}

// computeScore applies the scoring table and clamps to 0..100. The content
// sub-score contributes at 15% weight, rounded half away from zero.
func computeScore(r Result) int {
	score := 0

	switch {
	case r.StatusCode == http.StatusOK:
		score += 30
	case r.StatusCode > 0 && r.StatusCode < 400:
		score += 20
	}
	if r.IsSecure {
		score += 5
	}
	if r.ResponseTimeMs < 3000 {
		score += 5
	}
	if r.Content.ScholarshipRelevant {
		score += 15
	}
	if r.Content.TitleMatches {
		score += 10
	}
	if r.Content.HasApplicationForm {
		score += 10
	}
	score += int(math.Round(float64(contentSubScore(r.Content)) * 0.15))

	if r.Accessibility.MobileCompatible {
		score += 3
	}
	if r.Accessibility.HasNavigation {
		score += 2
	}
	if r.Accessibility.HasStructuredData {
		score += 2
	}
	if r.Accessibility.HasAltText {
		score += 2
	}
	if r.Accessibility.HasHeadings {
		score += 1
	}

	return clamp(score, 0, 100)
}

// isGenericLanding rejects URLs that cannot identify a single scheme: any
// bare domain root, and the listing pages of known aggregators.
func isGenericLanding(u *url.URL) bool {
	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, agg := range aggregatorHosts {
		if host != agg && !strings.HasSuffix(host, "."+agg) {
			continue
		}
		if _, ok := aggregatorListingPaths[strings.ToLower(path)]; ok {
			return true
		}
	}
	return false
}
