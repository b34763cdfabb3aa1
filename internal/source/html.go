package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/normalize"
)

// selectorRules describes how to pull candidate fields out of one site's
// listing markup. The selectors are deliberately tolerant: government
// portals restyle often, so each field tries a few known shapes and takes
// the first hit.
type selectorRules struct {
	listingPath string
	item        string
	title       string
	link        string
	description string
	eligibility string
	amount      string
	deadline    string

	// defaultCategory is stamped on every extracted candidate. Listing
	// pages rarely expose a machine-readable category.
	defaultCategory string
}

// htmlAdapter extracts candidates from a server-rendered HTML listing.
// Relative application links are left as extracted; the normalizer resolves
// them against BaseURL.
type htmlAdapter struct {
	id       string
	baseURL  string
	provider string
	rules    selectorRules
	fetcher  Fetcher
	log      *slog.Logger
}

func (a *htmlAdapter) Identifier() string { return a.id }

func (a *htmlAdapter) BaseURL() string { return a.baseURL }

func (a *htmlAdapter) Fetch(ctx context.Context) ([]domain.CandidateRecord, error) {
	listing := a.baseURL + a.rules.listingPath

	res, err := a.fetcher.Get(ctx, listing)
	if err != nil {
		return nil, fmt.Errorf("%s listing: %w", a.id, err)
	}
	if res.Status != http.StatusOK {
		return nil, fmt.Errorf("%s listing: HTTP %d", a.id, res.Status)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("%s listing: parse: %w", a.id, err)
	}

	var out []domain.CandidateRecord
	doc.Find(a.rules.item).Each(func(_ int, item *goquery.Selection) {
		title := normalize.Collapse(item.Find(a.rules.title).First().Text())
		if title == "" {
			return
		}
		href, _ := item.Find(a.rules.link).First().Attr("href")
		out = append(out, domain.CandidateRecord{
			Title:          title,
			Description:    normalize.Collapse(item.Find(a.rules.description).First().Text()),
			Eligibility:    normalize.Collapse(item.Find(a.rules.eligibility).First().Text()),
			Amount:         normalize.Collapse(item.Find(a.rules.amount).First().Text()),
			DeadlineText:   normalize.Collapse(item.Find(a.rules.deadline).First().Text()),
			ApplicationURL: strings.TrimSpace(href),
			SourceURL:      listing,
			Provider:       a.provider,
			Category:       a.rules.defaultCategory,
		})
	})

	a.log.Debug("listing extracted",
		"source_id", a.id,
		"url", listing,
		"candidates", len(out),
	)
	return out, nil
}
