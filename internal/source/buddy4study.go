package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/scholargrid/harvester/internal/domain"
	"github.com/scholargrid/harvester/internal/normalize"
)

// Buddy4Study: the largest private aggregator. Unlike the government
// portals it exposes a JSON listing endpoint, so extraction works on the
// response body directly instead of rendered markup.

const (
	buddy4StudyDefaultBaseURL = "https://www.buddy4study.com"
	buddy4StudyListingPath    = "/api/v1.0/scholarships"
	buddy4StudyProvider       = "Buddy4Study"
)

type buddy4StudyAdapter struct {
	id      string
	baseURL string
	fetcher Fetcher
	log     *slog.Logger
}

func newBuddy4StudyAdapter(opts Options) (Adapter, error) {
	base := opts.BaseURL
	if base == "" {
		base = buddy4StudyDefaultBaseURL
	}
	return &buddy4StudyAdapter{
		id:      opts.SourceID,
		baseURL: base,
		fetcher: opts.Fetcher,
		log:     opts.Log,
	}, nil
}

func (a *buddy4StudyAdapter) Identifier() string { return a.id }

func (a *buddy4StudyAdapter) BaseURL() string { return a.baseURL }

func (a *buddy4StudyAdapter) Fetch(ctx context.Context) ([]domain.CandidateRecord, error) {
	listing := a.baseURL + buddy4StudyListingPath

	res, err := a.fetcher.Get(ctx, listing)
	if err != nil {
		return nil, fmt.Errorf("%s listing: %w", a.id, err)
	}
	if res.Status != http.StatusOK {
		return nil, fmt.Errorf("%s listing: HTTP %d", a.id, res.Status)
	}
	if !gjson.ValidBytes(res.Body) {
		return nil, fmt.Errorf("%s listing: response is not valid JSON", a.id)
	}

	var out []domain.CandidateRecord
	for _, item := range gjson.GetBytes(res.Body, "scholarships").Array() {
		title := normalize.Collapse(item.Get("name").String())
		if title == "" {
			continue
		}

		appURL := item.Get("applicationUrl").String()
		if appURL == "" {
			// Detail pages live under a stable slug path.
			if slug := item.Get("slug").String(); slug != "" {
				appURL = a.baseURL + "/scholarship/" + slug
			}
		}

		provider := normalize.Collapse(item.Get("provider").String())
		if provider == "" {
			provider = buddy4StudyProvider
		}

		var audience []string
		for _, aud := range item.Get("audience").Array() {
			audience = append(audience, aud.String())
		}

		out = append(out, domain.CandidateRecord{
			Title:          title,
			Description:    normalize.Collapse(item.Get("description").String()),
			Eligibility:    normalize.Collapse(item.Get("eligibility").String()),
			Amount:         normalize.Collapse(item.Get("award").String()),
			DeadlineText:   normalize.Collapse(item.Get("deadline").String()),
			ApplicationURL: appURL,
			SourceURL:      listing,
			Provider:       provider,
			Category:       item.Get("category").String(),
			TargetAudience: audience,
			EducationLevel: item.Get("educationLevel").String(),
		})
	}

	a.log.Debug("listing extracted",
		"source_id", a.id,
		"url", listing,
		"candidates", len(out),
	)
	return out, nil
}
