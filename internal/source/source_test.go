package source_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholargrid/harvester/internal/fetch"
	"github.com/scholargrid/harvester/internal/source"
)

// stubFetcher serves one canned response; adapters issue a single listing
// request per Fetch.
type stubFetcher struct {
	res    *fetch.Result
	err    error
	gotURL string
}

func (s *stubFetcher) Get(_ context.Context, url string) (*fetch.Result, error) {
	s.gotURL = url
	if s.err != nil {
		return nil, s.err
	}
	if s.res.FinalURL == "" {
		s.res.FinalURL = url
	}
	return s.res, nil
}

func htmlPage(body string) *fetch.Result {
	return &fetch.Result{Status: 200, Body: []byte(body)}
}

func builtins(t *testing.T) *source.Registry {
	t.Helper()
	r := source.NewRegistry()
	require.NoError(t, source.RegisterBuiltins(r))
	return r
}

func TestRegistry_RegisterSameKindTwice_Errors(t *testing.T) {
	r := source.NewRegistry()
	build := func(source.Options) (source.Adapter, error) { return nil, nil }

	require.NoError(t, r.Register("custom", build))
	err := r.Register("custom", build)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_UnknownKind_Errors(t *testing.T) {
	r := builtins(t)

	_, err := r.Build("rss", source.Options{SourceID: "x", Fetcher: &stubFetcher{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown adapter kind")
}

func TestRegistry_Kinds_SortedAndComplete(t *testing.T) {
	r := builtins(t)
	assert.Equal(t, []string{"buddy4study", "nsp", "ugc"}, r.Kinds())
}

func TestRegistry_Build_RequiresSourceID(t *testing.T) {
	r := builtins(t)

	_, err := r.Build(source.KindNSP, source.Options{Fetcher: &stubFetcher{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source id required")
}

func TestRegistry_Build_RequiresFetcher(t *testing.T) {
	r := builtins(t)

	_, err := r.Build(source.KindNSP, source.Options{SourceID: "nsp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher required")
}

func TestRegistry_Build_DefaultBaseURLs(t *testing.T) {
	r := builtins(t)

	for kind, want := range map[string]string{
		source.KindNSP:         "https://scholarships.gov.in",
		source.KindUGC:         "https://www.ugc.gov.in",
		source.KindBuddy4Study: "https://www.buddy4study.com",
	} {
		a, err := r.Build(kind, source.Options{SourceID: kind, Fetcher: &stubFetcher{}})
		require.NoError(t, err)
		assert.Equal(t, want, a.BaseURL(), "kind %s", kind)
		assert.Equal(t, kind, a.Identifier())
	}
}

const nspListing = `<!DOCTYPE html>
<html><body>
<div class="scheme-card">
  <h3 class="scheme-name">  Post Matric   Scholarship for SC Students </h3>
  <p class="scheme-desc">Financial assistance for post-matric studies.</p>
  <span class="eligibility">Family income below 2.5 lakh per annum</span>
  <span class="award-amount">Rs. 12,000 per annum</span>
  <span class="last-date">31/10/2025</span>
  <a href="/scheme/post-matric-sc">Apply</a>
</div>
<div class="scheme-card">
  <h3 class="scheme-name">Merit cum Means Scholarship for Minorities</h3>
  <a href="https://scholarships.gov.in/minority/mcm">Details</a>
</div>
<div class="scheme-card">
  <h3 class="scheme-name">   </h3>
  <a href="/scheme/untitled">Apply</a>
</div>
</body></html>`

func TestNSPAdapter_ExtractsListing(t *testing.T) {
	f := &stubFetcher{res: htmlPage(nspListing)}
	a, err := builtins(t).Build(source.KindNSP, source.Options{
		SourceID: "nsp",
		BaseURL:  "https://scholarships.gov.in",
		Fetcher:  f,
	})
	require.NoError(t, err)

	got, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://scholarships.gov.in/All-Scholarships", f.gotURL)

	// The whitespace-only third card is dropped.
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "Post Matric Scholarship for SC Students", first.Title)
	assert.Equal(t, "Financial assistance for post-matric studies.", first.Description)
	assert.Equal(t, "Family income below 2.5 lakh per annum", first.Eligibility)
	assert.Equal(t, "Rs. 12,000 per annum", first.Amount)
	assert.Equal(t, "31/10/2025", first.DeadlineText)
	assert.Equal(t, "/scheme/post-matric-sc", first.ApplicationURL,
		"relative links are left for the normalizer to resolve")
	assert.Equal(t, "https://scholarships.gov.in/All-Scholarships", first.SourceURL)
	assert.Equal(t, "National Scholarship Portal", first.Provider)
	assert.Equal(t, "Need-based", first.Category)

	second := got[1]
	assert.Equal(t, "Merit cum Means Scholarship for Minorities", second.Title)
	assert.Equal(t, "https://scholarships.gov.in/minority/mcm", second.ApplicationURL)
	assert.Empty(t, second.DeadlineText)
}

func TestNSPAdapter_EmptyListing_NoCandidatesNoError(t *testing.T) {
	f := &stubFetcher{res: htmlPage(`<html><body><h1>All Scholarships</h1></body></html>`)}
	a, err := builtins(t).Build(source.KindNSP, source.Options{SourceID: "nsp", Fetcher: f})
	require.NoError(t, err)

	got, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNSPAdapter_ServerError_Fails(t *testing.T) {
	f := &stubFetcher{res: &fetch.Result{Status: 503, Body: []byte("unavailable")}}
	a, err := builtins(t).Build(source.KindNSP, source.Options{SourceID: "nsp", Fetcher: f})
	require.NoError(t, err)

	_, err = a.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestNSPAdapter_FetchError_Wrapped(t *testing.T) {
	netErr := errors.New("connection refused")
	a, err := builtins(t).Build(source.KindNSP, source.Options{
		SourceID: "nsp",
		Fetcher:  &stubFetcher{err: netErr},
	})
	require.NoError(t, err)

	_, err = a.Fetch(context.Background())
	require.ErrorIs(t, err, netErr)
	assert.Contains(t, err.Error(), "nsp listing")
}

func TestUGCAdapter_ExtractsNotices(t *testing.T) {
	const listing = `<html><body>
<li class="notice-item">
  <h4 class="notice-title">Junior Research Fellowship in Sciences</h4>
  <p class="notice-summary">Fellowship for doctoral research.</p>
  <span class="last-date">15 January 2026</span>
  <a href="/jrf/apply">Apply</a>
</li>
</body></html>`

	f := &stubFetcher{res: htmlPage(listing)}
	a, err := builtins(t).Build(source.KindUGC, source.Options{
		SourceID: "ugc",
		BaseURL:  "https://www.ugc.gov.in",
		Fetcher:  f,
	})
	require.NoError(t, err)

	got, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://www.ugc.gov.in/scholarships", f.gotURL)

	require.Len(t, got, 1)
	assert.Equal(t, "Junior Research Fellowship in Sciences", got[0].Title)
	assert.Equal(t, "Fellowship for doctoral research.", got[0].Description)
	assert.Equal(t, "15 January 2026", got[0].DeadlineText)
	assert.Equal(t, "/jrf/apply", got[0].ApplicationURL)
	assert.Equal(t, "University Grants Commission", got[0].Provider)
	assert.Equal(t, "Research", got[0].Category)
}

const buddy4StudyListing = `{
  "total": 3,
  "scholarships": [
    {
      "name": "  Tata Capital Pankh Scholarship   Programme ",
      "description": "Support for students from low-income families.",
      "eligibility": "Class 11 and above, family income below 4 lakh",
      "award": "Up to Rs. 50,000",
      "deadline": "30/09/2025",
      "applicationUrl": "https://www.buddy4study.com/page/tata-capital-pankh",
      "provider": "Tata Capital",
      "category": "Need-based",
      "audience": ["SC/ST", "OBC"],
      "educationLevel": "Undergraduate"
    },
    {
      "name": "HDFC Badhte Kadam Scholarship",
      "slug": "hdfc-badhte-kadam",
      "deadline": "15/11/2025"
    },
    {
      "name": "",
      "applicationUrl": "https://www.buddy4study.com/page/untitled"
    }
  ]
}`

func TestBuddy4StudyAdapter_ExtractsJSONListing(t *testing.T) {
	f := &stubFetcher{res: &fetch.Result{Status: 200, Body: []byte(buddy4StudyListing)}}
	a, err := builtins(t).Build(source.KindBuddy4Study, source.Options{
		SourceID: "buddy4study",
		BaseURL:  "https://www.buddy4study.com",
		Fetcher:  f,
	})
	require.NoError(t, err)

	got, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://www.buddy4study.com/api/v1.0/scholarships", f.gotURL)

	// The untitled third entry is dropped.
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "Tata Capital Pankh Scholarship Programme", first.Title)
	assert.Equal(t, "Support for students from low-income families.", first.Description)
	assert.Equal(t, "Class 11 and above, family income below 4 lakh", first.Eligibility)
	assert.Equal(t, "Up to Rs. 50,000", first.Amount)
	assert.Equal(t, "30/09/2025", first.DeadlineText)
	assert.Equal(t, "https://www.buddy4study.com/page/tata-capital-pankh", first.ApplicationURL)
	assert.Equal(t, "https://www.buddy4study.com/api/v1.0/scholarships", first.SourceURL)
	assert.Equal(t, "Tata Capital", first.Provider)
	assert.Equal(t, "Need-based", first.Category)
	assert.Equal(t, []string{"SC/ST", "OBC"}, first.TargetAudience)
	assert.Equal(t, "Undergraduate", first.EducationLevel)
}

func TestBuddy4StudyAdapter_SlugBuildsDetailURL(t *testing.T) {
	f := &stubFetcher{res: &fetch.Result{Status: 200, Body: []byte(buddy4StudyListing)}}
	a, err := builtins(t).Build(source.KindBuddy4Study, source.Options{
		SourceID: "buddy4study",
		BaseURL:  "https://www.buddy4study.com",
		Fetcher:  f,
	})
	require.NoError(t, err)

	got, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	second := got[1]
	assert.Equal(t, "https://www.buddy4study.com/scholarship/hdfc-badhte-kadam", second.ApplicationURL)
	assert.Equal(t, "Buddy4Study", second.Provider, "missing provider falls back to the aggregator")
}

func TestBuddy4StudyAdapter_MissingArray_NoCandidatesNoError(t *testing.T) {
	f := &stubFetcher{res: &fetch.Result{Status: 200, Body: []byte(`{"total": 0}`)}}
	a, err := builtins(t).Build(source.KindBuddy4Study, source.Options{SourceID: "buddy4study", Fetcher: f})
	require.NoError(t, err)

	got, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuddy4StudyAdapter_HTMLBody_Fails(t *testing.T) {
	f := &stubFetcher{res: &fetch.Result{Status: 200, Body: []byte(`<html>down for maintenance</html>`)}}
	a, err := builtins(t).Build(source.KindBuddy4Study, source.Options{SourceID: "buddy4study", Fetcher: f})
	require.NoError(t, err)

	_, err = a.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}
