package source

// National Scholarship Portal: the central government portal listing every
// live centrally sponsored scheme. Server-rendered HTML, no API.

const (
	nspDefaultBaseURL = "https://scholarships.gov.in"
	nspProvider       = "National Scholarship Portal"
)

func newNSPAdapter(opts Options) (Adapter, error) {
	base := opts.BaseURL
	if base == "" {
		base = nspDefaultBaseURL
	}
	return &htmlAdapter{
		id:       opts.SourceID,
		baseURL:  base,
		provider: nspProvider,
		rules: selectorRules{
			listingPath: "/All-Scholarships",
			// The portal has shipped both card and table layouts.
			item:            ".scheme-card, .scholarship-card, table.scheme-table tbody tr",
			title:           ".scheme-name, .card-title, td.scheme-name, h3",
			link:            "a[href]",
			description:     ".scheme-desc, .card-text, td.description",
			eligibility:     ".eligibility, td.eligibility",
			amount:          ".award-amount, td.amount",
			deadline:        ".last-date, .closing-date, td.last-date",
			defaultCategory: "Need-based",
		},
		fetcher: opts.Fetcher,
		log:     opts.Log,
	}, nil
}
