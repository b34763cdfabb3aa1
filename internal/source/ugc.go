package source

// University Grants Commission: scholarship and fellowship notices for
// higher education. Same server-rendered shape as NSP, different selectors.

const (
	ugcDefaultBaseURL = "https://www.ugc.gov.in"
	ugcProvider       = "University Grants Commission"
)

func newUGCAdapter(opts Options) (Adapter, error) {
	base := opts.BaseURL
	if base == "" {
		base = ugcDefaultBaseURL
	}
	return &htmlAdapter{
		id:       opts.SourceID,
		baseURL:  base,
		provider: ugcProvider,
		rules: selectorRules{
			listingPath:     "/scholarships",
			item:            ".notice-item, .scholarship-listing li, table.notices tbody tr",
			title:           ".notice-title, .title, td:first-child, h4",
			link:            "a[href]",
			description:     ".notice-summary, .summary, p",
			eligibility:     ".eligibility",
			amount:          ".fellowship-amount, .amount",
			deadline:        ".last-date, .deadline",
			defaultCategory: "Research",
		},
		fetcher: opts.Fetcher,
		log:     opts.Log,
	}, nil
}
