package validate

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// scholarshipKeywords is the vocabulary a genuine scholarship page is
// expected to use. Matching is case-insensitive substring search over the
// visible page text; each keyword counts once no matter how often it
// appears.
var scholarshipKeywords = []string{
	"scholarship", "fellowship", "grant", "bursary", "financial aid",
	"education funding", "student assistance", "academic award",
	"application form", "apply now", "eligibility", "criteria",
	"deadline", "submit", "register", "enrollment",
}

// redFlagMarkers indicate a dead, expired or placeholder page. A single hit
// disqualifies the page from being scholarship-relevant and costs 15 content
// points per marker.
var redFlagMarkers = []string{
	"page not found", "404", "error", "expired", "closed", "maintenance",
	"temporarily unavailable", "access denied", "under construction",
	"coming soon", "invalid request",
}

var contactKeywords = []string{
	"contact", "email", "phone", "helpline", "support", "address",
}

var deadlineKeywords = []string{
	"deadline", "last date", "closing date", "apply by", "due date",
}

var applyActionPattern = regexp.MustCompile(`(?i)\b(apply|register|application)\b`)

// ContentAnalysis holds the per-page content checks that feed the quality
// score.
type ContentAnalysis struct {
	ScholarshipRelevant bool     `json:"scholarshipRelevant"`
	TitleMatches        bool     `json:"titleMatches"`
	HasApplicationForm  bool     `json:"hasApplicationForm"`
	HasContactInfo      bool     `json:"hasContactInfo"`
	HasDeadlineInfo     bool     `json:"hasDeadlineInfo"`
	KeywordMatches      int      `json:"keywordMatches"`
	RedFlags            []string `json:"redFlags,omitempty"`
	BodyLength          int      `json:"bodyLength"`
}

// Accessibility holds the structural page checks. They contribute small
// bonuses on top of the content score.
type Accessibility struct {
	MobileCompatible  bool `json:"mobileCompatible"`
	HasNavigation     bool `json:"hasNavigation"`
	HasStructuredData bool `json:"hasStructuredData"`
	HasAltText        bool `json:"hasAltText"`
	HasHeadings       bool `json:"hasHeadings"`
}

// analyzeContent runs the keyword, red-flag, title and form checks against a
// parsed document. The title is the candidate's title, not the page's; title
// matching asks whether the page actually talks about the scholarship the
// adapter claims it does.
func analyzeContent(doc *goquery.Document, body []byte, title string) ContentAnalysis {
	text := strings.ToLower(visibleText(body))
	keywords := countDistinctKeywords(text)
	flags := findRedFlags(text)

	return ContentAnalysis{
		ScholarshipRelevant: keywords >= 3 && len(flags) == 0,
		TitleMatches:        titleTokensMatch(title, text),
		HasApplicationForm:  hasApplicationForm(doc),
		HasContactInfo:      containsAny(text, contactKeywords),
		HasDeadlineInfo:     containsAny(text, deadlineKeywords),
		KeywordMatches:      keywords,
		RedFlags:            flags,
		BodyLength:          len(body),
	}
}

// analyzeAccessibility inspects document structure. Pages without any images
// pass the alt-text check; the majority rule applies only when images exist.
func analyzeAccessibility(doc *goquery.Document) Accessibility {
	imgs := doc.Find("img")
	withAlt := 0
	imgs.Each(func(_ int, s *goquery.Selection) {
		if alt, ok := s.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
			withAlt++
		}
	})
	altOK := true
	if n := imgs.Length(); n > 0 {
		altOK = float64(withAlt)/float64(n) > 0.5
	}

	return Accessibility{
		MobileCompatible:  doc.Find(`meta[name='viewport']`).Length() > 0,
		HasNavigation:     doc.Find(`nav, [role='navigation']`).Length() > 0,
		HasStructuredData: doc.Find(`script[type='application/ld+json'], [itemscope]`).Length() > 0,
		HasAltText:        altOK,
		HasHeadings:       doc.Find("h1, h2, h3").Length() > 0,
	}
}

func countDistinctKeywords(text string) int {
	n := 0
	for _, kw := range scholarshipKeywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func findRedFlags(text string) []string {
	var flags []string
	for _, marker := range redFlagMarkers {
		if strings.Contains(text, marker) {
			flags = append(flags, marker)
		}
	}
	return flags
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// titleTokensMatch reports whether at least 60% of the candidate title's
// tokens longer than three characters appear in the page text. Short tokens
// (articles, years abbreviated, scheme acronyms) carry too little signal to
// count either way.
func titleTokensMatch(title, text string) bool {
	var eligible, matched int
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		if len(tok) <= 3 {
			continue
		}
		eligible++
		if strings.Contains(text, tok) {
			matched++
		}
	}
	if eligible == 0 {
		return false
	}
	return float64(matched)/float64(eligible) >= 0.6
}

// hasApplicationForm reports a form element or any link/button whose text
// suggests an application action.
func hasApplicationForm(doc *goquery.Document) bool {
	if doc.Find("form").Length() > 0 {
		return true
	}
	found := false
	doc.Find("a, button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if applyActionPattern.MatchString(s.Text()) {
			found = true
			return false
		}
		return true
	})
	return found
}

// contentSubScore computes the 0..100 content quality sub-score. It feeds
// the total at 15% weight.
func contentSubScore(c ContentAnalysis) int {
	score := 0
	if c.BodyLength > 500 {
		score += 10
	}
	if c.BodyLength > 1000 {
		score += 10
	}
	switch {
	case c.KeywordMatches >= 5:
		score += 20
	case c.KeywordMatches >= 3:
		score += 10
	}
	if c.HasApplicationForm {
		score += 15
	}
	if c.HasContactInfo {
		score += 10
	}
	if c.HasDeadlineInfo {
		score += 10
	}
	score -= 15 * len(c.RedFlags)
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
