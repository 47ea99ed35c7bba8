package heal

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// dateLayouts are the known date encodings sources use in URLs, in the
// order substitutions are attempted.
var dateLayouts = []string{
	"2006-01-02", // ISO
	"20060102",   // compact
	"2006/01/02",
	"01-02-2006",
	"02-01-2006",
}

// expand substitutes {date}, {venue}, and {race} placeholders. The
// date is rendered with the source's configured format.
func expand(tmpl string, req *Request) string {
	out := tmpl
	if req.Date != "" {
		out = strings.ReplaceAll(out, "{date}", renderDate(req.Date, req.Source.DateFormat))
	}
	if req.Venue != "" {
		out = strings.ReplaceAll(out, "{venue}", venueSlug(req.Venue))
	}
	if req.RaceNumber > 0 {
		out = strings.ReplaceAll(out, "{race}", strconv.Itoa(req.RaceNumber))
	}
	if strings.Contains(out, "{") {
		// Unfilled placeholder: the context cannot satisfy this template.
		return ""
	}
	return out
}

// renderDate re-encodes an ISO date string into the given layout.
func renderDate(isoDate, layout string) string {
	t, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return isoDate
	}
	if layout == "" {
		layout = "2006-01-02"
	}
	return t.Format(layout)
}

// venueSlug lowercases a venue name and joins words with dashes.
func venueSlug(venue string) string {
	return strings.Join(strings.Fields(strings.ToLower(venue)), "-")
}

var doubleSlash = regexp.MustCompile(`([^:/])//+`)

// PatternFix normalizes common URL malformations: duplicated slashes,
// protocol mismatches, trailing-slash inconsistencies.
type PatternFix struct{}

func (*PatternFix) Name() string { return "pattern_fix" }

func (*PatternFix) Attempt(_ context.Context, req *Request) []string {
	var out []string
	seen := map[string]bool{req.URL: true}
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	cleaned := doubleSlash.ReplaceAllString(req.URL, "$1/")
	add(cleaned)

	// Protocol swap, on the cleaned form.
	if strings.HasPrefix(cleaned, "http://") {
		add("https://" + strings.TrimPrefix(cleaned, "http://"))
	} else if strings.HasPrefix(cleaned, "https://") {
		add("http://" + strings.TrimPrefix(cleaned, "https://"))
	}

	// Trailing slash toggle.
	if strings.HasSuffix(cleaned, "/") {
		add(strings.TrimRight(cleaned, "/"))
	} else {
		add(cleaned + "/")
	}
	return out
}

// DateCorrection substitutes among known date encodings using the
// context date: if the URL contains the date in one encoding, each
// alternative encoding yields a candidate.
type DateCorrection struct{}

func (*DateCorrection) Name() string { return "date_correction" }

func (*DateCorrection) Attempt(_ context.Context, req *Request) []string {
	if req.Date == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil
	}

	var out []string
	seen := map[string]bool{req.URL: true}
	for _, fromLayout := range dateLayouts {
		from := t.Format(fromLayout)
		if !strings.Contains(req.URL, from) {
			continue
		}
		for _, toLayout := range dateLayouts {
			if toLayout == fromLayout {
				continue
			}
			candidate := strings.ReplaceAll(req.URL, from, t.Format(toLayout))
			if !seen[candidate] {
				seen[candidate] = true
				out = append(out, candidate)
			}
		}
	}
	return out
}

// ParamAdjustment rebuilds the query string from the source's
// parameter template and the request context.
type ParamAdjustment struct{}

func (*ParamAdjustment) Name() string { return "param_adjustment" }

func (*ParamAdjustment) Attempt(_ context.Context, req *Request) []string {
	if len(req.Source.ParamTemplate) == 0 {
		return nil
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" {
		parsed, err = url.Parse(req.Source.BaseURL)
		if err != nil || parsed == nil || parsed.Host == "" {
			return nil
		}
	}

	q := url.Values{}
	for param, tmpl := range req.Source.ParamTemplate {
		v := expand(tmpl, req)
		if v == "" {
			return nil
		}
		q.Set(param, v)
	}
	parsed.RawQuery = q.Encode()
	return []string{parsed.String()}
}

// HomepageCrawl fetches the source's homepage and scans its links
// against the per-source pattern set, preferring links consistent with
// the context date or venue.
type HomepageCrawl struct {
	Fetch FetchFunc
}

func (*HomepageCrawl) Name() string { return "homepage_crawl" }

func (s *HomepageCrawl) Attempt(ctx context.Context, req *Request) []string {
	if s.Fetch == nil || req.Source.Homepage == "" || len(req.Source.LinkPatterns) == 0 {
		return nil
	}

	body, err := s.Fetch(ctx, req.Source.Homepage, req.Source.Name)
	if err != nil {
		return nil
	}

	patterns := make([]*regexp.Regexp, 0, len(req.Source.LinkPatterns))
	for _, p := range req.Source.LinkPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		patterns = append(patterns, re)
	}
	if len(patterns) == 0 {
		return nil
	}

	links := extractLinks(body, req.Source.Homepage)

	var matched, contextual []string
	for _, link := range links {
		hit := false
		for _, re := range patterns {
			if re.MatchString(link) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		matched = append(matched, link)
		if linkMatchesContext(link, req) {
			contextual = append(contextual, link)
		}
	}

	// Context-consistent links first; cap the probe budget. Contextual
	// links already appear in matched, so skip them on the second pass.
	seen := make(map[string]bool, len(contextual))
	for _, link := range contextual {
		seen[link] = true
	}
	out := contextual
	for _, link := range matched {
		if seen[link] {
			continue
		}
		out = append(out, link)
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// extractLinks tokenizes HTML and resolves every <a href> against base.
func extractLinks(body []byte, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	z := html.NewTokenizer(strings.NewReader(string(body)))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.Data != "a" {
			continue
		}
		for _, attr := range tok.Attr {
			if attr.Key != "href" {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(attr.Val))
			if err != nil {
				continue
			}
			abs := baseURL.ResolveReference(ref).String()
			if !seen[abs] {
				seen[abs] = true
				links = append(links, abs)
			}
		}
	}
}

// linkMatchesContext reports whether a link mentions the context date
// (any encoding) or venue.
func linkMatchesContext(link string, req *Request) bool {
	if req.Date != "" {
		if t, err := time.Parse("2006-01-02", req.Date); err == nil {
			for _, layout := range dateLayouts {
				if strings.Contains(link, t.Format(layout)) {
					return true
				}
			}
		}
	}
	if req.Venue != "" && strings.Contains(strings.ToLower(link), venueSlug(req.Venue)) {
		return true
	}
	return false
}

// DomainSearch synthesizes candidate paths from venue and date using
// the source's known path conventions.
type DomainSearch struct{}

func (*DomainSearch) Name() string { return "domain_search" }

func (*DomainSearch) Attempt(_ context.Context, req *Request) []string {
	if req.Source.BaseURL == "" || len(req.Source.PathTemplates) == 0 {
		return nil
	}
	base := strings.TrimRight(req.Source.BaseURL, "/")

	var out []string
	for _, tmpl := range req.Source.PathTemplates {
		path := expand(tmpl, req)
		if path == "" {
			continue
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		out = append(out, base+path)
	}
	return out
}

// FallbackAPI bypasses page-based access entirely: when the source has
// a configured alternate API endpoint, the healed URL is that endpoint
// expanded with the request context.
type FallbackAPI struct{}

func (*FallbackAPI) Name() string { return "fallback_api" }

func (*FallbackAPI) Attempt(_ context.Context, req *Request) []string {
	if req.Source.APIEndpoint == "" {
		return nil
	}
	endpoint := expand(req.Source.APIEndpoint, req)
	if endpoint == "" {
		return nil
	}
	return []string{endpoint}
}
