package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/noeticlabs/noeticd/internal/fetch"
)

// ScrapingProvider is the default, API-key-free SearchProvider: it issues
// a static HTTP GET against DuckDuckGo's HTML endpoint and parses the
// result list with goquery. Grounded on the same StaticFetcher +
// ContentExtractor machinery the fetch pipeline uses elsewhere, so the
// scraping path shares UA rotation, proxy support, and stream isolation.
type ScrapingProvider struct {
	fetcher      fetch.Fetcher
	isolator     *StreamIsolator
	logger       *zap.Logger
	baseURL      string
	requestCount atomic.Int64
}

// NewScrapingProvider builds a ScrapingProvider. isolator may be nil to
// disable stream rotation (e.g. when no SOCKS5 proxy is configured).
func NewScrapingProvider(fetcher fetch.Fetcher, isolator *StreamIsolator, logger *zap.Logger) *ScrapingProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapingProvider{
		fetcher:  fetcher,
		isolator: isolator,
		logger:   logger,
		baseURL:  "https://html.duckduckgo.com/html/",
	}
}

// Name implements Provider.
func (p *ScrapingProvider) Name() string { return "scraping" }

// Capabilities implements Provider. The HTML scrape exposes no freshness,
// language, country, or AI-answer controls and caps at one results page.
func (p *ScrapingProvider) Capabilities() Capabilities {
	return Capabilities{
		Freshness:     false,
		Language:      false,
		Country:       false,
		DomainFilter:  true,
		RawContent:    false,
		AIAnswer:      false,
		MaxResultsCap: 30,
	}
}

// Rotate implements StreamRotator: forces the next request onto a fresh
// SOCKS5 stream id, used by WebSearchService's zero-results retry.
func (p *ScrapingProvider) Rotate() {
	if p.isolator != nil {
		p.isolator.Rotate()
	}
}

// Search implements Provider.
func (p *ScrapingProvider) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if p.isolator != nil {
		count := p.requestCount.Add(1)
		p.isolator.MaybeRotateProactively(int(count))
	}

	query := req.Query
	if len(req.IncludeDomains) > 0 {
		query += " " + strings.Join(siteFilters(req.IncludeDomains), " ")
	}

	target := p.baseURL + "?q=" + url.QueryEscape(query)
	fetchReq := fetch.Request{URL: target, Format: fetch.FormatHTML}

	result, err := p.fetcher.Fetch(ctx, fetchReq)
	if err != nil {
		return Response{}, fmt.Errorf("scraping provider fetch: %w", err)
	}

	results := parseDuckDuckGoHTML(result.RawHTML, req.ExcludeDomains)
	if req.MaxResults > 0 && len(results) > req.MaxResults {
		results = results[:req.MaxResults]
	}

	return Response{
		Provider:  p.Name(),
		FromCache: false,
		Results:   results,
		Elapsed:   time.Since(start),
	}, nil
}

func siteFilters(domains []string) []string {
	out := make([]string, len(domains))
	for i, d := range domains {
		out[i] = "site:" + d
	}
	return out
}

// parseDuckDuckGoHTML extracts title/url/snippet triples from the
// DuckDuckGo HTML-lite results markup, skipping any result whose host is
// in the exclude list.
func parseDuckDuckGoHTML(html string, excludeDomains []string) []Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	excluded := make(map[string]struct{}, len(excludeDomains))
	for _, d := range excludeDomains {
		excluded[strings.ToLower(d)] = struct{}{}
	}

	var out []Result
	doc.Find(".result").Each(func(_ int, s *goquery.Selection) {
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(s.Find(".result__snippet").First().Text())

		if title == "" || href == "" {
			return
		}
		if u, err := url.Parse(href); err == nil && u.Host != "" {
			if _, skip := excluded[strings.ToLower(u.Host)]; skip {
				return
			}
		}
		out = append(out, Result{Title: title, URL: href, Snippet: snippet})
	})
	return out
}
