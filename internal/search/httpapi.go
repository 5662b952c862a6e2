package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// httpAPIProvider is the one abstract helper shared by every key-bearing
// SearchProvider (Brave, Serp, Tavily): it owns the HTTP client, the
// authorization header, and request/response plumbing. Each concrete
// provider supplies only its endpoint, query encoding, and response
// decoding.
type httpAPIProvider struct {
	name       string
	endpoint   string
	apiKey     string
	client     *http.Client
	buildQuery func(Request) (method string, url string, body []byte, headers map[string]string)
	parse      func([]byte) ([]Result, error)
	caps       Capabilities
}

func newHTTPAPIProvider(name, endpoint, apiKey string, caps Capabilities,
	buildQuery func(Request) (string, string, []byte, map[string]string),
	parse func([]byte) ([]Result, error),
) *httpAPIProvider {
	return &httpAPIProvider{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 15 * time.Second},
		buildQuery: buildQuery,
		parse:      parse,
		caps:       caps,
	}
}

func (p *httpAPIProvider) Name() string               { return p.name }
func (p *httpAPIProvider) Capabilities() Capabilities { return p.caps }

func (p *httpAPIProvider) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	method, url, body, headers := p.buildQuery(req)
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytesReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%s: building request: %w", p.name, err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	var raw []byte
	if raw, err = readAllLimited(resp.Body, 5*1024*1024); err != nil {
		return Response{}, fmt.Errorf("%s: reading response: %w", p.name, err)
	}

	if resp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("%s: http %d: %s", p.name, resp.StatusCode, string(raw))
	}

	results, err := p.parse(raw)
	if err != nil {
		return Response{}, fmt.Errorf("%s: parsing response: %w", p.name, err)
	}
	if req.MaxResults > 0 && len(results) > req.MaxResults {
		results = results[:req.MaxResults]
	}

	return Response{
		Provider:  p.name,
		FromCache: false,
		Results:   results,
		Elapsed:   time.Since(start),
	}, nil
}

// NewBraveProvider builds a Provider backed by the Brave Search API.
func NewBraveProvider(apiKey string) Provider {
	return newHTTPAPIProvider(
		"brave",
		"https://api.search.brave.com/res/v1/web/search",
		apiKey,
		Capabilities{Freshness: true, Language: true, Country: true, DomainFilter: true, RawContent: false, AIAnswer: false, MaxResultsCap: 20},
		func(req Request) (string, string, []byte, map[string]string) {
			url := fmt.Sprintf("%s?q=%s&count=%d", "https://api.search.brave.com/res/v1/web/search", queryEscape(req.Query), maxOr(req.MaxResults, 10))
			return http.MethodGet, url, nil, map[string]string{"X-Subscription-Token": apiKey, "Accept": "application/json"}
		},
		parseBraveResponse,
	)
}

// NewSerpProvider builds a Provider backed by a SERP-API-compatible
// aggregator.
func NewSerpProvider(apiKey string) Provider {
	return newHTTPAPIProvider(
		"serp",
		"https://serpapi.com/search",
		apiKey,
		Capabilities{Freshness: false, Language: true, Country: true, DomainFilter: false, RawContent: false, AIAnswer: false, MaxResultsCap: 20},
		func(req Request) (string, string, []byte, map[string]string) {
			url := fmt.Sprintf("https://serpapi.com/search?q=%s&num=%d&api_key=%s", queryEscape(req.Query), maxOr(req.MaxResults, 10), apiKey)
			return http.MethodGet, url, nil, map[string]string{"Accept": "application/json"}
		},
		parseSerpResponse,
	)
}

// NewTavilyProvider builds a Provider backed by the Tavily Search API,
// the only provider in this set that exposes an AI-generated answer and
// raw page content alongside links.
func NewTavilyProvider(apiKey string) Provider {
	return newHTTPAPIProvider(
		"tavily",
		"https://api.tavily.com/search",
		apiKey,
		Capabilities{Freshness: false, Language: false, Country: false, DomainFilter: true, RawContent: true, AIAnswer: true, MaxResultsCap: 20},
		func(req Request) (string, string, []byte, map[string]string) {
			payload := map[string]any{
				"api_key":             apiKey,
				"query":               req.Query,
				"max_results":         maxOr(req.MaxResults, 10),
				"include_domains":     req.IncludeDomains,
				"exclude_domains":     req.ExcludeDomains,
				"include_raw_content": true,
			}
			body, _ := json.Marshal(payload)
			return http.MethodPost, "https://api.tavily.com/search", body, map[string]string{"Content-Type": "application/json"}
		},
		parseTavilyResponse,
	)
}

func maxOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
