// Package search implements web search with a semantic-cache front end:
// embed the query, probe the vector store, fall through to a live
// SearchProvider on miss, and write results back for next time.
package search

import (
	"context"
	"time"
)

// Freshness constrains how recent a result must be.
type Freshness int

const (
	FreshnessNone Freshness = iota
	FreshnessDay
	FreshnessWeek
	FreshnessMonth
	FreshnessYear
)

// Depth trades result quality for latency/cost.
type Depth int

const (
	DepthBasic Depth = iota
	DepthAdvanced
)

// Request describes one search call.
type Request struct {
	Query          string
	MaxResults     int
	Freshness      Freshness
	Language       string
	Country        string
	IncludeDomains []string
	ExcludeDomains []string
	SafeSearch     bool
	Depth          Depth
	SkipCache      bool
}

// Result is a single search hit.
type Result struct {
	Title         string
	URL           string
	Snippet       string
	ExtraSnippets []string
	RawContent    string
	Score         float32
	PublishedAt   time.Time
}

// Response is the outcome of one search call.
type Response struct {
	Provider  string
	FromCache bool
	Results   []Result
	Elapsed   time.Duration
}

// Capabilities declares what a SearchProvider supports, so WebSearchService
// can degrade gracefully instead of failing on an unsupported field.
type Capabilities struct {
	Freshness     bool
	Language      bool
	Country       bool
	DomainFilter  bool
	RawContent    bool
	AIAnswer      bool
	MaxResultsCap int
}

// Provider is the capability interface every search backend implements.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Search(ctx context.Context, req Request) (Response, error)
}

// StreamRotator is implemented by providers that can be told to rotate
// their outbound network identity (the scraping provider, via SOCKS5
// stream isolation). WebSearchService type-asserts for it.
type StreamRotator interface {
	Rotate()
}
