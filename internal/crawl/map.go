package crawl

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/noeticlabs/noeticd/internal/fetch"
)

// MapOptions bounds a MapService.Discover call.
type MapOptions struct {
	MaxURLs    int
	MaxDepth   int
	PathFilter *regexp.Regexp
}

// MapService discovers same-domain URLs via breadth-first link traversal,
// as an alternative to sitemap discovery for sites without one.
type MapService struct {
	fetcher fetch.Fetcher
	logger  *zap.Logger
}

// NewMapService builds a MapService backed by the given fetcher (typically
// the resolver's static fetcher, since link discovery only needs raw HTML).
func NewMapService(fetcher fetch.Fetcher, logger *zap.Logger) *MapService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapService{fetcher: fetcher, logger: logger}
}

// queueEntry pairs a URL with the depth at which it was discovered.
type queueEntry struct {
	url   string
	depth int
}

// Discover runs a same-domain BFS from seedURL, returning up to
// opts.MaxURLs page URLs bounded to opts.MaxDepth hops from the seed.
func (m *MapService) Discover(ctx context.Context, seedURL string, opts MapOptions) ([]string, error) {
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = 100
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}

	seed, err := url.Parse(seedURL)
	if err != nil {
		return nil, err
	}
	rootHost := seed.Hostname()

	visited := map[string]struct{}{seedURL: {}}
	queue := []queueEntry{{url: seedURL, depth: 0}}
	var out []string

	for len(queue) > 0 && len(out) < opts.MaxURLs {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		entry := queue[0]
		queue = queue[1:]

		if opts.PathFilter == nil || opts.PathFilter.MatchString(entry.url) {
			out = append(out, entry.url)
		}
		if entry.depth >= opts.MaxDepth {
			continue
		}

		result, err := m.fetcher.Fetch(ctx, fetch.Request{URL: entry.url, IncludeLinks: true})
		if err != nil {
			m.logger.Debug("map: fetch failed, skipping link discovery", zap.String("url", entry.url), zap.Error(err))
			continue
		}

		for _, link := range result.Links {
			normalized := normalizeLink(entry.url, link)
			if normalized == "" {
				continue
			}
			if !sameHost(normalized, rootHost) {
				continue
			}
			if _, seen := visited[normalized]; seen {
				continue
			}
			visited[normalized] = struct{}{}
			queue = append(queue, queueEntry{url: normalized, depth: entry.depth + 1})
		}
	}

	if len(out) > opts.MaxURLs {
		out = out[:opts.MaxURLs]
	}
	return out, nil
}

func normalizeLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	resolved, err := baseURL.Parse(href)
	if err != nil {
		return ""
	}
	resolved.Fragment = ""
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	s := resolved.String()
	return strings.TrimSuffix(s, "/")
}

func sameHost(rawURL, host string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), host)
}
