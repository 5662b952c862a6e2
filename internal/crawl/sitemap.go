// Package crawl implements sitemap discovery, same-domain BFS mapping,
// and rate-limited batch crawling with async job tracking (spec.md
// §4.8-4.9).
package crawl

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
)

const maxSitemapDepth = 3

// urlset is the leaf sitemap format: a flat list of page URLs.
type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// sitemapIndex is the recursive sitemap format: a list of child sitemaps.
type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// SitemapParser discovers page URLs for a domain via robots.txt Sitemap
// directives, falling back to conventional sitemap paths, and recurses
// through sitemap indexes bounded to maxSitemapDepth.
type SitemapParser struct {
	client *http.Client
}

// NewSitemapParser builds a SitemapParser with the given HTTP timeout.
func NewSitemapParser(timeout time.Duration) *SitemapParser {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SitemapParser{client: &http.Client{Timeout: timeout}}
}

// Discover returns up to maxURLs page URLs for domain, optionally filtered
// by pathFilter (a regexp matched against the URL path+query).
func (p *SitemapParser) Discover(ctx context.Context, domain string, maxURLs int, pathFilter *regexp.Regexp) ([]string, error) {
	sitemapURLs := p.sitemapsFromRobots(ctx, domain)
	if len(sitemapURLs) == 0 {
		sitemapURLs = []string{
			fmt.Sprintf("https://%s/sitemap.xml", domain),
			fmt.Sprintf("https://%s/sitemap_index.xml", domain),
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, sm := range sitemapURLs {
		p.collect(ctx, sm, 0, pathFilter, seen, &out, maxURLs)
		if maxURLs > 0 && len(out) >= maxURLs {
			break
		}
	}
	if maxURLs > 0 && len(out) > maxURLs {
		out = out[:maxURLs]
	}
	return out, nil
}

func (p *SitemapParser) sitemapsFromRobots(ctx context.Context, domain string) []string {
	body, err := p.get(ctx, fmt.Sprintf("https://%s/robots.txt", domain))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil || data == nil {
		return extractSitemapDirectives(body)
	}
	if len(data.Sitemaps) > 0 {
		return data.Sitemaps
	}
	return extractSitemapDirectives(body)
}

// extractSitemapDirectives is a fallback for robots.txt bodies robotstxt
// parses without populating Sitemaps (some variants are lenient about
// case or spacing); a straightforward line scan never hurts.
func extractSitemapDirectives(body []byte) []string {
	var out []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			out = append(out, strings.TrimSpace(line[len("sitemap:"):]))
		}
	}
	return out
}

func (p *SitemapParser) collect(ctx context.Context, sitemapURL string, depth int, pathFilter *regexp.Regexp, seen map[string]struct{}, out *[]string, maxURLs int) {
	if depth > maxSitemapDepth {
		return
	}
	if maxURLs > 0 && len(*out) >= maxURLs {
		return
	}
	body, err := p.get(ctx, sitemapURL)
	if err != nil {
		return
	}

	var set urlset
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		for _, u := range set.URLs {
			if pathFilter != nil && !pathFilter.MatchString(u.Loc) {
				continue
			}
			if _, dup := seen[u.Loc]; dup {
				continue
			}
			seen[u.Loc] = struct{}{}
			*out = append(*out, u.Loc)
			if maxURLs > 0 && len(*out) >= maxURLs {
				return
			}
		}
		return
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err == nil && len(idx.Sitemaps) > 0 {
		for _, sm := range idx.Sitemaps {
			p.collect(ctx, sm.Loc, depth+1, pathFilter, seen, out, maxURLs)
			if maxURLs > 0 && len(*out) >= maxURLs {
				return
			}
		}
	}
}

func (p *SitemapParser) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching %s: http %d", target, resp.StatusCode)
	}
	return readAllLimited(resp.Body, 5*1024*1024)
}

// readAllLimited reads at most limit bytes from r, erroring if the body
// runs longer (guards against unbounded sitemap/robots.txt responses).
func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response exceeds %d byte limit", limit)
	}
	return body, nil
}
