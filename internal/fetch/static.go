package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/proxy"
)

// maxBodyBytes caps the response body read for any single static fetch.
const maxBodyBytes = 10 * 1024 * 1024

const (
	desktopUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 noeticd/1.0"
	mobileUserAgent  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36 noeticd/1.0"
)

// ErrFetchFailed wraps a transport-level failure (timeout, DNS, non-2xx).
var ErrFetchFailed = errors.New("fetch failed")

// ProxyConfig describes an optional upstream proxy for StaticFetcher and
// (via its dial-context) the underlying browser pool.
type ProxyConfig struct {
	URL  string // e.g. http://host:port or socks5://host:port
	Type string // NONE, HTTP, SOCKS4, SOCKS5
}

// StaticFetcher performs a single HTTP GET, follows redirects, and hands
// the response to ContentExtractor, branching to a PDF extractor when the
// content-type indicates PDF.
type StaticFetcher struct {
	client    *http.Client
	extractor *ContentExtractor
	pdf       PDFExtractor
}

// PDFExtractor converts a PDF byte stream to plain text. Left as an
// interface so the concrete implementation (and its dependency) can be
// swapped without touching StaticFetcher.
type PDFExtractor interface {
	ExtractText(data []byte) (string, error)
}

// NewStaticFetcher builds a StaticFetcher. proxyCfg.Type == "" or "NONE"
// means no proxy is installed.
func NewStaticFetcher(proxyCfg ProxyConfig, insecureTLS bool, pdf PDFExtractor) (*StaticFetcher, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureTLS},
	}

	if proxyCfg.URL != "" && !strings.EqualFold(proxyCfg.Type, "NONE") {
		if err := installProxy(transport, proxyCfg); err != nil {
			return nil, fmt.Errorf("installing proxy: %w", err)
		}
	}

	return &StaticFetcher{
		client:    &http.Client{Transport: transport},
		extractor: NewContentExtractor(),
		pdf:       pdf,
	}, nil
}

func installProxy(transport *http.Transport, cfg ProxyConfig) error {
	switch strings.ToUpper(cfg.Type) {
	case "HTTP":
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return err
		}
		transport.Proxy = http.ProxyURL(u)
	case "SOCKS4", "SOCKS5":
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return err
		}
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	default:
		return fmt.Errorf("unsupported proxy type %q", cfg.Type)
	}
	return nil
}

// Name implements Fetcher.
func (f *StaticFetcher) Name() string { return "static" }

// Supports implements Fetcher; StaticFetcher handles every request.
func (f *StaticFetcher) Supports(req Request) bool { return true }

// Fetch implements Fetcher.
func (f *StaticFetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	result := Result{FetcherUsed: f.Name(), ProviderMeta: map[string]string{}}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	ua := desktopUserAgent
	if req.Mobile {
		ua = mobileUserAgent
	}
	httpReq.Header.Set("User-Agent", ua)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		result.Elapsed = time.Since(start)
		result.ProviderMeta["error"] = err.Error()
		return result, nil
	}
	defer resp.Body.Close()

	result.FinalURL = resp.Request.URL.String()
	result.StatusCode = resp.StatusCode

	limited := io.LimitReader(resp.Body, maxBodyBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		result.Elapsed = time.Since(start)
		result.ProviderMeta["error"] = err.Error()
		return result, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") && f.pdf != nil {
		text, err := f.pdf.ExtractText(body)
		if err != nil {
			result.ProviderMeta["error"] = err.Error()
		}
		result.Content = text
		result.ProviderMeta["content-type"] = "application/pdf"
		result.WordCount = countWords(text)
		result.Elapsed = time.Since(start)
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		result.ProviderMeta["error"] = err.Error()
		result.Elapsed = time.Since(start)
		return result, nil
	}

	content, title, links, images, wordCount := f.extractor.Extract(doc, result.FinalURL, req.Format, req.IncludeLinks, req.IncludeImages)
	result.Content = content
	result.Title = title
	result.Links = links
	result.Images = images
	result.WordCount = wordCount
	rawHTML, _ := doc.Html()
	result.RawHTML = rawHTML
	result.Elapsed = time.Since(start)
	return result, nil
}
