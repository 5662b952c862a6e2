package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// stealthScript patches the handful of navigator properties sites probe to
// detect headless automation.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = { runtime: {} };
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
`

// CaptchaHook is invoked when DynamicFetcher detects a likely CAPTCHA
// challenge page. It may attempt to solve it out of band; returning false
// causes the fetch to fall through to the static fetcher.
type CaptchaHook func(ctx context.Context, pageURL, html string) bool

// DynamicFetcher renders a page with a pooled headless browser, runs any
// requested page actions, and hands the resulting DOM to ContentExtractor.
// On Chromium launch or navigation failure it falls back to a static fetch.
type DynamicFetcher struct {
	pool      *BrowserPool
	extractor *ContentExtractor
	static    Fetcher
	captcha   CaptchaHook
}

// NewDynamicFetcher builds a DynamicFetcher. static is used as a fallback
// when the browser pool or navigation fails; captcha may be nil.
func NewDynamicFetcher(pool *BrowserPool, static Fetcher, captcha CaptchaHook) *DynamicFetcher {
	return &DynamicFetcher{
		pool:      pool,
		extractor: NewContentExtractor(),
		static:    static,
		captcha:   captcha,
	}
}

// Name implements Fetcher.
func (f *DynamicFetcher) Name() string { return "dynamic" }

// Supports implements Fetcher; dynamic fetches are opt-in via RenderJS or
// an explicit action list.
func (f *DynamicFetcher) Supports(req Request) bool {
	return req.RenderJS || len(req.Actions) > 0 || req.WaitForSelector != "" || req.Screenshot
}

// Fetch implements Fetcher.
func (f *DynamicFetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	browser, err := f.pool.Acquire(ctx, 10*time.Second)
	if err != nil {
		return f.fallback(ctx, req, fmt.Sprintf("acquiring browser: %v", err))
	}
	defer f.pool.Release(browser)

	runCtx, cancel := context.WithTimeout(browser.ctx, timeout)
	defer cancel()

	var html, title, finalURL string
	var screenshot []byte

	tasks := chromedp.Tasks{
		chromedp.Evaluate(stealthScript, nil),
		chromedp.Navigate(req.URL),
	}
	if req.WaitForNetworkIdle {
		tasks = append(tasks, chromedp.Sleep(500*time.Millisecond))
	}
	if req.WaitForSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(req.WaitForSelector, chromedp.ByQuery))
	}
	for _, action := range req.Actions {
		tasks = append(tasks, actionToTask(action))
		if action.PostDelay > 0 {
			tasks = append(tasks, chromedp.Sleep(action.PostDelay))
		}
	}
	tasks = append(tasks,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if req.Screenshot {
		tasks = append(tasks, chromedp.FullScreenshot(&screenshot, 90))
	}

	if err := chromedp.Run(runCtx, tasks); err != nil {
		browser.healthy = false
		return f.fallback(ctx, req, fmt.Sprintf("navigating: %v", err))
	}

	if f.captcha != nil && looksLikeCaptcha(html) {
		if !f.captcha(ctx, req.URL, html) {
			return f.fallback(ctx, req, "captcha detected, hook declined")
		}
	}

	result := Result{
		FinalURL:    finalURL,
		Title:       title,
		RawHTML:     html,
		FetcherUsed: f.Name(),
		StatusCode:  200,
		Elapsed:     time.Since(start),
		ProviderMeta: map[string]string{},
	}
	if len(screenshot) > 0 {
		result.ScreenshotB64 = encodeScreenshot(screenshot)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		result.ProviderMeta["error"] = err.Error()
		return result, nil
	}

	content, extractedTitle, links, images, wordCount := f.extractor.Extract(doc, finalURL, req.Format, req.IncludeLinks, req.IncludeImages)
	result.Content = content
	if extractedTitle != "" {
		result.Title = extractedTitle
	}
	result.Links = links
	result.Images = images
	result.WordCount = wordCount
	return result, nil
}

func (f *DynamicFetcher) fallback(ctx context.Context, req Request, reason string) (Result, error) {
	if f.static == nil {
		return Result{FetcherUsed: f.Name(), ProviderMeta: map[string]string{"error": reason}}, nil
	}
	result, err := f.static.Fetch(ctx, req)
	if result.ProviderMeta == nil {
		result.ProviderMeta = map[string]string{}
	}
	result.ProviderMeta["dynamic-fallback-reason"] = reason
	return result, err
}

func actionToTask(a PageAction) chromedp.Action {
	switch a.Kind {
	case ActionClick:
		return chromedp.Click(a.Selector, chromedp.ByQuery)
	case ActionType:
		return chromedp.SendKeys(a.Selector, a.Value, chromedp.ByQuery)
	case ActionScroll:
		return chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", a.Pixels), nil)
	case ActionWait:
		return chromedp.Sleep(time.Duration(a.Millis) * time.Millisecond)
	case ActionWaitForSelector:
		return chromedp.WaitVisible(a.Selector, chromedp.ByQuery)
	default:
		return chromedp.Sleep(0)
	}
}

func encodeScreenshot(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// looksLikeCaptcha is a cheap heuristic, not a classifier: it flags pages
// whose markup names a known challenge provider.
func looksLikeCaptcha(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range []string{"g-recaptcha", "h-captcha", "cf-challenge", "turnstile"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
