package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrPoolClosed is returned by Acquire once Close has run.
var ErrPoolClosed = errors.New("browser pool closed")

// browserInstance wraps one chromedp allocator/context pair.
type browserInstance struct {
	allocCtx   context.Context
	allocCancel context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	healthy    bool
}

// BrowserPool is a thread-safe, bounded pool of headless-browser
// instances. Acquire returns an available healthy browser, launches a new
// one up to capacity, or blocks up to a timeout for a release.
type BrowserPool struct {
	capacity  int
	binary    string
	proxyURL  string

	mu     sync.Mutex
	idle   []*browserInstance
	active int
	closed bool
}

// NewBrowserPool builds a pool with the given capacity (default 2) and
// optional explicit browser binary path / proxy server argument.
func NewBrowserPool(capacity int, binary, proxyURL string) *BrowserPool {
	if capacity <= 0 {
		capacity = 2
	}
	return &BrowserPool{
		capacity: capacity,
		binary:   binary,
		proxyURL: proxyURL,
	}
}

// Acquire returns a healthy browser, launching one if under capacity, or
// blocks up to timeout waiting for a release.
func (p *BrowserPool) Acquire(ctx context.Context, timeout time.Duration) (*browserInstance, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if len(p.idle) > 0 {
			b := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()
			return b, nil
		}
		if p.active < p.capacity {
			p.active++
			p.mu.Unlock()
			b, err := p.launch(ctx)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				return nil, err
			}
			return b, nil
		}
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("browser pool: acquire timed out after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(minDuration(remaining, 50*time.Millisecond)):
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// launch lazily starts a new chromium instance with stealth flags and,
// when configured, a single --proxy-server argument.
func (p *BrowserPool) launch(ctx context.Context) (*browserInstance, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if p.binary != "" {
		opts = append(opts, chromedp.ExecPath(p.binary))
	}
	if p.proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(p.proxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	return &browserInstance{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		healthy:     true,
	}, nil
}

// Release returns a browser to the pool, closing it instead when the pool
// is closed, the browser is unhealthy, or the pool is already at capacity.
func (p *BrowserPool) Release(b *browserInstance) {
	if b == nil {
		return
	}
	p.mu.Lock()
	if p.closed || !b.healthy || len(p.idle) >= p.capacity {
		p.mu.Unlock()
		p.closeInstance(b)
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, b)
	p.mu.Unlock()
}

func (p *BrowserPool) closeInstance(b *browserInstance) {
	b.cancel()
	b.allocCancel()
}

// Close drains and closes every pooled browser. Idempotent.
func (p *BrowserPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, b := range idle {
		p.closeInstance(b)
	}
	return nil
}

// DetectBrowserBinary finds a chromium/chrome binary: an explicit path
// first, then well-known macOS/Linux install locations, then `which`.
func DetectBrowserBinary(explicit string) (string, bool) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, true
		}
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	default:
		candidates = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
		}
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}
