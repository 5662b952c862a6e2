package fetch

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelectors removes navigation, chrome, and ad/engagement widgets
// before content is read, so static and dynamic fetches produce identical
// output quality.
var noiseSelectors = []string{
	"nav", "header", "footer", "aside",
	".advertisement", ".ad", ".ads", ".adsbygoogle", "[data-ad]", "[data-ad-slot]",
	".cookie-banner", ".cookie-consent", ".cookie-notice",
	".popup", ".modal", "[role=dialog]",
	".social-share", ".share-buttons",
	".related-posts", ".related-articles",
	".newsletter-signup", ".newsletter",
	".comments", "#comments", ".comment-section",
	"script", "style", "noscript",
	"iframe[src*=doubleclick]", "iframe[src*=googlesyndication]",
}

// mainSelectors is tried in order to find the content root.
var mainSelectors = "main, article, [role=main], .content, .post-content, #content"

// ContentExtractor converts a parsed document into HTML, TEXT, or MARKDOWN,
// with noise removal, main-element selection, and link/image extraction.
// Shared between the static and dynamic fetch paths.
type ContentExtractor struct{}

// NewContentExtractor builds a ContentExtractor.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

// Extract runs noise removal, selects the main root, renders per format,
// and (optionally) extracts links/images, returning everything a Result
// needs beyond status/timing.
func (e *ContentExtractor) Extract(doc *goquery.Document, baseURL string, format OutputFormat, includeLinks, includeImages bool) (content, title string, links, images []string, wordCount int) {
	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(strings.Join(noiseSelectors, ", ")).Remove()

	root := e.selectMain(doc)

	switch format {
	case FormatHTML:
		content, _ = root.Html()
	case FormatMarkdown:
		content = e.toMarkdown(root, baseURL)
	default:
		content = strings.TrimSpace(root.Text())
	}

	if includeLinks {
		links = e.extractLinks(doc, baseURL)
	}
	if includeImages {
		images = e.extractImages(doc, baseURL)
	}
	wordCount = countWords(root.Text())
	return
}

func (e *ContentExtractor) selectMain(doc *goquery.Document) *goquery.Selection {
	sel := doc.Find(mainSelectors).First()
	if sel.Length() > 0 {
		return sel
	}
	sel = doc.Find("body").First()
	if sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

// extractLinks returns deduplicated, absolute URLs from every anchor with
// an href.
func (e *ContentExtractor) extractLinks(doc *goquery.Document, baseURL string) []string {
	base, _ := url.Parse(baseURL)
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := resolveAbs(base, href)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

// extractImages returns deduplicated, absolute URLs from every img src.
func (e *ContentExtractor) extractImages(doc *goquery.Document, baseURL string) []string {
	base, _ := url.Parse(baseURL)
	seen := make(map[string]struct{})
	var out []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		abs := resolveAbs(base, src)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func resolveAbs(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// toMarkdown converts a selection to markdown block-by-block per the
// conversion table in spec §4.5.
func (e *ContentExtractor) toMarkdown(root *goquery.Selection, baseURL string) string {
	base, _ := url.Parse(baseURL)
	var b strings.Builder
	root.Contents().Each(func(_ int, s *goquery.Selection) {
		e.blockToMarkdown(s, base, &b)
	})
	return strings.TrimSpace(b.String())
}

func (e *ContentExtractor) blockToMarkdown(s *goquery.Selection, base *url.URL, b *strings.Builder) {
	if s.Length() == 0 {
		return
	}
	node := goquery.NodeName(s)
	switch node {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level, _ := strconv.Atoi(strings.TrimPrefix(node, "h"))
		b.WriteString(strings.Repeat("#", level))
		b.WriteString(" ")
		b.WriteString(e.inlineToMarkdown(s, base))
		b.WriteString("\n\n")
	case "p":
		b.WriteString(e.inlineToMarkdown(s, base))
		b.WriteString("\n\n")
	case "ul":
		s.Find("li").Each(func(_ int, li *goquery.Selection) {
			b.WriteString("- ")
			b.WriteString(e.inlineToMarkdown(li, base))
			b.WriteString("\n")
		})
		b.WriteString("\n")
	case "ol":
		s.Find("li").Each(func(i int, li *goquery.Selection) {
			b.WriteString(fmt.Sprintf("%d. ", i+1))
			b.WriteString(e.inlineToMarkdown(li, base))
			b.WriteString("\n")
		})
		b.WriteString("\n")
	case "pre", "code":
		lang := guessLanguage(s)
		b.WriteString("```")
		b.WriteString(lang)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(s.Text()))
		b.WriteString("\n```\n\n")
	case "blockquote":
		b.WriteString("> ")
		b.WriteString(e.inlineToMarkdown(s, base))
		b.WriteString("\n\n")
	case "hr":
		b.WriteString("---\n\n")
	case "table":
		e.tableToMarkdown(s, base, b)
	case "dl":
		s.Find("dt").Each(func(i int, dt *goquery.Selection) {
			dd := s.Find("dd").Eq(i)
			b.WriteString("**")
			b.WriteString(strings.TrimSpace(dt.Text()))
			b.WriteString("**: ")
			b.WriteString(strings.TrimSpace(dd.Text()))
			b.WriteString("\n\n")
		})
	case "div", "section":
		s.Contents().Each(func(_ int, child *goquery.Selection) {
			e.blockToMarkdown(child, base, b)
		})
	case "#text":
		if t := strings.TrimSpace(s.Text()); t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
	default:
		if t := strings.TrimSpace(s.Text()); t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
	}
}

func (e *ContentExtractor) inlineToMarkdown(s *goquery.Selection, base *url.URL) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				b.WriteString(c.Text())
			case "a":
				href, _ := c.Attr("href")
				b.WriteString("[")
				b.WriteString(c.Text())
				b.WriteString("](")
				b.WriteString(resolveAbs(base, href))
				b.WriteString(")")
			case "strong", "b":
				b.WriteString("**")
				b.WriteString(c.Text())
				b.WriteString("**")
			case "em", "i":
				b.WriteString("*")
				b.WriteString(c.Text())
				b.WriteString("*")
			case "code":
				b.WriteString("`")
				b.WriteString(c.Text())
				b.WriteString("`")
			case "br":
				b.WriteString("\n")
			default:
				walk(c)
			}
		})
	}
	walk(s)
	return strings.TrimSpace(b.String())
}

func (e *ContentExtractor) tableToMarkdown(s *goquery.Selection, base *url.URL, b *strings.Builder) {
	rows := s.Find("tr")
	rows.Each(func(i int, row *goquery.Selection) {
		var cells []string
		row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, e.inlineToMarkdown(cell, base))
		})
		if len(cells) == 0 {
			return
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		if i == 0 {
			sep := make([]string, len(cells))
			for j := range sep {
				sep[j] = "---"
			}
			b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
		}
	})
	b.WriteString("\n")
}

func guessLanguage(s *goquery.Selection) string {
	class, _ := s.Attr("class")
	for _, prefix := range []string{"language-", "lang-"} {
		if idx := strings.Index(class, prefix); idx >= 0 {
			rest := class[idx+len(prefix):]
			if sp := strings.IndexByte(rest, ' '); sp >= 0 {
				rest = rest[:sp]
			}
			return rest
		}
	}
	return ""
}
