package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/errgroup"
)

// Page is a fetched web page reduced to markdown.
type Page struct {
	URL      string
	Title    string
	Markdown string
	Images   []types.ImageResult
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Page, error)
}

const maxPageImages = 8

// ParsePage extracts the title, the content images and a markdown rendering of
// the readable part of an HTML document.
func ParsePage(pageURL, rawHTML string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Page{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := Page{URL: pageURL}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		page.Title = strings.TrimSpace(og)
	} else {
		page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool)
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(page.Images) >= maxPageImages {
			return false
		}
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") || strings.HasSuffix(strings.ToLower(src), ".svg") {
			return true
		}
		if base != nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		if seen[src] {
			return true
		}
		seen[src] = true
		alt, _ := s.Attr("alt")
		page.Images = append(page.Images, types.ImageResult{URL: src, Description: strings.TrimSpace(alt)})
		return true
	})

	doc.Find("script, style, noscript, nav, header, footer, aside, form, iframe").Remove()
	content := doc.Find("article").First()
	if content.Length() == 0 {
		content = doc.Find("main").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	body, err := content.Html()
	if err != nil {
		return Page{}, fmt.Errorf("failed to render content: %w", err)
	}
	markdown, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return Page{}, fmt.Errorf("failed to convert to markdown: %w", err)
	}
	page.Markdown = strings.TrimSpace(markdown)
	return page, nil
}

// =============================================================================
// HTTP FETCHER
// =============================================================================

// HTTPFetcher downloads pages with a plain GET.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a plain HTTP fetcher.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	c := newHTTPClient("crawler", timeout, userAgent)
	return &HTTPFetcher{client: c.client, userAgent: c.userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return Page{}, fmt.Errorf("unsupported content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20)) // 2MB limit
	if err != nil {
		return Page{}, err
	}
	return ParsePage(pageURL, string(body))
}

// =============================================================================
// BROWSER FETCHER
// =============================================================================

// BrowserFetcher renders pages in headless Chrome for sites that build their
// content with JavaScript.
type BrowserFetcher struct {
	browser *rod.Browser
	timeout time.Duration
}

// NewBrowserFetcher launches (or downloads) a headless Chrome and connects to it.
func NewBrowserFetcher(ctx context.Context, timeout time.Duration) (*BrowserFetcher, error) {
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logging.Search("Headless browser ready for crawling")
	return &BrowserFetcher{browser: browser, timeout: timeout}, nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	page, err := f.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return Page{}, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	p := page.Context(ctx).Timeout(f.timeout)
	if err := p.Navigate(pageURL); err != nil {
		return Page{}, fmt.Errorf("navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("wait load: %w", err)
	}
	rendered, err := p.HTML()
	if err != nil {
		return Page{}, fmt.Errorf("read html: %w", err)
	}
	return ParsePage(pageURL, rendered)
}

// Close shuts the browser down.
func (f *BrowserFetcher) Close() error {
	return f.browser.Close()
}

// =============================================================================
// CRAWLER
// =============================================================================

// Crawler fetches the top result pages of a search to replace snippets with
// full page text and to harvest images.
type Crawler struct {
	fetcher  Fetcher
	maxPages int
	maxChars int
	blocked  []string
}

// NewCrawler creates a crawler. maxPages caps fetches per search; maxChars caps
// the stored text per page.
func NewCrawler(fetcher Fetcher, maxPages, maxChars int, blockedDomains []string) *Crawler {
	if maxPages <= 0 {
		maxPages = 3
	}
	return &Crawler{fetcher: fetcher, maxPages: maxPages, maxChars: maxChars, blocked: blockedDomains}
}

func (c *Crawler) allowed(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.blocked {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return false
		}
	}
	return true
}

// Enrich fetches up to maxPages results that have no page content yet. A fetch
// failure keeps the snippet.
func (c *Crawler) Enrich(ctx context.Context, results []types.SearchResult) []types.SearchResult {
	out := copyResults(results)

	var targets []int
	for i, r := range out {
		if len(targets) >= c.maxPages {
			break
		}
		if strings.TrimSpace(r.Content) == "" && c.allowed(r.URL) {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxPages)
	for _, idx := range targets {
		idx := idx
		g.Go(func() error {
			page, err := c.fetcher.Fetch(gctx, out[idx].URL)
			if err != nil {
				logging.SearchDebug("crawl %s failed: %v", out[idx].URL, err)
				return nil
			}
			text := page.Markdown
			if c.maxChars > 0 && len(text) > c.maxChars {
				text = text[:c.maxChars]
			}
			mu.Lock()
			defer mu.Unlock()
			out[idx].Content = text
			if out[idx].Title == "" {
				out[idx].Title = page.Title
			}
			out[idx].Images = append(out[idx].Images, page.Images...)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// CrawlingProvider runs a crawler over every search result set.
type CrawlingProvider struct {
	next    types.SearchProvider
	crawler *Crawler
}

// NewCrawling decorates next with crawler.
func NewCrawling(next types.SearchProvider, crawler *Crawler) *CrawlingProvider {
	return &CrawlingProvider{next: next, crawler: crawler}
}

func (p *CrawlingProvider) Name() string { return p.next.Name() }

func (p *CrawlingProvider) Search(ctx context.Context, query string, maxResults int, scope string) ([]types.SearchResult, error) {
	results, err := p.next.Search(ctx, query, maxResults, scope)
	if err != nil {
		return nil, err
	}
	return p.crawler.Enrich(ctx, results), nil
}
