package sources

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/ingest"
	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/internal/settings"
	"github.com/combiphar/corpus/pkg/models"
)

const (
	defaultWebsite     = "https://www.combiphar.com"
	defaultPageLimit   = 200
	firstPartyPagesAPI = "/back/api/v1/pages"

	// maxPageBytes caps a single page body.
	maxPageBytes = 10 << 20
)

// SiteSource resolves the crawl site list at run time.
type SiteSource interface {
	StringList(ctx context.Context, key string) []string
}

// Website crawls the configured public sites and ingests each page as a
// text document, keyed by url and guarded by a content hash so unchanged
// pages are not re-embedded.
type Website struct {
	cfg      config.CrawlerConfig
	catalog  Catalog
	vectors  VectorIndex
	blobs    Blobs
	pipeline Ingestor
	sites    SiteSource
	client   *http.Client
	logger   zerolog.Logger
}

// NewWebsite wires a website adapter. sites may be nil, leaving only the
// sites file and the built-in default.
func NewWebsite(cfg config.CrawlerConfig, catalog Catalog, vectors VectorIndex, blobs Blobs, pipeline Ingestor, sites SiteSource) *Website {
	return &Website{
		cfg:      cfg,
		catalog:  catalog,
		vectors:  vectors,
		blobs:    blobs,
		pipeline: pipeline,
		sites:    sites,
		client:   &http.Client{},
		logger:   observability.Logger("website"),
	}
}

// pageRef is one crawl candidate. Title and Locale are only known up
// front for pages discovered through the first-party pages API.
type pageRef struct {
	URL    string
	Title  string
	Locale string
}

// Sync crawls every configured site. Site and page failures are reported
// and counted, never fatal for the run.
func (w *Website) Sync(ctx context.Context, rep Reporter) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	for _, site := range w.websites(ctx) {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		w.syncSite(ctx, rep, summary, site)
	}

	summary.Duration = time.Since(start)
	w.logger.Info().
		Int("processed", summary.Processed).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("website sync finished")
	return summary, nil
}

// websites resolves the site list: the configured sites file wins, then
// the runtime setting, then the built-in default.
func (w *Website) websites(ctx context.Context) []string {
	if w.cfg.SitesFile != "" {
		list, err := LoadSites(w.cfg.SitesFile)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", w.cfg.SitesFile).Msg("could not load sites file")
		} else if len(list) > 0 {
			return list
		}
	}
	if w.sites != nil {
		if list := w.sites.StringList(ctx, settings.KeyWebsites); len(list) > 0 {
			return list
		}
	}
	return []string{defaultWebsite}
}

// syncSite discovers and reconciles the pages of one site.
func (w *Website) syncSite(ctx context.Context, rep Reporter, summary *Summary, rawSite string) {
	base, err := url.Parse(strings.TrimSpace(rawSite))
	if err != nil || base.Host == "" {
		summary.Failed++
		report(ctx, rep, websiteDetail(rawSite, pageRef{URL: rawSite}, nil,
			models.NewError(models.ErrBadInput, "website entry is not an absolute url").WithDetails("site", rawSite)))
		return
	}
	site := base.Scheme + "://" + base.Host

	limit := w.cfg.MaxPagesPerSite
	if limit <= 0 {
		limit = defaultPageLimit
	}

	pages, err := w.discover(ctx, base, limit)
	if err != nil {
		summary.Failed++
		report(ctx, rep, websiteDetail(site, pageRef{URL: site}, nil,
			models.Wrap(models.ErrUpstream, "site discovery failed", err)))
		return
	}
	if len(pages) == 0 {
		pages = []pageRef{{URL: base.String()}}
	}

	examined := 0
	for _, page := range pages {
		if examined >= limit || ctx.Err() != nil {
			break
		}
		if w.syncPage(ctx, rep, summary, site, page) {
			examined++
		}
	}

	observability.LogEvent(w.logger, observability.EventCrawlCompleted, map[string]interface{}{
		"site":       site,
		"candidates": len(pages),
		"pages":      examined,
	})
}

// discover lists crawl candidates for one site. The first-party host is
// enumerated through its pages API; other hosts get their sitemap, then a
// same-host link crawl, capped at twice the page limit.
func (w *Website) discover(ctx context.Context, base *url.URL, limit int) ([]pageRef, error) {
	if isFirstParty(base.Host) {
		return w.firstPartyPages(ctx, base)
	}

	maxURLs := limit * 2
	urls := w.sitemapURLs(ctx, base, maxURLs)
	if len(urls) == 0 {
		urls = w.crawlURLs(ctx, base, maxURLs)
	}

	pages := make([]pageRef, 0, len(urls))
	for _, u := range urls {
		pages = append(pages, pageRef{URL: u})
	}
	return pages, nil
}

// isFirstParty reports whether host belongs to the first-party domain,
// which exposes the pages API.
func isFirstParty(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "combiphar.com" || strings.HasSuffix(host, ".combiphar.com")
}

// firstPartyPages enumerates published pages per locale through the pages
// API. Page urls follow the site's <locale>/<slug> route scheme.
func (w *Website) firstPartyPages(ctx context.Context, base *url.URL) ([]pageRef, error) {
	endpoint := base.Scheme + "://" + base.Host + firstPartyPagesAPI

	body, _, err := w.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data struct {
			Pages struct {
				Data []struct {
					TranslatedLocales map[string]struct {
						Slug  string `json:"slug"`
						Title string `json:"title"`
					} `json:"translated_locales"`
				} `json:"data"`
			} `json:"pages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse pages api response: %w", err)
	}

	var pages []pageRef
	for _, entry := range payload.Data.Pages.Data {
		for locale, page := range entry.TranslatedLocales {
			slug := strings.Trim(page.Slug, "/")
			pages = append(pages, pageRef{
				URL:    fmt.Sprintf("%s://%s/%s/%s", base.Scheme, base.Host, locale, slug),
				Title:  page.Title,
				Locale: locale,
			})
		}
	}
	return pages, nil
}

// sitemapURLs reads /sitemap.xml, following one level of sitemap index
// nesting, and returns same-host page entries up to maxURLs.
func (w *Website) sitemapURLs(ctx context.Context, base *url.URL, maxURLs int) []string {
	body, _, err := w.get(ctx, base.Scheme+"://"+base.Host+"/sitemap.xml", "application/xml")
	if err != nil {
		w.logger.Debug().Err(err).Str("site", base.Host).Msg("no sitemap")
		return nil
	}

	urls, children := parseSitemap(body)
	for _, child := range children {
		if len(urls) >= maxURLs {
			break
		}
		childBody, _, err := w.get(ctx, child, "application/xml")
		if err != nil {
			continue
		}
		childURLs, _ := parseSitemap(childBody)
		urls = append(urls, childURLs...)
	}

	out := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, raw := range urls {
		if len(out) >= maxURLs {
			break
		}
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || !sameHost(u.Host, base.Host) || skipExtension(u.Path) {
			continue
		}
		link := canonicalLink(u)
		if !seen[link] {
			seen[link] = true
			out = append(out, link)
		}
	}
	return out
}

// parseSitemap handles both urlset and sitemapindex documents.
func parseSitemap(body []byte) (urls, children []string) {
	var set struct {
		XMLName xml.Name `xml:"urlset"`
		URLs    []struct {
			Loc string `xml:"loc"`
		} `xml:"url"`
	}
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		for _, u := range set.URLs {
			urls = append(urls, strings.TrimSpace(u.Loc))
		}
		return urls, nil
	}

	var index struct {
		XMLName  xml.Name `xml:"sitemapindex"`
		Sitemaps []struct {
			Loc string `xml:"loc"`
		} `xml:"sitemap"`
	}
	if err := xml.Unmarshal(body, &index); err == nil {
		for _, s := range index.Sitemaps {
			children = append(children, strings.TrimSpace(s.Loc))
		}
	}
	return nil, children
}

// crawlURLs walks same-host links breadth-first starting at the base url.
func (w *Website) crawlURLs(ctx context.Context, base *url.URL, maxURLs int) []string {
	start := canonicalLink(base)
	seen := map[string]bool{start: true}
	ordered := []string{start}

	for i := 0; i < len(ordered) && len(ordered) < maxURLs; i++ {
		body, err := w.fetchPage(ctx, ordered[i])
		if err != nil {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			continue
		}
		for _, link := range sameHostLinks(doc, base) {
			if len(ordered) >= maxURLs {
				break
			}
			if !seen[link] {
				seen[link] = true
				ordered = append(ordered, link)
			}
		}
	}
	return ordered
}

// sameHostLinks extracts deduplicated same-host page links, resolving
// relative hrefs against base and dropping anchors, scripts, and media.
func sameHostLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || skipHref(href) {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if !sameHost(resolved.Host, base.Host) || skipExtension(resolved.Path) {
			return
		}
		link := canonicalLink(resolved)
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})

	return links
}

// skipHref drops link schemes that never lead to page content.
func skipHref(href string) bool {
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "#")
}

// skipExtension drops urls pointing at media and downloads.
func skipExtension(urlPath string) bool {
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico",
		".css", ".js", ".pdf", ".zip", ".rar", ".doc", ".docx",
		".xls", ".xlsx", ".ppt", ".pptx", ".mp3", ".mp4", ".woff", ".woff2":
		return true
	}
	return false
}

// sameHost compares hosts ignoring case and a www prefix.
func sameHost(a, b string) bool {
	trim := func(h string) string {
		return strings.TrimPrefix(strings.ToLower(h), "www.")
	}
	return trim(a) == trim(b)
}

// canonicalLink renders a url without its fragment or a trailing slash,
// collapsing the slash variants of the same page to one key.
func canonicalLink(u *url.URL) string {
	c := *u
	c.Fragment = ""
	if c.Path == "/" {
		c.Path = ""
	} else {
		c.Path = strings.TrimSuffix(c.Path, "/")
	}
	return c.String()
}

// syncPage fetches, extracts, and reconciles one page. The return value
// reports whether the page counted against the site's page limit; fetch
// failures do not.
func (w *Website) syncPage(ctx context.Context, rep Reporter, summary *Summary, site string, page pageRef) bool {
	body, err := w.fetchPage(ctx, page.URL)
	if err != nil {
		summary.Failed++
		report(ctx, rep, websiteDetail(site, page, nil, models.Wrap(models.ErrUpstream, "page fetch failed", err)))
		return false
	}

	text, err := w.extractPage(&page, body)
	if err != nil {
		summary.Failed++
		report(ctx, rep, websiteDetail(site, page, nil, err))
		return true
	}
	hash := contentHash(text)

	existing, err := w.catalog.FindDocumentByMeta(ctx, models.SourceWebsite, "url", page.URL)
	if models.IsCode(err, models.ErrNotFound) {
		existing, err = nil, nil
	}
	if err != nil {
		summary.Failed++
		report(ctx, rep, websiteDetail(site, page, nil, models.Wrap(models.ErrStorage, "website document lookup failed", err)))
		return true
	}

	if existing != nil && w.pageCurrent(ctx, existing, hash) {
		summary.Skipped++
		return true
	}

	updated := false
	if existing != nil {
		if err := removeDocument(ctx, w.catalog, w.vectors, w.blobs, existing, w.logger); err != nil {
			summary.Failed++
			report(ctx, rep, websiteDetail(site, page, nil, err))
			return true
		}
		updated = true
	}

	res, err := w.pipeline.Ingest(ctx, ingest.Request{
		OriginalFilename: pageFilename(page.URL),
		Content:          []byte(text),
		Source:           models.SourceWebsite,
		Metadata: map[string]interface{}{
			"url":             page.URL,
			"title":           page.Title,
			"locale":          page.Locale,
			"source":          site,
			"content_hash":    hash,
			"last_fetched_at": time.Now().UTC().Format(time.RFC3339),
		},
		UploadedBy: "website-sync",
	})
	if err != nil {
		summary.Failed++
		report(ctx, rep, websiteDetail(site, page, nil, err))
		return true
	}

	summary.Processed++
	if updated {
		summary.Updated++
	} else {
		summary.Created++
	}
	report(ctx, rep, websiteDetail(site, page, res, nil))
	return true
}

// extractPage pulls the readable main content out of a page and renders
// it as markdown-formatted text. Title and locale fall back to the
// document's own tags when the pages API did not supply them.
func (w *Website) extractPage(page *pageRef, body []byte) (string, error) {
	pageURL, err := url.Parse(page.URL)
	if err != nil {
		return "", models.NewError(models.ErrBadInput, "page url is invalid").WithDetails("url", page.URL)
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		if page.Title == "" {
			page.Title = strings.TrimSpace(doc.Find("title").First().Text())
		}
		if page.Locale == "" {
			page.Locale = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))
		}
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", models.Wrap(models.ErrExtraction, "could not extract page content", err)
	}
	if page.Title == "" {
		page.Title = strings.TrimSpace(article.Title)
	}

	converter := md.NewConverter(page.URL, true, nil)
	text, err := converter.ConvertString(article.Content)
	if err != nil || strings.TrimSpace(text) == "" {
		text = article.TextContent
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.NewError(models.ErrExtraction, "page has no extractable text").WithDetails("url", page.URL)
	}
	return text, nil
}

// pageCurrent reports whether the stored copy of a page is complete: same
// content hash, file on disk, and at least one indexed vector.
func (w *Website) pageCurrent(ctx context.Context, doc *models.Document, hash string) bool {
	if doc.MetaString("content_hash") != hash {
		return false
	}
	if !w.blobs.Exists(doc.StoragePath) {
		return false
	}
	count, err := w.vectors.CountByDocument(ctx, doc.ID)
	return err == nil && count > 0
}

// fetchPage fetches one html page, rejecting other content types.
func (w *Website) fetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	body, contentType, err := w.get(ctx, rawURL, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "html") {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
	return body, nil
}

// get performs one bounded GET with the crawler identity.
func (w *Website) get(ctx context.Context, rawURL, accept string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	if w.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", w.cfg.UserAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%s returned %s", rawURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (w *Website) timeout() time.Duration {
	if w.cfg.FetchTimeout > 0 {
		return w.cfg.FetchTimeout
	}
	return 30 * time.Second
}

// contentHash fingerprints extracted text. Identical page bodies hash
// identically across crawls.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// pageFilename derives a readable .txt name from the page url.
func pageFilename(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "page.txt"
	}
	slug := strings.Trim(u.Path, "/")
	if slug == "" {
		slug = "index"
	}
	slug = strings.ReplaceAll(slug, "/", "-")
	return sanitizeFilename(u.Host+"-"+slug) + ".txt"
}

// sanitizeFilename lowercases and strips anything outside [a-z0-9.-_].
func sanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// websiteDetail builds the sync log row for one page outcome.
func websiteDetail(site string, page pageRef, res *ingest.Result, err error) *models.SyncLogDetail {
	d := &models.SyncLogDetail{
		ItemType:      models.SyncItemWebsite,
		ItemURL:       page.URL,
		ItemSource:    site,
		DocumentTitle: page.Title,
		Status:        models.SyncItemSuccess,
	}
	if err != nil {
		d.Status = models.SyncItemFailed
		d.ErrorMessage = err.Error()
		return d
	}
	if res != nil {
		d.DocumentID = res.Document.ID
		d.DocumentFilename = res.Document.OriginalFilename
		d.FileSize = res.Document.SizeBytes
		d.Metadata = map[string]interface{}{"chunks": res.Chunks}
	}
	return d
}
