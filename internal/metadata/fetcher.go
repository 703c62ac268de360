// Package metadata resolves page URLs to their canonical location and
// display metadata by reading meta tags.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/seabird/chitter/internal/domain"
)

// ErrNotHTML is returned for pages that are not HTML documents (PDFs,
// images, raw files). Such URLs keep their unresolved form.
var ErrNotHTML = errors.New("page is not html")

const defaultTimeout = 10 * time.Second

// Fetcher resolves URLs over HTTP with a bounded timeout and a shared
// outbound rate limiter.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

var _ domain.MetadataFetcher = (*Fetcher)(nil)

// NewFetcher builds a fetcher. A nil client gets a default with a 10s
// timeout; perSecond caps outbound page requests (0 means unlimited).
func NewFetcher(client *http.Client, perSecond float64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Fetch downloads pageURL and extracts canonical URL, title, and description
// from its meta tags. Precedence follows what pages commonly declare:
// canonical link, then OpenGraph, then Twitter card, then a fallback to the
// request URL itself.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*domain.Metadata, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "chitter/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml") {
		return nil, fmt.Errorf("%w: content-type %s", ErrNotHTML, contentType)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	return extract(doc, pageURL), nil
}

func extract(doc *goquery.Document, pageURL string) *domain.Metadata {
	tags := map[string]string{}
	doc.Find("meta[property], meta[name]").Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("property")
		if !ok {
			name, _ = sel.Attr("name")
		}
		if content, ok := sel.Attr("content"); ok && name != "" {
			if _, exists := tags[name]; !exists {
				tags[name] = content
			}
		}
	})

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		tags["canonical"] = href
	}

	return &domain.Metadata{
		CanonicalURL: first(tags, []string{"canonical", "og:url"}, pageURL),
		Title:        first(tags, []string{"og:title", "twitter:title"}, pageURL),
		Description:  first(tags, []string{"description", "og:description", "twitter:description"}, ""),
	}
}

func first(tags map[string]string, keys []string, fallback string) string {
	for _, k := range keys {
		if v := tags[k]; v != "" {
			return v
		}
	}
	return fallback
}
