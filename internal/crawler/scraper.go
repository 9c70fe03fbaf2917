// Package crawler fills in missing article images by reading the og:image
// metadata of the article page.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
	"github.com/Adda-Baaj/khobor-collector/pkg/httpclient"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
	defaultWorkers   = 4
	defaultTimeout   = 10 * time.Second
)

// Options tune the scraper.
type Options struct {
	Workers int
	// Delay spaces out page requests across all workers.
	Delay   time.Duration
	Headers map[string]string
}

// Scraper fetches article pages to recover image URLs the provider omitted.
type Scraper struct {
	client httpclient.Client
	opts   Options
	log    logger.Logger
}

// NewScraper creates a Scraper. A nil client gets a resty client with a short timeout.
func NewScraper(client httpclient.Client, opts Options, log logger.Logger) *Scraper {
	if client == nil {
		client = httpclient.NewRestyClient(defaultTimeout)
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Scraper{client: client, opts: opts, log: logger.Ensure(log)}
}

// Enrich returns a copy of articles where entries without an image URL carry
// the page's og:image when one is found. Failures leave the entry unchanged,
// and on cancellation the remaining entries are returned as given.
func (s *Scraper) Enrich(ctx context.Context, articles []domain.Article) []domain.Article {
	out := make([]domain.Article, len(articles))
	copy(out, articles)

	var todo []int
	for i, a := range articles {
		if a.ImageURL == "" && a.URL != "" {
			todo = append(todo, i)
		}
	}
	if len(todo) == 0 {
		return out
	}

	var limiter <-chan time.Time
	if s.opts.Delay > 0 {
		ticker := time.NewTicker(s.opts.Delay)
		defer ticker.Stop()
		limiter = ticker.C
	}

	jobCh := make(chan int)
	var wg sync.WaitGroup
	for workerID := 0; workerID < min(len(todo), s.opts.Workers); workerID++ {
		wg.Add(1)
		go s.worker(ctx, workerID, limiter, jobCh, out, &wg)
	}

	for _, idx := range todo {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobCh <- idx:
		case <-ctx.Done():
		}
	}
	close(jobCh)
	wg.Wait()

	return out
}

// worker owns out[idx] for every idx it receives.
func (s *Scraper) worker(ctx context.Context, workerID int, limiter <-chan time.Time, jobCh <-chan int, out []domain.Article, wg *sync.WaitGroup) {
	defer wg.Done()

	for idx := range jobCh {
		if ctx.Err() != nil {
			return
		}
		if limiter != nil {
			select {
			case <-ctx.Done():
				return
			case <-limiter:
			}
		}

		art := out[idx]
		img, err := s.imageFor(ctx, art.URL)
		if err != nil {
			s.log.WarnObj("article image scrape failed", "enrich_error", map[string]any{
				"worker_id": workerID,
				"url":       art.URL,
				"error":     err.Error(),
			})
			continue
		}
		if img != "" {
			out[idx].ImageURL = img
		}
	}
}

func (s *Scraper) imageFor(ctx context.Context, pageURL string) (string, error) {
	resp, err := s.client.Get(ctx, pageURL, s.opts.Headers)
	if err != nil {
		return "", fmt.Errorf("http fetch: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		snippet := strings.TrimSpace(string(resp.Body()))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return "", fmt.Errorf("status %d body: %s", resp.StatusCode(), snippet)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	meta, err := parseMeta(body)
	if err != nil {
		return "", err
	}
	return resolveURL(meta.ImageURL, pageURL), nil
}

// pageMeta holds the metadata read from an article page.
type pageMeta struct {
	ImageURL string
}

func parseMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	extract := func(sel, attr string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr(attr); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	return pageMeta{
		ImageURL: firstNonEmpty(
			extract(`meta[property="og:image:secure_url"]`, "content"),
			extract(`meta[property="og:image"]`, "content"),
			extract(`meta[name="twitter:image"]`, "content"),
			extract(`link[rel="image_src"]`, "href"),
		),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(raw, base string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return raw
	}
	return baseURL.ResolveReference(parsed).String()
}
