// Package collector runs one ingestion pass: fetch per category, filter by
// recency, rank, cap, persist and tally.
package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
	"github.com/Adda-Baaj/khobor-collector/internal/store"
	"github.com/Adda-Baaj/khobor-collector/pkg/providers"
	"github.com/Adda-Baaj/khobor-collector/pkg/publishers"
)

// ProviderID tags events produced by this collector.
const ProviderID = "newsapi"

// Sink receives an event for every newly stored article.
type Sink interface {
	Publish(ctx context.Context, evt publishers.Event) error
}

// Enricher fills in article fields the provider left empty.
type Enricher interface {
	Enrich(ctx context.Context, articles []domain.Article) []domain.Article
}

// Request describes one collection run.
type Request struct {
	APIKey     string
	Categories []string
	Country    string
	PageSize   int
	MaxPages   int
	// Cutoff drops items published before it; nil disables the filter.
	Cutoff *time.Time
	// DropUndated drops items without a usable published time when Cutoff is
	// set. They are kept by default.
	DropUndated bool
	// Limit caps the items kept per category; zero keeps all.
	Limit      int
	ExportPath string

	// Domains switches to domain mode: category → comma-separated domains,
	// queried once per language.
	Domains   map[string]string
	Languages []string
}

// DomainMode reports whether r aggregates by configured domains.
func (r Request) DomainMode() bool { return r.Domains != nil }

// Collector owns the fetcher and store for the duration of a run. It never
// closes them; the caller that opened them does.
type Collector struct {
	fetcher  providers.Fetcher
	store    store.Store
	sink     Sink
	enricher Enricher
	log      logger.Logger
	now      func() time.Time
	runID    string
}

// Option customizes a Collector.
type Option func(*Collector)

// WithSink publishes an article.ingested event for each new article.
func WithSink(s Sink) Option { return func(c *Collector) { c.sink = s } }

// WithEnricher enriches the surviving items of each category before they are stored.
func WithEnricher(e Enricher) Option { return func(c *Collector) { c.enricher = e } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Collector) { c.now = now } }

// WithRunID sets the run id attached to logs and events.
func WithRunID(id string) Option { return func(c *Collector) { c.runID = id } }

// New builds a Collector.
func New(fetcher providers.Fetcher, st store.Store, log logger.Logger, opts ...Option) *Collector {
	c := &Collector{
		fetcher: fetcher,
		store:   st,
		log:     logger.Ensure(log),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	return c
}

// RunID returns the id attached to this collector's logs and events.
func (c *Collector) RunID() string { return c.runID }

// Run dispatches to CollectDomains or CollectCategories based on req.
func (c *Collector) Run(ctx context.Context, req Request) (domain.Summary, error) {
	if req.DomainMode() {
		return c.CollectDomains(ctx, req)
	}
	return c.CollectCategories(ctx, req)
}

// CollectCategories pulls top headlines per category.
func (c *Collector) CollectCategories(ctx context.Context, req Request) (domain.Summary, error) {
	fetch := func(ctx context.Context, cat string) ([]domain.Article, bool, error) {
		res, err := c.fetcher.FetchByCategory(ctx, providers.CategoryRequest{
			APIKey:   req.APIKey,
			Category: cat,
			Country:  req.Country,
			PageSize: req.PageSize,
			MaxPages: req.MaxPages,
		})
		if err != nil {
			return nil, true, err
		}
		c.logStop(cat, "", res)
		return res.Articles, true, nil
	}
	return c.collect(ctx, req, fetch, false)
}

// CollectDomains pulls articles from each category's configured domains, once
// per language. Categories without domains are recorded with zero counts and
// are not fetched.
func (c *Collector) CollectDomains(ctx context.Context, req Request) (domain.Summary, error) {
	fetch := func(ctx context.Context, cat string) ([]domain.Article, bool, error) {
		domains := req.Domains[cat]
		if domains == "" {
			c.log.DebugObj("no domains configured for category", "collect_no_domains", map[string]any{
				"run_id":   c.runID,
				"category": cat,
			})
			return nil, false, nil
		}

		var merged []domain.Article
		for _, lang := range req.Languages {
			res, err := c.fetcher.FetchByDomains(ctx, providers.DomainRequest{
				APIKey:   req.APIKey,
				Domains:  domains,
				Language: lang,
				PageSize: req.PageSize,
				MaxPages: req.MaxPages,
			})
			if err != nil {
				return nil, true, err
			}
			c.logStop(cat, lang, res)
			merged = append(merged, res.Articles...)
		}
		return merged, true, nil
	}
	return c.collect(ctx, req, fetch, true)
}

type fetchFunc func(ctx context.Context, category string) (items []domain.Article, fetched bool, err error)

func (c *Collector) collect(ctx context.Context, req Request, fetch fetchFunc, stamp bool) (domain.Summary, error) {
	summary := make(domain.Summary, len(req.Categories))
	var dump []domain.Article

	if req.Cutoff != nil {
		c.log.DebugObj("recency filter active", "collect_cutoff", map[string]any{
			"run_id": c.runID,
			"since":  req.Cutoff.UTC().Format(time.RFC3339),
		})
	}

	for _, cat := range req.Categories {
		items, fetched, err := fetch(ctx, cat)
		if err != nil {
			return summary, fmt.Errorf("fetch category %s: %w", cat, err)
		}
		if !fetched {
			summary[cat] = domain.CategoryResult{}
			continue
		}

		before := len(items)
		items = FilterSince(items, req.Cutoff, !req.DropUndated)
		if stamp {
			for i := range items {
				items[i] = items[i].WithCategory(cat)
			}
		}
		rank(items)
		if req.Limit > 0 && len(items) > req.Limit {
			items = items[:req.Limit]
		}
		if c.enricher != nil {
			items = c.enricher.Enrich(ctx, items)
		}

		res, undelivered, err := c.persist(ctx, cat, items)
		if err != nil {
			return summary, err
		}
		summary[cat] = res

		c.log.InfoObj("category collected", "collect_category", map[string]any{
			"run_id":      c.runID,
			"category":    cat,
			"fetched":     before,
			"kept":        len(items),
			"saved":       res.Saved,
			"skipped":     res.Skipped,
			"undelivered": undelivered,
		})

		if req.ExportPath != "" {
			dump = append(dump, items...)
		}
	}

	if req.ExportPath != "" {
		if err := WriteExport(req.ExportPath, dump); err != nil {
			return summary, err
		}
		c.log.InfoObj("export written", "collect_export", map[string]any{
			"run_id": c.runID,
			"path":   req.ExportPath,
			"items":  len(dump),
		})
	}
	return summary, nil
}

// rank orders items newest first; undated items keep their relative order at the end.
func rank(items []domain.Article) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published > items[j].Published
	})
}

// persist upserts items and returns the tally plus the number of events that
// could not be delivered.
func (c *Collector) persist(ctx context.Context, cat string, items []domain.Article) (domain.CategoryResult, int, error) {
	res := domain.CategoryResult{Count: len(items)}
	undelivered := 0
	for _, a := range items {
		isNew, err := c.store.Upsert(ctx, a)
		if err != nil {
			return res, undelivered, fmt.Errorf("persist article %s: %w", a.ID, err)
		}
		if !isNew {
			res.Skipped++
			continue
		}
		res.Saved++
		if !c.publish(ctx, cat, a) {
			undelivered++
		}
	}
	return res, undelivered, nil
}

func (c *Collector) publish(ctx context.Context, cat string, a domain.Article) bool {
	if c.sink == nil {
		return true
	}
	evt := publishers.NewArticleEvent(c.runID, ProviderID, cat, a, c.now())
	if err := c.sink.Publish(ctx, evt); err != nil {
		c.log.WarnObj("article event not delivered", "collect_publish_error", map[string]any{
			"run_id":     c.runID,
			"article_id": a.ID,
			"error":      err.Error(),
		})
		return false
	}
	return true
}

func (c *Collector) logStop(cat, lang string, res providers.Result) {
	fields := map[string]any{
		"run_id":   c.runID,
		"category": cat,
		"stop":     string(res.Stop),
		"pages":    res.Pages,
		"items":    len(res.Articles),
	}
	if lang != "" {
		fields["language"] = lang
	}
	if res.Partial() {
		fields["message"] = res.Message
		c.log.WarnObj("fetch stopped early", "collect_fetch_partial", fields)
		return
	}
	c.log.DebugObj("fetch finished", "collect_fetch", fields)
}
