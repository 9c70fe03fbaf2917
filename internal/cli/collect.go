package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Adda-Baaj/khobor-collector/internal/collector"
	"github.com/Adda-Baaj/khobor-collector/internal/config"
	"github.com/Adda-Baaj/khobor-collector/internal/crawler"
	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
	"github.com/Adda-Baaj/khobor-collector/internal/store"
	"github.com/Adda-Baaj/khobor-collector/pkg/httpclient"
	"github.com/Adda-Baaj/khobor-collector/pkg/providers"
	"github.com/Adda-Baaj/khobor-collector/pkg/publishers"
)

func (a *app) newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch, de-duplicate and store articles per category",
		Long: `Fetch NewsAPI top headlines for each category (or, with --domains-file, articles
from the configured domains per language), keep the recent ones, store them and
print a JSON summary {category: {saved, skipped, count}}.`,
		RunE: a.runCollect,
	}

	f := cmd.Flags()
	f.StringSlice("categories", providers.Categories, "categories to collect")
	f.String("country", "us", "country for top headlines")
	f.Int("page-size", 100, "items per page (1-100)")
	f.Int("max-pages", 1, "maximum pages per request")
	f.Int("since-hours", -1, "keep only items published within this many hours (negative disables)")
	f.Int("limit", 0, "keep at most this many items per category (0 keeps all)")
	f.String("out", "", "write all surviving articles to this JSON file")
	f.String("domains-file", "", "category to domains mapping (JSON or YAML); switches to domain mode")
	f.StringSlice("languages", []string{"ko", "en"}, "languages queried per category in domain mode")
	f.Bool("drop-undated", false, "with --since-hours, drop items without a usable published time")
	f.Bool("enrich-images", false, "scrape og:image for items without an image URL")
	f.String("every", "", "repeat the collection on a cron schedule, e.g. \"*/30 * * * *\"")
	f.String("publishers", "", "publishers file (JSON or YAML) for article.ingested events")

	for flag, key := range map[string]string{
		"categories":    "categories",
		"country":       "country",
		"page-size":     "page_size",
		"max-pages":     "max_pages",
		"since-hours":   "since_hours",
		"limit":         "limit",
		"out":           "out",
		"domains-file":  "domains_file",
		"languages":     "languages",
		"drop-undated":  "drop_undated",
		"enrich-images": "enrich_images",
		"every":         "every",
		"publishers":    "publishers_file",
	} {
		a.bind(f.Lookup(flag), key)
	}
	return cmd
}

func (a *app) runCollect(cmd *cobra.Command, _ []string) error {
	cfg, log, err := a.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := cfg.ValidateCollect(); err != nil {
		return err
	}

	var domains config.Domains
	if cfg.DomainMode() {
		if domains, err = config.LoadDomains(cfg.DomainsFile); err != nil {
			return err
		}
	}

	var pubCfg *publishers.ConfigRegistry
	if cfg.PublishersFile != "" {
		if pubCfg, err = publishers.LoadRegistry(cfg.PublishersFile); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	job := func(ctx context.Context) error {
		summary, err := a.collectOnce(ctx, cfg, domains, pubCfg, log)
		if err != nil {
			return err
		}
		return a.printJSON(summary)
	}

	if spec := strings.TrimSpace(cfg.Every); spec != "" {
		return runScheduled(ctx, spec, job, log)
	}
	return job(ctx)
}

// collectOnce is one invocation: every resource it opens is released before it returns.
func (a *app) collectOnce(ctx context.Context, cfg config.Config, domains config.Domains, pubCfg *publishers.ConfigRegistry, log *logger.ZapLogger) (summary domain.Summary, err error) {
	st, err := store.Open(ctx, cfg.StoreOptions(), log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	client := httpclient.NewRestyClient(cfg.Timeout)
	fetcher := providers.NewNewsAPIFetcher(client, providers.Config{
		BaseURL:   cfg.BaseURL,
		PageDelay: cfg.PageDelay,
	}, log)

	var opts []collector.Option
	if pubCfg != nil {
		d, err := publishers.NewDispatcherFromConfig(ctx, pubCfg, nil, log)
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := d.Close(); cerr != nil {
				log.WarnObj("closing publishers failed", "publisher_close_error", map[string]any{"error": cerr.Error()})
			}
		}()
		opts = append(opts, collector.WithSink(d))
	}
	if cfg.EnrichImages {
		opts = append(opts, collector.WithEnricher(crawler.NewScraper(nil, crawler.Options{}, log)))
	}

	c := collector.New(fetcher, st, log, opts...)
	runLog := log.With(map[string]any{"run_id": c.RunID()})
	runLog.InfoObj("collection started", "collect_start", map[string]any{
		"categories": cfg.Categories,
		"store":      cfg.Store.Backend,
		"domains":    cfg.DomainMode(),
	})

	req := collector.Request{
		APIKey:      cfg.APIKey,
		Categories:  cfg.Categories,
		Country:     cfg.Country,
		PageSize:    cfg.PageSize,
		MaxPages:    cfg.MaxPages,
		Cutoff:      cfg.Cutoff(time.Now()),
		DropUndated: cfg.DropUndated,
		Limit:       cfg.Limit,
		ExportPath:  cfg.Out,
		Languages:   cfg.Languages,
	}
	if cfg.DomainMode() {
		req.Domains = domains
	}

	return c.Run(ctx, req)
}

// runScheduled runs job on the cron schedule until ctx is cancelled. Ticks that arrive
// while a run is still in progress are skipped.
func runScheduled(ctx context.Context, spec string, job func(context.Context) error, log logger.Logger) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid --every schedule %q: %w", spec, err)
	}

	cl := cronLogger{log: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := job(ctx); err != nil {
			log.ErrorObj("scheduled collection failed", "collect_schedule_error", map[string]any{
				"error": err.Error(),
			})
		}
	}))

	log.InfoObj("collection scheduled", "collect_schedule", map[string]any{
		"every": spec,
		"next":  sched.Next(time.Now()).Format(time.RFC3339),
	})
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts the structured logger to cron's logging interface.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.DebugObj(msg, "cron", kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	l.log.ErrorObj(msg, "cron_error", fields)
}

func kvFields(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
