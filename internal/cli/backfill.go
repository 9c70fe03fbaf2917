package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adda-Baaj/khobor-collector/internal/backfill"
	"github.com/Adda-Baaj/khobor-collector/internal/store"
)

func (a *app) newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Add derived fields to articles stored by older versions",
		Long: `Scan the store in id order and fill published_ts, image_url and a
list-typed categories field where they are missing. Safe to re-run.`,
		RunE: a.runBackfill,
	}

	f := cmd.Flags()
	f.Bool("dry-run", false, "count documents that would change without writing")
	f.Duration("sleep", 0, "pause between write batches")
	f.Int("page-size", backfill.DefaultPageSize, "documents read per scan page")
	f.Int("batch-size", backfill.MaxBatch, "updates per write batch (at most 450)")
	f.String("start-after", "", "resume after this document id")
	for flag, key := range map[string]string{
		"dry-run":     "backfill.dry_run",
		"sleep":       "backfill.sleep",
		"page-size":   "backfill.page_size",
		"batch-size":  "backfill.batch_size",
		"start-after": "backfill.start_after",
	} {
		a.bind(f.Lookup(flag), key)
	}
	return cmd
}

func (a *app) runBackfill(cmd *cobra.Command, _ []string) (err error) {
	cfg, log, err := a.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := cfg.ValidateBackfill(); err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := store.Open(ctx, cfg.StoreOptions(), log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	src, ok := st.(backfill.Source)
	if !ok {
		return fmt.Errorf("%w: %s", backfill.ErrUnsupported, cfg.Store.Backend)
	}

	stats, err := backfill.Run(ctx, src, backfill.Options{
		StartAfter: cfg.Backfill.StartAfter,
		PageSize:   cfg.Backfill.PageSize,
		BatchSize:  cfg.Backfill.BatchSize,
		DryRun:     cfg.Backfill.DryRun,
		Sleep:      cfg.Backfill.Sleep,
	}, log)
	if err != nil {
		return fmt.Errorf("backfill stopped after %s: %w", stats.LastID, err)
	}
	return a.printJSON(stats)
}
