// Package backfill normalizes previously stored articles: it derives a typed
// published timestamp, lifts the image URL out of the raw payload and rewrites
// categories as a sorted array.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

const (
	// MaxBatch bounds the number of writes flushed at once.
	MaxBatch = 450
	// DefaultPageSize is the number of documents read per scan.
	DefaultPageSize = 200

	FieldPublished   = "published"
	FieldPublishedTS = "published_ts"
	FieldImageURL    = "image_url"
	FieldCategories  = "categories"
	FieldRaw         = "raw_json"
)

// ErrUnsupported is returned by stores that cannot be scanned for backfill.
var ErrUnsupported = errors.New("store does not support backfill")

// Document is a stored article as seen by the backfill scan. Fields holds the
// persisted values keyed by their stored names; absent fields are missing or nil.
type Document struct {
	ID     string
	Fields map[string]any
}

// Update lists the fields to set on one document. Values are time.Time for
// published_ts, string for image_url and []string for categories.
type Update struct {
	ID  string
	Set map[string]any
}

// Source is a store that can be scanned in id order and patched in batches.
type Source interface {
	ScanDocuments(ctx context.Context, startAfter string, limit int) ([]Document, error)
	ApplyUpdates(ctx context.Context, updates []Update) error
}

// Options tune a backfill run.
type Options struct {
	StartAfter string
	PageSize   int
	BatchSize  int
	DryRun     bool
	Sleep      time.Duration
}

// Stats summarizes a backfill run.
type Stats struct {
	Scanned int    `json:"scanned"`
	Updated int    `json:"updated"`
	Batches int    `json:"batches"`
	LastID  string `json:"last_id"`
	DryRun  bool   `json:"dry_run"`
}

// Run scans src from opts.StartAfter to the end and applies the computed updates.
// On error the returned stats report the last id fully processed so a later run
// can resume from it.
func Run(ctx context.Context, src Source, opts Options, log logger.Logger) (Stats, error) {
	log = logger.Ensure(log)
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatch {
		opts.BatchSize = MaxBatch
	}

	stats := Stats{LastID: opts.StartAfter, DryRun: opts.DryRun}
	var pending []Update

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := src.ApplyUpdates(ctx, pending); err != nil {
			return fmt.Errorf("apply backfill batch: %w", err)
		}
		stats.Batches++
		log.InfoObj("backfill batch committed", "backfill_batch", map[string]any{
			"size":    len(pending),
			"last_id": pending[len(pending)-1].ID,
		})
		pending = pending[:0]
		return sleepCtx(ctx, opts.Sleep)
	}

	after := opts.StartAfter
	for {
		docs, err := src.ScanDocuments(ctx, after, opts.PageSize)
		if err != nil {
			return stats, fmt.Errorf("scan documents after %q: %w", after, err)
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			stats.Scanned++
			set := ComputeUpdates(doc.Fields)
			if len(set) > 0 {
				stats.Updated++
				if opts.DryRun {
					log.InfoObj("backfill would update document", "backfill_dry_run", map[string]any{
						"id":     doc.ID,
						"fields": sortedKeys(set),
					})
				} else {
					pending = append(pending, Update{ID: doc.ID, Set: set})
					if len(pending) >= opts.BatchSize {
						if err := flush(); err != nil {
							return stats, err
						}
					}
				}
			}
			if len(pending) == 0 {
				stats.LastID = doc.ID
			}
		}

		if err := flush(); err != nil {
			return stats, err
		}
		after = docs[len(docs)-1].ID
		stats.LastID = after

		if len(docs) < opts.PageSize {
			break
		}
	}

	log.InfoObj("backfill finished", "backfill_done", map[string]any{
		"scanned": stats.Scanned,
		"updated": stats.Updated,
		"dry_run": stats.DryRun,
	})
	return stats, nil
}

// ComputeUpdates returns the fields a stored document is missing or holds in a
// legacy shape. A document already in canonical form yields no updates.
func ComputeUpdates(fields map[string]any) map[string]any {
	set := make(map[string]any)

	if isEmpty(fields[FieldPublishedTS]) {
		if s, ok := fields[FieldPublished].(string); ok {
			if ts, ok := domain.ParsePublished(s); ok {
				set[FieldPublishedTS] = ts
			}
		}
	}

	if isEmpty(fields[FieldImageURL]) {
		if img := imageFromRaw(fields[FieldRaw]); img != "" {
			set[FieldImageURL] = img
		}
	}

	current, isArray := categoriesOf(fields[FieldCategories])
	normalized := domain.MergeCategories(current, nil)
	if !isArray || !reflect.DeepEqual(current, normalized) {
		set[FieldCategories] = normalized
	}

	return set
}

func imageFromRaw(raw any) string {
	switch v := raw.(type) {
	case map[string]any:
		return domain.ImageURLFromMap(v)
	case string:
		return domain.ImageURLFromRaw([]byte(v))
	case []byte:
		return domain.ImageURLFromRaw(v)
	case json.RawMessage:
		return domain.ImageURLFromRaw(v)
	default:
		return ""
	}
}

// categoriesOf reads a stored categories value. The boolean reports whether the
// value was already array-typed.
func categoriesOf(v any) ([]string, bool) {
	switch c := v.(type) {
	case []string:
		return c, true
	case []any:
		out := make([]string, 0, len(c))
		for _, item := range c {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, len(out) == len(c)
	case string:
		return domain.SplitCategories(c), false
	default:
		return nil, false
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case time.Time:
		return t.IsZero()
	default:
		return false
	}
}
