package collector

import (
	"time"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
)

// FilterSince keeps items published at or after cutoff. A nil cutoff keeps
// everything. Items whose published time is absent or unparseable are kept
// only when keepUnparseable is set.
func FilterSince(items []domain.Article, cutoff *time.Time, keepUnparseable bool) []domain.Article {
	if cutoff == nil {
		return items
	}
	out := make([]domain.Article, 0, len(items))
	for _, it := range items {
		ts, ok := it.PublishedTime()
		if !ok {
			if keepUnparseable {
				out = append(out, it)
			}
			continue
		}
		if !ts.Before(*cutoff) {
			out = append(out, it)
		}
	}
	return out
}
