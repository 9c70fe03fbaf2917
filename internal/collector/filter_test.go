package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
)

func titles(items []domain.Article) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Title)
	}
	return out
}

func TestFilterSince(t *testing.T) {
	now := time.Now().UTC()
	items := []domain.Article{
		{Title: "now", Published: domain.FormatPublished(now)},
		{Title: "two-hours-ago", Published: domain.FormatPublished(now.Add(-2 * time.Hour))},
		{Title: "undated"},
		{Title: "garbage", Published: "not a time"},
	}
	cutoff := now.Add(-time.Hour)

	assert.Equal(t, []string{"now", "undated", "garbage"}, titles(FilterSince(items, &cutoff, true)))
	assert.Equal(t, []string{"now"}, titles(FilterSince(items, &cutoff, false)))
	assert.Equal(t, titles(items), titles(FilterSince(items, nil, false)))
}

func TestFilterSinceKeepsItemAtCutoff(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []domain.Article{{Title: "edge", Published: "2024-03-01T12:00:00+00:00"}}
	assert.Len(t, FilterSince(items, &cutoff, false), 1)
}
