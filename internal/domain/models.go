package domain

import (
	"encoding/json"
	"time"
)

// Domain contains core models shared by fetchers, the collector and stores.

// Article is a normalized provider record. Empty strings mean "absent".
type Article struct {
	ID         string          `json:"id"`
	Title      string          `json:"title,omitempty"`
	URL        string          `json:"url,omitempty"`
	SourceName string          `json:"source,omitempty"`
	Published  string          `json:"published,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Categories []string        `json:"categories"`
	ImageURL   string          `json:"image_url,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// PublishedTime parses Published. ok is false when it is absent or unparseable.
func (a Article) PublishedTime() (time.Time, bool) {
	return ParsePublished(a.Published)
}

// WithCategory returns a copy of a whose category set also holds cat.
func (a Article) WithCategory(cat string) Article {
	a.Categories = MergeCategories(a.Categories, []string{cat})
	return a
}

// CategoryResult is the per-category tally of one collection run.
type CategoryResult struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
	Count   int `json:"count"`
}

// Summary maps each requested category to its result.
type Summary map[string]CategoryResult
