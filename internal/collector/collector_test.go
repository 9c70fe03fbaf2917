package collector

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/store"
	"github.com/Adda-Baaj/khobor-collector/pkg/providers"
	"github.com/Adda-Baaj/khobor-collector/pkg/publishers"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	byCategory map[string]providers.Result
	byDomains  map[string]providers.Result // keyed by language
	err        error

	categoryCalls []providers.CategoryRequest
	domainCalls   []providers.DomainRequest
}

func (f *fakeFetcher) FetchByCategory(_ context.Context, req providers.CategoryRequest) (providers.Result, error) {
	f.categoryCalls = append(f.categoryCalls, req)
	if f.err != nil {
		return providers.Result{}, f.err
	}
	return cloneResult(f.byCategory[req.Category]), nil
}

func (f *fakeFetcher) FetchByDomains(_ context.Context, req providers.DomainRequest) (providers.Result, error) {
	f.domainCalls = append(f.domainCalls, req)
	if f.err != nil {
		return providers.Result{}, f.err
	}
	return cloneResult(f.byDomains[req.Language]), nil
}

func cloneResult(r providers.Result) providers.Result {
	r.Articles = append([]domain.Article(nil), r.Articles...)
	return r
}

// memStore implements the store contract in memory.
type memStore struct {
	mu   sync.Mutex
	rows map[string]domain.Article
	err  error
}

func newMemStore() *memStore { return &memStore{rows: map[string]domain.Article{}} }

func (m *memStore) Upsert(_ context.Context, a domain.Article) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if cur, ok := m.rows[a.ID]; ok {
		cur.Categories = domain.MergeCategories(cur.Categories, a.Categories)
		m.rows[a.ID] = cur
		return false, nil
	}
	a.Categories = domain.MergeCategories(a.Categories, nil)
	m.rows[a.ID] = a
	return true, nil
}

func (m *memStore) Close() error { return nil }

type recordingSink struct {
	events []publishers.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, evt publishers.Event) error {
	s.events = append(s.events, evt)
	return s.err
}

func article(title, published string, cats ...string) domain.Article {
	url := "https://e.com/" + title
	return domain.Article{
		ID:         domain.MakeID(title, url),
		Title:      title,
		URL:        url,
		SourceName: "Example",
		Published:  published,
		Categories: cats,
	}
}

func clock() time.Time { return fixedNow }

func TestCollectCategoriesEndToEnd(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"technology": {Stop: providers.StopExhausted, Articles: []domain.Article{
			article("recent", "2024-03-01T11:30:00+00:00", "technology"),
			article("undated", "", "technology"),
		}},
	}}
	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "news.db"), nil)
	require.NoError(t, err)
	defer st.Close()

	out := filepath.Join(t.TempDir(), "export", "out.json")
	c := New(fetcher, st, nil, WithClock(clock))
	summary, err := c.CollectCategories(ctx, Request{
		APIKey: "k", Categories: []string{"technology"}, Country: "us",
		PageSize: 100, MaxPages: 1, ExportPath: out,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{"technology":{"saved":2,"skipped":0,"count":2}}`, string(raw))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var exported []domain.Article
	require.NoError(t, json.Unmarshal(data, &exported))
	require.Len(t, exported, 2)
	assert.Equal(t, "recent", exported[0].Title)
	assert.Equal(t, "undated", exported[1].Title)

	require.Len(t, fetcher.categoryCalls, 1)
	assert.Equal(t, providers.CategoryRequest{
		APIKey: "k", Category: "technology", Country: "us", PageSize: 100, MaxPages: 1,
	}, fetcher.categoryCalls[0])
}

func TestCollectCategoriesMergesAcrossCategories(t *testing.T) {
	shared := article("shared", "2024-03-01T10:00:00+00:00")
	tech := shared
	tech.Categories = []string{"technology"}
	sci := shared
	sci.Categories = []string{"science"}

	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"technology": {Articles: []domain.Article{tech}},
		"science":    {Articles: []domain.Article{sci, article("other", "2024-03-01T09:00:00+00:00", "science")}},
	}}
	st := newMemStore()

	summary, err := New(fetcher, st, nil).CollectCategories(context.Background(), Request{
		Categories: []string{"technology", "science"}, PageSize: 10, MaxPages: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryResult{Saved: 1, Skipped: 0, Count: 1}, summary["technology"])
	assert.Equal(t, domain.CategoryResult{Saved: 1, Skipped: 1, Count: 2}, summary["science"])
	assert.Equal(t, []string{"science", "technology"}, st.rows[shared.ID].Categories)
}

func TestCollectDomainsSkipsUnmappedCategory(t *testing.T) {
	fetcher := &fakeFetcher{}
	summary, err := New(fetcher, newMemStore(), nil).CollectDomains(context.Background(), Request{
		Categories: []string{"health"},
		Domains:    map[string]string{"technology": "a.com"},
		Languages:  []string{"ko", "en"},
		PageSize:   10, MaxPages: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{"health": {}}, summary)
	assert.Empty(t, fetcher.domainCalls)
	assert.Empty(t, fetcher.categoryCalls)
}

func TestCollectDomainsConcatenatesLanguagesAndStamps(t *testing.T) {
	fetcher := &fakeFetcher{byDomains: map[string]providers.Result{
		"ko": {Articles: []domain.Article{article("ko-1", "2024-03-01T08:00:00+00:00")}},
		"en": {Articles: []domain.Article{
			article("en-1", "2024-03-01T09:00:00+00:00"),
			article("en-old", "2024-02-20T09:00:00+00:00"),
		}},
	}}
	st := newMemStore()
	cutoff := fixedNow.Add(-24 * time.Hour)

	summary, err := New(fetcher, st, nil).Run(context.Background(), Request{
		Categories: []string{"technology"},
		Domains:    map[string]string{"technology": "a.com,b.com"},
		Languages:  []string{"ko", "en"},
		Cutoff:     &cutoff,
		PageSize:   10, MaxPages: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryResult{Saved: 2, Count: 2}, summary["technology"])

	require.Len(t, fetcher.domainCalls, 2)
	assert.Equal(t, "ko", fetcher.domainCalls[0].Language)
	assert.Equal(t, "en", fetcher.domainCalls[1].Language)
	assert.Equal(t, "a.com,b.com", fetcher.domainCalls[0].Domains)
	assert.Equal(t, 2, fetcher.domainCalls[0].MaxPages)

	for _, a := range st.rows {
		assert.Equal(t, []string{"technology"}, a.Categories)
	}
}

func TestCollectKeepsUndatedUnlessDropped(t *testing.T) {
	cutoff := fixedNow.Add(-time.Hour)
	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"health": {Articles: []domain.Article{
			article("fresh", "2024-03-01T11:30:00+00:00", "health"),
			article("stale", "2024-03-01T09:00:00+00:00", "health"),
			article("undated", "", "health"),
		}},
	}}

	kept, err := New(fetcher, newMemStore(), nil).Run(context.Background(), Request{
		Categories: []string{"health"}, PageSize: 10, MaxPages: 1, Cutoff: &cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryResult{Saved: 2, Count: 2}, kept["health"])

	dropped, err := New(fetcher, newMemStore(), nil).Run(context.Background(), Request{
		Categories: []string{"health"}, PageSize: 10, MaxPages: 1, Cutoff: &cutoff, DropUndated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryResult{Saved: 1, Count: 1}, dropped["health"])
}

func TestCollectRanksAndLimits(t *testing.T) {
	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"sports": {Articles: []domain.Article{
			article("undated-a", "", "sports"),
			article("older", "2024-03-01T08:00:00+00:00", "sports"),
			article("newest", "2024-03-01T11:00:00+00:00", "sports"),
			article("undated-b", "", "sports"),
			article("middle", "2024-03-01T09:00:00+00:00", "sports"),
		}},
	}}
	out := filepath.Join(t.TempDir(), "out.json")
	summary, err := New(fetcher, newMemStore(), nil).CollectCategories(context.Background(), Request{
		Categories: []string{"sports"}, PageSize: 10, MaxPages: 1, Limit: 4, ExportPath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, summary["sports"].Count)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var exported []domain.Article
	require.NoError(t, json.Unmarshal(data, &exported))
	titles := make([]string, 0, len(exported))
	for _, a := range exported {
		titles = append(titles, a.Title)
	}
	assert.Equal(t, []string{"newest", "middle", "older", "undated-a"}, titles)
}

func TestCollectExportIsCombinedAcrossCategories(t *testing.T) {
	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"business": {Articles: []domain.Article{article("b", "", "business")}},
		"health":   {Articles: []domain.Article{article("h", "", "health")}},
	}}
	out := filepath.Join(t.TempDir(), "out.json")
	_, err := New(fetcher, newMemStore(), nil).CollectCategories(context.Background(), Request{
		Categories: []string{"business", "health"}, PageSize: 10, MaxPages: 1, ExportPath: out,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var exported []domain.Article
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Len(t, exported, 2)
}

func TestCollectPropagatesFatalFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: &providers.HTTPError{Endpoint: "top-headlines", Page: 1, Status: 500, Body: "boom"}}
	out := filepath.Join(t.TempDir(), "out.json")
	_, err := New(fetcher, newMemStore(), nil).CollectCategories(context.Background(), Request{
		Categories: []string{"general"}, PageSize: 10, MaxPages: 1, ExportPath: out,
	})
	require.Error(t, err)
	var httpErr *providers.HTTPError
	assert.True(t, errors.As(err, &httpErr))
	assert.NoFileExists(t, out)
}

func TestCollectPropagatesStoreError(t *testing.T) {
	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"general": {Articles: []domain.Article{article("x", "", "general")}},
	}}
	st := newMemStore()
	st.err = errors.New("disk full")
	_, err := New(fetcher, st, nil).CollectCategories(context.Background(), Request{
		Categories: []string{"general"}, PageSize: 10, MaxPages: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCollectPublishesOnlyNewArticles(t *testing.T) {
	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"science": {Articles: []domain.Article{article("a", "", "science"), article("b", "", "science")}},
	}}
	st := newMemStore()
	sink := &recordingSink{err: errors.New("sink offline")}
	c := New(fetcher, st, nil, WithSink(sink), WithClock(clock), WithRunID("run-7"))

	req := Request{Categories: []string{"science"}, PageSize: 10, MaxPages: 1}
	summary, err := c.CollectCategories(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, summary["science"].Saved)
	require.Len(t, sink.events, 2)
	assert.Equal(t, publishers.EventArticleIngested, sink.events[0].Type)
	assert.Equal(t, "run-7", sink.events[0].RunID)
	assert.Equal(t, "science", sink.events[0].Category)
	assert.Equal(t, fixedNow, sink.events[0].OccurredAt)

	summary, err = c.CollectCategories(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryResult{Skipped: 2, Count: 2}, summary["science"])
	assert.Len(t, sink.events, 2)
}

type stubEnricher struct{ calls int }

func (e *stubEnricher) Enrich(_ context.Context, in []domain.Article) []domain.Article {
	e.calls++
	out := append([]domain.Article(nil), in...)
	for i := range out {
		if out[i].ImageURL == "" {
			out[i].ImageURL = "https://img/" + out[i].Title
		}
	}
	return out
}

func TestCollectEnrichesBeforePersist(t *testing.T) {
	fetcher := &fakeFetcher{byCategory: map[string]providers.Result{
		"entertainment": {Articles: []domain.Article{article("show", "", "entertainment")}},
	}}
	st := newMemStore()
	enr := &stubEnricher{}
	_, err := New(fetcher, st, nil, WithEnricher(enr)).CollectCategories(context.Background(), Request{
		Categories: []string{"entertainment"}, PageSize: 10, MaxPages: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, enr.calls)
	assert.Equal(t, "https://img/show", st.rows[article("show", "").ID].ImageURL)
}

func TestNewAssignsRunID(t *testing.T) {
	c := New(&fakeFetcher{}, newMemStore(), nil)
	assert.Len(t, c.RunID(), 36)
}
