package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adda-Baaj/khobor-collector/internal/backfill"
	"github.com/Adda-Baaj/khobor-collector/internal/config"
	"github.com/Adda-Baaj/khobor-collector/internal/domain"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, k := range []string{"NEWSAPI_KEY", "KHOBOR_API_KEY", "KHOBOR_BASE_URL", "KHOBOR_STORE_BACKEND", "KHOBOR_CATEGORIES"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd(&out)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc", "today")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "khobor 1.2.3 (commit: abc, built: today)\n", out)
}

func TestCollectRejectsConfigBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		env  map[string]string
		args []string
		want error
	}{
		{
			name: "invalid category",
			env:  map[string]string{"NEWSAPI_KEY": "k"},
			args: []string{"collect", "--categories", "weather"},
			want: config.ErrInvalidCategory,
		},
		{
			name: "missing api key",
			args: []string{"collect", "--categories", "science"},
			want: config.ErrMissingAPIKey,
		},
		{
			name: "unknown backend",
			env:  map[string]string{"NEWSAPI_KEY": "k"},
			args: []string{"collect", "--store", "csv"},
			want: config.ErrUnknownBackend,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv("KHOBOR_BASE_URL", srv.URL)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			out, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err)
			assert.Empty(t, out)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestCollectRejectsBadSchedule(t *testing.T) {
	isolate(t)
	t.Setenv("NEWSAPI_KEY", "k")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	}))
	defer srv.Close()
	t.Setenv("KHOBOR_BASE_URL", srv.URL)

	_, err := execute(t, "collect", "--categories", "science", "--every", "every now and then")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --every schedule")
}

func TestCollectEndToEnd(t *testing.T) {
	dir := isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"articles": []map[string]any{
				{"title": "Shared", "url": "https://e.com/shared", "publishedAt": "2024-03-01T12:00:00Z", "source": map[string]any{"name": "Wire"}},
				{"title": "Only " + r.URL.Query().Get("category"), "url": "https://e.com/" + r.URL.Query().Get("category")},
			},
		})
	}))
	defer srv.Close()
	t.Setenv("NEWSAPI_KEY", "k")
	t.Setenv("KHOBOR_BASE_URL", srv.URL)
	t.Setenv("KHOBOR_PAGE_DELAY", "0s")

	dbPath := filepath.Join(dir, "news.db")
	exportPath := filepath.Join(dir, "out.json")
	out, err := execute(t, "collect", "--categories", "science,health", "--db-path", dbPath, "--out", exportPath)
	require.NoError(t, err)

	var summary domain.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, domain.CategoryResult{Saved: 2, Skipped: 0, Count: 2}, summary["science"])
	assert.Equal(t, domain.CategoryResult{Saved: 1, Skipped: 1, Count: 2}, summary["health"])

	raw, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var exported []map[string]any
	require.NoError(t, json.Unmarshal(raw, &exported))
	assert.Len(t, exported, 4)

	// A second run merges nothing new and saves nothing.
	out, err = execute(t, "collect", "--categories", "science", "--db-path", dbPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, domain.CategoryResult{Saved: 0, Skipped: 2, Count: 2}, summary["science"])

	out, err = execute(t, "backfill", "--db-path", dbPath, "--dry-run")
	require.NoError(t, err)
	var stats backfill.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Scanned)
	assert.True(t, stats.DryRun)
}

func TestBackfillUnsupportedBackend(t *testing.T) {
	dir := isolate(t)
	_, err := execute(t, "backfill", "--store", "bolt", "--db-path", filepath.Join(dir, "news.bolt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backfill.ErrUnsupported)
}

func TestBackfillRejectsBatchSize(t *testing.T) {
	isolate(t)
	_, err := execute(t, "backfill", "--batch-size", "451")
	assert.ErrorIs(t, err, config.ErrInvalidBatchSize)
}
