// Package store persists articles with content-identity dedup and category merge.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

// Backend names.
const (
	BackendSQLite    = "sqlite"
	BackendBolt      = "bolt"
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"

	DefaultCollection = "articles"
)

// ErrUnknownBackend is returned when no builder is registered for a backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Store is a persistent article set keyed by content identity.
//
// Upsert inserts a when its id is new and reports true. Otherwise it merges
// a's categories into the stored set, leaves every other field untouched and
// reports false. Merging is idempotent and independent of arrival order.
type Store interface {
	Upsert(ctx context.Context, a domain.Article) (bool, error)
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend string

	// Path is the database file for the sqlite and bolt backends.
	Path string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	FirestoreProject         string
	FirestoreCollection      string
	FirestoreCredentialsFile string
}

// Builder opens a backend.
type Builder func(ctx context.Context, cfg Config, log logger.Logger) (Store, error)

// Registry maps backend names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with optional pre-registered builders.
func NewRegistry(builders map[string]Builder) *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	for name, b := range builders {
		r.Register(name, b)
	}
	return r
}

// Register associates a builder with a backend name.
func (r *Registry) Register(name string, b Builder) {
	if name = strings.ToLower(strings.TrimSpace(name)); name == "" || b == nil {
		return
	}
	r.mu.Lock()
	r.builders[name] = b
	r.mu.Unlock()
}

// Names lists the registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for n := range r.builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open connects the backend named in cfg.
func (r *Registry) Open(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if name == "" {
		name = BackendSQLite
	}

	r.mu.RLock()
	b := r.builders[name]
	r.mu.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}

	st, err := b(ctx, cfg, logger.Ensure(log))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}
	return st, nil
}

// DefaultRegistry wires up the known backends.
func DefaultRegistry() *Registry {
	return NewRegistry(map[string]Builder{
		BackendSQLite:    openSQLite,
		BackendBolt:      openBolt,
		BackendMongo:     openMongo,
		BackendFirestore: openFirestore,
	})
}

// Open connects cfg.Backend using the default registry.
func Open(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	return DefaultRegistry().Open(ctx, cfg, log)
}

// record is the persisted shape shared by all backends.
type record struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	Source      string          `json:"source"`
	Published   string          `json:"published"`
	PublishedTS *time.Time      `json:"published_ts,omitempty"`
	Summary     string          `json:"summary"`
	Categories  []string        `json:"categories"`
	ImageURL    string          `json:"image_url,omitempty"`
	RawJSON     json.RawMessage `json:"raw_json,omitempty"`
}

func toRecord(a domain.Article) record {
	rec := record{
		ID:         a.ID,
		Title:      a.Title,
		URL:        a.URL,
		Source:     a.SourceName,
		Published:  a.Published,
		Summary:    a.Summary,
		Categories: domain.MergeCategories(a.Categories, nil),
		ImageURL:   a.ImageURL,
		RawJSON:    a.Raw,
	}
	if rec.ID == "" {
		rec.ID = domain.MakeID(a.Title, a.URL)
	}
	if rec.ImageURL == "" {
		rec.ImageURL = domain.ImageURLFromRaw(a.Raw)
	}
	if ts, ok := domain.ParsePublished(a.Published); ok {
		ts = ts.UTC()
		rec.PublishedTS = &ts
	}
	return rec
}

// rawMap decodes the raw payload for document stores. Non-object payloads are
// kept under a "value" key.
func rawMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return map[string]any{"value": v}
}

// decodeCategories reads a stored categories column: a JSON array or a legacy CSV.
func decodeCategories(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var cats []string
		if err := json.Unmarshal([]byte(s), &cats); err == nil {
			return domain.MergeCategories(cats, nil)
		}
	}
	return domain.SplitCategories(s)
}

func encodeCategories(cats []string) string {
	b, err := json.Marshal(domain.MergeCategories(cats, nil))
	if err != nil {
		return "[]"
	}
	return string(b)
}

func sameSet(a, b []string) bool {
	a = domain.MergeCategories(a, nil)
	b = domain.MergeCategories(b, nil)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// storedCategories reads a stored categories value; the boolean reports whether
// it was already an array.
func storedCategories(v any) ([]string, bool) {
	switch c := v.(type) {
	case []string:
		return c, true
	case []any:
		return stringsOf(c), true
	case string:
		return domain.SplitCategories(c), false
	default:
		return nil, false
	}
}

func stringsOf(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
