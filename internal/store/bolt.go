package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

// DefaultBoltPath is the database file used when none is configured.
const DefaultBoltPath = "news.bolt"

var articlesBucket = []byte("articles")

// BoltStore keeps articles as JSON values in a bbolt bucket keyed by id. The
// file lock held by bbolt serializes writers across processes.
type BoltStore struct {
	db  *bolt.DB
	log logger.Logger
}

func openBolt(_ context.Context, cfg Config, log logger.Logger) (Store, error) {
	return OpenBolt(cfg.Path, log)
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string, log logger.Logger) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultBoltPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(articlesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}

	return &BoltStore{db: db, log: logger.Ensure(log)}, nil
}

// Upsert implements Store.
func (s *BoltStore) Upsert(ctx context.Context, a domain.Article) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rec := toRecord(a)

	var inserted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(articlesBucket)
		if b == nil {
			return errors.New("articles bucket missing")
		}
		key := []byte(rec.ID)

		existing := b.Get(key)
		if existing == nil {
			val, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode article: %w", err)
			}
			inserted = true
			return b.Put(key, val)
		}

		var stored record
		if err := json.Unmarshal(existing, &stored); err != nil {
			return fmt.Errorf("decode stored article: %w", err)
		}
		merged := domain.MergeCategories(stored.Categories, rec.Categories)
		if sameSet(stored.Categories, merged) {
			return nil
		}
		stored.Categories = merged
		val, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode article: %w", err)
		}
		return b.Put(key, val)
	})
	if err != nil {
		return false, fmt.Errorf("upsert article %s: %w", rec.ID, err)
	}
	return inserted, nil
}

// Get returns the stored article with the given id.
func (s *BoltStore) Get(_ context.Context, id string) (domain.Article, bool, error) {
	var (
		rec   record
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(articlesBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return domain.Article{}, false, fmt.Errorf("read article %s: %w", id, err)
	}
	if !found {
		return domain.Article{}, false, nil
	}
	return rec.article(), true, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (r record) article() domain.Article {
	return domain.Article{
		ID:         r.ID,
		Title:      r.Title,
		URL:        r.URL,
		SourceName: r.Source,
		Published:  r.Published,
		Summary:    r.Summary,
		Categories: domain.MergeCategories(r.Categories, nil),
		ImageURL:   r.ImageURL,
		Raw:        r.RawJSON,
	}
}
