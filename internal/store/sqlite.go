package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Adda-Baaj/khobor-collector/internal/backfill"
	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

// DefaultSQLitePath is the database file used when none is configured.
const DefaultSQLitePath = "news.db"

const sqliteTable = "articles"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	title        TEXT,
	url          TEXT,
	source       TEXT,
	published    TEXT,
	published_ts INTEGER,
	summary      TEXT,
	categories   TEXT NOT NULL DEFAULT '[]',
	image_url    TEXT,
	raw_json     TEXT
);
`

const sqliteIndexes = `CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published);`

// sqliteAddedColumns were introduced after the first table layout and are
// added in place to older databases.
var sqliteAddedColumns = []struct{ name, decl string }{
	{"categories", "TEXT"},
	{"published_ts", "INTEGER"},
	{"image_url", "TEXT"},
}

// SQLiteStore keeps articles in a single SQLite file. Writers serialize on an
// immediate transaction, so concurrent processes see each other's inserts.
type SQLiteStore struct {
	db  *sql.DB
	log logger.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	return OpenSQLite(ctx, cfg.Path, log)
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string, log logger.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultSQLitePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteIndexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite index: %w", err)
	}

	return &SQLiteStore{db: db, log: logger.Ensure(log)}, nil
}

// migrateSQLite adds columns missing from tables created by older versions.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	cols, err := sqliteColumns(ctx, db)
	if err != nil {
		return err
	}
	for _, c := range sqliteAddedColumns {
		if _, ok := cols[c.name]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, "ALTER TABLE "+sqliteTable+" ADD COLUMN "+c.name+" "+c.decl); err != nil {
			return fmt.Errorf("add sqlite column %s: %w", c.name, err)
		}
	}
	return nil
}

func sqliteColumns(ctx context.Context, db *sql.DB) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+sqliteTable+")")
	if err != nil {
		return nil, fmt.Errorf("read sqlite columns: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan sqlite column: %w", err)
		}
		cols[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sqlite columns: %w", err)
	}
	return cols, nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, a domain.Article) (bool, error) {
	rec := toRecord(a)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var ts any
	if rec.PublishedTS != nil {
		ts = rec.PublishedTS.UnixMilli()
	}
	insert, args, err := sq.Insert(sqliteTable).
		Columns("id", "title", "url", "source", "published", "published_ts", "summary", "categories", "image_url", "raw_json").
		Values(rec.ID, rec.Title, rec.URL, rec.Source, rec.Published, ts, rec.Summary,
			encodeCategories(rec.Categories), rec.ImageURL, string(rec.RawJSON)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	_, err = tx.ExecContext(ctx, insert, args...)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit insert: %w", err)
		}
		return true, nil
	case !isConstraintErr(err):
		return false, fmt.Errorf("insert article %s: %w", rec.ID, err)
	}

	sel, args, err := sq.Select("categories").From(sqliteTable).Where(sq.Eq{"id": rec.ID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("build select: %w", err)
	}
	var stored sql.NullString
	if err := tx.QueryRowContext(ctx, sel, args...).Scan(&stored); err != nil {
		return false, fmt.Errorf("read article %s: %w", rec.ID, err)
	}

	current := decodeCategories(stored.String)
	merged := domain.MergeCategories(current, rec.Categories)
	if encodeCategories(merged) != stored.String {
		update, args, err := sq.Update(sqliteTable).
			Set("categories", encodeCategories(merged)).
			Where(sq.Eq{"id": rec.ID}).
			ToSql()
		if err != nil {
			return false, fmt.Errorf("build update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return false, fmt.Errorf("merge categories for %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit merge: %w", err)
	}
	return false, nil
}

// Get returns the stored article with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Article, bool, error) {
	query, args, err := sq.Select("id", "title", "url", "source", "published", "summary", "categories", "image_url", "raw_json").
		From(sqliteTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Article{}, false, fmt.Errorf("build select: %w", err)
	}

	var (
		a                                      domain.Article
		title, url, source, published, summary sql.NullString
		categories, imageURL, raw              sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&a.ID, &title, &url, &source, &published, &summary, &categories, &imageURL, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, false, nil
	}
	if err != nil {
		return domain.Article{}, false, fmt.Errorf("read article %s: %w", id, err)
	}

	a.Title = title.String
	a.URL = url.String
	a.SourceName = source.String
	a.Published = published.String
	a.Summary = summary.String
	a.Categories = decodeCategories(categories.String)
	a.ImageURL = imageURL.String
	if raw.String != "" {
		a.Raw = []byte(raw.String)
	}
	return a, true, nil
}

// ScanDocuments implements backfill.Source.
func (s *SQLiteStore) ScanDocuments(ctx context.Context, startAfter string, limit int) ([]backfill.Document, error) {
	query, args, err := sq.Select("id", "published", "published_ts", "categories", "image_url", "raw_json").
		From(sqliteTable).
		Where(sq.Gt{"id": startAfter}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan articles: %w", err)
	}
	defer rows.Close()

	var docs []backfill.Document
	for rows.Next() {
		var (
			id                             string
			published, cats, imageURL, raw sql.NullString
			ts                             sql.NullInt64
		)
		if err := rows.Scan(&id, &published, &ts, &cats, &imageURL, &raw); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}

		fields := map[string]any{
			backfill.FieldPublished: published.String,
			backfill.FieldImageURL:  imageURL.String,
			backfill.FieldRaw:       raw.String,
		}
		if ts.Valid {
			fields[backfill.FieldPublishedTS] = time.UnixMilli(ts.Int64).UTC()
		}
		// The column is TEXT, so only a JSON array counts as array-typed.
		if c := strings.TrimSpace(cats.String); strings.HasPrefix(c, "[") {
			fields[backfill.FieldCategories] = decodeCategoriesRaw(c)
		} else {
			fields[backfill.FieldCategories] = cats.String
		}
		docs = append(docs, backfill.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return docs, nil
}

// ApplyUpdates implements backfill.Source.
func (s *SQLiteStore) ApplyUpdates(ctx context.Context, updates []backfill.Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, u := range updates {
		set := make(map[string]any, len(u.Set))
		for k, v := range u.Set {
			switch val := v.(type) {
			case time.Time:
				set[k] = val.UnixMilli()
			case []string:
				set[k] = encodeCategories(val)
			default:
				set[k] = val
			}
		}
		query, args, err := sq.Update(sqliteTable).SetMap(set).Where(sq.Eq{"id": u.ID}).ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update article %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit backfill batch: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// decodeCategoriesRaw returns the stored array as-is so backfill can tell an
// unsorted array from a canonical one.
func decodeCategoriesRaw(s string) any {
	var out []any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	if out == nil {
		out = []any{}
	}
	return out
}

func isConstraintErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
