package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Adda-Baaj/khobor-collector/internal/backfill"
	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

const (
	firestoreHealthCollection = "healthcheck"
	firestoreHealthDoc        = "ping"
	firestoreHealthTimeout    = 10 * time.Second
)

// FirestoreStore keeps articles as documents named by id. Each upsert runs in
// a Firestore transaction, which retries on contention.
type FirestoreStore struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
	log    logger.Logger
}

func openFirestore(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	return OpenFirestore(ctx, cfg, log)
}

// OpenFirestore builds a client with application default credentials unless a
// credentials file is configured. FIRESTORE_EMULATOR_HOST is honoured by the SDK.
func OpenFirestore(ctx context.Context, cfg Config, log logger.Logger) (*FirestoreStore, error) {
	project := strings.TrimSpace(cfg.FirestoreProject)
	if project == "" {
		project = firestore.DetectProjectID
	}
	collName := cfg.FirestoreCollection
	if collName == "" {
		collName = DefaultCollection
	}

	var opts []option.ClientOption
	if cfg.FirestoreCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirestoreCredentialsFile))
	}

	client, err := firestore.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, firestoreHealthTimeout)
	defer cancel()
	_, err = client.Collection(firestoreHealthCollection).Doc(firestoreHealthDoc).Get(hctx)
	if err := firestoreHealth(err); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &FirestoreStore{
		client: client,
		coll:   client.Collection(collName),
		log:    logger.Ensure(log),
	}, nil
}

func firestoreDocument(rec record) map[string]any {
	doc := map[string]any{
		"title":      rec.Title,
		"url":        rec.URL,
		"source":     rec.Source,
		"published":  rec.Published,
		"summary":    rec.Summary,
		"categories": rec.Categories,
	}
	if rec.PublishedTS != nil {
		doc["published_ts"] = *rec.PublishedTS
	}
	if rec.ImageURL != "" {
		doc["image_url"] = rec.ImageURL
	}
	if raw := rawMap(rec.RawJSON); raw != nil {
		doc["raw_json"] = raw
	}
	return doc
}

// firestoreHealth interprets the result of the startup read. A missing
// document still proves the database exists and is reachable. A missing
// database shares the code but reports that it "does not exist".
func firestoreHealth(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound &&
		!strings.Contains(st.Message(), "does not exist") {
		return nil
	}
	return fmt.Errorf("firestore unreachable (check that the project has a Native mode database and the credentials can read it): %w", err)
}

// Upsert implements Store.
func (s *FirestoreStore) Upsert(ctx context.Context, a domain.Article) (bool, error) {
	rec := toRecord(a)
	ref := s.coll.Doc(rec.ID)

	var inserted bool
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		inserted = false

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			inserted = true
			return tx.Create(ref, firestoreDocument(rec))
		}
		if err != nil {
			return err
		}

		current, isArray := storedCategories(snap.Data()["categories"])
		merged := domain.MergeCategories(current, rec.Categories)
		if isArray && sameSet(current, merged) {
			return nil
		}
		return tx.Set(ref, map[string]any{"categories": merged}, firestore.MergeAll)
	})
	if err != nil {
		return false, fmt.Errorf("upsert article %s: %w", rec.ID, err)
	}
	return inserted, nil
}

// ScanDocuments implements backfill.Source.
func (s *FirestoreStore) ScanDocuments(ctx context.Context, startAfter string, limit int) ([]backfill.Document, error) {
	q := s.coll.OrderBy(firestore.DocumentID, firestore.Asc).Limit(limit)
	if startAfter != "" {
		q = q.StartAfter(startAfter)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []backfill.Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scan articles: %w", err)
		}
		docs = append(docs, backfill.Document{ID: snap.Ref.ID, Fields: snap.Data()})
	}
	return docs, nil
}

// ApplyUpdates implements backfill.Source.
func (s *FirestoreStore) ApplyUpdates(ctx context.Context, updates []backfill.Update) error {
	if len(updates) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(updates))
	for _, u := range updates {
		fields := make([]firestore.Update, 0, len(u.Set))
		for k, v := range u.Set {
			fields = append(fields, firestore.Update{Path: k, Value: v})
		}
		job, err := bw.Update(s.coll.Doc(u.ID), fields)
		if err != nil {
			bw.End()
			return fmt.Errorf("queue update for %s: %w", u.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var errs []error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", updates[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the client connection.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
