package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Adda-Baaj/khobor-collector/internal/backfill"
	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

const (
	// DefaultMongoDatabase is used when the config names no database.
	DefaultMongoDatabase = "khobor"

	mongoConnectTimeout = 10 * time.Second
	mongoMaxCASAttempts = 8
	revField            = "rev"
)

// MongoStore keeps articles in a MongoDB collection keyed by _id. Category
// merges are compare-and-swap updates on a revision counter.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logger.Logger
}

func openMongo(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	return OpenMongo(ctx, cfg, log)
}

// OpenMongo connects to cfg.MongoURI and verifies the server is reachable.
func OpenMongo(ctx context.Context, cfg Config, log logger.Logger) (*MongoStore, error) {
	if strings.TrimSpace(cfg.MongoURI) == "" {
		return nil, errors.New("mongo uri is empty")
	}
	dbName := cfg.MongoDatabase
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}
	collName := cfg.MongoCollection
	if collName == "" {
		collName = DefaultCollection
	}

	cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.MongoURI).SetMaxPoolSize(16))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
		log:    logger.Ensure(log),
	}, nil
}

func mongoDocument(rec record) bson.M {
	doc := bson.M{
		"_id":        rec.ID,
		"title":      rec.Title,
		"url":        rec.URL,
		"source":     rec.Source,
		"published":  rec.Published,
		"summary":    rec.Summary,
		"categories": rec.Categories,
		revField:     int64(1),
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

// Upsert implements Store.
func (s *MongoStore) Upsert(ctx context.Context, a domain.Article) (bool, error) {
	rec := toRecord(a)

	for attempt := 1; attempt <= mongoMaxCASAttempts; attempt++ {
		var cur bson.M
		err := s.coll.FindOne(ctx, bson.M{"_id": rec.ID}).Decode(&cur)
		if errors.Is(err, mongo.ErrNoDocuments) {
			_, err := s.coll.InsertOne(ctx, mongoDocument(rec))
			if err == nil {
				return true, nil
			}
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return false, fmt.Errorf("insert article %s: %w", rec.ID, err)
		}
		if err != nil {
			return false, fmt.Errorf("read article %s: %w", rec.ID, err)
		}

		current, isArray := storedCategories(plainValue(cur["categories"]))
		merged := domain.MergeCategories(current, rec.Categories)
		if isArray && sameSet(current, merged) {
			return false, nil
		}

		filter := bson.M{"_id": rec.ID}
		if rev, ok := cur[revField]; ok {
			filter[revField] = rev
		} else {
			filter[revField] = bson.M{"$exists": false}
		}
		update := bson.M{
			"$set": bson.M{"categories": merged},
			"$inc": bson.M{revField: 1},
		}
		res, err := s.coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return false, fmt.Errorf("merge categories for %s: %w", rec.ID, err)
		}
		if res.MatchedCount == 1 {
			return false, nil
		}
		s.log.DebugObj("mongo merge lost a race, retrying", "store_mongo_cas_retry", map[string]any{
			"id":      rec.ID,
			"attempt": attempt,
		})
	}
	return false, fmt.Errorf("merge categories for %s: gave up after %d conflicting attempts", rec.ID, mongoMaxCASAttempts)
}

// ScanDocuments implements backfill.Source.
func (s *MongoStore) ScanDocuments(ctx context.Context, startAfter string, limit int) ([]backfill.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$gt": startAfter}}, opts)
	if err != nil {
		return nil, fmt.Errorf("scan articles: %w", err)
	}
	defer cur.Close(ctx)

	var docs []backfill.Document
	for cur.Next(ctx) {
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode article: %w", err)
		}
		id, _ := m["_id"].(string)
		docs = append(docs, backfill.Document{ID: id, Fields: plainFields(m)})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return docs, nil
}

// ApplyUpdates implements backfill.Source.
func (s *MongoStore) ApplyUpdates(ctx context.Context, updates []backfill.Update) error {
	if len(updates) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.ID}).
			SetUpdate(bson.M{"$set": bson.M(u.Set), "$inc": bson.M{revField: 1}}))
	}
	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("bulk update articles: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// plainFields converts driver-specific values into the plain Go types the
// backfill computation understands.
func plainFields(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.A:
		items := make([]any, len(t))
		for i := range t {
			items[i] = plainValue(t[i])
		}
		return items
	case primitive.M:
		return plainFields(bson.M(t))
	case primitive.D:
		return plainFields(t.Map())
	default:
		return v
	}
}
