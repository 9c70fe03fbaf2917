package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMongoUpsertMerge(t *testing.T) {
	uri := os.Getenv("KHOBOR_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("KHOBOR_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := OpenMongo(ctx, Config{
		MongoURI:        uri,
		MongoDatabase:   "khobor_test",
		MongoCollection: "articles_" + uuid.NewString(),
	}, nil)
	require.NoError(t, err)
	defer func() {
		_ = st.coll.Drop(ctx)
		_ = st.Close()
	}()

	isNew, err := st.Upsert(ctx, sampleArticle("technology"))
	require.NoError(t, err)
	assert.True(t, isNew)
	isNew, err = st.Upsert(ctx, sampleArticle("science"))
	require.NoError(t, err)
	assert.False(t, isNew)
	isNew, err = st.Upsert(ctx, sampleArticle("science"))
	require.NoError(t, err)
	assert.False(t, isNew)

	docs, err := st.ScanDocuments(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []any{"science", "technology"}, docs[0].Fields["categories"])
}

func TestFirestoreUpsertMerge(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := OpenFirestore(ctx, Config{
		FirestoreProject:    "khobor-test",
		FirestoreCollection: "articles_" + uuid.NewString(),
	}, nil)
	require.NoError(t, err)
	defer st.Close()

	isNew, err := st.Upsert(ctx, sampleArticle("technology"))
	require.NoError(t, err)
	assert.True(t, isNew)
	isNew, err = st.Upsert(ctx, sampleArticle("science"))
	require.NoError(t, err)
	assert.False(t, isNew)

	docs, err := st.ScanDocuments(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []any{"science", "technology"}, docs[0].Fields["categories"])
}

func TestFirestoreHealth(t *testing.T) {
	assert.NoError(t, firestoreHealth(nil))
	assert.NoError(t, firestoreHealth(status.Error(codes.NotFound, `"projects/p/databases/(default)/documents/healthcheck/ping" not found`)))

	denied := status.Error(codes.PermissionDenied, "missing permission")
	err := firestoreHealth(denied)
	require.Error(t, err)
	assert.True(t, errors.Is(err, denied))
	assert.Contains(t, err.Error(), "firestore unreachable")

	err = firestoreHealth(status.Error(codes.NotFound, "The database (default) does not exist for project khobor-test"))
	assert.Error(t, err)
}
