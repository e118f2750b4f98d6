//go:build integration

package vectorstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer runs image and returns host:port for the exposed port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start %s", req.Image)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func largeRecords() []MovieRecord {
	const dim = 1536
	records := testRecords()
	for i := range records {
		v := make([]float32, dim)
		copy(v, records[i].Vector)
		v[dim-1] = 0.01
		records[i].Vector = v
	}
	return records
}

func queryVector(axis int) []float32 {
	v := make([]float32, 1536)
	v[axis] = 1
	return v
}

// exerciseStore runs the shared behaviour checks against a live backend.
func exerciseStore(t *testing.T, s Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err := s.Search(ctx, queryVector(0), 3)
	assert.ErrorIs(t, err, ErrStoreUnavailable, "search before the collection exists")

	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.EnsureCollection(ctx), "ensure is idempotent")
	require.NoError(t, s.Upsert(ctx, largeRecords()))
	require.NoError(t, s.Upsert(ctx, largeRecords()), "same ids overwrite")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	docs, err := s.Search(ctx, queryVector(0), 3)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.LessOrEqual(t, len(docs), 3)
	assert.Equal(t, "The Witch", docs[0].Title())
	for i := 1; i < len(docs); i++ {
		assert.GreaterOrEqual(t, docs[i-1].Score, docs[i].Score)
	}

	_, err = s.Search(ctx, queryVector(0), 0)
	assert.ErrorIs(t, err, ErrInvalidK)

	require.NoError(t, s.RecreateCollection(ctx))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQdrantStore(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "qdrant/qdrant:v1.16.2",
		ExposedPorts: []string{"6334/tcp"},
		WaitingFor:   wait.ForListeningPort("6334/tcp").WithStartupTimeout(60 * time.Second),
	}, "6334")

	s, err := NewQdrant(QdrantConfig{
		URL:        "http://" + addr,
		Collection: "imdb_movies",
		Dimension:  1536,
	}, nil, nil)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestSurrealStore(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "surrealdb/surrealdb:v2.3.7",
		ExposedPorts: []string{"8000/tcp"},
		Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
		WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
	}, "8000")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewSurreal(ctx, SurrealConfig{
		URL:        fmt.Sprintf("ws://%s/rpc", addr),
		Namespace:  "test",
		Database:   "test",
		Username:   "root",
		Password:   "root",
		AuthLevel:  "root",
		Collection: "imdb_movies",
		Dimension:  1536,
	}, nil, nil)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}
