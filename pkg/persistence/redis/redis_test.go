package redis_test

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/persistence/persistencetest"
	redisstore "github.com/dukex/bpmnvm/pkg/persistence/redis"
)

var redisContainer testcontainers.Container

func setupRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	if redisContainer == nil || !redisContainer.IsRunning() {
		var err error

		redisContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForListeningPort("6379/tcp"),
			},
			Started: true,
		})
		require.NoError(t, err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	require.NoError(t, err)

	return "redis://" + endpoint + "/0"
}

func TestStore_JobStore(t *testing.T) {
	persistencetest.RunJobStoreTests(t, func(t *testing.T) persistence.JobStore {
		databaseURL := setupRedis(t)

		options, err := redis.ParseURL(databaseURL)
		require.NoError(t, err)

		client := redis.NewClient(options)
		require.NoError(t, client.FlushDB(t.Context()).Err())

		store := redisstore.NewStoreWithClient(log.Discard(), client, "test")

		t.Cleanup(func() {
			require.NoError(t, store.Close(context.Background()))
		})

		return store
	})
}

func TestNewStore(t *testing.T) {
	databaseURL := setupRedis(t)

	store, err := redisstore.NewStore(t.Context(), log.Discard(), databaseURL)
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(t.Context()))
	require.NoError(t, store.Close(t.Context()))

	_, err = redisstore.NewStore(t.Context(), log.Discard(), "not a url")
	require.Error(t, err)
}
