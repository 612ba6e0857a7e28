package tools

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}

	os.Exit(code)
}

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedisClient
}

type debuggerState struct {
	PID int `json:"pid"`
}

func TestIntegrationStore_SaveLoadRoundTrips(t *testing.T) {
	rdb := getRedis(t)
	store := NewIntegrationStore(rdb, time.Minute)
	key := SessionKey("debugger_attach", "chat-1")

	require.NoError(t, store.Save(context.Background(), key, debuggerState{PID: 4242}))

	var out debuggerState
	ok, err := store.Load(context.Background(), key, &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4242, out.PID)
}

func TestIntegrationStore_LoadMissingKeyReportsNotOk(t *testing.T) {
	rdb := getRedis(t)
	store := NewIntegrationStore(rdb, time.Minute)

	var out debuggerState
	ok, err := store.Load(context.Background(), SessionKey("debugger_attach", "no-such-chat"), &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIntegrationStore_TryStopRemovesState(t *testing.T) {
	rdb := getRedis(t)
	store := NewIntegrationStore(rdb, time.Minute)
	key := SessionKey("debugger_attach", "chat-1")

	require.NoError(t, store.Save(context.Background(), key, debuggerState{PID: 1}))
	require.NoError(t, store.TryStop(context.Background(), key))

	var out debuggerState
	ok, err := store.Load(context.Background(), key, &out)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIntegrationStore_LockIsMutuallyExclusivePerKey(t *testing.T) {
	rdb := getRedis(t)
	store := NewIntegrationStore(rdb, time.Minute)
	key := SessionKey("debugger_attach", "chat-1")

	unlock, err := store.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = store.Lock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock2, err := store.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock2()
}

func TestIntegrationStore_DistinctKeysDoNotContend(t *testing.T) {
	rdb := getRedis(t)
	store := NewIntegrationStore(rdb, time.Minute)

	unlockA, err := store.Lock(context.Background(), SessionKey("tool_a", "chat-1"))
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := store.Lock(context.Background(), SessionKey("tool_b", "chat-1"))
	require.NoError(t, err)
	unlockB()
}

func TestIntegrationStore_SweepIdleDropsStaleLocks(t *testing.T) {
	rdb := getRedis(t)
	store := NewIntegrationStore(rdb, time.Millisecond)
	key := SessionKey("debugger_attach", "chat-1")

	unlock, err := store.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()

	time.Sleep(5 * time.Millisecond)
	store.SweepIdle()

	store.mu.Lock()
	_, present := store.locks[key]
	store.mu.Unlock()
	require.False(t, present)
}
