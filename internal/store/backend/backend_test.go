package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/draftpilot/draftpilot/internal/config"
	"github.com/draftpilot/draftpilot/internal/store/memory"
	"github.com/draftpilot/draftpilot/internal/store/postgres"
	"github.com/draftpilot/draftpilot/internal/store/redis"
)

func TestOpen_Memory(t *testing.T) {
	for _, name := range []string{"", Memory} {
		st, closeFn, err := Open(context.Background(), config.Config{StoreBackend: name})
		require.NoError(t, err)
		require.IsType(t, &memory.MemoryStore{}, st)
		require.NoError(t, closeFn())
	}
}

func TestOpen_Redis(t *testing.T) {
	server := miniredis.RunT(t)

	st, closeFn, err := Open(context.Background(), config.Config{StoreBackend: Redis, RedisAddr: server.Addr()})
	require.NoError(t, err)
	require.IsType(t, &redis.RedisStore{}, st)
	require.NoError(t, st.Put(context.Background(), "k", []byte("v")))
	require.True(t, server.Exists("k"))
	require.NoError(t, closeFn())
}

func TestOpen_RedisFailure(t *testing.T) {
	orig := openRedis
	t.Cleanup(func() { openRedis = orig })
	openRedis = func(context.Context, redis.Options) (*redis.RedisStore, error) {
		return nil, errors.New("connection refused")
	}

	_, closeFn, err := Open(context.Background(), config.Config{StoreBackend: Redis})
	require.ErrorContains(t, err, "open redis store")
	require.NoError(t, closeFn())
}

func TestOpen_Postgres(t *testing.T) {
	orig := openPostgres
	t.Cleanup(func() { openPostgres = orig })
	var gotConn string
	openPostgres = func(conn string) (*postgres.PostgresStore, error) {
		gotConn = conn
		return nil, errors.New("dial failed")
	}

	_, _, err := Open(context.Background(), config.Config{StoreBackend: Postgres, PostgresURL: "postgres://db/draftpilot"})
	require.ErrorContains(t, err, "open postgres store")
	require.Equal(t, "postgres://db/draftpilot", gotConn)
}

func TestOpen_Unknown(t *testing.T) {
	_, _, err := Open(context.Background(), config.Config{StoreBackend: "etcd"})
	require.ErrorContains(t, err, "unsupported store backend")
}
