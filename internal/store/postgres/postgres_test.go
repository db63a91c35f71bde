package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	storepkg "github.com/draftpilot/draftpilot/internal/store"
)

var (
	testDB   *sql.DB
	testConn string
)

// TestMain starts a throwaway postgres for the integration tests below. When
// no container runtime is available they skip and the sqlmock tests still run.
func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("draftpilot"),
		tcpostgres.WithUsername("draftpilot"),
		tcpostgres.WithPassword("draftpilot"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "postgres container unavailable, skipping integration tests:", err)
		os.Exit(m.Run())
	}
	code := func() int {
		defer func() { _ = container.Terminate(ctx) }()
		conn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintln(os.Stderr, "connection string:", err)
			return 1
		}
		ldb, err := sql.Open("pgx", conn)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open db:", err)
			return 1
		}
		defer ldb.Close()
		if err := waitForDB(ldb); err != nil {
			fmt.Fprintln(os.Stderr, "ping db:", err)
			return 1
		}
		if err := applyMigrations(ctx, ldb); err != nil {
			fmt.Fprintln(os.Stderr, "apply migrations:", err)
			return 1
		}
		testDB = ldb
		testConn = conn
		return m.Run()
	}()
	os.Exit(code)
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	migrationsDir := filepath.Join(root, "infra", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		contents, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func waitForDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var lastErr error
	for i := 0; i < 20; i++ {
		if err := db.PingContext(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func repoRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("resolve repo root")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", "..")), nil
}

func newStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres container not available")
	}
	if _, err := testDB.Exec("TRUNCATE TABLE session_records"); err != nil {
		t.Fatalf("clean db: %v", err)
	}
	return &PostgresStore{db: testDB, now: time.Now}
}

func TestNew_Success(t *testing.T) {
	newStore(t)
	pgStore, err := New(testConn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	require.NoError(t, pgStore.Close())
}

func TestNew_SchemaMissingTable(t *testing.T) {
	newStore(t)
	ctx := context.Background()
	_, err := testDB.ExecContext(ctx, "DROP TABLE IF EXISTS session_records")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, applyMigrations(ctx, testDB))
	}()

	_, err = New(testConn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "session_records table not found")
}

func TestRoundTrip(t *testing.T) {
	pgStore := newStore(t)
	ctx := context.Background()

	_, err := pgStore.Get(ctx, "session:1")
	require.True(t, errors.Is(err, storepkg.ErrNotFound))

	require.NoError(t, pgStore.Put(ctx, "session:1", []byte(`{"stage":"input"}`)))
	require.NoError(t, pgStore.Put(ctx, "session:1", []byte(`{"stage":"research","options":[]}`)))

	value, err := pgStore.Get(ctx, "session:1")
	require.NoError(t, err)
	require.JSONEq(t, `{"stage":"research","options":[]}`, string(value))

	require.NoError(t, pgStore.Delete(ctx, "session:1"))
	_, err = pgStore.Get(ctx, "session:1")
	require.ErrorIs(t, err, storepkg.ErrNotFound)
	require.NoError(t, pgStore.Ping(ctx))
}
