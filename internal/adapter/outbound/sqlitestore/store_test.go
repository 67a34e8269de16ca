package sqlitestore_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/nlquery/internal/adapter/outbound/sqlitestore"
)

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store, err := sqlitestore.Open(sqlitestore.Config{Path: filepath.Join(t.TempDir(), "data", "database.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSeededStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	store := newStore(t)
	require.NoError(t, store.Seed(context.Background()))
	return store
}

func TestStore_Query(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		sql     string
		want    []string
		wantErr bool
	}{
		{
			name: "All users",
			sql:  "SELECT * FROM users",
			want: []string{
				"(1, 'Zhang San', 25, 'zhangsan@example.com')",
				"(2, 'Li Si', 30, 'lisi@example.com')",
				"(3, 'Wang Wu', 35, 'wangwu@example.com')",
			},
		},
		{
			name: "Single column keeps tuple comma",
			sql:  "SELECT COUNT(*) FROM orders",
			want: []string{"(4,)"},
		},
		{
			name: "Join with real prices",
			sql:  "SELECT u.name, o.product_name, o.price FROM users u JOIN orders o ON o.user_id = u.id WHERE u.id = 1 ORDER BY o.id",
			want: []string{"('Zhang San', 'Laptop', 6999.99)", "('Zhang San', 'Phone', 4999.99)"},
		},
		{
			name: "Null and whole float",
			sql:  "SELECT NULL, 2.0",
			want: []string{"(None, 2.0)"},
		},
		{
			name: "No rows",
			sql:  "SELECT * FROM users WHERE age > 100",
			want: nil,
		},
		{name: "Syntax error", sql: "SELEKT * FROM users", wantErr: true},
		{name: "Unknown table", sql: "SELECT * FROM userz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(ctx, tt.sql)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_QueryDoesNotPersistWrites(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	_, err := store.Query(ctx, "DELETE FROM orders")
	require.NoError(t, err)

	rows, err := store.Query(ctx, "SELECT id FROM orders")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestStore_SchemaLines(t *testing.T) {
	store := newSeededStore(t)

	var lines []string
	for line, err := range store.SchemaLines(context.Background()) {
		require.NoError(t, err)
		lines = append(lines, line)
	}

	assert.Equal(t, []string{
		"Table users:",
		"  - id (INTEGER)",
		"  - name (TEXT)",
		"  - age (INTEGER)",
		"  - email (TEXT)",
		"Table orders:",
		"  - id (INTEGER)",
		"  - user_id (INTEGER)",
		"  - product_name (TEXT)",
		"  - price (REAL)",
		"  - order_date (TEXT)",
	}, lines)
}

func TestStore_SchemaLinesReadsCatalogOnIteration(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	seq := store.SchemaLines(ctx)

	require.NoError(t, store.Seed(ctx))

	var all strings.Builder
	for line, err := range seq {
		require.NoError(t, err)
		all.WriteString(line + "\n")
	}
	assert.Contains(t, all.String(), "Table users:")
	assert.Contains(t, all.String(), "Table orders:")
}

func TestStore_SchemaLinesEmptyDatabase(t *testing.T) {
	store := newStore(t)
	count := 0
	for _, err := range store.SchemaLines(context.Background()) {
		require.NoError(t, err)
		count++
	}
	assert.Zero(t, count)
}

func TestStore_SeedIsIdempotent(t *testing.T) {
	store := newSeededStore(t)
	require.NoError(t, store.Seed(context.Background()))

	rows, err := store.Query(context.Background(), "SELECT COUNT(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, []string{"(3,)"}, rows)
}

func TestFormatRow(t *testing.T) {
	assert.Equal(t, "('O\\'Brien', b'raw')", sqlitestore.FormatRow([]any{"O'Brien", []byte("raw")}))
	assert.Equal(t, "(1, 0)", sqlitestore.FormatRow([]any{true, false}))
}
