package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Config holds database configuration.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Store wraps the sql.DB connection and implements usecase.QueryStore.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	logger = logger.With("component", "sqlite_store")

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", cfg.Path, timeout.Milliseconds())
	logger.Info("Opening database", slog.String("path", cfg.Path))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", cfg.Path, err)
	}
	return &Store{db: db, path: cfg.Path, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query executes query and renders every row as a tuple, e.g.
// (1, 'Zhang San', 25, 'zhangsan@example.com').
//
// The statement runs inside a transaction that is always rolled back, so
// query_db never changes the store even when given a write statement.
func (s *Store) Query(ctx context.Context, query string) ([]string, error) {
	log := s.logger.With(slog.String("sql", query))
	log.Debug("Executing query")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Warn("Rollback failed", slog.Any("error", rbErr))
		}
	}()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var lines []string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		lines = append(lines, FormatRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	log.Debug("Query completed", slog.Int("rows", len(lines)))
	return lines, nil
}

// SchemaLines lazily describes every user table: a "Table <name>:" header
// followed by one "  - <column> (<type>)" line per column. The catalog is
// read when the sequence is iterated, not when it is created.
func (s *Store) SchemaLines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		tables, err := s.tableNames(ctx)
		if err != nil {
			yield("", err)
			return
		}
		for _, table := range tables {
			if !yield(fmt.Sprintf("Table %s:", table), nil) {
				return
			}
			cols, err := s.columns(ctx, table)
			if err != nil {
				yield("", err)
				return
			}
			for _, c := range cols {
				if !yield(fmt.Sprintf("  - %s (%s)", c.name, c.typ), nil) {
					return
				}
			}
		}
	}
}

func (s *Store) tableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type column struct {
	name string
	typ  string
}

func (s *Store) columns(ctx context.Context, table string) ([]column, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to query table info for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid     int
			c       column
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &c.name, &c.typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info for %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// FormatRow renders one result row as a parenthesised tuple. Text is single
// quoted, NULL is rendered as None, and a one-column row keeps its trailing
// comma.
func FormatRow(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		s := strconv.FormatFloat(val, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		return s
	case bool:
		if val {
			return "1"
		}
		return "0"
	case string:
		return quoteText(val)
	case []byte:
		return "b" + quoteText(string(val))
	case time.Time:
		return quoteText(val.Format("2006-01-02 15:04:05"))
	default:
		return fmt.Sprint(val)
	}
}

func quoteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
