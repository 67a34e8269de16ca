package sqlitestore

import (
	"context"
	"fmt"
	"log/slog"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	age INTEGER,
	email TEXT
);
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY,
	user_id INTEGER,
	product_name TEXT NOT NULL,
	price REAL,
	order_date TEXT,
	FOREIGN KEY (user_id) REFERENCES users (id)
);`

type userRow struct {
	id    int
	name  string
	age   int
	email string
}

type orderRow struct {
	id      int
	userID  int
	product string
	price   float64
	date    string
}

var sampleUsers = []userRow{
	{1, "Zhang San", 25, "zhangsan@example.com"},
	{2, "Li Si", 30, "lisi@example.com"},
	{3, "Wang Wu", 35, "wangwu@example.com"},
}

var sampleOrders = []orderRow{
	{1, 1, "Laptop", 6999.99, "2025-04-01"},
	{2, 1, "Phone", 4999.99, "2025-04-15"},
	{3, 2, "Tablet", 3999.99, "2025-04-20"},
	{4, 3, "Headphones", 999.99, "2025-05-01"},
}

// Seed creates the users and orders tables if missing and upserts the
// sample rows. Running it twice leaves the same data.
func (s *Store) Seed(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() {
		if err != nil {
			s.logger.Warn("Rolling back seed transaction", slog.Any("error", err))
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	for _, u := range sampleUsers {
		if _, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO users VALUES (?, ?, ?, ?)",
			u.id, u.name, u.age, u.email); err != nil {
			return fmt.Errorf("failed to insert user %d: %w", u.id, err)
		}
	}
	for _, o := range sampleOrders {
		if _, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO orders VALUES (?, ?, ?, ?, ?)",
			o.id, o.userID, o.product, o.price, o.date); err != nil {
			return fmt.Errorf("failed to insert order %d: %w", o.id, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed transaction: %w", err)
	}
	s.logger.Info("Seeded sample data", slog.Int("users", len(sampleUsers)), slog.Int("orders", len(sampleOrders)))
	return nil
}
