package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore gives single-node deployments a durable ledger without a
// database server. INSERT OR IGNORE against the primary key is the atomic
// check-and-set.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the claims database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// races between concurrent claims.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS idempotency_claims (
			scope      TEXT NOT NULL,
			key        TEXT NOT NULL,
			claimed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (scope, key)
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordIfAbsent(ctx context.Context, scope, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_claims (scope, key) VALUES (?, ?)`,
		scope, key)
	if err != nil {
		return false, fmt.Errorf("ledger insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) HasRecorded(ctx context.Context, scope, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM idempotency_claims WHERE scope = ? AND key = ?`,
		scope, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger select: %w", err)
	}
	return true, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
