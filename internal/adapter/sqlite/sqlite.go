// Package sqlite implements the record store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bodymonitor/internal/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Store keeps one row per account; the weight window is a JSON array.
type Store struct {
	db     *sql.DB
	window int
}

var _ domain.RecordStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string, window int) (*Store, error) {
	if path == "" {
		path = "bodymonitor.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writers serialize on the single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		account TEXT PRIMARY KEY,
		age INTEGER NOT NULL,
		height INTEGER NOT NULL,
		weights TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	if window <= 0 {
		window = domain.DefaultWindowSize
	}
	return &Store{db: db, window: window}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordExists reports whether account has a record.
func (s *Store) RecordExists(ctx context.Context, account string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM records WHERE account = ?`, account).Scan(&n)
	return n > 0, err
}

// FetchRecord returns the record of account.
func (s *Store) FetchRecord(ctx context.Context, account string) (domain.Record, error) {
	var r domain.Record
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT age, height, weights FROM records WHERE account = ?`, account,
	).Scan(&r.Age, &r.Height, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.Record{}, err
	}
	if err := json.Unmarshal(payload, &r.Weights); err != nil {
		return domain.Record{}, fmt.Errorf("decode weights: %w", err)
	}
	return r, nil
}

// RegisterRecord inserts the record of account seeded with one weight.
func (s *Store) RegisterRecord(ctx context.Context, account string, age, height int, weight float64) error {
	if err := domain.CheckProfile(age, height, weight); err != nil {
		return err
	}
	payload, err := json.Marshal([]float64{weight})
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records(account, age, height, weights) VALUES(?, ?, ?, ?) ON CONFLICT(account) DO NOTHING`,
		account, age, height, string(payload),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrAlreadyRegistered
	}
	return nil
}

// AppendWeight pushes weight onto the window of account.
func (s *Store) AppendWeight(ctx context.Context, account string, weight float64) error {
	if err := domain.CheckWeight(weight); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `SELECT weights FROM records WHERE account = ?`, account).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	var weights []float64
	if err := json.Unmarshal(payload, &weights); err != nil {
		return fmt.Errorf("decode weights: %w", err)
	}

	next, err := json.Marshal(domain.PushWeight(weights, weight, s.window))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE records SET weights = ? WHERE account = ?`, string(next), account); err != nil {
		return fmt.Errorf("update weights: %w", err)
	}
	return tx.Commit()
}
