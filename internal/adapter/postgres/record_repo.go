package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bodymonitor/internal/domain"

	"github.com/lib/pq"
)

// RecordExists reports whether account has a record.
func (d *DB) RecordExists(ctx context.Context, account string) (bool, error) {
	var exists bool
	err := d.sql.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM records WHERE account = $1);", account,
	).Scan(&exists)
	return exists, err
}

// FetchRecord returns the record of account.
func (d *DB) FetchRecord(ctx context.Context, account string) (domain.Record, error) {
	var r domain.Record
	var weights pq.Float64Array
	err := d.sql.QueryRowContext(ctx,
		"SELECT age, height, weights FROM records WHERE account = $1;", account,
	).Scan(&r.Age, &r.Height, &weights)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.Record{}, err
	}
	r.Weights = []float64(weights)
	if r.Weights == nil {
		r.Weights = []float64{}
	}
	return r, nil
}

// RegisterRecord inserts the record of account seeded with one weight.
func (d *DB) RegisterRecord(ctx context.Context, account string, age, height int, weight float64) error {
	if err := domain.CheckProfile(age, height, weight); err != nil {
		return err
	}
	res, err := d.sql.ExecContext(ctx,
		"INSERT INTO records(account, age, height, weights, updated_at) VALUES($1, $2, $3, $4, $5) ON CONFLICT (account) DO NOTHING;",
		account, age, height, pq.Array([]float64{weight}), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAlreadyRegistered
	}
	return nil
}

// AppendWeight pushes weight onto the window of account inside a
// transaction holding the row lock.
func (d *DB) AppendWeight(ctx context.Context, account string, weight float64) error {
	if err := domain.CheckWeight(weight); err != nil {
		return err
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var weights pq.Float64Array
	err = tx.QueryRowContext(ctx,
		"SELECT weights FROM records WHERE account = $1 FOR UPDATE;", account,
	).Scan(&weights)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRecordNotFound
	}
	if err != nil {
		return err
	}

	next := domain.PushWeight(weights, weight, d.window)
	if _, err := tx.ExecContext(ctx,
		"UPDATE records SET weights = $2, updated_at = $3 WHERE account = $1;",
		account, pq.Array(next), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("update weights: %w", err)
	}
	return tx.Commit()
}
