package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bodymonitor/internal/domain"
)

// Remote operation names, used in errors, logs and metrics.
const (
	OpRecordExists   = "record_exists"
	OpFetchRecord    = "fetch_record"
	OpRegisterRecord = "register_record"
	OpAppendWeight   = "append_weight"
)

// RemoteError is returned for every failed remote operation. Err carries the
// underlying cause.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// RemoteStore wraps a domain.RecordStore with logging, metrics, an optional
// per-call timeout and uniform error wrapping.
type RemoteStore struct {
	store   domain.RecordStore
	log     *slog.Logger
	metrics *Metrics
	timeout time.Duration
}

// RemoteOption configures a RemoteStore.
type RemoteOption func(*RemoteStore)

// WithLogger sets the logger used for failed calls.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(s *RemoteStore) { s.log = l }
}

// WithMetrics records call counts and latencies on m.
func WithMetrics(m *Metrics) RemoteOption {
	return func(s *RemoteStore) { s.metrics = m }
}

// WithCallTimeout bounds every call by d. Zero disables the timeout.
func WithCallTimeout(d time.Duration) RemoteOption {
	return func(s *RemoteStore) { s.timeout = d }
}

// NewRemoteStore creates a RemoteStore backed by store.
func NewRemoteStore(store domain.RecordStore, opts ...RemoteOption) *RemoteStore {
	s := &RemoteStore{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordExists reports whether account has a record.
func (s *RemoteStore) RecordExists(ctx context.Context, account string) (bool, error) {
	var exists bool
	err := s.call(ctx, OpRecordExists, account, func(ctx context.Context) error {
		var err error
		exists, err = s.store.RecordExists(ctx, account)
		return err
	})
	return exists, err
}

// FetchRecord returns the full record of account. The returned record never
// shares memory with the store.
func (s *RemoteStore) FetchRecord(ctx context.Context, account string) (domain.Record, error) {
	var rec domain.Record
	err := s.call(ctx, OpFetchRecord, account, func(ctx context.Context) error {
		r, err := s.store.FetchRecord(ctx, account)
		if err != nil {
			return err
		}
		if err := r.Validate(); err != nil {
			return err
		}
		rec = r.Clone()
		return nil
	})
	return rec, err
}

// RegisterRecord creates the record of account seeded with one weight.
func (s *RemoteStore) RegisterRecord(ctx context.Context, account string, age, height int, weight float64) error {
	return s.call(ctx, OpRegisterRecord, account, func(ctx context.Context) error {
		return s.store.RegisterRecord(ctx, account, age, height, weight)
	})
}

// AppendWeight appends one sample to the weight window of account.
func (s *RemoteStore) AppendWeight(ctx context.Context, account string, weight float64) error {
	return s.call(ctx, OpAppendWeight, account, func(ctx context.Context) error {
		return s.store.AppendWeight(ctx, account, weight)
	})
}

func (s *RemoteStore) call(ctx context.Context, op, account string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	s.metrics.observe(op, err, time.Since(start))
	if err != nil {
		s.log.Warn("remote call failed", "op", op, "account", account, "err", err)
		return &RemoteError{Op: op, Err: err}
	}
	s.log.Debug("remote call", "op", op, "account", account, "elapsed", time.Since(start))
	return nil
}
