package app_test

import (
	"context"
	"sync"

	"bodymonitor/internal/app"
	"bodymonitor/internal/domain"
)

type mockRecordStore struct {
	existsFn   func(ctx context.Context, account string) (bool, error)
	fetchFn    func(ctx context.Context, account string) (domain.Record, error)
	registerFn func(ctx context.Context, account string, age, height int, weight float64) error
	appendFn   func(ctx context.Context, account string, weight float64) error

	mu    sync.Mutex
	calls map[string]int
}

func (m *mockRecordStore) count(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

func (m *mockRecordStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockRecordStore) RecordExists(ctx context.Context, account string) (bool, error) {
	m.count(app.OpRecordExists)
	if m.existsFn != nil {
		return m.existsFn(ctx, account)
	}
	return false, nil
}

func (m *mockRecordStore) FetchRecord(ctx context.Context, account string) (domain.Record, error) {
	m.count(app.OpFetchRecord)
	if m.fetchFn != nil {
		return m.fetchFn(ctx, account)
	}
	return domain.Record{}, domain.ErrRecordNotFound
}

func (m *mockRecordStore) RegisterRecord(ctx context.Context, account string, age, height int, weight float64) error {
	m.count(app.OpRegisterRecord)
	if m.registerFn != nil {
		return m.registerFn(ctx, account, age, height, weight)
	}
	return nil
}

func (m *mockRecordStore) AppendWeight(ctx context.Context, account string, weight float64) error {
	m.count(app.OpAppendWeight)
	if m.appendFn != nil {
		return m.appendFn(ctx, account, weight)
	}
	return nil
}

type fakeIdentity struct {
	account string
}

func (f fakeIdentity) IsAuthenticated() bool { return f.account != "" }
func (f fakeIdentity) AccountID() string     { return f.account }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []app.Notice
}

func (r *recordingNotifier) Notify(n app.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) All() []app.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]app.Notice(nil), r.notices...)
}

const testAccount = "alice.testnet"

func newTestController(store *mockRecordStore, window int) (*app.Controller, *recordingNotifier) {
	n := &recordingNotifier{}
	remote := app.NewRemoteStore(store, app.WithLogger(discardLogger()))
	return app.NewController(fakeIdentity{account: testAccount}, remote, n, window), n
}

func registeredStore(weights ...float64) *mockRecordStore {
	return &mockRecordStore{
		existsFn: func(context.Context, string) (bool, error) { return true, nil },
		fetchFn: func(context.Context, string) (domain.Record, error) {
			return domain.Record{Age: 30, Height: 180, Weights: append([]float64(nil), weights...)}, nil
		},
	}
}
