package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bodymonitor/internal/app"
	"bodymonitor/internal/domain"
)

var errTransport = errors.New("transport closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestController_StartUnauthenticated(t *testing.T) {
	store := &mockRecordStore{}
	n := &recordingNotifier{}
	c := app.NewController(fakeIdentity{}, app.NewRemoteStore(store), n, 3)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, app.StateUnauthenticated, c.State())
	assert.Zero(t, store.Calls(app.OpRecordExists))
}

func TestController_StartUnregistered(t *testing.T) {
	store := &mockRecordStore{
		existsFn: func(_ context.Context, account string) (bool, error) {
			assert.Equal(t, testAccount, account)
			return false, nil
		},
	}
	c, n := newTestController(store, 3)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, app.StateUnregistered, c.State())
	assert.Zero(t, store.Calls(app.OpFetchRecord))
	assert.False(t, c.Record().Registered())
	assert.Empty(t, c.Record().Weights)
	assert.Empty(t, n.All())
}

func TestController_StartRegistered(t *testing.T) {
	store := registeredStore(70, 71, 72)
	c, _ := newTestController(store, 3)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, app.StateRegistered, c.State())
	assert.Equal(t, 1, store.Calls(app.OpFetchRecord))
	assert.Equal(t, domain.Record{Age: 30, Height: 180, Weights: []float64{70, 71, 72}}, c.Record())

	// Mounting again does not re-check.
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, store.Calls(app.OpRecordExists))
}

func TestController_FetchFailureThenRetry(t *testing.T) {
	fail := true
	store := &mockRecordStore{
		existsFn: func(context.Context, string) (bool, error) { return true, nil },
		fetchFn: func(context.Context, string) (domain.Record, error) {
			if fail {
				return domain.Record{}, errTransport
			}
			return domain.Record{Age: 25, Height: 170, Weights: []float64{60}}, nil
		},
	}
	c, n := newTestController(store, 3)

	err := c.Start(context.Background())
	require.ErrorIs(t, err, errTransport)
	var re *app.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, app.OpFetchRecord, re.Op)
	assert.Equal(t, app.StateChecking, c.State())

	notices := n.All()
	require.Len(t, notices, 1)
	assert.Equal(t, app.NoticeRemoteFailure, notices[0].Kind)
	assert.Equal(t, app.OpFetchRecord, notices[0].Op)
	assert.ErrorIs(t, notices[0].Cause, errTransport)

	fail = false
	require.NoError(t, c.Retry(context.Background()))
	assert.Equal(t, app.StateRegistered, c.State())
	assert.Equal(t, []float64{60}, c.Record().Weights)
	assert.Len(t, n.All(), 1)
}

func TestController_ExistsFailure(t *testing.T) {
	store := &mockRecordStore{
		existsFn: func(context.Context, string) (bool, error) { return false, errTransport },
	}
	c, n := newTestController(store, 3)

	require.Error(t, c.Start(context.Background()))
	assert.Equal(t, app.StateChecking, c.State())
	assert.Zero(t, store.Calls(app.OpFetchRecord))
	assert.Len(t, n.All(), 1)
}

func TestController_RetryWrongState(t *testing.T) {
	c, _ := newTestController(registeredStore(70), 3)
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Retry(context.Background()), app.ErrWrongState)
}

func TestController_Register(t *testing.T) {
	registered := false
	store := &mockRecordStore{
		existsFn: func(context.Context, string) (bool, error) { return false, nil },
		registerFn: func(_ context.Context, account string, age, height int, weight float64) error {
			assert.Equal(t, testAccount, account)
			assert.Equal(t, 30, age)
			assert.Equal(t, 180, height)
			assert.Equal(t, 75.5, weight)
			registered = true
			return nil
		},
		fetchFn: func(context.Context, string) (domain.Record, error) {
			require.True(t, registered, "fetch issued before register")
			return domain.Record{Age: 30, Height: 180, Weights: []float64{75.5}}, nil
		},
	}
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	err := c.Register(context.Background(), app.RegisterIntent{Age: 30, Height: 180, Weight: 75.5})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls(app.OpRegisterRecord))
	assert.Equal(t, 1, store.Calls(app.OpFetchRecord))
	assert.Equal(t, app.StateRegistered, c.State())
	assert.Equal(t, domain.Record{Age: 30, Height: 180, Weights: []float64{75.5}}, c.Record())
	assert.Empty(t, n.All())
}

func TestController_RegisterFailure(t *testing.T) {
	attempts := 0
	store := &mockRecordStore{
		registerFn: func(context.Context, string, int, int, float64) error {
			attempts++
			if attempts == 1 {
				return domain.ErrAlreadyRegistered
			}
			return nil
		},
		fetchFn: func(context.Context, string) (domain.Record, error) {
			return domain.Record{Age: 30, Height: 180, Weights: []float64{75.5}}, nil
		},
	}
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	intent := app.RegisterIntent{Age: 30, Height: 180, Weight: 75.5}
	err := c.Register(context.Background(), intent)
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)
	assert.Equal(t, app.StateUnregistered, c.State())
	assert.Zero(t, store.Calls(app.OpFetchRecord))
	assert.False(t, c.View(domain.UnitKg).Busy)
	require.Len(t, n.All(), 1)

	// Submission is re-enabled.
	require.NoError(t, c.Register(context.Background(), intent))
	assert.Equal(t, app.StateRegistered, c.State())
	assert.Len(t, n.All(), 1)
}

func TestController_RegisterInvalidInput(t *testing.T) {
	store := &mockRecordStore{}
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	err := c.Register(context.Background(), app.RegisterIntent{Age: 0, Height: 180, Weight: 75})
	var inv *domain.InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "age", inv.Field)
	assert.Zero(t, store.Calls(app.OpRegisterRecord))

	notices := n.All()
	require.Len(t, notices, 1)
	assert.Equal(t, app.NoticeInvalidInput, notices[0].Kind)
}

func TestController_RegisterSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	store := &mockRecordStore{
		registerFn: func(context.Context, string, int, int, float64) error {
			close(entered)
			<-release
			return nil
		},
		fetchFn: func(context.Context, string) (domain.Record, error) {
			return domain.Record{Age: 30, Height: 180, Weights: []float64{75}}, nil
		},
	}
	c, _ := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	intent := app.RegisterIntent{Age: 30, Height: 180, Weight: 75}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Register(context.Background(), intent))
	}()

	<-entered
	assert.True(t, c.View(domain.UnitKg).Busy)
	assert.ErrorIs(t, c.Register(context.Background(), intent), app.ErrBusy)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, store.Calls(app.OpRegisterRecord))
	assert.Equal(t, app.StateRegistered, c.State())
}

func TestController_RegisterRefetchFailure(t *testing.T) {
	store := &mockRecordStore{
		fetchFn: func(context.Context, string) (domain.Record, error) {
			return domain.Record{}, errTransport
		},
	}
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	err := c.Register(context.Background(), app.RegisterIntent{Age: 30, Height: 180, Weight: 75})
	require.ErrorIs(t, err, errTransport)
	assert.Equal(t, app.StateChecking, c.State())
	assert.Len(t, n.All(), 1)
}

func TestController_RegisterWrongState(t *testing.T) {
	c, _ := newTestController(registeredStore(70), 3)
	require.NoError(t, c.Start(context.Background()))
	err := c.Register(context.Background(), app.RegisterIntent{Age: 30, Height: 180, Weight: 75})
	assert.ErrorIs(t, err, app.ErrWrongState)
}

func TestController_AppendOptimistic(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	store := registeredStore(70, 71, 72)
	store.appendFn = func(_ context.Context, account string, weight float64) error {
		assert.Equal(t, testAccount, account)
		assert.Equal(t, 73.0, weight)
		close(entered)
		<-release
		return nil
	}
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- c.AppendWeight(context.Background(), app.AppendWeightIntent{Weight: 73}) }()

	<-entered
	v := c.View(domain.UnitKg)
	assert.Equal(t, []float64{71, 72, 73}, v.Record.Weights)
	assert.Equal(t, []domain.SeriesPoint{{Index: 1, Value: 71}, {Index: 2, Value: 72}, {Index: 3, Value: 73}}, v.Series)
	assert.True(t, v.Busy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []float64{71, 72, 73}, c.Record().Weights)
	assert.Equal(t, 1, store.Calls(app.OpFetchRecord), "append must not re-fetch")
	assert.Empty(t, n.All())
}

func TestController_AppendFailureRevertsWindow(t *testing.T) {
	store := registeredStore(70, 71, 72)
	store.appendFn = func(context.Context, string, float64) error { return domain.ErrRecordNotFound }
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	err := c.AppendWeight(context.Background(), app.AppendWeightIntent{Weight: 73})
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
	assert.Equal(t, []float64{70, 71, 72}, c.Record().Weights)
	assert.Equal(t, app.StateRegistered, c.State())

	notices := n.All()
	require.Len(t, notices, 1)
	assert.Equal(t, app.OpAppendWeight, notices[0].Op)
}

func TestController_AppendSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	store := registeredStore(70)
	store.appendFn = func(context.Context, string, float64) error {
		close(entered)
		<-release
		return nil
	}
	c, _ := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- c.AppendWeight(context.Background(), app.AppendWeightIntent{Weight: 71}) }()
	<-entered

	assert.ErrorIs(t, c.AppendWeight(context.Background(), app.AppendWeightIntent{Weight: 72}), app.ErrBusy)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []float64{70, 71}, c.Record().Weights)
	assert.Equal(t, 1, store.Calls(app.OpAppendWeight))
}

func TestController_AppendInvalidInput(t *testing.T) {
	store := registeredStore(70)
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	err := c.AppendWeight(context.Background(), app.AppendWeightIntent{Weight: -1})
	var inv *domain.InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Zero(t, store.Calls(app.OpAppendWeight))
	assert.Equal(t, []float64{70}, c.Record().Weights)
	require.Len(t, n.All(), 1)
	assert.Equal(t, app.NoticeInvalidInput, n.All()[0].Kind)
}

func TestController_AppendWrongState(t *testing.T) {
	c, _ := newTestController(&mockRecordStore{}, 3)
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.AppendWeight(context.Background(), app.AppendWeightIntent{Weight: 70}), app.ErrWrongState)
}

func TestController_AppendSlidingWindow(t *testing.T) {
	const k = 5
	c, _ := newTestController(registeredStore(), k)
	require.NoError(t, c.Start(context.Background()))

	for i := 1; i <= 3*k; i++ {
		require.NoError(t, c.AppendWeight(context.Background(), app.AppendWeightIntent{Weight: float64(i)}))
		w := c.Record().Weights
		require.LessOrEqual(t, len(w), k)
		if i >= k {
			assert.Equal(t, float64(i-k+1), w[0], "k-th most recent sample must be retained")
		}
	}
}

func TestController_View(t *testing.T) {
	c, _ := newTestController(registeredStore(70, 71, 72, 73), 10)
	require.NoError(t, c.Start(context.Background()))

	v := c.View(domain.UnitKg)
	assert.Equal(t, app.StateRegistered, v.State)
	assert.Equal(t, testAccount, v.Account)
	require.NotNil(t, v.Latest)
	assert.Equal(t, 73.0, *v.Latest)
	assert.True(t, v.ShowChart)
	assert.Len(t, v.Series, 4)

	lb := c.View(domain.UnitLb)
	assert.InDelta(t, 73*2.2046226218, *lb.Latest, 0.001)
	assert.InDelta(t, 70*2.2046226218, lb.Series[0].Value, 0.001)
	assert.Equal(t, 70.0, lb.Record.Weights[0], "record stays in kilograms")
}

func TestController_ViewSmallHistoryHidesChart(t *testing.T) {
	c, _ := newTestController(registeredStore(70, 71, 72), 10)
	require.NoError(t, c.Start(context.Background()))
	assert.False(t, c.View(domain.UnitKg).ShowChart)
}

func TestState_MarshalText(t *testing.T) {
	b, err := app.StateRegistered.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "registered", string(b))
	assert.Equal(t, "State(9)", app.State(9).String())
}

func TestController_FormRejectedInWrongState(t *testing.T) {
	store := registeredStore(70)
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	// Registered: a malformed registration is a wrong-state intent, not bad input.
	assert.ErrorIs(t, c.RegisterForm(context.Background(), "abc", "180", "75"), app.ErrWrongState)
	assert.Empty(t, n.All())

	u, un := newTestController(&mockRecordStore{}, 3)
	require.NoError(t, u.Start(context.Background()))
	assert.ErrorIs(t, u.AppendWeightForm(context.Background(), "", domain.UnitKg), app.ErrWrongState)
	assert.Empty(t, un.All())
}

func TestController_FormInvalidInput(t *testing.T) {
	store := &mockRecordStore{}
	c, n := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	err := c.RegisterForm(context.Background(), "thirty", "180", "75")
	var inv *domain.InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "age", inv.Field)
	assert.Zero(t, store.Calls(app.OpRegisterRecord))
	require.Len(t, n.All(), 1)
	assert.Equal(t, app.NoticeInvalidInput, n.All()[0].Kind)
}

func TestController_AppendWeightFormConvertsUnit(t *testing.T) {
	var sent float64
	store := registeredStore(80)
	store.appendFn = func(_ context.Context, _ string, w float64) error {
		sent = w
		return nil
	}
	c, _ := newTestController(store, 3)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.AppendWeightForm(context.Background(), "176.37", domain.UnitLb))
	assert.InDelta(t, 80.0, sent, 0.01)
	assert.InDelta(t, 80.0, c.Record().Weights[1], 0.01)
}
