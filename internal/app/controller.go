package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bodymonitor/internal/domain"
)

var (
	// ErrBusy indicates that an operation of the same kind is still in flight.
	ErrBusy = errors.New("operation already in progress")
	// ErrWrongState indicates an intent the current state does not accept.
	ErrWrongState = errors.New("intent not accepted in current state")
)

// State is the session state of a Controller.
type State int

// Controller states.
const (
	StateUnauthenticated State = iota
	StateChecking
	StateUnregistered
	StateRegistered
)

var stateNames = map[State]string{
	StateUnauthenticated: "unauthenticated",
	StateChecking:        "checking",
	StateUnregistered:    "unregistered",
	StateRegistered:      "registered",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is the render input handed to the presentation layer.
type View struct {
	State     State                `json:"state"`
	Account   string               `json:"account"`
	Record    domain.Record        `json:"record"`
	Series    []domain.SeriesPoint `json:"series"`
	Unit      domain.Unit          `json:"unit"`
	Latest    *float64             `json:"latest"`
	ShowChart bool                 `json:"showChart"`
	Busy      bool                 `json:"busy"`
}

// Controller mirrors one account's record for a single session. The lock is
// released while remote calls are outstanding; registration and append are
// each single-flight.
type Controller struct {
	identity domain.Identity
	remote   *RemoteStore
	notifier Notifier
	window   int

	mu          sync.Mutex
	state       State
	record      domain.Record
	checking    bool
	registering bool
	appending   bool
}

// NewController creates a Controller in the Unauthenticated state. window is
// the weight window capacity and must match the store's.
func NewController(identity domain.Identity, remote *RemoteStore, notifier Notifier, window int) *Controller {
	if window <= 0 {
		window = domain.DefaultWindowSize
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	return &Controller{
		identity: identity,
		remote:   remote,
		notifier: notifier,
		window:   window,
		record:   domain.Record{Weights: []float64{}},
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Record returns a copy of the local record.
func (c *Controller) Record() domain.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Clone()
}

// Start runs the mount-time check. It does nothing unless the controller is
// Unauthenticated and the identity is signed in.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnauthenticated || !c.identity.IsAuthenticated() {
		c.mu.Unlock()
		return nil
	}
	c.state = StateChecking
	c.checking = true
	c.mu.Unlock()

	return c.check(ctx)
}

// Retry repeats a failed check while the controller is in Checking.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateChecking {
		c.mu.Unlock()
		return ErrWrongState
	}
	if c.checking {
		c.mu.Unlock()
		return ErrBusy
	}
	c.checking = true
	c.mu.Unlock()

	return c.check(ctx)
}

func (c *Controller) check(ctx context.Context) error {
	account := c.identity.AccountID()

	exists, err := c.remote.RecordExists(ctx, account)
	if err != nil {
		c.finishCheck(nil, StateChecking)
		return c.fail(err)
	}
	if !exists {
		c.finishCheck(&domain.Record{Weights: []float64{}}, StateUnregistered)
		return nil
	}

	rec, err := c.remote.FetchRecord(ctx, account)
	if err != nil {
		c.finishCheck(nil, StateChecking)
		return c.fail(err)
	}
	c.finishCheck(&rec, StateRegistered)
	return nil
}

func (c *Controller) finishCheck(rec *domain.Record, next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checking = false
	if rec != nil {
		c.record = *rec
	}
	c.state = next
}

// Register performs first-time setup. On success the record is re-fetched
// and replaces the local one wholesale.
func (c *Controller) Register(ctx context.Context, intent RegisterIntent) error {
	return c.register(ctx, intent, intent.Validate())
}

// RegisterForm is Register for raw form values. Input errors are reported
// only once the controller accepts a registration.
func (c *Controller) RegisterForm(ctx context.Context, age, height, weight string) error {
	intent, err := ParseRegisterForm(age, height, weight)
	return c.register(ctx, intent, err)
}

func (c *Controller) register(ctx context.Context, intent RegisterIntent, inputErr error) error {
	c.mu.Lock()
	if c.state != StateUnregistered {
		c.mu.Unlock()
		return ErrWrongState
	}
	if c.registering {
		c.mu.Unlock()
		return ErrBusy
	}
	if inputErr != nil {
		c.mu.Unlock()
		return c.fail(inputErr)
	}
	c.registering = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.registering = false
		c.mu.Unlock()
	}()

	account := c.identity.AccountID()
	if err := c.remote.RegisterRecord(ctx, account, intent.Age, intent.Height, intent.Weight); err != nil {
		return c.fail(err)
	}

	rec, err := c.remote.FetchRecord(ctx, account)
	if err != nil {
		// The record exists remotely now; Retry picks it up.
		c.mu.Lock()
		c.state = StateChecking
		c.mu.Unlock()
		return c.fail(err)
	}

	c.mu.Lock()
	c.record = rec
	c.state = StateRegistered
	c.mu.Unlock()
	return nil
}

// AppendWeight records a new sample. The local window is updated before the
// remote call resolves and restored if the call fails.
func (c *Controller) AppendWeight(ctx context.Context, intent AppendWeightIntent) error {
	return c.appendWeight(ctx, intent, intent.Validate())
}

// AppendWeightForm is AppendWeight for a raw form value entered in unit.
// Input errors are reported only once the controller accepts an append.
func (c *Controller) AppendWeightForm(ctx context.Context, weight string, unit domain.Unit) error {
	intent, err := ParseWeightForm(weight)
	if err == nil {
		intent.Weight = domain.ConvertWeight(intent.Weight, unit, domain.UnitKg)
	}
	return c.appendWeight(ctx, intent, err)
}

func (c *Controller) appendWeight(ctx context.Context, intent AppendWeightIntent, inputErr error) error {
	c.mu.Lock()
	if c.state != StateRegistered {
		c.mu.Unlock()
		return ErrWrongState
	}
	if c.appending {
		c.mu.Unlock()
		return ErrBusy
	}
	if inputErr != nil {
		c.mu.Unlock()
		return c.fail(inputErr)
	}
	previous := c.record.Weights
	c.record.Weights = domain.PushWeight(previous, intent.Weight, c.window)
	c.appending = true
	c.mu.Unlock()

	err := c.remote.AppendWeight(ctx, c.identity.AccountID(), intent.Weight)

	c.mu.Lock()
	c.appending = false
	if err != nil {
		c.record.Weights = previous
	}
	c.mu.Unlock()

	if err != nil {
		return c.fail(err)
	}
	return nil
}

// View returns the render input with the series expressed in unit.
func (c *Controller) View(unit domain.Unit) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.record.Clone()
	v := View{
		State:     c.state,
		Account:   c.identity.AccountID(),
		Record:    rec,
		Series:    domain.DeriveSeriesIn(rec.Weights, unit),
		Unit:      unit,
		ShowChart: len(rec.Weights) >= domain.MinChartSamples,
		Busy:      c.checking || c.registering || c.appending,
	}
	if w, ok := rec.Latest(); ok {
		w = domain.ConvertWeight(w, domain.UnitKg, unit)
		v.Latest = &w
	}
	return v
}

func (c *Controller) fail(err error) error {
	c.notifier.Notify(NoticeFor(err))
	return err
}
