package asyncinit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Status represents a Manager's lifecycle state. It's either:
// 1. not started, or stopped (Uninitialized),
// 2. running tiers, or halted by a failed tier (Initializing),
// 3. done running tiers, either because all of them completed or because the run was cancelled (Initialized).
type Status uint8

const (
	Uninitialized Status = iota
	Initializing
	Initialized
)

// String returns the name of the Status. It panics if the Status is unknown.
func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		panic(panicUnknownStatus)
	}
}

// Outcome tells how a run ended. Unlike Status, it distinguishes a cancelled run from a completed one.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
	OutcomeFailed
)

// String returns the name of the Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithHierarchy sets the Hierarchy used to match Unit Types against ancestor declarations.
func WithHierarchy(h Hierarchy) Option {
	return func(m *Manager) {
		m.hierarchy = h
	}
}

// WithLogger sets the logger. By default, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithObserver sets a function that receives a Progress report for every finished Unit.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithTracer sets the tracer used for run and tier spans. The global OpenTelemetry tracer is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithMetrics sets the collectors updated during runs.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// run is a single execution of the tiers, from Start until the last tier drains, fails or is cancelled.
type run struct {
	id      string
	done    chan struct{} // Closed once outcome and err are final.
	outcome Outcome
	err     error
}

// result returns the run's outcome and error, or OutcomePending if the run hasn't finished.
func (r *run) result() (Outcome, error) {
	select {
	case <-r.done:
		return r.outcome, r.err
	default:
		return OutcomePending, nil
	}
}

// Manager runs a set of Units in tiers of ascending priority. Units sharing a priority run concurrently, and each tier
// must finish before the next one starts. A single cancellation scope covers the whole run.
//
// Start and Stop are meant to be called once per startup/shutdown cycle by whatever hosts the Manager. A stopped
// Manager may be started again.
type Manager struct {
	units     []Unit
	decls     []Declaration
	hierarchy Hierarchy
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	observer  Observer

	mu      sync.Mutex // Protects the fields below.
	status  Status
	cancel  context.CancelFunc // Cancels the live scope; nil when there is none.
	current *run
}

// New returns a Manager for the given Units and priority declarations. Both slices are copied.
func New(units []Unit, decls []Declaration, opts ...Option) *Manager {
	m := &Manager{
		units:  append([]Unit(nil), units...),
		decls:  append([]Declaration(nil), decls...),
		logger: slog.New(slog.DiscardHandler),
		tracer: defaultTracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tiers resolves priorities and returns the tiers a run would execute, without running anything.
func (m *Manager) Tiers() ([]Tier, error) {
	records, err := Build(m.units, m.decls, m.hierarchy)
	if err != nil {
		return nil, err
	}
	return Tiers(records), nil
}

// String returns the execution plan, see Plan.
func (m *Manager) String() string {
	tiers, err := m.Tiers()
	if err != nil {
		return "invalid: " + err.Error()
	}
	return Plan(tiers)
}

// Status returns the Manager's current Status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// Start resolves priorities and begins running the tiers in the background. It returns a configuration error if
// priorities conflict or a Unit is registered twice; no Unit runs in that case.
//
// The run's scope derives from ctx, so cancelling ctx cancels the run like Stop does, except that the Status is not
// reset: the run settles as Initialized. Start panics if the Manager is already initializing or initialized.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != Uninitialized {
		panic(panicAlreadyStarted)
	}
	if m.cancel != nil {
		panic(panicLiveScope)
	}

	records, err := Build(m.units, m.decls, m.hierarchy)
	if err != nil {
		m.logger.Error("invalid initialization setup", "error", err)
		return err
	}

	scope, cancel := context.WithCancel(ctx)
	r := &run{id: uuid.NewString(), done: make(chan struct{})}

	m.cancel = cancel
	m.current = r
	m.status = Initializing

	// The handle is retained only so that Wait, Done and Outcome can observe the end of the run.
	go m.exec(scope, r, Tiers(records))
	return nil
}

// Stop cancels the active run, if any, and resets the Status to Uninitialized. Units that are running receive the
// cancellation but are not awaited. Calling Stop more than once is harmless.
//
// A stopped run never marks the Manager as Initialized, even once its Units have unwound: the Status stays
// Uninitialized until the next Start. Use Outcome or Done to observe how the stopped run ended.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status = Uninitialized
	if m.cancel == nil {
		return
	}

	m.cancel()
	m.cancel = nil
	m.logger.Info("initialization stopped", "run_id", m.current.id)
}

// Dispose is an alias for Stop.
func (m *Manager) Dispose() {
	m.Stop()
}

// Done returns a channel that is closed when the most recent run has finished. If no run was ever started, the
// returned channel is already closed.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.current.done
}

// Wait blocks until the most recent run has finished and returns its error. A cancelled run returns nil, a failed run
// returns a *TierError.
func (m *Manager) Wait() error {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()

	if r == nil {
		return nil
	}
	<-r.done
	return r.err
}

// Outcome returns the Outcome of the most recent run.
func (m *Manager) Outcome() Outcome {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()

	if r == nil {
		return OutcomePending
	}
	o, _ := r.result()
	return o
}

// RunID returns the identifier of the most recent run, or an empty string.
func (m *Manager) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ""
	}
	return m.current.id
}

// exec runs through the tiers in ascending order and settles the run.
// A cancelled scope stops the traversal between tiers. A failed tier stops it for good.
func (m *Manager) exec(ctx context.Context, r *run, tiers []Tier) {
	logger := m.logger.With("run_id", r.id)
	ctx, span := m.tracer.Start(ctx, "asyncinit.Run", trace.WithAttributes(
		attribute.String("run_id", r.id),
		attribute.Int("tiers", len(tiers)),
	))
	defer span.End()

	logger.Info("initialization started", "tiers", len(tiers), "plan", Plan(tiers))
	start := time.Now()

	var err error
	for _, tier := range tiers {
		if ctx.Err() != nil {
			break
		}
		if err = m.execTier(ctx, logger, r.id, tier); err != nil {
			break
		}
	}

	outcome := OutcomeCompleted
	switch {
	case err != nil:
		outcome = OutcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("initialization failed", "error", err, "elapsed", time.Since(start))
	case ctx.Err() != nil:
		outcome = OutcomeCancelled
		logger.Info("initialization cancelled", "elapsed", time.Since(start))
	default:
		logger.Info("initialization completed", "elapsed", time.Since(start))
	}
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	m.metrics.observeRun(outcome)

	m.settle(r, outcome, err)
}

// settle records the run's result and marks the Manager as initialized, unless the run failed. A cancelled run counts
// as initialized: nothing is pending anymore, even though not every Unit succeeded. If the run was stopped or replaced
// in the meantime, only the run itself is updated.
func (m *Manager) settle(r *run, outcome Outcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.outcome = outcome
	r.err = err
	close(r.done)

	if m.current != r || m.cancel == nil {
		return
	}
	if outcome != OutcomeFailed {
		m.status = Initialized
	}
}

// execTier launches every Unit in the tier concurrently and waits for all of them to finish. Cancellation errors are
// ignored. The first other error fails the tier immediately; Units still running at that point keep running, but
// their results are discarded.
func (m *Manager) execTier(ctx context.Context, logger *slog.Logger, runID string, tier Tier) error {
	types := tier.Types()
	logger = logger.With("priority", tier.Priority, "types", joinTypes(types, ","))

	ctx, span := m.tracer.Start(ctx, "asyncinit.Tier", trace.WithAttributes(
		attribute.Int("priority", tier.Priority),
		attribute.Int("units", len(tier.Records)),
	))
	defer span.End()

	logger.Debug("tier started")
	m.metrics.observeTier()

	var grp errgroup.Group
	results := make(chan error, len(tier.Records)) // Buffered, so that abandoned Units never block.

	for _, rec := range tier.Records {
		grp.Go(func() error {
			err := m.initUnit(ctx, runID, rec)
			results <- err
			return err
		})
	}

	for range tier.Records {
		err := <-results
		if err == nil || isCancellation(err) {
			continue
		}

		// Detached on purpose: the siblings' results are discarded, this only logs once they have all settled.
		go func() {
			_ = grp.Wait()
			logger.Debug("abandoned units of failed tier settled")
		}()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &TierError{Priority: tier.Priority, Types: types, Err: err}
	}

	logger.Debug("tier finished")
	return nil
}

// initUnit runs a single Unit, turning a panic into a *UnitPanicError, and reports its Progress.
func (m *Manager) initUnit(ctx context.Context, runID string, rec Record) (err error) {
	start := time.Now()

	defer func() {
		if v := recover(); v != nil {
			err = &UnitPanicError{Type: rec.Type, Value: v}
		}
		elapsed := time.Since(start)
		m.metrics.observeUnit(rec.Type, err, elapsed)
		if m.observer != nil {
			m.observer(Progress{RunID: runID, Type: rec.Type, Priority: rec.Priority, Err: err, Duration: elapsed})
		}
	}()

	return rec.Unit.Initialize(ctx)
}

// isCancellation reports whether err stems from a cancelled or expired context.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
