package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"statesync/pkg/adapters"
	"statesync/pkg/core"
	"statesync/pkg/observability/metrics"
)

// Default engine tunables, applied when the corresponding Options field is
// left at its zero value.
const (
	DefaultInterval      = 3 * time.Minute
	DefaultSourceTimeout = 30 * time.Second
	DefaultTargetTimeout = 30 * time.Second
	DefaultApplyTimeout  = time.Minute
)

// Options configures an Engine.
type Options struct {
	// Interval is the period between timer-driven passes over every
	// registered application. Zero selects DefaultInterval; a negative
	// value disables the timer so passes run only on trigger.
	Interval time.Duration
	// SourceTimeout bounds one desired-state load.
	SourceTimeout time.Duration
	// TargetTimeout bounds one observed-state list or health read.
	TargetTimeout time.Duration
	// ApplyTimeout bounds one apply of a single diff entry.
	ApplyTimeout time.Duration

	Logger  logr.Logger
	Metrics *metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = DefaultSourceTimeout
	}
	if o.TargetTimeout <= 0 {
		o.TargetTimeout = DefaultTargetTimeout
	}
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = DefaultApplyTimeout
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	return o
}

// failureRecord tracks consecutive apply failures for one identity at one
// desired-spec hash. Records are dropped when the desired spec moves on.
type failureRecord struct {
	hash   string
	count  int
	failed bool
}

// appHandle is the engine-side state of one registered application. The
// fields below the mutex are shared; the pass-local maps at the bottom are
// touched only by the single in-flight pass, which the running flag
// serializes.
type appHandle struct {
	id string

	mu         sync.Mutex
	app        Application
	running    bool
	pending    bool
	manual     bool
	halted     bool
	retryTimer *time.Timer

	abort  atomic.Bool
	status atomic.Pointer[ApplicationStatus]

	// Owned by the in-flight pass.
	syncedHashes map[core.ResourceID]string
	failures     map[core.ResourceID]*failureRecord
	lastVersion  string
	passAttempts int
}

// begin marks a pass in flight. When a pass is already running the trigger
// is coalesced: at most one follow-up pass runs after the current one,
// regardless of how many triggers arrived during it.
func (h *appHandle) begin() (manual, started bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.pending = true
		return false, false
	}
	h.running = true
	manual = h.manual
	h.manual = false
	return manual, true
}

// end clears the in-flight mark and reports whether a coalesced trigger
// arrived during the pass.
func (h *appHandle) end() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running = false
	pending := h.pending
	h.pending = false
	return pending
}

func (h *appHandle) snapshotApp() Application {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.app
}

func (h *appHandle) setHalted(halted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.halted = halted
}

func (h *appHandle) isHalted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}

// publish replaces the status snapshot through a copy so readers never see a
// partially updated status.
func (h *appHandle) publish(mutate func(*ApplicationStatus)) {
	next := h.status.Load().clone()
	mutate(&next)
	h.status.Store(&next)
}

// Engine reconciles registered applications. Applications reconcile
// independently and may run concurrently with each other; passes for one
// application are strictly serialized.
type Engine struct {
	source  adapters.DesiredStateSource
	target  adapters.ObservedStateSource
	options Options

	mu   sync.RWMutex
	apps map[string]*appHandle

	queue  *core.WorkQueue[string]
	notify chan struct{}
	wg     sync.WaitGroup
}

// NewEngine constructs an engine over the given state sources.
func NewEngine(source adapters.DesiredStateSource, target adapters.ObservedStateSource, options Options) *Engine {
	return &Engine{
		source:  source,
		target:  target,
		options: options.withDefaults(),
		apps:    make(map[string]*appHandle),
		queue:   core.NewWorkQueue[string](),
		notify:  make(chan struct{}, 1),
	}
}

// Register adds an application and schedules its first pass. Registering an
// id twice is an error; deregister first.
func (e *Engine) Register(app Application) error {
	if err := app.Validate(); err != nil {
		return err
	}

	handle := &appHandle{
		id:           app.ID,
		app:          app,
		syncedHashes: make(map[core.ResourceID]string),
		failures:     make(map[core.ResourceID]*failureRecord),
	}
	initial := (*ApplicationStatus)(nil).clone()
	handle.status.Store(&initial)

	e.mu.Lock()
	if _, exists := e.apps[app.ID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("application %s is already registered", app.ID)
	}
	e.apps[app.ID] = handle
	e.mu.Unlock()

	e.enqueue(app.ID)
	return nil
}

// Deregister removes an application. An in-flight pass is allowed to finish;
// its follow-up passes are dropped.
func (e *Engine) Deregister(id string) error {
	e.mu.Lock()
	handle, exists := e.apps[id]
	if exists {
		delete(e.apps, id)
	}
	e.mu.Unlock()

	if !exists {
		return fmt.Errorf("application %s is not registered", id)
	}

	handle.mu.Lock()
	if handle.retryTimer != nil {
		handle.retryTimer.Stop()
		handle.retryTimer = nil
	}
	handle.mu.Unlock()
	return nil
}

// Trigger requests a manual pass. Manual passes bypass the automated gate
// and resume an application halted by a configuration conflict.
func (e *Engine) Trigger(id string) error {
	handle := e.lookup(id)
	if handle == nil {
		return fmt.Errorf("application %s is not registered", id)
	}

	handle.mu.Lock()
	handle.manual = true
	handle.halted = false
	handle.mu.Unlock()

	e.enqueue(id)
	return nil
}

// Abort requests that the in-flight pass stop. It takes effect between
// per-entry applies; an apply already in flight completes first. Aborting an
// idle application is a no-op.
func (e *Engine) Abort(id string) error {
	handle := e.lookup(id)
	if handle == nil {
		return fmt.Errorf("application %s is not registered", id)
	}
	handle.abort.Store(true)
	return nil
}

// GetStatus returns the current status snapshot. It never blocks on an
// in-flight pass.
func (e *Engine) GetStatus(id string) (ApplicationStatus, error) {
	handle := e.lookup(id)
	if handle == nil {
		return ApplicationStatus{}, fmt.Errorf("application %s is not registered", id)
	}
	return handle.status.Load().clone(), nil
}

// UpdatePolicy replaces an application's sync policy. The in-flight pass
// keeps the policy it started with; the change applies from the next pass.
func (e *Engine) UpdatePolicy(id string, policy core.SyncPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	handle := e.lookup(id)
	if handle == nil {
		return fmt.Errorf("application %s is not registered", id)
	}

	handle.mu.Lock()
	handle.app.Policy = policy
	handle.mu.Unlock()
	return nil
}

// Run drives timer- and trigger-scheduled passes until the context is
// cancelled, then waits for in-flight passes to finish.
func (e *Engine) Run(ctx context.Context) error {
	var timerC <-chan time.Time
	if e.options.Interval > 0 {
		ticker := time.NewTicker(e.options.Interval)
		defer ticker.Stop()
		timerC = ticker.C
	}

	e.options.Logger.Info("engine started", "interval", e.options.Interval.String())

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			e.options.Logger.Info("engine stopped")
			return ctx.Err()
		case <-timerC:
			e.enqueueAll()
		case <-e.notify:
			e.drain(ctx)
		}
	}
}

func (e *Engine) lookup(id string) *appHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.apps[id]
}

func (e *Engine) enqueue(id string) {
	e.queue.Add(id)
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// enqueueAll schedules a timer-driven pass for every application. Halted
// applications are skipped; only a manual trigger resumes them.
func (e *Engine) enqueueAll() {
	e.mu.RLock()
	handles := make([]*appHandle, 0, len(e.apps))
	for _, handle := range e.apps {
		handles = append(handles, handle)
	}
	e.mu.RUnlock()

	for _, handle := range handles {
		if handle.isHalted() {
			continue
		}
		e.enqueue(handle.id)
	}
}

func (e *Engine) drain(ctx context.Context) {
	for {
		id, ok := e.queue.Get()
		if !ok {
			return
		}
		e.dispatch(ctx, id)
	}
}

// dispatch starts a pass goroutine for id unless one is already in flight,
// in which case the trigger is coalesced into a single follow-up pass.
func (e *Engine) dispatch(ctx context.Context, id string) {
	handle := e.lookup(id)
	if handle == nil {
		return
	}

	manual, started := handle.begin()
	if !started {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reconcile(ctx, handle, manual)
		if handle.end() {
			e.enqueue(handle.id)
		}
	}()
}

// scheduleRetry re-enqueues the application after the policy backoff for the
// given attempt. A newer schedule replaces an older one.
func (e *Engine) scheduleRetry(handle *appHandle, backoff core.BackoffStrategy, attempt int) {
	delay := backoff.Delay(attempt)

	handle.mu.Lock()
	if handle.retryTimer != nil {
		handle.retryTimer.Stop()
	}
	handle.retryTimer = time.AfterFunc(delay, func() { e.enqueue(handle.id) })
	handle.mu.Unlock()
}
