// Package trading is the auto-trade engine: candidate resolution, throttled
// buy and modify dispatch, the sell monitor and the daily scheduler.
package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vikasavnish/autotrade/internal/eventlog"
	"github.com/vikasavnish/autotrade/internal/models"
)

// Registrar subscribes instruments to live ticks.
type Registrar interface {
	Register(codes ...string) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Orders  OrderAPI
	Prices  PriceSource
	Trigger Trigger
	Feed    Registrar
	RunDate RunDateStore
	Log     *eventlog.Logger

	Now      func() time.Time
	Location *time.Location

	// DispatchInterval is the throttle window of both queues.
	DispatchInterval time.Duration
}

// Engine wires the components around one RuntimeConfig and RunState.
type Engine struct {
	cfg   *ConfigHolder
	state *RunState
	log   *eventlog.Logger
	feed  Registrar
	now   func() time.Time

	resolver  *Resolver
	buys      *Dispatcher[models.OrderIntent]
	modifies  *Dispatcher[models.ModifyTask]
	steps     *StepTable
	monitor   *Monitor
	scheduler *Scheduler

	// OnResume is called when Start re-arms the engine, so the caller can
	// restart monitor ticking.
	OnResume func()
}

// NewEngine builds an engine. ctx bounds every submission it launches.
func NewEngine(ctx context.Context, cfg models.RuntimeConfig, deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Log == nil {
		deps.Log = eventlog.New(deps.Now)
	}

	e := &Engine{
		cfg:   NewConfigHolder(cfg.WithDefaults()),
		state: &RunState{},
		log:   deps.Log,
		feed:  deps.Feed,
		now:   deps.Now,
		steps: NewStepTable(),
	}
	limit := func() int { return e.cfg.Load().ThrottleLimit }

	e.resolver = NewResolver(deps.Prices, deps.Log)

	b := &buyer{orders: deps.Orders, cfg: e.cfg, log: deps.Log}
	e.buys = NewDispatcher(ctx, "buy", deps.DispatchInterval, limit, b.submit)

	m := &modifier{orders: deps.Orders, prices: deps.Prices, log: deps.Log}
	e.modifies = NewDispatcher(ctx, "modify", deps.DispatchInterval, limit, m.submit).WithKey(modifyKey)

	e.monitor = &Monitor{
		orders:   deps.Orders,
		modifies: e.modifies,
		steps:    e.steps,
		cfg:      e.cfg,
		state:    e.state,
		log:      deps.Log,
		now:      deps.Now,
		loc:      deps.Location,
	}
	e.scheduler = &Scheduler{
		cfg:     e.cfg,
		state:   e.state,
		trigger: deps.Trigger,
		store:   deps.RunDate,
		log:     deps.Log,
		now:     deps.Now,
		loc:     deps.Location,
	}
	return e
}

// Config returns the current snapshot.
func (e *Engine) Config() models.RuntimeConfig {
	return e.cfg.Load()
}

// UpdateConfig replaces the configuration wholesale.
func (e *Engine) UpdateConfig(cfg models.RuntimeConfig) {
	e.cfg.Store(cfg.WithDefaults())
	e.log.Info("Config updated")
}

// SetRunning flips the running flag and logs the transition.
func (e *Engine) SetRunning(running bool) {
	e.state.SetRunning(running)
	if running {
		e.log.Info("System state changed: RUNNING")
	} else {
		e.log.Info("System state changed: STOPPED")
	}
}

// Start arms the engine and re-arms a monitor halted by the cutoff.
func (e *Engine) Start() {
	e.monitor.Reset()
	e.SetRunning(true)
	if e.OnResume != nil {
		e.OnResume()
	}
}

// Stop disarms the engine and drops queued work. In-flight calls complete.
func (e *Engine) Stop() {
	e.SetRunning(false)
	dropped := e.buys.Stop() + e.modifies.Stop()
	if dropped > 0 {
		e.log.Warn("%d queued orders discarded on stop", dropped)
	}
}

// Restore loads persisted run state.
func (e *Engine) Restore(ctx context.Context) {
	e.scheduler.Restore(ctx)
}

// HandleMatches resolves a condition-search batch and queues the buys.
func (e *Engine) HandleMatches(ctx context.Context, seq string, candidates []models.MatchCandidate) int {
	if !e.state.Running() {
		return 0
	}
	e.log.Info("Condition search result received: %d candidates", len(candidates))
	if len(candidates) == 0 {
		return 0
	}

	intents := e.resolver.Resolve(ctx, e.cfg.Load(), uuid.NewString(), candidates)
	if e.feed != nil && len(intents) > 0 {
		codes := make([]string, 0, len(intents))
		for _, in := range intents {
			codes = append(codes, in.Code)
		}
		if err := e.feed.Register(codes...); err != nil {
			e.log.Warn("Could not register ticks for %d instruments: %v", len(codes), err)
		}
	}

	queued := e.buys.Enqueue(intents...)
	e.log.Info("%d buy orders queued for throttled dispatch", queued)
	return queued
}

// SchedulerTick is the 1-second scheduler task body.
func (e *Engine) SchedulerTick(ctx context.Context) bool {
	e.scheduler.Check(ctx, e.now())
	return true
}

// MonitorTick is the 10-second sell monitor task body.
func (e *Engine) MonitorTick(ctx context.Context) bool {
	return e.monitor.Tick(ctx)
}

// Status is a point-in-time view for the control API.
type Status struct {
	RunSnapshot
	BuyQueue      int                  `json:"buyQueue"`
	BuyState      string               `json:"buyState"`
	ModifyQueue   int                  `json:"modifyQueue"`
	ModifyState   string               `json:"modifyState"`
	TrackedSteps  int                  `json:"trackedSteps"`
	MonitorHalted bool                 `json:"monitorHalted"`
	Config        models.RuntimeConfig `json:"config"`
}

func (e *Engine) Status() Status {
	return Status{
		RunSnapshot:   e.state.Snapshot(),
		BuyQueue:      e.buys.Len(),
		BuyState:      e.buys.State().String(),
		ModifyQueue:   e.modifies.Len(),
		ModifyState:   e.modifies.State().String(),
		TrackedSteps:  e.steps.Len(),
		MonitorHalted: e.monitor.Halted(),
		Config:        e.cfg.Load(),
	}
}

// Wait blocks until in-flight submissions return.
func (e *Engine) Wait() {
	e.buys.Wait()
	e.modifies.Wait()
}
