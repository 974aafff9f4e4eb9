package trading

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vikasavnish/autotrade/internal/broker"
	"github.com/vikasavnish/autotrade/internal/eventlog"
	"github.com/vikasavnish/autotrade/internal/krx"
	"github.com/vikasavnish/autotrade/internal/metrics"
	"github.com/vikasavnish/autotrade/internal/models"
)

// Session times in exchange local time.
var (
	CutoffClock    = models.Clock{Hour: 15, Minute: 20}
	FastDwellClock = models.Clock{Hour: 15, Minute: 0}
)

// Seconds a plain limit sell may rest before it is repriced.
const (
	normalDwell     = 60
	fastNormalDwell = 10
)

// Monitor watches open sell orders, queues reprices and partial
// liquidations, and sweeps the remainder at market at the cutoff.
type Monitor struct {
	orders   OrderAPI
	modifies *Dispatcher[models.ModifyTask]
	steps    *StepTable
	cfg      *ConfigHolder
	state    *RunState
	log      *eventlog.Logger
	now      func() time.Time
	loc      *time.Location

	mu     sync.Mutex
	halted bool
}

// Tick runs one monitoring pass. It returns false once the cutoff sweep has
// run and the monitor should stop ticking.
func (m *Monitor) Tick(ctx context.Context) bool {
	if m.Halted() {
		return false
	}
	cfg := m.cfg.Load()
	if !m.state.Running() || !cfg.AutoModify || cfg.AccountNo == "" {
		return true
	}

	now := m.now().In(m.loc)
	if clockOf(now).Minutes() >= CutoffClock.Minutes() {
		m.log.Warn("%s reached, sweeping remaining sell orders at market", CutoffClock)
		m.Sweep(ctx, cfg.AccountNo)
		m.mu.Lock()
		m.halted = true
		m.mu.Unlock()
		if m.state.SetRunning(false) {
			m.log.Info("System state changed: STOPPED")
		}
		return false
	}

	orders, err := m.orders.UnexecutedOrders(ctx, cfg.AccountNo)
	if err != nil {
		m.log.Error("Failed to load unexecuted orders: %v", err)
		return true
	}

	tasks := m.plan(cfg, now, orders)
	if len(tasks) > 0 {
		m.modifies.Enqueue(tasks...)
	}
	return true
}

// plan classifies sell orders into modify tasks and advances the step table.
func (m *Monitor) plan(cfg models.RuntimeConfig, now time.Time, orders []broker.UnexecutedOrder) []models.ModifyTask {
	live := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		live[o.OrderID] = struct{}{}
	}
	m.steps.Retain(live)

	nowMin := clockOf(now).Minutes()
	nowSec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	dwell := normalDwell
	if nowMin >= FastDwellClock.Minutes() {
		dwell = fastNormalDwell
	}
	start := cfg.CondSellStartClock().Minutes()

	var tasks []models.ModifyTask
	for _, o := range orders {
		if o.Side != broker.SideSell || o.RemainingQty <= 0 {
			continue
		}
		code := krx.NormalizeCode(o.Code)

		switch o.Type {
		case broker.OrderTypeConditionalLimit:
			step := ConditionalStep(nowMin, start, cfg.CondSellInterval)
			if step == 0 || !m.steps.Advance(o.OrderID, step) {
				continue
			}
			tasks = append(tasks, models.ModifyTask{
				ID:              uuid.NewString(),
				Kind:            models.TaskConditional,
				AccountNo:       cfg.AccountNo,
				OriginalOrderID: o.OrderID,
				Code:            code,
				Qty:             StepQty(step, o.RemainingQty),
				Step:            step,
			})
		case broker.OrderTypeLimit:
			elapsed := 0
			if o.HasTime {
				elapsed = nowSec - o.OrderedAt
			}
			if elapsed < dwell || m.modifies.Pending(o.OrderID) {
				continue
			}
			tasks = append(tasks, models.ModifyTask{
				ID:              uuid.NewString(),
				Kind:            models.TaskNormal,
				AccountNo:       cfg.AccountNo,
				OriginalOrderID: o.OrderID,
				Code:            code,
				Qty:             o.RemainingQty,
			})
		}
	}
	return tasks
}

// Sweep amends every open sell order to a market order for its full
// remaining quantity. Failures are logged per order.
func (m *Monitor) Sweep(ctx context.Context, accountNo string) {
	metrics.Sweeps.Inc()
	orders, err := m.orders.UnexecutedOrders(ctx, accountNo)
	if err != nil {
		m.log.Error("Market sweep failed to load unexecuted orders: %v", err)
		return
	}
	for _, o := range orders {
		if o.Side != broker.SideSell || o.RemainingQty <= 0 {
			continue
		}
		code := krx.NormalizeCode(o.Code)
		if _, err := m.orders.ModifyOrder(ctx, accountNo, o.OrderID, code, o.RemainingQty, 0); err != nil {
			m.log.Error("Market sweep failed: %s (%v)", code, err)
			metrics.Orders.WithLabelValues("sweep", metrics.ResultError).Inc()
			continue
		}
		m.log.Success("Market sweep at %s: %s (%d shares)", CutoffClock, code, o.RemainingQty)
		metrics.Orders.WithLabelValues("sweep", metrics.ResultOK).Inc()
	}
}

// Halted reports whether the cutoff sweep has run.
func (m *Monitor) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// Reset re-arms a halted monitor.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.halted = false
	m.mu.Unlock()
}

func clockOf(t time.Time) models.Clock {
	return models.Clock{Hour: t.Hour(), Minute: t.Minute()}
}
