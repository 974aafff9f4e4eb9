package trading

import (
	"context"
	"fmt"

	"github.com/vikasavnish/autotrade/internal/broker"
	"github.com/vikasavnish/autotrade/internal/eventlog"
	"github.com/vikasavnish/autotrade/internal/krx"
	"github.com/vikasavnish/autotrade/internal/metrics"
	"github.com/vikasavnish/autotrade/internal/models"
)

// OrderAPI is the broker surface the engine trades through.
type OrderAPI interface {
	SubmitBuy(ctx context.Context, accountNo, code string, qty, price int64) (*broker.OrderResult, error)
	ModifyOrder(ctx context.Context, accountNo, origOrderID, code string, qty, price int64) (*broker.OrderResult, error)
	UnexecutedOrders(ctx context.Context, accountNo string) ([]broker.UnexecutedOrder, error)
}

type buyer struct {
	orders OrderAPI
	cfg    *ConfigHolder
	log    *eventlog.Logger
}

// submit sends one intent exactly as resolved.
func (b *buyer) submit(ctx context.Context, in models.OrderIntent) {
	accountNo := b.cfg.Load().AccountNo
	if accountNo == "" {
		b.log.Error("No account selected, buy failed: %s", in.Name)
		metrics.Orders.WithLabelValues("buy", metrics.ResultError).Inc()
		return
	}

	summary := buySummary(in)
	res, err := b.orders.SubmitBuy(ctx, accountNo, in.Code, in.OrderQty, in.OrderPrice)
	if err != nil {
		b.log.Error("%s -> send failed: %v", summary, err)
		metrics.Orders.WithLabelValues("buy", metrics.ResultError).Inc()
		return
	}
	b.log.Success("%s -> broker: %s", summary, res.Message)
	metrics.Orders.WithLabelValues("buy", metrics.ResultOK).Inc()
}

func buySummary(in models.OrderIntent) string {
	return fmt.Sprintf("Buy %s(%s) | Qty: %d | Price: %d", in.Name, in.Code, in.OrderQty, in.OrderPrice)
}

type modifier struct {
	orders OrderAPI
	prices PriceSource
	log    *eventlog.Logger
}

// submit reprices one open sell order at the live price.
func (m *modifier) submit(ctx context.Context, task models.ModifyTask) {
	price, err := m.prices.CurrentPrice(ctx, task.Code)
	if err != nil || price <= 0 {
		m.log.Warn("Failed to get price for modify: %s", task.Code)
		metrics.Orders.WithLabelValues("modify", metrics.ResultError).Inc()
		return
	}
	price = krx.FloorToTick(price)

	res, err := m.orders.ModifyOrder(ctx, task.AccountNo, task.OriginalOrderID, task.Code, task.Qty, price)
	if err != nil {
		m.log.Error("Modify rejected: %s order %s (%v)", task.Code, task.OriginalOrderID, err)
		metrics.Orders.WithLabelValues("modify", metrics.ResultError).Inc()
		return
	}
	metrics.Orders.WithLabelValues("modify", metrics.ResultOK).Inc()

	if task.Kind == models.TaskConditional {
		m.log.Success("Conditional sell step %d/3: %s %d shares -> %d (%s)", task.Step, task.Code, task.Qty, price, res.Message)
		return
	}
	m.log.Success("Stale sell order repriced: %s %d shares -> %d (%s)", task.Code, task.Qty, price, res.Message)
}

// modifyKey de-duplicates dwell reprices by order id. Conditional steps are
// guarded by the step table instead.
func modifyKey(t models.ModifyTask) string {
	if t.Kind == models.TaskNormal {
		return t.OriginalOrderID
	}
	return ""
}
