package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vikasavnish/autotrade/internal/eventlog"
	"github.com/vikasavnish/autotrade/internal/krx"
	"github.com/vikasavnish/autotrade/internal/metrics"
	"github.com/vikasavnish/autotrade/internal/models"
)

// PriceSource returns the current price of an instrument.
type PriceSource interface {
	CurrentPrice(ctx context.Context, code string) (int64, error)
}

// PriceChain tries each source in order and returns the first positive price.
type PriceChain []PriceSource

func (c PriceChain) CurrentPrice(ctx context.Context, code string) (int64, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		p, err := src.CurrentPrice(ctx, code)
		if err == nil && p > 0 {
			return p, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %d", p)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return 0, fmt.Errorf("no price source for %s", code)
	}
	return 0, errors.Join(errs...)
}

// Allocate returns the per-instrument budget for n candidates and whether the
// daily budget forced a uniform scale-down.
func Allocate(dailyBudget, perStockLimit int64, n int) (int64, bool) {
	if n <= 0 {
		return perStockLimit, false
	}
	if int64(n)*perStockLimit > dailyBudget {
		return dailyBudget / int64(n), true
	}
	return perStockLimit, false
}

// TargetPrice applies the buy premium, capped at the max price percentage,
// and floors the result to the tick grid.
func TargetPrice(base int64, premiumPct, capPct float64) int64 {
	premium := applyPct(base, premiumPct)
	capped := applyPct(base, capPct)
	return krx.NormalizePrice(decimal.Min(premium, capped))
}

var hundred = decimal.NewFromInt(100)

// applyPct returns base * (100 + pct) / 100 without binary rounding.
func applyPct(base int64, pct float64) decimal.Decimal {
	factor := decimal.NewFromFloat(pct).Add(hundred)
	return decimal.NewFromInt(base).Mul(factor).Div(hundred)
}

// Resolver turns match candidates into priced and sized order intents.
type Resolver struct {
	prices PriceSource
	log    *eventlog.Logger
}

func NewResolver(prices PriceSource, log *eventlog.Logger) *Resolver {
	return &Resolver{prices: prices, log: log}
}

// Resolve prices and sizes one batch. Invalid candidates are logged and
// dropped; they never fail the batch.
func (r *Resolver) Resolve(ctx context.Context, cfg models.RuntimeConfig, batchID string, candidates []models.MatchCandidate) []models.OrderIntent {
	kept := make([]models.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.MatchType == models.MatchExit {
			r.log.Warn("Exit signal, not queued for buy: %s", c.Name)
			metrics.CandidatesDropped.WithLabelValues("exit").Inc()
			continue
		}
		c.Code = krx.NormalizeCode(c.Code)
		if c.Code == "" {
			r.log.Warn("Invalid instrument code, not queued for buy: %s", c.Name)
			metrics.CandidatesDropped.WithLabelValues("code").Inc()
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil
	}

	alloc, scaled := Allocate(cfg.DailyBudget, cfg.PerStockLimit, len(kept))
	if scaled {
		r.log.Info("Budget exceeded: %d candidates x %d > %d, per-stock budget scaled down to %d",
			len(kept), cfg.PerStockLimit, cfg.DailyBudget, alloc)
	}

	intents := make([]models.OrderIntent, 0, len(kept))
	for _, c := range kept {
		base := c.Price
		if base <= 0 {
			p, err := r.prices.CurrentPrice(ctx, c.Code)
			if err != nil || p <= 0 {
				r.log.Warn("Could not load price, not queued for buy: %s(%s)", c.Name, c.Code)
				metrics.CandidatesDropped.WithLabelValues("price").Inc()
				continue
			}
			base = p
		}

		price := TargetPrice(base, cfg.BuyPremiumPct, cfg.MaxPriceCapPct)
		if price <= 0 {
			r.log.Warn("Invalid price, not queued for buy: %s(%s)", c.Name, c.Code)
			metrics.CandidatesDropped.WithLabelValues("price").Inc()
			continue
		}
		qty := alloc / price
		if qty <= 0 {
			r.log.Warn("Budget too small, not queued for buy: %s (budget %d, price %d)", c.Name, alloc, price)
			metrics.CandidatesDropped.WithLabelValues("budget").Inc()
			continue
		}

		intents = append(intents, models.OrderIntent{
			ID:          uuid.NewString(),
			BatchID:     batchID,
			Code:        c.Code,
			Name:        c.Name,
			OrderPrice:  price,
			OrderQty:    qty,
			BasePrice:   base,
			PremiumPct:  cfg.BuyPremiumPct,
			IsScaleDown: scaled,
		})
	}
	return intents
}
