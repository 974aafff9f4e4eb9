package trading

import (
	"context"
	"time"

	"github.com/vikasavnish/autotrade/internal/eventlog"
	"github.com/vikasavnish/autotrade/internal/metrics"
)

// Trigger starts a condition search.
type Trigger interface {
	TriggerConditionSearch(ctx context.Context, seq string) error
}

// RunDateStore persists the date of the last daily run across restarts.
type RunDateStore interface {
	LastRunDate(ctx context.Context) (string, error)
	SetLastRunDate(ctx context.Context, date string) error
}

// Scheduler fires the configured condition search once per calendar day.
type Scheduler struct {
	cfg     *ConfigHolder
	state   *RunState
	trigger Trigger
	store   RunDateStore
	log     *eventlog.Logger
	now     func() time.Time
	loc     *time.Location
}

// Restore marks today as already run if the store says so.
func (s *Scheduler) Restore(ctx context.Context) {
	if s.store == nil {
		return
	}
	date, err := s.store.LastRunDate(ctx)
	if err != nil {
		s.log.Warn("Could not read last run date: %v", err)
		return
	}
	if date != "" && date == DateKey(s.now().In(s.loc)) {
		s.state.markRan(date)
		s.log.Info("Condition search already ran today (%s)", date)
	}
}

// Check runs one scheduler tick at now and reports whether it fired.
// A minute with no tick is a skipped day.
func (s *Scheduler) Check(ctx context.Context, now time.Time) bool {
	cfg := s.cfg.Load()
	if !s.state.Running() || cfg.ConditionSeq == "" {
		return false
	}
	at, ok := cfg.Schedule()
	if !ok {
		return false
	}

	now = now.In(s.loc)
	date := DateKey(now)
	s.state.rollover(date)

	if now.Hour() != at.Hour || now.Minute() != at.Minute {
		return false
	}
	if !s.state.claim() {
		return false
	}

	s.log.Info("Scheduled time reached (%s), starting condition search", at)
	metrics.ScheduleFires.Inc()
	if s.store != nil {
		if err := s.store.SetLastRunDate(ctx, date); err != nil {
			s.log.Warn("Could not save last run date: %v", err)
		}
	}
	if err := s.trigger.TriggerConditionSearch(ctx, cfg.ConditionSeq); err != nil {
		s.log.Error("Condition search request failed: %v", err)
	}
	return true
}
