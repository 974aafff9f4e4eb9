package trading

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vikasavnish/autotrade/internal/models"
)

// ConfigHolder publishes immutable RuntimeConfig snapshots.
type ConfigHolder struct {
	p atomic.Pointer[models.RuntimeConfig]
}

func NewConfigHolder(cfg models.RuntimeConfig) *ConfigHolder {
	h := &ConfigHolder{}
	h.Store(cfg)
	return h
}

// Load returns the current snapshot.
func (h *ConfigHolder) Load() models.RuntimeConfig {
	return *h.p.Load()
}

// Store replaces the snapshot wholesale.
func (h *ConfigHolder) Store(cfg models.RuntimeConfig) {
	c := cfg
	h.p.Store(&c)
}

// RunState tracks whether the engine is armed and whether today's search fired.
type RunState struct {
	mu          sync.Mutex
	running     bool
	hasRunToday bool
	lastRunDate string
}

// RunSnapshot is a copy of RunState.
type RunSnapshot struct {
	Running     bool   `json:"running"`
	HasRunToday bool   `json:"hasRunToday"`
	LastRunDate string `json:"lastRunDate"`
}

func (s *RunState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetRunning updates the flag and reports whether it changed.
func (s *RunState) SetRunning(running bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.running != running
	s.running = running
	return changed
}

func (s *RunState) Snapshot() RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RunSnapshot{Running: s.running, HasRunToday: s.hasRunToday, LastRunDate: s.lastRunDate}
}

// rollover resets hasRunToday when the calendar date changed.
func (s *RunState) rollover(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRunDate != date {
		s.lastRunDate = date
		s.hasRunToday = false
	}
}

// claim marks today as run; it returns false if today already ran.
func (s *RunState) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasRunToday {
		return false
	}
	s.hasRunToday = true
	return true
}

// markRan records that date already had its run.
func (s *RunState) markRan(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunDate = date
	s.hasRunToday = true
}

// DateKey formats the calendar key used for the once-per-day guard (2024-3-4).
func DateKey(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}
