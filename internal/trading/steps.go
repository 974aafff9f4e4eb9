package trading

import "sync"

// MaxConditionalStep is the final stage, which liquidates the full remainder.
const MaxConditionalStep = 3

// StepTable records the last processed conditional-sell stage per order id.
// Stages only move forward.
type StepTable struct {
	mu    sync.Mutex
	steps map[string]int
}

func NewStepTable() *StepTable {
	return &StepTable{steps: make(map[string]int)}
}

// Get returns the last processed stage, 0 if none.
func (t *StepTable) Get(orderID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.steps[orderID]
}

// Advance records step if it is beyond the current stage.
func (t *StepTable) Advance(orderID string, step int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if step <= t.steps[orderID] {
		return false
	}
	t.steps[orderID] = step
	return true
}

func (t *StepTable) Forget(orderID string) {
	t.mu.Lock()
	delete(t.steps, orderID)
	t.mu.Unlock()
}

// Retain evicts every order id not in live.
func (t *StepTable) Retain(live map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.steps {
		if _, ok := live[id]; !ok {
			delete(t.steps, id)
		}
	}
}

func (t *StepTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}

// ConditionalStep returns the stage due at nowMin for a schedule starting at
// startMin and advancing every interval minutes, or 0 before the start.
func ConditionalStep(nowMin, startMin, interval int) int {
	if nowMin < startMin {
		return 0
	}
	if interval <= 0 {
		interval = 1
	}
	step := (nowMin-startMin)/interval + 1
	if step > MaxConditionalStep {
		step = MaxConditionalStep
	}
	return step
}

// StepQty is the amount amended at a stage: a third, a half, then all of the
// remaining quantity, never less than one share.
func StepQty(step int, total int64) int64 {
	var qty int64
	switch step {
	case 1:
		qty = total / 3
	case 2:
		qty = total / 2
	default:
		return total
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}
