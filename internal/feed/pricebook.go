package feed

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoTick is returned when no fresh tick is held for an instrument.
var ErrNoTick = errors.New("no recent tick")

// Tick is the last trade price seen for an instrument.
type Tick struct {
	Price      int64
	ReceivedAt time.Time
}

// PriceBook keeps the latest trade price per instrument code.
type PriceBook struct {
	mu     sync.RWMutex
	ticks  map[string]Tick
	maxAge time.Duration
	now    func() time.Time
}

// NewPriceBook creates a book whose prices are served for at most maxAge.
// A zero maxAge serves prices of any age.
func NewPriceBook(maxAge time.Duration, now func() time.Time) *PriceBook {
	if now == nil {
		now = time.Now
	}
	return &PriceBook{
		ticks:  make(map[string]Tick),
		maxAge: maxAge,
		now:    now,
	}
}

// Update records a trade price.
func (b *PriceBook) Update(code string, price int64) {
	if code == "" || price <= 0 {
		return
	}
	b.mu.Lock()
	b.ticks[code] = Tick{Price: price, ReceivedAt: b.now()}
	b.mu.Unlock()
}

// Last returns the latest tick regardless of age.
func (b *PriceBook) Last(code string) (Tick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.ticks[code]
	return t, ok
}

// CurrentPrice returns the latest price if it is fresh enough.
func (b *PriceBook) CurrentPrice(ctx context.Context, code string) (int64, error) {
	t, ok := b.Last(code)
	if !ok {
		return 0, ErrNoTick
	}
	if b.maxAge > 0 && b.now().Sub(t.ReceivedAt) > b.maxAge {
		return 0, ErrNoTick
	}
	return t.Price, nil
}

// Len returns the number of instruments with a recorded tick.
func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ticks)
}
