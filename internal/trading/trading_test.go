package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vikasavnish/autotrade/internal/broker"
	"github.com/vikasavnish/autotrade/internal/eventlog"
	"github.com/vikasavnish/autotrade/internal/krx"
	"github.com/vikasavnish/autotrade/internal/models"
)

type buyCall struct {
	Account, Code string
	Qty, Price    int64
}

type modifyCall struct {
	Account, OrderID, Code string
	Qty, Price             int64
}

// mockOrders records calls and serves scripted open orders.
type mockOrders struct {
	mu       sync.Mutex
	buys     []buyCall
	modifies []modifyCall
	open     []broker.UnexecutedOrder
	openErr  error

	// failures keyed by instrument code (buys) and original order id (amends)
	buyErrs    map[string]error
	modifyErrs map[string]error
}

func (m *mockOrders) SubmitBuy(ctx context.Context, accountNo, code string, qty, price int64) (*broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buys = append(m.buys, buyCall{accountNo, code, qty, price})
	if err := m.buyErrs[code]; err != nil {
		return nil, err
	}
	return &broker.OrderResult{OrderID: "1", Message: "accepted"}, nil
}

func (m *mockOrders) ModifyOrder(ctx context.Context, accountNo, origOrderID, code string, qty, price int64) (*broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modifies = append(m.modifies, modifyCall{accountNo, origOrderID, code, qty, price})
	if err := m.modifyErrs[origOrderID]; err != nil {
		return nil, err
	}
	return &broker.OrderResult{OrderID: origOrderID, Message: "modified"}, nil
}

func (m *mockOrders) UnexecutedOrders(ctx context.Context, accountNo string) ([]broker.UnexecutedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, m.openErr
}

func (m *mockOrders) buyCalls() []buyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]buyCall(nil), m.buys...)
}

func (m *mockOrders) modifyCalls() []modifyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]modifyCall(nil), m.modifies...)
}

type mapPrices map[string]int64

func (p mapPrices) CurrentPrice(ctx context.Context, code string) (int64, error) {
	if v, ok := p[code]; ok {
		return v, nil
	}
	return 0, errors.New("no price")
}

type mockTrigger struct {
	mu   sync.Mutex
	seqs []string
}

func (t *mockTrigger) TriggerConditionSearch(ctx context.Context, seq string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seqs = append(t.seqs, seq)
	return nil
}

type memRunDates struct {
	date string
}

func (s *memRunDates) LastRunDate(ctx context.Context) (string, error) { return s.date, nil }
func (s *memRunDates) SetLastRunDate(ctx context.Context, date string) error {
	s.date = date
	return nil
}

type mockRegistrar struct {
	codes []string
}

func (r *mockRegistrar) Register(codes ...string) error {
	r.codes = append(r.codes, codes...)
	return nil
}

var seoul = time.FixedZone("KST", 9*3600)

type testEnv struct {
	engine  *Engine
	orders  *mockOrders
	trigger *mockTrigger
	feed    *mockRegistrar
	ring    *eventlog.Ring
	now     time.Time
}

func newTestEnv(t *testing.T, cfg models.RuntimeConfig, prices PriceSource) *testEnv {
	t.Helper()
	env := &testEnv{
		orders:  &mockOrders{},
		trigger: &mockTrigger{},
		feed:    &mockRegistrar{},
		ring:    eventlog.NewRing(100),
		now:     time.Date(2024, 3, 4, 9, 0, 0, 0, seoul),
	}
	if prices == nil {
		prices = mapPrices{}
	}
	now := func() time.Time { return env.now }
	env.engine = NewEngine(context.Background(), cfg, Deps{
		Orders:           env.orders,
		Prices:           prices,
		Trigger:          env.trigger,
		Feed:             env.feed,
		Log:              eventlog.New(now, env.ring),
		Now:              now,
		Location:         seoul,
		DispatchInterval: time.Hour,
	})
	return env
}

func at(h, m, s int) time.Time {
	return time.Date(2024, 3, 4, h, m, s, 0, seoul)
}

func TestTargetPrice(t *testing.T) {
	if got := TargetPrice(13700, 3, 20); got != 14110 {
		t.Errorf("Expected 14110, got %d", got)
	}
	// cap below premium
	if got := TargetPrice(10000, 30, 20); got != 12000 {
		t.Errorf("Expected 12000, got %d", got)
	}
	if got := TargetPrice(1990, 3, 20); got != 2045 {
		t.Errorf("Expected 2045, got %d", got)
	}
}

func TestTargetPriceOnTickBoundary(t *testing.T) {
	tests := []struct {
		base    int64
		premium float64
		cap     float64
		want    int64
	}{
		{base: 50000, premium: 28.2, cap: 30, want: 64100},
		{base: 25000, premium: 28.2, cap: 30, want: 32050},
		{base: 15000, premium: 28.2, cap: 30, want: 19230},
		{base: 50000, premium: 30, cap: 28.2, want: 64100},
		{base: 10000, premium: 0.1, cap: 30, want: 10010},
	}
	for _, tt := range tests {
		if got := TargetPrice(tt.base, tt.premium, tt.cap); got != tt.want {
			t.Errorf("TargetPrice(%d, %v, %v): expected %d, got %d", tt.base, tt.premium, tt.cap, tt.want, got)
		}
	}
}

func TestTargetPriceMatchesIntegerMath(t *testing.T) {
	for base := int64(1000); base <= 600000; base += 997 {
		for tenths := int64(1); tenths <= 300; tenths++ {
			// base * (1000 + tenths) / 1000, floored, then to the tick grid
			exact := base * (1000 + tenths) / 1000
			want := krx.FloorToTick(exact)
			if got := TargetPrice(base, float64(tenths)/10, 30); got != want {
				t.Fatalf("TargetPrice(%d, %.1f, 30): expected %d, got %d", base, float64(tenths)/10, want, got)
			}
		}
	}
}

func TestAllocate(t *testing.T) {
	alloc, scaled := Allocate(7000000, 1000000, 10)
	if alloc != 700000 || !scaled {
		t.Errorf("Expected 700000 scaled, got %d %v", alloc, scaled)
	}
	alloc, scaled = Allocate(7000000, 1000000, 7)
	if alloc != 1000000 || scaled {
		t.Errorf("Expected 1000000 unscaled, got %d %v", alloc, scaled)
	}
	alloc, _ = Allocate(1000000, 1000000, 3)
	if alloc != 333333 {
		t.Errorf("Expected 333333, got %d", alloc)
	}
}

func TestResolveScalesDownAndPrices(t *testing.T) {
	env := newTestEnv(t, models.DefaultRuntimeConfig(), mapPrices{"000660": 185000})
	cfg := env.engine.Config()

	var cands []models.MatchCandidate
	for i := 0; i < 10; i++ {
		cands = append(cands, models.MatchCandidate{Code: "A005930", Name: "Samsung", Price: 13700, MatchType: models.MatchEntry})
	}
	cands = append(cands, models.MatchCandidate{Code: "035420", Name: "Naver", Price: 200000, MatchType: models.MatchExit})

	intents := env.engine.resolver.Resolve(context.Background(), cfg, "batch", cands)
	if len(intents) != 10 {
		t.Fatalf("Expected 10 intents, got %d", len(intents))
	}
	in := intents[0]
	if in.Code != "005930" || in.OrderPrice != 14110 || !in.IsScaleDown {
		t.Errorf("Unexpected intent %+v", in)
	}
	if in.OrderQty != 700000/14110 {
		t.Errorf("Expected qty %d, got %d", 700000/14110, in.OrderQty)
	}
	if env.ring.Count(models.LevelWarn) != 1 {
		t.Errorf("Expected one WARN for the exit row, got %d", env.ring.Count(models.LevelWarn))
	}
}

func TestResolveDropsUnpricedAndUnaffordable(t *testing.T) {
	env := newTestEnv(t, models.RuntimeConfig{DailyBudget: 1000000, PerStockLimit: 100000, BuyPremiumPct: 3, MaxPriceCapPct: 20}, mapPrices{"000660": 185000})
	cands := []models.MatchCandidate{
		{Code: "930", Name: "Priced"},
		{Code: "000660", Name: "Looked up"},
		{Code: "005930", Name: "Cheap", Price: 5000},
	}

	intents := env.engine.resolver.Resolve(context.Background(), env.engine.Config(), "b", cands)
	if len(intents) != 1 || intents[0].Code != "005930" {
		t.Fatalf("Expected only 005930, got %+v", intents)
	}
	if intents[0].OrderPrice != 5150 || intents[0].OrderQty != 19 {
		t.Errorf("Unexpected intent %+v", intents[0])
	}
	if env.ring.Count(models.LevelWarn) != 2 {
		t.Errorf("Expected two WARN records, got %d", env.ring.Count(models.LevelWarn))
	}
}

func TestDispatcherThrottlesAndStops(t *testing.T) {
	var mu sync.Mutex
	var handled []int
	d := NewDispatcher(context.Background(), "test", time.Hour, func() int { return 3 }, func(ctx context.Context, n int) {
		mu.Lock()
		handled = append(handled, n)
		mu.Unlock()
	})

	if d.State() != Stopped {
		t.Fatalf("Expected STOPPED before enqueue")
	}
	d.Enqueue(1, 2, 3, 4, 5, 6, 7)
	if d.State() != Running {
		t.Fatalf("Expected RUNNING after enqueue")
	}

	for _, want := range []int{3, 3, 1} {
		if got := d.Tick(); got != want {
			t.Errorf("Expected batch of %d, got %d", want, got)
		}
	}
	d.Wait()

	if d.State() != Stopped {
		t.Errorf("Expected STOPPED once drained")
	}
	if len(handled) != 7 {
		t.Errorf("Expected 7 handled items, got %d", len(handled))
	}
}

func TestDispatcherDeduplicatesByKey(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(context.Background(), "test", time.Hour, func() int { return 10 }, func(ctx context.Context, s string) {
		<-release
	}).WithKey(func(s string) string { return s })

	if n := d.Enqueue("a", "a", "b"); n != 2 {
		t.Errorf("Expected 2 accepted, got %d", n)
	}
	d.Tick()
	if !d.Pending("a") {
		t.Errorf("Expected a to stay pending while in flight")
	}
	if n := d.Enqueue("a"); n != 0 {
		t.Errorf("Expected in-flight key to be rejected, got %d", n)
	}
	close(release)
	d.Wait()
	if d.Pending("a") {
		t.Errorf("Expected a to be released after submission")
	}
	if n := d.Enqueue("a"); n != 1 {
		t.Errorf("Expected a to be accepted again, got %d", n)
	}
	if dropped := d.Stop(); dropped != 1 {
		t.Errorf("Expected 1 dropped on stop, got %d", dropped)
	}
}

func TestBuyDispatchSubmitsIntentUnchanged(t *testing.T) {
	cfg := models.DefaultRuntimeConfig()
	cfg.AccountNo = "5012345610"
	env := newTestEnv(t, cfg, nil)
	env.engine.SetRunning(true)

	n := env.engine.HandleMatches(context.Background(), "1", []models.MatchCandidate{
		{Code: "A005930", Name: "Samsung", Price: 13700, MatchType: models.MatchEntry},
	})
	if n != 1 {
		t.Fatalf("Expected 1 queued, got %d", n)
	}
	env.engine.buys.Tick()
	env.engine.Wait()

	calls := env.orders.buyCalls()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 buy, got %d", len(calls))
	}
	want := buyCall{"5012345610", "005930", 1000000 / 14110, 14110}
	if calls[0] != want {
		t.Errorf("Expected %+v, got %+v", want, calls[0])
	}
	if len(env.feed.codes) != 1 || env.feed.codes[0] != "005930" {
		t.Errorf("Expected 005930 registered with the feed, got %v", env.feed.codes)
	}
	if env.ring.Count(models.LevelSuccess) != 1 {
		t.Errorf("Expected one SUCCESS record, got %d", env.ring.Count(models.LevelSuccess))
	}
}

func TestBuyDispatchIsolatesFailures(t *testing.T) {
	cfg := models.DefaultRuntimeConfig()
	cfg.AccountNo = "5012345610"
	env := newTestEnv(t, cfg, nil)
	env.orders.buyErrs = map[string]error{"000660": errors.New("insufficient deposit")}
	env.engine.SetRunning(true)

	env.engine.HandleMatches(context.Background(), "1", []models.MatchCandidate{
		{Code: "005930", Name: "Samsung", Price: 13700, MatchType: models.MatchEntry},
		{Code: "000660", Name: "Hynix", Price: 150000, MatchType: models.MatchEntry},
		{Code: "035720", Name: "Kakao", Price: 42000, MatchType: models.MatchEntry},
	})
	env.engine.buys.Tick()
	env.engine.Wait()

	if got := len(env.orders.buyCalls()); got != 3 {
		t.Fatalf("Expected all 3 buys attempted, got %d", got)
	}
	if got := env.ring.Count(models.LevelError); got != 1 {
		t.Errorf("Expected one ERROR record, got %d", got)
	}
	if got := env.ring.Count(models.LevelSuccess); got != 2 {
		t.Errorf("Expected two SUCCESS records, got %d", got)
	}
}

func TestBuyDispatchWithoutAccount(t *testing.T) {
	env := newTestEnv(t, models.DefaultRuntimeConfig(), nil)
	env.engine.SetRunning(true)
	env.engine.HandleMatches(context.Background(), "1", []models.MatchCandidate{{Code: "005930", Name: "Samsung", Price: 13700}})
	env.engine.buys.Tick()
	env.engine.Wait()

	if len(env.orders.buyCalls()) != 0 {
		t.Errorf("Expected no broker call without an account")
	}
	if env.ring.Count(models.LevelError) != 1 {
		t.Errorf("Expected one ERROR record, got %d", env.ring.Count(models.LevelError))
	}
}

func TestHandleMatchesIgnoredWhenStopped(t *testing.T) {
	env := newTestEnv(t, models.DefaultRuntimeConfig(), nil)
	if n := env.engine.HandleMatches(context.Background(), "1", []models.MatchCandidate{{Code: "005930", Price: 13700}}); n != 0 {
		t.Errorf("Expected nothing queued while stopped, got %d", n)
	}
}

func monitorConfig() models.RuntimeConfig {
	cfg := models.DefaultRuntimeConfig()
	cfg.AutoModify = true
	cfg.AccountNo = "5012345610"
	return cfg
}

func TestMonitorCutoffSweepsAndStops(t *testing.T) {
	env := newTestEnv(t, monitorConfig(), nil)
	env.engine.SetRunning(true)
	env.orders.open = []broker.UnexecutedOrder{
		{OrderID: "0001", Code: "A005930", Side: broker.SideSell, Type: broker.OrderTypeLimit, RemainingQty: 100},
		{OrderID: "0002", Code: "000660", Side: broker.SideBuy, Type: broker.OrderTypeLimit, RemainingQty: 5},
	}
	env.now = at(15, 20, 0)

	if env.engine.MonitorTick(context.Background()) {
		t.Errorf("Expected monitor to stop after the sweep")
	}
	calls := env.orders.modifyCalls()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 sweep amend, got %d", len(calls))
	}
	want := modifyCall{"5012345610", "0001", "005930", 100, 0}
	if calls[0] != want {
		t.Errorf("Expected %+v, got %+v", want, calls[0])
	}
	st := env.engine.Status()
	if st.Running || !st.MonitorHalted {
		t.Errorf("Expected stopped and halted, got %+v", st)
	}

	// a halted monitor does nothing until Start re-arms it
	env.engine.MonitorTick(context.Background())
	if len(env.orders.modifyCalls()) != 1 {
		t.Errorf("Expected no further sweep")
	}
	env.engine.Start()
	if env.engine.Status().MonitorHalted {
		t.Errorf("Expected Start to re-arm the monitor")
	}
}

func TestMonitorSweepContinuesAfterFailure(t *testing.T) {
	env := newTestEnv(t, monitorConfig(), nil)
	env.engine.SetRunning(true)
	env.orders.open = []broker.UnexecutedOrder{
		{OrderID: "0001", Code: "005930", Side: broker.SideSell, Type: broker.OrderTypeLimit, RemainingQty: 10},
		{OrderID: "0002", Code: "000660", Side: broker.SideSell, Type: broker.OrderTypeConditionalLimit, RemainingQty: 20},
		{OrderID: "0003", Code: "035720", Side: broker.SideSell, Type: broker.OrderTypeOther, RemainingQty: 30},
	}
	env.orders.modifyErrs = map[string]error{"0001": errors.New("order already filled")}
	env.now = at(15, 20, 0)

	env.engine.MonitorTick(context.Background())

	calls := env.orders.modifyCalls()
	if len(calls) != 3 {
		t.Fatalf("Expected every sell order attempted, got %d", len(calls))
	}
	for i, id := range []string{"0001", "0002", "0003"} {
		if calls[i].OrderID != id || calls[i].Price != 0 {
			t.Errorf("Expected market amend for %s, got %+v", id, calls[i])
		}
	}
	if got := env.ring.Count(models.LevelError); got != 1 {
		t.Errorf("Expected one ERROR record, got %d", got)
	}
	if got := env.ring.Count(models.LevelSuccess); got != 2 {
		t.Errorf("Expected two SUCCESS records, got %d", got)
	}
}

func TestStopDiscardsQueuedWork(t *testing.T) {
	cfg := monitorConfig()
	env := newTestEnv(t, cfg, nil)
	env.engine.SetRunning(true)

	env.engine.HandleMatches(context.Background(), "1", []models.MatchCandidate{
		{Code: "005930", Name: "Samsung", Price: 13700, MatchType: models.MatchEntry},
		{Code: "000660", Name: "Hynix", Price: 150000, MatchType: models.MatchEntry},
	})
	env.engine.modifies.Enqueue(
		models.ModifyTask{Kind: models.TaskNormal, AccountNo: cfg.AccountNo, OriginalOrderID: "0001", Code: "005930", Qty: 10},
		models.ModifyTask{Kind: models.TaskNormal, AccountNo: cfg.AccountNo, OriginalOrderID: "0002", Code: "000660", Qty: 5},
	)
	if !env.engine.modifies.Pending("0001") {
		t.Fatalf("Expected 0001 pending before stop")
	}
	warnsBefore := env.ring.Count(models.LevelWarn)

	env.engine.Stop()

	st := env.engine.Status()
	if st.Running || st.BuyQueue != 0 || st.ModifyQueue != 0 {
		t.Errorf("Expected stopped with empty queues, got %+v", st)
	}
	if env.engine.modifies.Pending("0001") || env.engine.modifies.Pending("0002") {
		t.Errorf("Expected pending keys released on stop")
	}
	if got := env.ring.Count(models.LevelWarn) - warnsBefore; got != 1 {
		t.Fatalf("Expected one WARN for discarded orders, got %d", got)
	}
	recs := env.ring.Records()
	found := false
	for _, r := range recs {
		if r.Level == models.LevelWarn && r.Message == "4 queued orders discarded on stop" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected discard WARN naming 4 orders, got %+v", recs)
	}
	if len(env.orders.buyCalls()) != 0 || len(env.orders.modifyCalls()) != 0 {
		t.Errorf("Expected nothing submitted after stop")
	}

	// a second stop with nothing queued stays quiet
	env.engine.Stop()
	if got := env.ring.Count(models.LevelWarn) - warnsBefore; got != 1 {
		t.Errorf("Expected no extra WARN on empty stop, got %d", got)
	}
}

func TestMonitorGatedOnAutoModifyAndRunning(t *testing.T) {
	cfg := monitorConfig()
	cfg.AutoModify = false
	env := newTestEnv(t, cfg, nil)
	env.engine.SetRunning(true)
	env.orders.openErr = errors.New("should not be called")
	env.now = at(15, 25, 0)

	if !env.engine.MonitorTick(context.Background()) {
		t.Errorf("Expected gated monitor to keep ticking")
	}
	if env.engine.Status().MonitorHalted {
		t.Errorf("Expected no sweep while auto modify is off")
	}
}

func TestMonitorConditionalSteps(t *testing.T) {
	env := newTestEnv(t, monitorConfig(), nil)
	env.engine.SetRunning(true)
	env.orders.open = []broker.UnexecutedOrder{
		{OrderID: "0009", Code: "035420", Side: broker.SideSell, Type: broker.OrderTypeConditionalLimit, RemainingQty: 100},
	}

	type check struct {
		now      time.Time
		wantStep int
		wantQty  int64
	}
	checks := []check{
		{at(15, 9, 0), 0, 0},
		{at(15, 10, 0), 1, 33},
		{at(15, 12, 50), 0, 0},
		{at(15, 13, 0), 2, 50},
		{at(15, 16, 0), 3, 100},
		{at(15, 19, 0), 0, 0},
	}
	for _, c := range checks {
		env.now = c.now
		env.engine.MonitorTick(context.Background())
		d := env.engine.modifies
		if c.wantStep == 0 {
			if d.Len() != 0 {
				t.Errorf("%s: expected no task, got %d", c.now.Format("15:04:05"), d.Len())
			}
			continue
		}
		if d.Len() != 1 {
			t.Fatalf("%s: expected one task, got %d", c.now.Format("15:04:05"), d.Len())
		}
		task := d.queue[0]
		if task.Kind != models.TaskConditional || task.Step != c.wantStep || task.Qty != c.wantQty {
			t.Errorf("%s: unexpected task %+v", c.now.Format("15:04:05"), task)
		}
		d.Stop()
	}
	if got := env.engine.steps.Get("0009"); got != 3 {
		t.Errorf("Expected recorded step 3, got %d", got)
	}

	env.orders.open = nil
	env.engine.MonitorTick(context.Background())
	if env.engine.steps.Len() != 0 {
		t.Errorf("Expected step table eviction once the order is gone")
	}
}

func TestMonitorNormalDwell(t *testing.T) {
	env := newTestEnv(t, monitorConfig(), nil)
	env.engine.SetRunning(true)
	env.orders.open = []broker.UnexecutedOrder{
		{OrderID: "0001", Code: "005930", Side: broker.SideSell, Type: broker.OrderTypeLimit, RemainingQty: 10, OrderedAt: 14*3600 + 30*60, HasTime: true},
		{OrderID: "0002", Code: "000660", Side: broker.SideSell, Type: broker.OrderTypeLimit, RemainingQty: 10},
		{OrderID: "0003", Code: "035720", Side: broker.SideSell, Type: broker.OrderTypeOther, RemainingQty: 10, OrderedAt: 0, HasTime: true},
	}
	d := env.engine.modifies

	env.now = at(14, 30, 59)
	env.engine.MonitorTick(context.Background())
	if d.Len() != 0 {
		t.Fatalf("Expected no task before the 60s dwell, got %d", d.Len())
	}

	env.now = at(14, 31, 0)
	env.engine.MonitorTick(context.Background())
	if d.Len() != 1 || d.queue[0].OriginalOrderID != "0001" || d.queue[0].Kind != models.TaskNormal {
		t.Fatalf("Expected one NORMAL task for 0001, got %+v", d.queue)
	}

	env.now = at(14, 31, 10)
	env.engine.MonitorTick(context.Background())
	if d.Len() != 1 {
		t.Errorf("Expected pending order not to be queued twice, got %d", d.Len())
	}
	d.Stop()

	env.orders.open[0].OrderedAt = 15*3600 + 5*60
	env.now = at(15, 5, 9)
	env.engine.MonitorTick(context.Background())
	if d.Len() != 0 {
		t.Errorf("Expected no task before the 10s dwell")
	}
	env.now = at(15, 5, 10)
	env.engine.MonitorTick(context.Background())
	if d.Len() != 1 {
		t.Errorf("Expected a task after the 10s dwell, got %d", d.Len())
	}
}

func TestModifySubmitUsesLivePrice(t *testing.T) {
	env := newTestEnv(t, monitorConfig(), mapPrices{"035420": 210570})
	env.engine.modifies.Enqueue(models.ModifyTask{
		Kind: models.TaskConditional, AccountNo: "5012345610", OriginalOrderID: "0009", Code: "035420", Qty: 33, Step: 1,
	}, models.ModifyTask{
		Kind: models.TaskNormal, AccountNo: "5012345610", OriginalOrderID: "0010", Code: "999999", Qty: 5,
	})
	env.engine.modifies.Tick()
	env.engine.Wait()

	calls := env.orders.modifyCalls()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 amend, got %d", len(calls))
	}
	want := modifyCall{"5012345610", "0009", "035420", 33, 210500}
	if calls[0] != want {
		t.Errorf("Expected %+v, got %+v", want, calls[0])
	}
	if env.ring.Count(models.LevelWarn) != 1 {
		t.Errorf("Expected a WARN for the unpriced task, got %d", env.ring.Count(models.LevelWarn))
	}
}

func TestSchedulerFiresOncePerDay(t *testing.T) {
	cfg := models.DefaultRuntimeConfig()
	cfg.ScheduleTime = "09:05"
	cfg.ConditionSeq = "3"
	env := newTestEnv(t, cfg, nil)
	env.engine.SetRunning(true)

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, seoul)
	fired := 0
	for i := 0; i < 86400; i++ {
		if env.engine.scheduler.Check(context.Background(), start.Add(time.Duration(i)*time.Second)) {
			fired++
		}
	}
	if fired != 1 {
		t.Errorf("Expected 1 fire in a day, got %d", fired)
	}
	if len(env.trigger.seqs) != 1 || env.trigger.seqs[0] != "3" {
		t.Errorf("Expected trigger for seq 3, got %v", env.trigger.seqs)
	}

	next := time.Date(2024, 3, 5, 9, 5, 0, 0, seoul)
	if !env.engine.scheduler.Check(context.Background(), next) {
		t.Errorf("Expected the next day to fire again")
	}
}

func TestSchedulerGates(t *testing.T) {
	cfg := models.DefaultRuntimeConfig()
	cfg.ScheduleTime = "09:05"
	env := newTestEnv(t, cfg, nil)
	env.engine.SetRunning(true)

	if env.engine.scheduler.Check(context.Background(), at(9, 5, 0)) {
		t.Errorf("Expected no fire without a condition id")
	}

	cfg.ConditionSeq = "3"
	env.engine.UpdateConfig(cfg)
	env.engine.SetRunning(false)
	if env.engine.scheduler.Check(context.Background(), at(9, 5, 0)) {
		t.Errorf("Expected no fire while stopped")
	}
}

func TestSchedulerRestoresRunDate(t *testing.T) {
	cfg := models.DefaultRuntimeConfig()
	cfg.ScheduleTime = "09:05"
	cfg.ConditionSeq = "3"
	env := newTestEnv(t, cfg, nil)
	store := &memRunDates{date: "2024-3-4"}
	env.engine.scheduler.store = store
	env.now = at(9, 0, 0)
	env.engine.Restore(context.Background())
	env.engine.SetRunning(true)

	if env.engine.scheduler.Check(context.Background(), at(9, 5, 0)) {
		t.Errorf("Expected restored run date to suppress a second fire")
	}
	if env.engine.scheduler.Check(context.Background(), time.Date(2024, 3, 5, 9, 5, 0, 0, seoul)) != true {
		t.Errorf("Expected fire on the following day")
	}
	if store.date != "2024-3-5" {
		t.Errorf("Expected stored date 2024-3-5, got %s", store.date)
	}
}

func TestConditionalStepMonotonic(t *testing.T) {
	start := 15*60 + 10
	prev := 0
	for now := start - 5; now < start+30; now++ {
		step := ConditionalStep(now, start, 3)
		if step < prev {
			t.Fatalf("step went backwards at %d: %d -> %d", now, prev, step)
		}
		if step > MaxConditionalStep {
			t.Fatalf("step %d beyond max", step)
		}
		prev = step
	}

	tbl := NewStepTable()
	if !tbl.Advance("x", 2) || tbl.Advance("x", 1) || tbl.Advance("x", 2) {
		t.Errorf("Expected Advance to only move forward")
	}
	tbl.Forget("x")
	if tbl.Get("x") != 0 {
		t.Errorf("Expected Forget to clear the stage")
	}
}

func TestStepQty(t *testing.T) {
	tests := []struct {
		step  int
		total int64
		want  int64
	}{
		{1, 100, 33},
		{2, 100, 50},
		{3, 100, 100},
		{1, 2, 1},
		{2, 1, 1},
	}
	for _, tt := range tests {
		if got := StepQty(tt.step, tt.total); got != tt.want {
			t.Errorf("StepQty(%d, %d): expected %d, got %d", tt.step, tt.total, tt.want, got)
		}
	}
}

func TestPriceChainFallsThrough(t *testing.T) {
	chain := PriceChain{mapPrices{}, mapPrices{"005930": 70100}}
	p, err := chain.CurrentPrice(context.Background(), "005930")
	if err != nil || p != 70100 {
		t.Errorf("Expected 70100, got %d (%v)", p, err)
	}
	if _, err := chain.CurrentPrice(context.Background(), "000000"); err == nil {
		t.Errorf("Expected error when every source fails")
	}
}
