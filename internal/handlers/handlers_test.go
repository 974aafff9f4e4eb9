package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/vikasavnish/autotrade/internal/broker"
	"github.com/vikasavnish/autotrade/internal/feed"
	"github.com/vikasavnish/autotrade/internal/models"
	"github.com/vikasavnish/autotrade/internal/tasks"
	"github.com/vikasavnish/autotrade/internal/trading"
)

type fakeEngine struct {
	running bool
	cfg     models.RuntimeConfig
	updates int
}

func (e *fakeEngine) Start() { e.running = true }
func (e *fakeEngine) Stop()  { e.running = false }
func (e *fakeEngine) Status() trading.Status {
	return trading.Status{RunSnapshot: trading.RunSnapshot{Running: e.running}, Config: e.cfg}
}
func (e *fakeEngine) UpdateConfig(cfg models.RuntimeConfig) {
	e.cfg = cfg
	e.updates++
}

type fakeSettings struct {
	cfg models.RuntimeConfig
}

func (s *fakeSettings) Get() (models.RuntimeConfig, error) { return s.cfg, nil }
func (s *fakeSettings) Save(cfg models.RuntimeConfig) (models.RuntimeConfig, error) {
	s.cfg = cfg.WithDefaults()
	return s.cfg, nil
}

type fakeEvents struct {
	lastLimit int
}

func (e *fakeEvents) Record(rec models.LogRecord) error { return nil }
func (e *fakeEvents) Recent(limit int) ([]models.TradeEvent, error) {
	e.lastLimit = limit
	return []models.TradeEvent{{ID: 1, Level: "INFO", Message: "hello"}}, nil
}

type fakeCredentials struct {
	keys *broker.Keys
}

func (c *fakeCredentials) Save(appKey, secretKey string) error {
	if appKey == "" || secretKey == "" {
		return errors.New("app key and secret key are required")
	}
	c.keys = &broker.Keys{AppKey: appKey, SecretKey: secretKey}
	return nil
}
func (c *fakeCredentials) HasKeys() bool { return c.keys != nil }
func (c *fakeCredentials) BrokerKeys(ctx context.Context) (*broker.Keys, error) {
	return c.keys, nil
}

type fakeTokens struct {
	cleared   int
	forced    int
	fail      error
	connected bool
}

func (f *fakeTokens) AccessToken(ctx context.Context, force bool) (string, error) {
	if force {
		f.forced++
	}
	if f.fail != nil {
		return "", f.fail
	}
	f.connected = true
	return "tok", nil
}
func (f *fakeTokens) Clear()          { f.cleared++; f.connected = false }
func (f *fakeTokens) Connected() bool { return f.connected }

type fakeFeed struct {
	codes    []string
	searched []string
	stopped  []string
}

func (f *fakeFeed) Register(codes ...string) error {
	f.codes = append(f.codes, codes...)
	return nil
}
func (f *fakeFeed) Registered() []string { return f.codes }
func (f *fakeFeed) Conditions() []feed.Condition {
	return []feed.Condition{{Seq: "0", Name: "momentum"}}
}
func (f *fakeFeed) TriggerConditionSearch(ctx context.Context, seq string) error {
	f.searched = append(f.searched, seq)
	return nil
}
func (f *fakeFeed) StopConditionSearch(seq string) error {
	f.stopped = append(f.stopped, seq)
	return feed.ErrNotConnected
}
func (f *fakeFeed) Connected() bool { return true }

func serve(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAutoTradeSettings(t *testing.T) {
	engine := &fakeEngine{}
	settings := &fakeSettings{cfg: models.DefaultRuntimeConfig()}
	router := mux.NewRouter()
	NewAutoTradeHandler(engine, settings, &fakeEvents{}).RegisterRoutes(router)

	rec := serve(router, "GET", "/autotrade/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var got models.RuntimeConfig
	json.NewDecoder(rec.Body).Decode(&got)
	if got.DailyBudget != models.DefaultDailyBudget {
		t.Errorf("Expected default budget, got %d", got.DailyBudget)
	}

	rec = serve(router, "PUT", "/autotrade/settings", `{"dailyBudget":3000000,"scheduleTime":"09:01","conditionSeq":"2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if engine.updates != 1 || engine.cfg.DailyBudget != 3000000 || engine.cfg.ConditionSeq != "2" {
		t.Errorf("Expected engine to receive the saved config, got %+v", engine.cfg)
	}

	rec = serve(router, "PUT", "/autotrade/settings", `{"scheduleTime":"99:00"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid schedule, got %d", rec.Code)
	}
	if engine.updates != 1 {
		t.Errorf("Expected engine untouched by invalid config")
	}
}

func TestAutoTradeStartStopStatus(t *testing.T) {
	engine := &fakeEngine{}
	router := mux.NewRouter()
	NewAutoTradeHandler(engine, &fakeSettings{}, &fakeEvents{}).RegisterRoutes(router)

	serve(router, "POST", "/autotrade/start", "")
	rec := serve(router, "GET", "/autotrade/status", "")
	var st trading.Status
	json.NewDecoder(rec.Body).Decode(&st)
	if !st.Running {
		t.Errorf("Expected running after start")
	}

	rec = serve(router, "POST", "/autotrade/stop", "")
	json.NewDecoder(rec.Body).Decode(&st)
	if st.Running {
		t.Errorf("Expected stopped after stop")
	}
}

func TestAutoTradeEvents(t *testing.T) {
	events := &fakeEvents{}
	router := mux.NewRouter()
	NewAutoTradeHandler(&fakeEngine{}, &fakeSettings{}, events).RegisterRoutes(router)

	rec := serve(router, "GET", "/autotrade/events?limit=25", "")
	if rec.Code != http.StatusOK || events.lastLimit != 25 {
		t.Errorf("Expected limit 25 passed through, got %d (status %d)", events.lastLimit, rec.Code)
	}

	rec = serve(router, "GET", "/autotrade/events?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestBrokerSaveKeys(t *testing.T) {
	creds := &fakeCredentials{}
	tokens := &fakeTokens{}
	router := mux.NewRouter()
	NewBrokerHandler(creds, tokens, &fakeFeed{}).RegisterRoutes(router)

	rec := serve(router, "PUT", "/broker/keys", `{"appkey":"app","secretkey":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if tokens.cleared != 1 || tokens.forced != 1 {
		t.Errorf("Expected one clear and one forced refresh, got %d/%d", tokens.cleared, tokens.forced)
	}

	var st models.BrokerStatus
	json.NewDecoder(rec.Body).Decode(&st)
	if !st.Connected || !st.KeysSaved || !st.FeedConnected {
		t.Errorf("Expected fully connected status, got %+v", st)
	}

	rec = serve(router, "PUT", "/broker/keys", `{"appkey":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing keys, got %d", rec.Code)
	}
}

func TestBrokerSaveKeysRejected(t *testing.T) {
	tokens := &fakeTokens{fail: &broker.AuthError{Reason: broker.ReasonRejected}}
	router := mux.NewRouter()
	NewBrokerHandler(&fakeCredentials{}, tokens, nil).RegisterRoutes(router)

	rec := serve(router, "PUT", "/broker/keys", `{"appkey":"app","secretkey":"bad"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 when the broker rejects keys, got %d", rec.Code)
	}

	rec = serve(router, "GET", "/broker/status", "")
	var st models.BrokerStatus
	json.NewDecoder(rec.Body).Decode(&st)
	if st.Connected || !st.KeysSaved {
		t.Errorf("Expected saved but disconnected, got %+v", st)
	}
}

func TestFeedRoutes(t *testing.T) {
	f := &fakeFeed{}
	router := mux.NewRouter()
	NewFeedHandler(f).RegisterRoutes(router)

	rec := serve(router, "POST", "/feed/register", `{"codes":["005930","A000660"]}`)
	if rec.Code != http.StatusOK || len(f.codes) != 2 {
		t.Errorf("Expected two codes registered, got %v (status %d)", f.codes, rec.Code)
	}

	rec = serve(router, "POST", "/feed/register", `{"codes":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty codes, got %d", rec.Code)
	}

	rec = serve(router, "GET", "/feed/conditions", "")
	var conds []feed.Condition
	json.NewDecoder(rec.Body).Decode(&conds)
	if len(conds) != 1 || conds[0].Name != "momentum" {
		t.Errorf("Expected one condition, got %+v", conds)
	}

	rec = serve(router, "POST", "/feed/conditions/7/search", "")
	if rec.Code != http.StatusAccepted || len(f.searched) != 1 || f.searched[0] != "7" {
		t.Errorf("Expected search for seq 7, got %v (status %d)", f.searched, rec.Code)
	}

	rec = serve(router, "DELETE", "/feed/conditions/7/search", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when feed is down, got %d", rec.Code)
	}
}

type fakeTasks struct {
	started []string
}

func (f *fakeTasks) Statuses() []tasks.Status {
	return []tasks.Status{{Name: "monitor", Running: len(f.started) > 0}}
}
func (f *fakeTasks) Has(name string) bool      { return name == "monitor" }
func (f *fakeTasks) EnsureRunning(name string) { f.started = append(f.started, name) }

func TestTaskRoutes(t *testing.T) {
	mgr := &fakeTasks{}
	router := mux.NewRouter()
	NewTaskHandler(mgr).RegisterRoutes(router)

	rec := serve(router, "POST", "/tasks/unknown/start", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", rec.Code)
	}

	rec = serve(router, "POST", "/tasks/monitor/start", "")
	var st []tasks.Status
	json.NewDecoder(rec.Body).Decode(&st)
	if rec.Code != http.StatusOK || len(st) != 1 || !st[0].Running {
		t.Errorf("Expected monitor running, got %+v (status %d)", st, rec.Code)
	}
}
