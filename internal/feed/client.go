// Package feed is the broker's realtime websocket session. It keeps a
// PriceBook current from trade ticks and runs condition searches.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vikasavnish/autotrade/internal/krx"
	"github.com/vikasavnish/autotrade/internal/metrics"
	"github.com/vikasavnish/autotrade/internal/models"
)

const DefaultURL = "wss://api.kiwoom.com:10000/api/dostk/websocket"

const (
	trnmLogin     = "LOGIN"
	trnmPing      = "PING"
	trnmReg       = "REG"
	trnmReal      = "REAL"
	trnmCondList  = "CNSRLST"
	trnmCondReq   = "CNSRREQ"
	trnmCondClear = "CNSRCLR"

	// tradeTickType is the realtime type carrying executed trades.
	tradeTickType = "0B"
	fieldPrice    = "10"

	// matchQueueSize bounds result batches waiting for OnMatch.
	matchQueueSize = 16
)

var (
	ErrNotConnected = errors.New("feed not logged in")
	errLoginFailed  = errors.New("feed login rejected")
)

// TokenSource supplies the access token used to log in.
type TokenSource interface {
	AccessToken(ctx context.Context, forceRefresh bool) (string, error)
}

// Condition is a saved condition search.
type Condition struct {
	Seq  string `json:"seq"`
	Name string `json:"name"`
}

type Options struct {
	// ReadTimeout closes a session that has been silent this long.
	ReadTimeout time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 90 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	return o
}

// Client is a reconnecting feed session.
type Client struct {
	url    string
	tokens TokenSource
	book   *PriceBook
	opts   Options
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	loggedIn   bool
	forceToken bool
	codes      map[string]struct{}
	conditions []Condition
	pending    []string

	writeMu sync.Mutex
	matches chan matchBatch

	// OnMatch receives each condition-search result batch, in order, on a
	// goroutine separate from the read loop.
	OnMatch func(seq string, candidates []models.MatchCandidate)
}

type matchBatch struct {
	seq        string
	candidates []models.MatchCandidate
}

// NewClient creates a feed client; call Run to connect.
func NewClient(url string, tokens TokenSource, book *PriceBook, opts Options) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:     url,
		tokens:  tokens,
		book:    book,
		opts:    opts.withDefaults(),
		dialer:  websocket.DefaultDialer,
		codes:   make(map[string]struct{}),
		matches: make(chan matchBatch, matchQueueSize),
	}
}

// Book returns the price book fed by this session.
func (c *Client) Book() *PriceBook {
	return c.book
}

// Run connects and reconnects until ctx is cancelled. It returns once the
// OnMatch call in progress, if any, has finished.
func (c *Client) Run(ctx context.Context) {
	delivered := make(chan struct{})
	go c.deliverMatches(ctx, delivered)
	defer func() { <-delivered }()

	backoff := c.opts.BackoffMin
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			log.Printf("Feed dial failed: %v", err)
			metrics.FeedReconnects.Inc()
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, c.opts.BackoffMax)
			continue
		}

		backoff = c.opts.BackoffMin
		if err := c.session(ctx, conn); err != nil && ctx.Err() == nil {
			log.Printf("Feed session ended: %v", err)
		}

		c.mu.Lock()
		c.conn = nil
		c.loggedIn = false
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		metrics.FeedReconnects.Inc()
		sleepWithJitter(ctx, backoff)
		backoff = nextBackoff(backoff, c.opts.BackoffMax)
	}
}

func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	force := c.forceToken
	c.mu.Unlock()

	token, err := c.tokens.AccessToken(ctx, force)
	if err != nil {
		return fmt.Errorf("feed token: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.send(map[string]string{"trnm": trnmLogin, "token": token}); err != nil {
		return fmt.Errorf("feed login write: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 {
			continue
		}
		if err := c.handle(msg); err != nil {
			return err
		}
	}
}

type envelope struct {
	Trnm       string          `json:"trnm"`
	ReturnCode json.RawMessage `json:"return_code"`
	ReturnMsg  string          `json:"return_msg"`
	Seq        string          `json:"seq"`
	Data       json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	return strings.Trim(string(e.ReturnCode), `" `) == "0"
}

func (c *Client) handle(raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Feed message decode failed: %v", err)
		return nil
	}

	switch env.Trnm {
	case trnmLogin:
		if !env.ok() {
			c.mu.Lock()
			c.forceToken = true
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", errLoginFailed, env.ReturnMsg)
		}
		return c.onLogin()
	case trnmPing:
		return c.sendRaw(raw)
	case trnmReal:
		c.onReal(env.Data)
	case trnmCondList:
		if env.ok() {
			c.onConditionList(env.Data)
		}
	case trnmCondReq:
		if !env.ok() {
			log.Printf("Condition search %s failed: %s", env.Seq, env.ReturnMsg)
			return nil
		}
		c.onConditionResult(env.Seq, env.Data)
	case trnmCondClear:
		log.Printf("Condition search %s stopped", env.Seq)
	case trnmReg:
		if !env.ok() {
			log.Printf("Feed registration failed: %s", env.ReturnMsg)
		}
	}
	return nil
}

func (c *Client) onLogin() error {
	c.mu.Lock()
	c.loggedIn = true
	c.forceToken = false
	codes := c.codeList()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	log.Printf("Feed logged in")

	if len(codes) > 0 {
		if err := c.send(regRequest(codes)); err != nil {
			return err
		}
	}
	if err := c.send(map[string]string{"trnm": trnmCondList}); err != nil {
		return err
	}
	for _, seq := range pending {
		if err := c.send(condSearchRequest(seq)); err != nil {
			return err
		}
	}
	return nil
}

type realItem struct {
	Type   string            `json:"type"`
	Item   string            `json:"item"`
	Values map[string]string `json:"values"`
}

func (c *Client) onReal(data json.RawMessage) {
	var items []realItem
	if err := json.Unmarshal(data, &items); err != nil {
		return
	}
	for _, it := range items {
		if it.Type != tradeTickType {
			continue
		}
		price := absDigits(it.Values[fieldPrice])
		if price <= 0 {
			continue
		}
		c.book.Update(krx.NormalizeCode(it.Item), price)
		metrics.FeedTicks.Inc()
	}
}

func (c *Client) onConditionList(data json.RawMessage) {
	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Printf("Condition list decode failed: %v", err)
		return
	}
	conds := make([]Condition, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		conds = append(conds, Condition{Seq: r[0], Name: r[1]})
	}
	c.mu.Lock()
	c.conditions = conds
	c.mu.Unlock()
	log.Printf("Condition list received: %d conditions", len(conds))
}

func (c *Client) onConditionResult(seq string, data json.RawMessage) {
	var rows []map[string]json.RawMessage
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &rows); err != nil {
			log.Printf("Condition result decode failed: %v", err)
			return
		}
	}
	candidates := ParseConditionRows(rows)
	log.Printf("Condition search result [%s]: %d items", seq, len(candidates))
	if c.OnMatch == nil {
		return
	}
	select {
	case c.matches <- matchBatch{seq: seq, candidates: candidates}:
	default:
		log.Printf("Condition result [%s] dropped: %d batches already waiting", seq, matchQueueSize)
	}
}

func (c *Client) deliverMatches(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.matches:
			c.OnMatch(b.seq, b.candidates)
		}
	}
}

// ParseConditionRows converts condition-search rows into candidates. The code
// is taken from any four-character field holding an "A"-prefixed value,
// falling back to field 9001.
func ParseConditionRows(rows []map[string]json.RawMessage) []models.MatchCandidate {
	out := make([]models.MatchCandidate, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]string, len(row))
		for k, v := range row {
			fields[k] = rawString(v)
		}

		code := ""
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if len(k) == 4 && strings.HasPrefix(fields[k], "A") {
				code = fields[k]
				break
			}
		}
		if code == "" {
			code = fields["9001"]
		}

		out = append(out, models.MatchCandidate{
			Code:      code,
			Name:      strings.TrimSpace(fields["302"]),
			Price:     absDigits(fields["10"]),
			MatchType: models.ParseMatchType(fields["1001"]),
		})
	}
	return out
}

// Register subscribes instruments to trade ticks. Codes are remembered and
// re-registered after every reconnect.
func (c *Client) Register(codes ...string) error {
	var fresh []string
	c.mu.Lock()
	for _, raw := range codes {
		code := krx.NormalizeCode(raw)
		if code == "" {
			continue
		}
		if _, ok := c.codes[code]; ok {
			continue
		}
		c.codes[code] = struct{}{}
		fresh = append(fresh, code)
	}
	loggedIn := c.loggedIn
	c.mu.Unlock()

	if len(fresh) == 0 || !loggedIn {
		return nil
	}
	return c.send(regRequest(fresh))
}

// Registered returns the registered instrument codes.
func (c *Client) Registered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeList()
}

// TriggerConditionSearch requests a one-shot search. Before login the request
// is queued and sent once the session is up.
func (c *Client) TriggerConditionSearch(ctx context.Context, seq string) error {
	if seq == "" {
		return fmt.Errorf("condition seq is empty")
	}
	c.mu.Lock()
	if !c.loggedIn {
		c.pending = append(c.pending, seq)
		c.mu.Unlock()
		log.Printf("Condition search %s queued until feed login", seq)
		return nil
	}
	c.mu.Unlock()
	return c.send(condSearchRequest(seq))
}

// StopConditionSearch stops a running search.
func (c *Client) StopConditionSearch(seq string) error {
	return c.send(map[string]string{"trnm": trnmCondClear, "seq": seq})
}

// Conditions returns the last received condition list.
func (c *Client) Conditions() []Condition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Condition, len(c.conditions))
	copy(out, c.conditions)
	return out
}

// Connected reports whether the session is logged in.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *Client) codeList() []string {
	codes := make([]string, 0, len(c.codes))
	for code := range c.codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (c *Client) send(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.sendRaw(b)
}

func (c *Client) sendRaw(b []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

type regItem struct {
	Item []string `json:"item"`
	Type []string `json:"type"`
}

type regMessage struct {
	Trnm    string    `json:"trnm"`
	GrpNo   string    `json:"grp_no"`
	Refresh string    `json:"refresh"`
	Data    []regItem `json:"data"`
}

func regRequest(codes []string) regMessage {
	return regMessage{
		Trnm:    trnmReg,
		GrpNo:   "1",
		Refresh: "1",
		Data:    []regItem{{Item: codes, Type: []string{tradeTickType}}},
	}
}

func condSearchRequest(seq string) map[string]string {
	return map[string]string{
		"trnm":        trnmCondReq,
		"seq":         seq,
		"search_type": "0",
		"stex_tp":     "K",
		"cont_yn":     "N",
		"next_key":    "",
	}
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

// absDigits parses a signed price such as "-13700".
func absDigits(s string) int64 {
	var n int64
	seen := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int64(r-'0')
			seen = true
		case r == '+' || r == '-' || r == ',':
		case r == '.':
			return n
		default:
			if seen {
				return n
			}
			return 0
		}
	}
	return n
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int63n(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
