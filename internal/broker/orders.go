package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	orderPath   = "/api/dostk/ordr"
	accountPath = "/api/dostk/acnt"
	stockPath   = "/api/dostk/stkinfo"

	apiBuyOrder    = "kt10000"
	apiModifyOrder = "kt10002"
	apiUnexecuted  = "ka10075"
	apiStockInfo   = "ka10001"

	exchangeKRX = "KRX"
	// tradeTypeLimit is the regular limit order code.
	tradeTypeLimit = "0"
)

// OrderResult is the broker's acknowledgement of a submitted order.
type OrderResult struct {
	OrderID string
	Message string
}

type buyOrderRequest struct {
	AccountNo string `json:"account_no,omitempty"`
	Exchange  string `json:"dmst_stex_tp"`
	Code      string `json:"stk_cd"`
	Qty       string `json:"ord_qty"`
	Price     string `json:"ord_uv"`
	TradeType string `json:"trde_tp"`
	CondPrice string `json:"cond_uv"`
}

type modifyOrderRequest struct {
	AccountNo   string `json:"account_no,omitempty"`
	Exchange    string `json:"dmst_stex_tp"`
	OrigOrderNo string `json:"orig_ord_no"`
	Code        string `json:"stk_cd"`
	Qty         string `json:"mdfy_qty"`
	Price       string `json:"mdfy_uv"`
	CondPrice   string `json:"mdfy_cond_uv"`
}

type orderReply struct {
	OrderNo string `json:"ord_no"`
}

// SubmitBuy places a limit buy order.
func (c *Client) SubmitBuy(ctx context.Context, accountNo, code string, qty, price int64) (*OrderResult, error) {
	resp, err := c.Post(ctx, orderPath, apiBuyOrder, buyOrderRequest{
		AccountNo: accountNo,
		Exchange:  exchangeKRX,
		Code:      code,
		Qty:       strconv.FormatInt(qty, 10),
		Price:     strconv.FormatInt(price, 10),
		TradeType: tradeTypeLimit,
	})
	return orderResult(apiBuyOrder, resp, err)
}

// ModifyOrder amends quantity and price of an open order. A price of 0 asks
// the broker to execute the remainder at market.
func (c *Client) ModifyOrder(ctx context.Context, accountNo, origOrderID, code string, qty, price int64) (*OrderResult, error) {
	resp, err := c.Post(ctx, orderPath, apiModifyOrder, modifyOrderRequest{
		AccountNo:   accountNo,
		Exchange:    exchangeKRX,
		OrigOrderNo: origOrderID,
		Code:        code,
		Qty:         strconv.FormatInt(qty, 10),
		Price:       strconv.FormatInt(price, 10),
	})
	return orderResult(apiModifyOrder, resp, err)
}

func orderResult(apiID string, resp *Response, err error) (*OrderResult, error) {
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &APIError{APIID: apiID, ReturnCode: resp.ReturnCode, Message: resp.Message()}
	}
	var reply orderReply
	_ = resp.Decode(&reply)
	return &OrderResult{OrderID: reply.OrderNo, Message: resp.Message()}, nil
}

// UnexecutedOrders returns the account's open orders, parsed into closed enums.
func (c *Client) UnexecutedOrders(ctx context.Context, accountNo string) ([]UnexecutedOrder, error) {
	resp, err := c.Post(ctx, accountPath, apiUnexecuted, map[string]string{
		"account_no": accountNo,
		"all_stk_tp": "0",
		"trde_tp":    "0",
		"stk_cd":     "",
		"stex_tp":    "0",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &APIError{APIID: apiUnexecuted, ReturnCode: resp.ReturnCode, Message: resp.Message()}
	}
	return ParseUnexecutedOrders(resp.Body)
}

// CurrentPrice looks up the last traded price of one instrument.
func (c *Client) CurrentPrice(ctx context.Context, code string) (int64, error) {
	resp, err := c.Post(ctx, stockPath, apiStockInfo, map[string]string{"stk_cd": code})
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, &APIError{APIID: apiStockInfo, ReturnCode: resp.ReturnCode, Message: resp.Message()}
	}
	price, err := ParseCurrentPrice(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", apiStockInfo, code, err)
	}
	return price, nil
}

// ParseCurrentPrice extracts the price from a stock-info reply. Prices come
// signed ("-13700") to show direction, so only the digits are kept.
func ParseCurrentPrice(body []byte) (int64, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	candidates := []json.RawMessage{doc["cur_prc"], doc["currentPrice"]}
	if inner, ok := doc["Body"]; ok {
		var b map[string]json.RawMessage
		if json.Unmarshal(inner, &b) == nil {
			candidates = append(candidates, b["currentPrice"])
			if out, ok := b["out1"]; ok {
				var o map[string]json.RawMessage
				if json.Unmarshal(out, &o) == nil {
					candidates = append(candidates, o["currentPrice"])
				}
			}
		}
	}
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}
		if n := digits(rawString(raw)); n > 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("no price in response")
}

// Side is the order direction.
type Side int

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// OrderType classifies an open order for the sell monitor.
type OrderType int

const (
	OrderTypeOther OrderType = iota
	OrderTypeLimit
	OrderTypeConditionalLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeConditionalLimit:
		return "conditional-limit"
	case OrderTypeMarket:
		return "market"
	default:
		return "other"
	}
}

// UnexecutedOrder is an open order as reported by the broker.
type UnexecutedOrder struct {
	OrderID      string
	Code         string
	Name         string
	Side         Side
	Type         OrderType
	RemainingQty int64
	// OrderedAt is seconds since local midnight; HasTime is false when the
	// broker did not report a submission time.
	OrderedAt int
	HasTime   bool
}

// ParseUnexecutedOrders decodes the open-order list. The documented list key
// is "oso"; older payload shapes are accepted too.
func ParseUnexecutedOrders(body []byte) ([]UnexecutedOrder, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	var list json.RawMessage
	for _, key := range []string{"oso", "output", "data"} {
		if raw, ok := doc[key]; ok {
			list = raw
			break
		}
	}
	if list == nil {
		if inner, ok := doc["Body"]; ok {
			var b map[string]json.RawMessage
			if json.Unmarshal(inner, &b) == nil {
				list = b["out1"]
			}
		}
	}
	if len(list) == 0 || string(list) == "null" {
		return nil, nil
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(list, &rows); err != nil {
		return nil, fmt.Errorf("decode open order rows: %w", err)
	}

	orders := make([]UnexecutedOrder, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, parseOrderRow(row))
	}
	return orders, nil
}

func parseOrderRow(row map[string]json.RawMessage) UnexecutedOrder {
	field := func(keys ...string) string {
		for _, k := range keys {
			if raw, ok := row[k]; ok {
				if s := strings.TrimSpace(rawString(raw)); s != "" {
					return s
				}
			}
		}
		return ""
	}

	o := UnexecutedOrder{
		OrderID:      field("ord_no"),
		Code:         field("stk_cd"),
		Name:         field("stk_nm"),
		Side:         parseSide(field("io_tp_nm", "sll_buy_tp", "sell_tp")),
		Type:         parseOrderType(field("ord_tp", "trde_tp")),
		RemainingQty: digits(field("oso_qty", "unexec_qty", "qty")),
	}
	o.OrderedAt, o.HasTime = parseTimeOfDay(field("tm", "ord_time", "ord_hm", "ord_tm"))
	return o
}

func parseSide(raw string) Side {
	switch {
	case raw == "1" || strings.Contains(raw, "매도") || strings.EqualFold(raw, "sell"):
		return SideSell
	case raw == "2" || strings.Contains(raw, "매수") || strings.EqualFold(raw, "buy"):
		return SideBuy
	default:
		return SideUnknown
	}
}

func parseOrderType(raw string) OrderType {
	switch {
	case raw == "" || raw == "00" || raw == "0" || raw == "보통" || strings.Contains(raw, "보통") || raw == "지정가":
		return OrderTypeLimit
	case raw == "05" || strings.Contains(raw, "조건부"):
		return OrderTypeConditionalLimit
	case raw == "03" || raw == "3" || strings.Contains(raw, "시장가"):
		return OrderTypeMarket
	default:
		return OrderTypeOther
	}
}

// parseTimeOfDay reads HHMM or HHMMSS.
func parseTimeOfDay(raw string) (int, bool) {
	raw = strings.ReplaceAll(raw, ":", "")
	if len(raw) < 4 {
		return 0, false
	}
	h, err1 := strconv.Atoi(raw[0:2])
	m, err2 := strconv.Atoi(raw[2:4])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	s := 0
	if len(raw) >= 6 {
		if v, err := strconv.Atoi(raw[4:6]); err == nil {
			s = v
		}
	}
	return h*3600 + m*60 + s, true
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

// digits parses the decimal digits of s, ignoring signs, padding and separators.
func digits(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if r == '.' {
			break
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
