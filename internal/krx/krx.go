// Package krx holds exchange rules shared by the feed and the trading engine.
package krx

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TickSize returns the minimum price increment for a price level.
func TickSize(price int64) int64 {
	switch {
	case price < 2000:
		return 1
	case price < 5000:
		return 5
	case price < 20000:
		return 10
	case price < 50000:
		return 50
	case price < 200000:
		return 100
	case price < 500000:
		return 500
	default:
		return 1000
	}
}

// NormalizePrice floors a raw price to the tick grid of its level.
func NormalizePrice(raw decimal.Decimal) int64 {
	if !raw.IsPositive() {
		return 0
	}
	return FloorToTick(raw.Floor().IntPart())
}

// FloorToTick floors a whole-won price to the tick grid of its level.
func FloorToTick(p int64) int64 {
	if p <= 0 {
		return 0
	}
	tick := TickSize(p)
	return (p / tick) * tick
}

// NormalizeCode strips one leading market prefix letter ("A005930") and
// left-pads purely numeric codes to six digits. Alphanumeric codes such as
// "0004V0" are kept as they are.
func NormalizeCode(raw string) string {
	code := strings.TrimSpace(raw)
	if code == "" {
		return ""
	}
	if c := code[0]; c < '0' || c > '9' {
		code = code[1:]
	}
	if code != "" && len(code) < 6 && isDigits(code) {
		code = strings.Repeat("0", 6-len(code)) + code
	}
	return code
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
