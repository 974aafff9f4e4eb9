package models

// MatchType tells whether a condition-search row entered or left the result set.
type MatchType int

const (
	// MatchUnspecified comes from one-shot searches that carry no entry/exit flag.
	MatchUnspecified MatchType = iota
	MatchEntry
	MatchExit
)

// ParseMatchType maps the broker's inclusion flag ("1" entry, "2" exit).
func ParseMatchType(raw string) MatchType {
	switch raw {
	case "1", "I":
		return MatchEntry
	case "2", "D":
		return MatchExit
	default:
		return MatchUnspecified
	}
}

func (t MatchType) String() string {
	switch t {
	case MatchEntry:
		return "entry"
	case MatchExit:
		return "exit"
	default:
		return "unspecified"
	}
}

// MatchCandidate is one instrument reported by a condition search.
type MatchCandidate struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	MatchType MatchType `json:"matchType"`
}

// OrderIntent is a priced and sized buy order waiting for dispatch.
type OrderIntent struct {
	ID          string  `json:"id"`
	BatchID     string  `json:"batchId"`
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	OrderPrice  int64   `json:"orderPrice"`
	OrderQty    int64   `json:"orderQty"`
	BasePrice   int64   `json:"basePrice"`
	PremiumPct  float64 `json:"premiumPct"`
	IsScaleDown bool    `json:"isScaleDown"`
}

// TaskKind distinguishes staged conditional liquidation from dwell-time reprices.
type TaskKind string

const (
	TaskNormal      TaskKind = "NORMAL"
	TaskConditional TaskKind = "CONDITIONAL"
)

// ModifyTask is one amend request produced by the sell monitor.
type ModifyTask struct {
	ID              string   `json:"id"`
	Kind            TaskKind `json:"kind"`
	AccountNo       string   `json:"accountNo"`
	OriginalOrderID string   `json:"originalOrderId"`
	Code            string   `json:"code"`
	Qty             int64    `json:"qty"`
	Step            int      `json:"step,omitempty"`
}
