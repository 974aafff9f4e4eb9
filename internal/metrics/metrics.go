// Package metrics holds the Prometheus collectors for the auto-trade engine.
//
//   - autotrade_orders_total{kind,result}     buy and modify submissions (kind: buy|modify|sweep)
//   - autotrade_candidates_dropped_total{reason}
//   - autotrade_queue_depth{queue}            pending items per dispatch queue
//   - autotrade_token_refreshes_total
//   - autotrade_reauth_total                  forced refreshes after an expired-token reply
//   - autotrade_schedule_fires_total
//   - autotrade_sweeps_total
//   - autotrade_feed_reconnects_total
//   - autotrade_feed_ticks_total
//
// They are registered in init() and served at /metrics by the API router.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_orders_total",
			Help: "Order submissions by kind and result",
		},
		[]string{"kind", "result"},
	)

	CandidatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_candidates_dropped_total",
			Help: "Match candidates dropped during price and budget resolution",
		},
		[]string{"reason"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotrade_queue_depth",
			Help: "Items waiting in a dispatch queue",
		},
		[]string{"queue"},
	)

	TokenRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_token_refreshes_total",
			Help: "Access tokens fetched from the broker",
		},
	)

	Reauths = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_reauth_total",
			Help: "Calls retried after the broker reported an expired token",
		},
	)

	ScheduleFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_schedule_fires_total",
			Help: "Daily condition-search triggers",
		},
	)

	Sweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_sweeps_total",
			Help: "End-of-day market sweeps",
		},
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_feed_reconnects_total",
			Help: "Market data feed reconnect attempts",
		},
	)

	FeedTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_feed_ticks_total",
			Help: "Trade ticks received from the market data feed",
		},
	)
)

// Result labels for Orders.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

func init() {
	prometheus.MustRegister(
		Orders,
		CandidatesDropped,
		QueueDepth,
		TokenRefreshes,
		Reauths,
		ScheduleFires,
		Sweeps,
		FeedReconnects,
		FeedTicks,
	)
}
