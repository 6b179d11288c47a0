package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cycles_total", Help: "Trading cycles completed"},
	)
	QuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quotes_total", Help: "Quotes resolved from the price feed"},
		[]string{"symbol"},
	)
	QuoteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quote_failures_total", Help: "Quote fetches that failed"},
		[]string{"symbol"},
	)
	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Streaming feed reconnect attempts"},
	)
	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sweeps_total", Help: "Order-flow sweeps ingested"},
	)
	FlowFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "flow_failures_total", Help: "Order-flow fetches that failed"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals generated"},
		[]string{"kind"},
	)
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "admissions_total", Help: "Signal admission outcomes"},
		[]string{"outcome"},
	)
	ClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "closes_total", Help: "Positions closed"},
		[]string{"reason"},
	)
	PersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "persist_failures_total", Help: "Account snapshot saves that failed"},
	)
	NotifyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notify_failures_total", Help: "Notifications that could not be delivered"},
		[]string{"sink"},
	)
	BalanceUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "balance_usd", Help: "Free paper balance"},
	)
	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "equity_usd", Help: "Balance plus marked open positions"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_positions", Help: "Currently open paper positions"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		QuotesTotal,
		QuoteFailuresTotal,
		FeedReconnectsTotal,
		SweepsTotal,
		FlowFailuresTotal,
		SignalsTotal,
		AdmissionsTotal,
		ClosesTotal,
		PersistFailuresTotal,
		NotifyFailuresTotal,
		BalanceUSD,
		EquityUSD,
		OpenPositions,
	)
}

// Serve exposes the default registry on /metrics. An empty addr disables the listener.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	if addr == "" {
		return srv
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
