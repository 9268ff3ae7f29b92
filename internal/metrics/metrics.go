package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sniper_ticks_total", Help: "Engine ticks executed, by outcome"},
		[]string{"outcome"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sniper_signals_total", Help: "Entry signals produced by the strategy"},
		[]string{"side"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sniper_orders_total", Help: "Orders submitted to the venue"},
		[]string{"side"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sniper_rejections_total", Help: "Entries vetoed before submission"},
		[]string{"reason"},
	)
	ClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sniper_closes_total", Help: "Position closes, by reason"},
		[]string{"reason"},
	)
	StopModsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sniper_stop_mods_total", Help: "Stop modifications, by kind"},
		[]string{"kind"},
	)
	PauseGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "sniper_paused", Help: "1 while admission is paused"},
	)
	DailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "sniper_daily_pnl", Help: "Realized P&L since the day open"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "sniper_equity", Help: "Account equity at the last tick"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, SignalsTotal, OrdersTotal, RejectionsTotal,
		ClosesTotal, StopModsTotal, PauseGauge, DailyPnL, Equity,
	)
}

// Serve exposes /metrics on addr and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
