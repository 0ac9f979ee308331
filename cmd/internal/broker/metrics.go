package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsRegisterer is prometheus.Registerer, aliased so New's signature
// stays readable.
type metricsRegisterer = prometheus.Registerer

type metrics struct {
	idleBoards  prometheus.Gauge
	boundBoards prometheus.Gauge

	allocations      prometheus.Counter
	allocationMisses prometheus.Counter
	takeovers        prometheus.Counter
	boardDisconnects prometheus.Counter
	boardDrops       prometheus.Counter
}

// newMetrics builds the broker collectors. When reg is nil the collectors
// still exist (tests, dev) but are not exported anywhere.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		idleBoards: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpgalab_boards_idle",
			Help: "Boards registered and waiting for assignment.",
		}),
		boundBoards: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpgalab_boards_bound",
			Help: "Boards currently bound to a user.",
		}),
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgalab_board_allocations_total",
			Help: "Successful board assignments.",
		}),
		allocationMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgalab_board_allocation_misses_total",
			Help: "Board requests answered with no board available.",
		}),
		takeovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgalab_user_takeovers_total",
			Help: "Repeat board requests that evicted the user's prior binding.",
		}),
		boardDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgalab_board_disconnects_total",
			Help: "Bound boards lost while their user was still connected.",
		}),
		boardDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgalab_board_drops_total",
			Help: "Dead boards removed from the idle pool.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.idleBoards, m.boundBoards,
			m.allocations, m.allocationMisses, m.takeovers,
			m.boardDisconnects, m.boardDrops,
		)
	}
	return m
}
