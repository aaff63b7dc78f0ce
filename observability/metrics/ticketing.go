package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TicketingMetrics tracks engine operation outcomes and the reserve level as
// seen at the RPC boundary.
type TicketingMetrics struct {
	operations *prometheus.CounterVec
	rejections *prometheus.CounterVec
	reserve    prometheus.Gauge
}

var (
	ticketingOnce     sync.Once
	ticketingRegistry *TicketingMetrics
)

func Ticketing() *TicketingMetrics {
	ticketingOnce.Do(func() {
		ticketingRegistry = &TicketingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ticketing_operations_total",
				Help: "Count of committed ledger operations by kind.",
			}, []string{"op"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ticketing_rejections_total",
				Help: "Count of rejected ledger operations by kind and reason.",
			}, []string{"op", "reason"}),
			reserve: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ticketing_reserve_tickets",
				Help: "Tickets currently counted against the global reserve limit.",
			}),
		}
		prometheus.MustRegister(
			ticketingRegistry.operations,
			ticketingRegistry.rejections,
			ticketingRegistry.reserve,
		)
	})
	return ticketingRegistry
}

func (m *TicketingMetrics) ObserveCommitted(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op).Inc()
}

func (m *TicketingMetrics) ObserveRejected(op, reason string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejections.WithLabelValues(op, reason).Inc()
}

func (m *TicketingMetrics) SetReserve(reserve uint64) {
	if m == nil {
		return
	}
	m.reserve.Set(float64(reserve))
}
