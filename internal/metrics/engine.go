package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Adapter call names used as the "call" label.
const (
	CallStart  = "start"
	CallPoll   = "poll"
	CallDelete = "delete"
)

var (
	AdapterCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbaas_adapter_calls_total",
			Help: "Adapter calls by adapter, call and result",
		},
		[]string{"adapter", "call", "result"},
	)

	UnitsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbaas_unit_terminal_total",
			Help: "Adapter units that reached a terminal status",
		},
		[]string{"kind", "status"},
	)

	TrackedUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dbaas_tracked_units",
		Help: "Adapter units currently being polled",
	})
)

// ObserveAdapterCall records the outcome of one adapter call.
func ObserveAdapterCall(adapterID, call string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	AdapterCalls.WithLabelValues(adapterID, call, result).Inc()
}
