// Package metrics exposes Prometheus metrics for the gateway. Values
// are fed from bus events by the Recorder, so no package holds a
// metrics dependency besides this one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mountedStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camgate",
		Subsystem: "mount",
		Name:      "streams",
		Help:      "Number of currently mounted streams",
	})

	mountOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgate",
		Subsystem: "mount",
		Name:      "operations_total",
		Help:      "Reconcile mount operations by type",
	}, []string{"op"})

	sessionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camgate",
		Subsystem: "session",
		Name:      "sessions",
		Help:      "Sessions by lifecycle state",
	}, []string{"state"})

	pipelineRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgate",
		Subsystem: "pipeline",
		Name:      "restarts_total",
		Help:      "Pipeline restarts by stream and trigger",
	}, []string{"stream_id", "reason"})

	registryStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camgate",
		Subsystem: "registry",
		Name:      "streams",
		Help:      "Streams in the current registry snapshot",
	})

	registrySnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camgate",
		Subsystem: "registry",
		Name:      "snapshots_total",
		Help:      "Installed registry snapshots by origin",
	}, []string{"origin"})

	registryFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camgate",
		Subsystem: "registry",
		Name:      "fetch_failures_total",
		Help:      "Failed registry polls",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
