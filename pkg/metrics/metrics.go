package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmpool_reconcile_cycles_total",
			Help: "Number of reconcile cycles run",
		},
	)
	ProbeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmpool_probe_failures_total",
			Help: "Number of cycles skipped because the pool could not be observed",
		},
	)
	GrowActions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmpool_grow_actions_total",
			Help: "Number of cycles that grew the pool",
		},
	)
	ShrinkActions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmpool_shrink_actions_total",
			Help: "Number of cycles that shrank the pool",
		},
	)
	PodOpFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmpool_pod_op_failures_total",
			Help: "Number of individual pod create/delete failures",
		},
	)
	GatewayFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmpool_gateway_failures_total",
			Help: "Number of node group provider call failures",
		},
	)
	ReadyPods = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warmpool_ready_pods",
		Help: "Ready placeholder pods at the last observation",
	})
	TargetPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warmpool_target_pool_size",
		Help: "Computed target number of placeholder pods",
	})
)

func Init() {
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(":9090", nil)
}
