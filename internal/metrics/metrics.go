// Package metrics exposes the Prometheus instruments of the propagation
// subsystem and the /metrics handler both daemons mount.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsPropagated counts commands dispatched to remote nodes.
	CommandsPropagated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetdb_commands_propagated_total",
		Help: "Total DDL commands dispatched to remote nodes",
	})

	// ReplayCalls counts idempotent replay invocations by outcome ("ok" or
	// "error"); idempotent no-ops count as ok.
	ReplayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetdb_replay_calls_total",
		Help: "Total idempotent database command replays",
	}, []string{"outcome"})

	// ShardAssignments counts databases assigned to node groups.
	ShardAssignments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetdb_shard_assignments_total",
		Help: "Total database shard assignments",
	})

	// PoolerReconfigures counts commit-time pooler configuration rewrites.
	PoolerReconfigures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetdb_pooler_reconfigures_total",
		Help: "Total connection pooler configuration rewrites",
	})
)

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
