// Package metrics exposes the process-wide Prometheus collectors used
// across the PlayHouse core. A single registry is created when this
// package is initialized; every other package reaches the same counters
// through the package-level vars here rather than threading a
// *prometheus.Registry through every constructor.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Registry is the registry this package's init registers every
	// collector below into. Tests may swap it for a fresh
	// prometheus.NewRegistry() and re-register.
	Registry = prometheus.NewRegistry()

	PoolRents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "pool",
		Name:      "rents_total",
		Help:      "Buffers rented from the bucketed pool, by bucket size.",
	}, []string{"bucket"})

	PoolReturns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "pool",
		Name:      "returns_total",
		Help:      "Buffers returned to the bucketed pool, by bucket size.",
	}, []string{"bucket"})

	PoolOverCapacityDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "pool",
		Name:      "over_capacity_drops_total",
		Help:      "Returned buffers dropped because their bucket's global stack was at capacity.",
	}, []string{"bucket"})

	PoolOversizedRents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "pool",
		Name:      "oversized_rents_total",
		Help:      "Rent calls that bypassed the pool because they exceeded the largest bucket.",
	})

	LateRepliesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "reqcache",
		Name:      "late_replies_dropped_total",
		Help:      "Replies that arrived after their request-cache entry had already been removed.",
	})

	RequestTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "reqcache",
		Name:      "timeouts_total",
		Help:      "Request-cache entries completed by the sweep with a timeout error.",
	})

	SendQueueOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "transport",
		Name:      "send_queue_overflow_total",
		Help:      "Sessions disconnected because their outbound send queue overflowed.",
	})

	MeshSendDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "mesh",
		Name:      "send_drops_total",
		Help:      "Mesh sends dropped because the destination server was not known or reachable.",
	}, []string{"target"})

	GameLoopTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playhouse",
		Subsystem: "stage",
		Name:      "game_loop_ticks_total",
		Help:      "Fixed-timestep ticks posted into a stage mailbox.",
	}, []string{"stage_type"})

	StageMailboxDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "playhouse",
		Subsystem: "stage",
		Name:      "mailbox_depth",
		Help:      "Current number of pending messages in a stage mailbox.",
	}, []string{"stage_id"})
)

func init() {
	Registry.MustRegister(
		PoolRents,
		PoolReturns,
		PoolOverCapacityDrops,
		PoolOversizedRents,
		LateRepliesDropped,
		RequestTimeouts,
		SendQueueOverflows,
		MeshSendDrops,
		GameLoopTicks,
		StageMailboxDepth,
	)
}
