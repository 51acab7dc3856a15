// Package metrics exposes the finality engine's Prometheus instrumentation:
// fork database size, vote throughput, QC formation latency, and LIB
// advancement, registered against a dedicated registry so embedding this
// engine in a larger process never collides with its metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry all finality-engine metrics are
// registered against.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// ForkDBBlocks is the current number of blocks held in the fork
	// database, labeled by validation status.
	ForkDBBlocks = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "svnn",
		Subsystem: "forkdb",
		Name:      "blocks",
		Help:      "Number of blocks currently tracked by the fork database.",
	}, []string{"validated"})

	// LastIrreversibleBlockNum is the current LIB, as seen from head.
	LastIrreversibleBlockNum = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "svnn",
		Subsystem: "finality",
		Name:      "last_irreversible_block_num",
		Help:      "Block number of the last irreversible block on the best branch.",
	})

	// HeadBlockNum is the current fork database head.
	HeadBlockNum = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "svnn",
		Subsystem: "forkdb",
		Name:      "head_block_num",
		Help:      "Block number of the current fork database head.",
	})

	// VotesProcessed counts votes the QC aggregator has tallied, labeled
	// by strength and outcome.
	VotesProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svnn",
		Subsystem: "qc",
		Name:      "votes_processed_total",
		Help:      "Votes tallied by the QC aggregator.",
	}, []string{"strength", "outcome"})

	// QCFormationSeconds observes the time between a block becoming
	// votable and its quorum certificate completing.
	QCFormationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "svnn",
		Subsystem: "qc",
		Name:      "formation_seconds",
		Help:      "Time from first vote observed to quorum certificate completion.",
		Buckets:   prometheus.DefBuckets,
	})

	// SignatureVerifications counts async BLS verification pool results.
	SignatureVerifications = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svnn",
		Subsystem: "verifypool",
		Name:      "verifications_total",
		Help:      "BLS signature verifications performed by the async pool.",
	}, []string{"result"})

	// SafetyStatePersistSeconds observes the durable fsync latency of the
	// finalizer safety state file.
	SafetyStatePersistSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "svnn",
		Subsystem: "voter",
		Name:      "safety_state_persist_seconds",
		Help:      "Latency of durably persisting finalizer safety state before releasing a vote.",
		Buckets:   prometheus.DefBuckets,
	})
)
