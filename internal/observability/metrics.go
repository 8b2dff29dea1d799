package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	challengesGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "lifecycle",
		Name:      "challenges_generated_total",
		Help:      "Number of challenge instances generated, labeled by tier.",
	}, []string{"tier"})

	challengesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "progress",
		Name:      "challenges_completed_total",
		Help:      "Number of challenge instances transitioned to completed, labeled by tier.",
	}, []string{"tier"})

	progressConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "progress",
		Name:      "update_conflicts_total",
		Help:      "Number of optimistic progress updates that lost their race and were retried.",
	})

	journeyMasterRecomputes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "challenge_service",
		Subsystem: "cascade",
		Name:      "journey_master_recomputations_total",
		Help:      "Number of Journey Master progress recomputations.",
	})

	lastGenerationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "challenge_service",
		Subsystem: "lifecycle",
		Name:      "last_generation_timestamp_seconds",
		Help:      "Unix timestamp of the most recent challenge generation.",
	})
)

func init() {
	prometheus.MustRegister(challengesGenerated, challengesCompleted, progressConflicts, journeyMasterRecomputes, lastGenerationGauge)
}

// RecordChallengesGenerated counts a generation batch for a tier.
func RecordChallengesGenerated(tier string, count int) {
	if count <= 0 {
		return
	}
	challengesGenerated.WithLabelValues(tier).Add(float64(count))
	lastGenerationGauge.Set(float64(time.Now().Unix()))
}

// RecordChallengeCompleted counts a completion transition for a tier.
func RecordChallengeCompleted(tier string) {
	challengesCompleted.WithLabelValues(tier).Inc()
}

// RecordProgressConflict counts a lost optimistic update.
func RecordProgressConflict() {
	progressConflicts.Inc()
}

// RecordJourneyMasterRecompute counts a cascade recomputation.
func RecordJourneyMasterRecompute() {
	journeyMasterRecomputes.Inc()
}
