package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lifeos"

var (
	xpGrantedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "xp_granted_total",
		Help:      "Sum of XP appended to the ledger, labeled by source. Corrections are subtracted.",
	}, []string{"source"})

	xpEntriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "xp_entries_total",
		Help:      "Number of XP ledger entries, labeled by source.",
	}, []string{"source"})

	levelGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "level",
		Help:      "Current level of the bound profile.",
	})

	totalXPGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "total_xp",
		Help:      "Cached XP total of the bound profile.",
	})

	levelUpCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "level_ups_total",
		Help:      "Number of grants that raised the level.",
	})

	streakGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "streak",
		Name:      "days",
		Help:      "Streak length in days as of the last stats computation, labeled current or longest.",
	}, []string{"kind"})

	freezeCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streak",
		Name:      "freezes_used_total",
		Help:      "Number of streak freeze tokens consumed.",
	})

	questCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "activity",
		Name:      "quests_completed_total",
		Help:      "Quest transitions from unmet to met, labeled by event kind.",
	}, []string{"kind"})

	achievementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "achievements",
		Name:      "unlocked_total",
		Help:      "Achievements unlocked, labeled by tier.",
	}, []string{"tier"})

	challengeGeneratedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenges",
		Name:      "generated_total",
		Help:      "Challenges created, labeled by period type.",
	}, []string{"period"})

	challengeCompletedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenges",
		Name:      "completed_total",
		Help:      "Challenges that reached their target, labeled by period type.",
	}, []string{"period"})

	challengeClaimedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "challenges",
		Name:      "claimed_total",
		Help:      "Challenge rewards claimed.",
	})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of API requests, labeled by route and status code.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(
		xpGrantedCounter, xpEntriesCounter, levelGauge, totalXPGauge, levelUpCounter,
		streakGauge, freezeCounter, questCounter, achievementCounter,
		challengeGeneratedCounter, challengeCompletedCounter, challengeClaimedCounter,
		requestDuration,
	)
}

// RecordXPGranted counts one ledger entry of amount XP.
func RecordXPGranted(source string, amount int) {
	xpEntriesCounter.WithLabelValues(source).Inc()
	if amount > 0 {
		xpGrantedCounter.WithLabelValues(source).Add(float64(amount))
	}
}

// SetLevel publishes the profile's cached level and XP total.
func SetLevel(level, totalXP int) {
	levelGauge.Set(float64(level))
	totalXPGauge.Set(float64(totalXP))
}

func RecordLevelUp() { levelUpCounter.Inc() }

// SetStreak publishes the latest streak computation.
func SetStreak(current, longest int) {
	streakGauge.WithLabelValues("current").Set(float64(current))
	streakGauge.WithLabelValues("longest").Set(float64(longest))
}

func RecordFreezeUsed() { freezeCounter.Inc() }

func RecordQuestCompleted(kind string) { questCounter.WithLabelValues(kind).Inc() }

func RecordAchievementUnlocked(tier string) { achievementCounter.WithLabelValues(tier).Inc() }

func RecordChallengesGenerated(period string, n int) {
	challengeGeneratedCounter.WithLabelValues(period).Add(float64(n))
}

func RecordChallengeCompleted(period string) {
	challengeCompletedCounter.WithLabelValues(period).Inc()
}

func RecordChallengeClaimed() { challengeClaimedCounter.Inc() }

// ObserveRequest records the latency of one API request.
func ObserveRequest(route string, code int, elapsed time.Duration) {
	requestDuration.WithLabelValues(route, statusLabel(code)).Observe(elapsed.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
