package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CheckinsTotal counts scan outcomes by result (accepted or a rejection reason).
	CheckinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_checkins_total",
		Help: "Check-in attempts by result.",
	}, []string{"result"})

	CheckinDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_checkin_duration_seconds",
		Help:    "Check-in validation latency.",
		Buckets: prometheus.DefBuckets,
	})

	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_tokens_issued_total",
		Help: "Session tokens minted.",
	})

	ManualMarksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_manual_marks_total",
		Help: "Faculty manual attendance marks.",
	})

	RecordsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_records_published_total",
		Help: "Accepted records fanned out to the broker.",
	})

	TierAlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attendance_tier_alerts_total",
		Help: "Notifications sent for transitions to the critical tier.",
	})
)

func init() {
	prometheus.MustRegister(
		CheckinsTotal,
		CheckinDuration,
		TokensIssuedTotal,
		ManualMarksTotal,
		RecordsPublishedTotal,
		TierAlertsTotal,
	)
}
