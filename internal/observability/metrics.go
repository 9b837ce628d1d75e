package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors for the messaging core. HTTP collectors live with the
// Metrics middleware.
var (
	// MessagesSent counts persisted messages by kind ("permanent", "temporary").
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_messages_sent_total",
			Help: "Total number of direct messages persisted.",
		},
		[]string{"kind"},
	)

	// ReapedMessages counts temporary messages removed by the expiry reaper.
	ReapedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_reaped_messages_total",
			Help: "Total number of expired temporary messages deleted.",
		},
	)

	// ReaperRuns counts reaper sweeps by outcome ("ok", "error").
	ReaperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_reaper_runs_total",
			Help: "Total number of expiry sweeps.",
		},
		[]string{"outcome"},
	)

	// Notifications counts fan-out writes by outcome ("sent", "failed", "dropped").
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_notifications_total",
			Help: "Total number of direct-message notifications by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(MessagesSent, ReapedMessages, ReaperRuns, Notifications)
}
