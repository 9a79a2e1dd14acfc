// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestDuration tracks calls to the ecoenzim API.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herbit_api_request_duration_seconds",
			Help:    "ecoenzim API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herbit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	BotCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herbit_bot_commands_total",
			Help: "Telegram commands handled",
		},
		[]string{"command"},
	)

	// Submissions counts write operations by kind (checkin, milestone, claim, waste)
	// and result.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herbit_submissions_total",
			Help: "Check-ins, milestone photos, claims and waste entries submitted",
		},
		[]string{"kind", "result"},
	)

	RemindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herbit_reminders_sent_total",
			Help: "Reminders delivered by the scheduler",
		},
		[]string{"kind"},
	)

	StaleSnapshots = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "herbit_stale_snapshots_total",
			Help: "Timelines served from the local snapshot because the API failed",
		},
	)
)

func RecordAPIRequest(endpoint, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncBotCommand(command string) {
	BotCommands.WithLabelValues(command).Inc()
}

func IncSubmission(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Submissions.WithLabelValues(kind, result).Inc()
}

func IncReminder(kind string) {
	RemindersSent.WithLabelValues(kind).Inc()
}
