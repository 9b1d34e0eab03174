package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "campus_rides", Name: "rides_created_total", Help: "Total number of rides created"})
	JoinAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "join_attempts_total", Help: "Join attempts by outcome"},
		[]string{"outcome"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "ride_transitions_total", Help: "Ride status changes"},
		[]string{"from", "to"},
	)
	RatingsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "ratings_submitted_total", Help: "Ratings folded into user averages"},
		[]string{"role"},
	)
	UniversityLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "university_lookups_total", Help: "University resolutions by result"},
		[]string{"result"},
	)
	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campus_rides",
			Name:      "external_call_duration_seconds",
			Help:      "Latency of calls to routing, pricing and detection services",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "campus_rides", Name: "ws_sessions", Help: "Open websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "campus_rides", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campus_rides",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Outcome maps an error to the label used by the outcome dimensions.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
