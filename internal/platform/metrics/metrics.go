// Package metrics exposes Prometheus collectors for HTTP traffic and for the
// case lifecycle.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/villagecare/villagecare/internal/platform/apperr"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	problemsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "problems_created_total",
			Help: "Total number of problems reported",
		},
		[]string{"priority"},
	)

	problemTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "problem_transitions_total",
			Help: "Total number of problem status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	assignmentConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "problem_assignment_conflicts_total",
			Help: "Assign calls that lost the first-assignment race",
		},
	)

	medicalResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medical_responses_total",
			Help: "Total number of doctor responses recorded",
		},
		[]string{"urgency"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification inserts by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	websocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)
)

// Handler serves the Prometheus exposition format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request counts and latencies labelled by the route
// template, so ids in paths do not explode cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = apperr.StatusFor(apperr.KindOf(err))
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func RecordProblemCreated(priority string) {
	problemsCreated.WithLabelValues(priority).Inc()
}

func RecordTransition(from, to string) {
	problemTransitions.WithLabelValues(from, to).Inc()
}

func RecordAssignmentConflict() {
	assignmentConflicts.Inc()
}

func RecordMedicalResponse(urgency string) {
	medicalResponses.WithLabelValues(urgency).Inc()
}

// RecordNotification counts one insert attempt. outcome is "sent" or "failed".
func RecordNotification(notificationType, outcome string) {
	notificationsTotal.WithLabelValues(notificationType, outcome).Inc()
}

func WebsocketConnected()    { websocketClients.Inc() }
func WebsocketDisconnected() { websocketClients.Dec() }
