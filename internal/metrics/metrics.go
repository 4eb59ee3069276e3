package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_events_total",
			Help: "Provider events by type and admission result",
		},
		[]string{"type", "result"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_decisions_total",
			Help: "Routing decisions by plan",
		},
		[]string{"plan"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_call_outcomes_total",
			Help: "Terminal call outcomes",
		},
		[]string{"outcome"},
	)

	reservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_reservations_total",
			Help: "Agent reservation attempts by result",
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "router_queue_depth",
			Help: "Callers waiting per routing rule",
		},
		[]string{"rule_id"},
	)

	queueWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_queue_wait_seconds",
			Help:    "Time callers spent queued before leaving the queue",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	activeLegs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "router_active_call_legs",
			Help: "Inbound call legs currently tracked by the router",
		},
	)

	providerCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_provider_commands_total",
			Help: "Outbound call-control commands by verb and result",
		},
		[]string{"verb", "result"},
	)
)

// Middleware records request count, latency and in-flight requests. The
// route label uses the matched gin route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func Event(eventType, result string) { eventsTotal.WithLabelValues(eventType, result).Inc() }

func Decision(plan string) { decisionsTotal.WithLabelValues(plan).Inc() }

func Outcome(outcome string) { outcomesTotal.WithLabelValues(outcome).Inc() }

func Reservation(result string) { reservationsTotal.WithLabelValues(result).Inc() }

func QueueDepth(ruleID string, n int) { queueDepth.WithLabelValues(ruleID).Set(float64(n)) }

func QueueWait(result string, d time.Duration) { queueWait.WithLabelValues(result).Observe(d.Seconds()) }

func LegOpened() { activeLegs.Inc() }

func LegClosed() { activeLegs.Dec() }

func ProviderCommand(verb string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCommands.WithLabelValues(verb, result).Inc()
}
