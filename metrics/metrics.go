package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyplan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studyplan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyplan_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Application metrics
	plansGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyplan_plans_generated_total",
			Help: "Total number of generated study plans",
		},
		[]string{"result"}, // ok, insufficient_time, error
	)

	planGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studyplan_plan_generation_duration_seconds",
			Help:    "Study plan generation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	planCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyplan_plan_cache_total",
			Help: "Total number of plan cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	plansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyplan_plans_total",
			Help: "Total number of stored plan operations",
		},
		[]string{"operation"}, // save, delete
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyplan_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyplan_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	dbQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyplan_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation"}, // select, insert, update, delete
	)

	// Redis metrics
	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studyplan_redis_connections_active",
			Help: "Number of active Redis connections",
		},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studyplan_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"}, // auth, database, redis, validation
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// RecordPlanGeneration records the outcome and duration of a plan generation
func RecordPlanGeneration(result string, duration time.Duration) {
	plansGeneratedTotal.WithLabelValues(result).Inc()
	planGenerationDuration.Observe(duration.Seconds())
}

// IncrementPlanCache increments the plan cache lookup counter
func IncrementPlanCache(result string) {
	planCacheTotal.WithLabelValues(result).Inc()
}

// IncrementPlanOperation increments stored plan operation counter
func IncrementPlanOperation(operation string) {
	plansTotal.WithLabelValues(operation).Inc()
}

// UpdateDatabaseMetrics updates database connection metrics
func UpdateDatabaseMetrics(active, idle int) {
	dbConnectionsActive.Set(float64(active))
	dbConnectionsIdle.Set(float64(idle))
}

// IncrementDatabaseQuery increments database query counter
func IncrementDatabaseQuery(operation string) {
	dbQueriesTotal.WithLabelValues(operation).Inc()
}

// UpdateRedisConnections updates Redis connection metrics
func UpdateRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// IncrementError increments error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
