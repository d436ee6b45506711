package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RoomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planroom_rooms_created_total",
		Help: "Total number of rooms created",
	})
	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planroom_logins_total",
		Help: "Login attempts by result (new, existing, wrong_password)",
	}, []string{"result"})
	PlansSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planroom_plans_submitted_total",
		Help: "Total number of plan submissions and edits",
	})
	PlansDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planroom_plans_deleted_total",
		Help: "Plans tombstoned, by who deleted them (self, boss)",
	}, []string{"by"})
	CycleTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planroom_cycle_transitions_total",
		Help: "Room lifecycle transitions by target status",
	}, []string{"to"})
	StoreRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planroom_store_recoveries_total",
		Help: "Number of times a corrupt store was backed up and reset",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		RoomsCreated, Logins, PlansSubmitted, PlansDeleted, CycleTransitions, StoreRecoveries,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			// 未匹配的路由统一归类，避免随机路径撑爆标签基数。
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
