package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "connectsphere",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"service", "method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "connectsphere",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "path", "status"})

	httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "connectsphere",
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	}, []string{"service"})

	// ActiveSessions counts currently connected chat sessions across all rooms.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectsphere",
		Name:      "active_sessions",
		Help:      "Currently connected chat sessions",
	})

	// ActiveHubs counts rooms with at least one connected session.
	ActiveHubs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "connectsphere",
		Name:      "active_hubs",
		Help:      "Rooms with at least one connected session",
	})

	// MessagesBroadcast counts events fanned out to room members.
	MessagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "connectsphere",
		Name:      "messages_broadcast_total",
		Help:      "Chat events fanned out to room members",
	})

	// SlowConsumerDisconnects counts sessions dropped for a saturated outbound buffer.
	SlowConsumerDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "connectsphere",
		Name:      "slow_consumer_disconnects_total",
		Help:      "Sessions disconnected because their outbound buffer was full",
	})

	// HistoryReplays counts per-join history replays served over the socket.
	HistoryReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "connectsphere",
		Name:      "history_replays_total",
		Help:      "History replays served to joining sessions",
	})
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack must pass through for websocket upgrades to work behind the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("gateway metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics with Prometheus labels.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			httpInFlight.WithLabelValues(service).Inc()
			defer httpInFlight.WithLabelValues(service).Dec()

			next.ServeHTTP(rec, r)

			labels := prometheus.Labels{
				"service": service,
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  strconv.Itoa(rec.status),
			}
			httpRequests.With(labels).Inc()
			httpLatency.With(labels).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
