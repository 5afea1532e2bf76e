package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"time"

	"replay-engine/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"
)

// Metrics with bounded cardinality (no per-session labels)
var (
	// Playback core metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_sessions_active",
		Help: "Current number of playback sessions",
	})

	historySnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_history_snapshots",
		Help: "Snapshots held across all session timelines",
	})

	mutationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_mutations_applied_total",
		Help: "Mutations applied to session trackers",
	})

	mutationBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "replay_mutation_batch_duration_seconds",
		Help:    "Time spent applying one intake batch",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	mutationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_mutation_batches_rejected_total",
		Help: "Intake batches refused before or during application",
	}, []string{"reason"}) // Bounded: "decode", "too_large", "ended", "closed", "invalid"

	// Warnings and errors logged by the core: out of order snapshots,
	// unknown entities, enrich without a block and so on.
	anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_anomalies_total",
		Help: "Data anomalies logged while reconstructing replays",
	}, []string{"level"})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// StartDebugServer starts the internal observability server.
// It binds to localhost unless AllowExternal is set. The returned server
// is nil when the listener is disabled.
func StartDebugServer(cfg config.ObservabilityConfig) (*http.Server, error) {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil, nil
	}

	if !cfg.AllowExternal && !isLoopback(cfg.ListenAddr) {
		log.Println("⚠️ Debug server forced to localhost for security")
		cfg.ListenAddr = config.DefaultObservability().ListenAddr
	}

	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleHealth)

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return srv, nil
}

func isLoopback(addr string) bool {
	for _, prefix := range []string{"127.0.0.1:", "localhost:", "[::1]:"} {
		if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureEqual(u, user) || !secureEqual(p, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordLogEntry counts warnings and errors of the core logger. It has the
// signature zap.Hooks expects.
func RecordLogEntry(e zapcore.Entry) error {
	if e.Level >= zapcore.WarnLevel {
		anomalies.WithLabelValues(e.Level.String()).Inc()
	}
	return nil
}

// UpdateSessionCount updates the session gauge
func UpdateSessionCount(count int) {
	sessionsActive.Set(float64(count))
}

// UpdateHistorySnapshots updates the timeline size gauge
func UpdateHistorySnapshots(count int) {
	historySnapshots.Set(float64(count))
}

// RecordMutationBatch records one applied intake batch
func RecordMutationBatch(applied int, duration time.Duration) {
	mutationsApplied.Add(float64(applied))
	mutationBatchDuration.Observe(duration.Seconds())
}

// RecordMutationRejected increments the refused batch counter
// reason must be one of: "decode", "too_large", "ended", "closed", "invalid"
func RecordMutationRejected(reason string) {
	mutationsRejected.WithLabelValues(reason).Inc()
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
