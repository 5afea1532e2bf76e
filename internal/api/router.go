package api

import (
	"context"
	"net/http"
	"time"

	"replay-engine/internal/config"
	"replay-engine/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SessionManager defines the session methods used by the API.
// *session.Manager satisfies it.
type SessionManager interface {
	Create(opts session.CreateOptions) (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []session.Info
	Delete(id string) error
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Sessions: session.NewManager(session.DefaultConfig()),
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Sessions owns the playback sessions (required)
	Sessions SessionManager

	// Hub streams session events to WebSocket viewers. Without it the
	// /ws routes are not mounted.
	Hub *WebSocketHub

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// Intake is an optional pre-configured per-session mutation budget.
	// If nil, one is created from Limits.
	Intake *IntakeLimiter

	// Limits bounds request bodies and batch sizes. Zero values use DefaultLimits.
	Limits config.LimitsConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, only localhost is allowed.
	CORSOrigins []string

	// Auth guards the write routes. The zero value disables it.
	Auth IngestAuth

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds what the handler functions need.
type routerHandlers struct {
	sessions SessionManager
	hub      *WebSocketHub
	limits   config.LimitsConfig
	intake   *IntakeLimiter
}

type sessionKey struct{}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter starts no goroutines and opens no listeners, except for the
// cleanup loops of the rate limiter and intake budget when they are not
// passed in.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = config.DefaultServer().CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	limits := cfg.Limits
	def := config.DefaultLimits()
	if limits.MaxMutationsPerRequest <= 0 {
		limits.MaxMutationsPerRequest = def.MaxMutationsPerRequest
	}
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = def.MaxBodyBytes
	}

	intake := cfg.Intake
	if intake == nil {
		intake = NewIntakeLimiter(intakeConfig(limits))
	}

	h := &routerHandlers{
		sessions: cfg.Sessions,
		hub:      cfg.Hub,
		limits:   limits,
		intake:   intake,
	}
	auth := cfg.Auth.Middleware

	r.Get("/health", handleHealth)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.With(auth).Post("/", h.handleCreateSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(h.sessionCtx)

			r.Get("/", h.handleGetSession)
			r.With(auth).Delete("/", h.handleDeleteSession)

			// Intake
			r.With(auth).Post("/mutations", h.handleMutations)
			r.With(auth).Post("/end", h.handleEnd)

			// Views
			r.Get("/state", h.handleGetState)
			r.Get("/turns", h.handleGetTurns)

			// Side channel
			r.Route("/oracle", func(r chi.Router) {
				r.Get("/", h.handleGetOracle)
				r.With(auth).Post("/build", h.handleOracleBuild)
				r.With(auth).Post("/cards", h.handleOracleCards)
				r.With(auth).Post("/mulligans", h.handleOracleMulligans)
			})

			// Playback controls
			r.Route("/playback", func(r chi.Router) {
				r.Get("/", h.handlePlaybackStatus)
				r.Put("/speed", h.handleSetSpeed)
				r.Put("/seek", h.handleSeek)
				r.Post("/{action}", h.handlePlaybackAction)
			})
		})
	})

	// WebSocket viewers
	if cfg.Hub != nil {
		r.With(h.sessionCtx).Get("/ws/sessions/{id}", h.handleWS)
	}

	return r
}

// sessionCtx resolves the {id} URL parameter into a session.
func (h *routerHandlers) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := h.sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, "Session not found", http.StatusNotFound)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(sessionKey{}).(*session.Session)
}

// metricsMiddleware records latency and status per route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}

// intakeConfig derives the per-session budget from limits. The burst always
// covers one full request, otherwise a maximal batch could never pass.
func intakeConfig(limits config.LimitsConfig) IntakeConfig {
	cfg := DefaultIntakeConfig
	if limits.IntakeMutationsPerSecond > 0 {
		cfg.MutationsPerSecond = limits.IntakeMutationsPerSecond
	}
	if limits.IntakeBurst > 0 {
		cfg.Burst = limits.IntakeBurst
	}
	if limits.MaxMutationsPerRequest > cfg.Burst {
		cfg.Burst = limits.MaxMutationsPerRequest
	}
	return cfg
}
