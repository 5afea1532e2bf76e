package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"replay-engine/internal/config"
	"replay-engine/internal/session"

	"github.com/go-chi/chi/v5"
)

const statsInterval = 5 * time.Second

// ServerOptions configures NewServer.
type ServerOptions struct {
	CORSOrigins []string
	Limits      config.LimitsConfig
	IngestToken string
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for live playback.
type Server struct {
	sessions    *session.Manager
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	intake      *IntakeLimiter
	httpServer  *http.Server
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewServer creates a new API server. hub must be the observer the
// session manager was created with so viewers receive its events.
//
// Background workers do NOT start until Start() is called.
// For testing HTTP endpoints use Router() or NewRouter() directly.
func NewServer(sessions *session.Manager, hub *WebSocketHub, opts ServerOptions) *Server {
	s := &Server{
		sessions: sessions,
		wsHub:    hub,
		stopChan: make(chan struct{}),
	}

	rlCfg := DefaultRateLimitConfig
	if opts.Limits.RequestsPerSecond > 0 {
		rlCfg.RequestsPerSecond = opts.Limits.RequestsPerSecond
	}
	if opts.Limits.Burst > 0 {
		rlCfg.Burst = opts.Limits.Burst
	}
	s.rateLimiter = NewIPRateLimiter(rlCfg)
	s.intake = NewIntakeLimiter(intakeConfig(opts.Limits))

	s.router = NewRouter(RouterConfig{
		Sessions:    sessions,
		Hub:         hub,
		RateLimiter: s.rateLimiter,
		Intake:      s.intake,
		Limits:      opts.Limits,
		CORSOrigins: opts.CORSOrigins,
		Auth:        NewIngestAuth(opts.IngestToken),
	})

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if opts.IngestToken == "" {
		log.Println("⚠️ Ingest authentication DISABLED (set INGEST_TOKEN to enable)")
	} else {
		log.Println("🔐 Ingest authentication ENABLED")
	}

	return s
}

// Start begins the HTTP server AND starts background workers. It blocks
// until the server stops and returns nil after a graceful Stop.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()
	s.sessions.Start()
	go s.statsLoop()

	s.httpServer.Addr = addr

	log.Printf("🌐 API server starting on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// statsLoop refreshes the session gauges periodically.
func (s *Server) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			infos := s.sessions.List()
			snapshots := 0
			for _, info := range infos {
				snapshots += info.Playback.Snapshots
			}
			UpdateSessionCount(len(infos))
			UpdateHistorySnapshots(snapshots)
		}
	}
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Stop drains HTTP requests until ctx expires, then stops the workers
// and closes every session.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.rateLimiter.Stop()
	s.intake.Stop()
	s.wsHub.Stop()
	s.sessions.Stop()
	return err
}
