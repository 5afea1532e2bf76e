package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"replay-engine/internal/api"
	"replay-engine/internal/config"
	"replay-engine/internal/session"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎬 ================================")
	log.Println("🎬  REPLAY ENGINE")
	log.Println("🎬  Timeline reconstruction + playback")
	log.Println("🎬 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	playbackCfg := appConfig.Playback
	serverCfg := appConfig.Server

	logger, err := newLogger(appConfig.Log)
	if err != nil {
		log.Fatalf("❌ Logger setup failed: %v", err)
	}
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	log.Printf("🎞️ Playback: tick %s, multiplier %.1f, speed %.2f, speeds %v",
		playbackCfg.TickInterval, playbackCfg.Multiplier, playbackCfg.DefaultSpeed, playbackCfg.Speeds)
	log.Printf("🛡️ Limits: %d sessions, %d mutations per request, %d body bytes",
		serverCfg.MaxSessions, appConfig.Limits.MaxMutationsPerRequest, appConfig.Limits.MaxBodyBytes)
	log.Printf("🚰 Intake: %.0f mutations/s per session, burst %d",
		appConfig.Limits.IntakeMutationsPerSecond, appConfig.Limits.IntakeBurst)

	// Start debug server
	debugServer, err := api.StartDebugServer(appConfig.Observability)
	if err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	hub := api.NewWebSocketHub(api.HubConfig{
		MaxConnections: appConfig.Limits.MaxWSConnections,
		MaxPerIP:       appConfig.Limits.MaxWSConnectionsPerIP,
		Origins:        serverCfg.CORSOrigins,
	})

	sessions := session.NewManager(session.Config{
		MaxSessions:  serverCfg.MaxSessions,
		IdleTimeout:  serverCfg.SessionIdle,
		TickInterval: playbackCfg.TickInterval,
		Multiplier:   playbackCfg.Multiplier,
		DefaultSpeed: playbackCfg.DefaultSpeed,
		Speeds:       playbackCfg.Speeds,
	}, session.WithObserver(hub), session.WithLogger(logger.Named("session")))

	server := api.NewServer(sessions, hub, api.ServerOptions{
		CORSOrigins: serverCfg.CORSOrigins,
		Limits:      appConfig.Limits,
		IngestToken: serverCfg.IngestToken,
	})

	// Start API server in goroutine
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		log.Printf("🌐 API server on http://localhost%s", addr)
		log.Printf("📥 Intake: POST http://localhost%s/api/sessions/{id}/mutations", addr)
		log.Printf("📱 Viewers: ws://localhost%s/ws/sessions/{id}", addr)

		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("⚠️ Graceful shutdown incomplete: %v", err)
	}
	if debugServer != nil {
		debugServer.Shutdown(ctx)
	}
	log.Println("👋 Goodbye!")
}

// newLogger builds the structured logger used by the playback core.
// Warnings and errors are also counted as anomalies.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build(zap.Hooks(api.RecordLogEntry))
}
