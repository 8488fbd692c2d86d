// Study plan service - rule-based study schedule generation with accounts,
// saved plans, sessions, and background maintenance.
package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"studyplan/config"
	"studyplan/crypto"
	"studyplan/database"
	"studyplan/metrics"
	"studyplan/server"
	"studyplan/services"
	"studyplan/utils"
)

func main() {
	// Initialize logging
	utils.InitLogging()

	// Load configuration
	cfg := config.LoadConfig()
	utils.TrustProxyHeaders.Store(cfg.TrustProxyHeaders)

	// Track application start time for uptime calculation
	startTime := time.Now()

	// Initialize registration toggle from env (default true)
	envRegRaw, envRegExplicit := os.LookupEnv("REGISTRATION_ENABLED")
	envRegValue := strings.ToLower(strings.TrimSpace(envRegRaw))
	if !envRegExplicit || envRegValue == "" {
		envRegValue = "true"
	}
	if envRegValue == "true" {
		config.RegEnabled.Store(1)
	} else {
		config.RegEnabled.Store(0)
	}

	// Setup database with automatic migrations
	var db *pgxpool.Pool
	var err error
	if config.GetEnvAsBool("SKIP_MIGRATION_CHECK", false) {
		db, err = database.SetupDatabaseFast(cfg.DatabaseURL)
	} else {
		db, err = database.SetupDatabase(cfg.DatabaseURL)
	}
	if err != nil {
		log.Fatal("Database setup failed: ", err)
	}
	defer db.Close()

	// Setup Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0, // use default DB
	})
	defer rdb.Close()

	// Initialize crypto service for session encryption
	cryptoSvc := crypto.NewCryptoService(cfg.EncryptionKey)

	// Track component readiness for the readiness probe
	readyState := server.NewReadyState(db, cryptoSvc, cfg, rdb)
	readyState.MarkConfigReady()
	readyState.MarkDatabaseReady()
	readyState.MarkCryptoReady()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("⚠️ Redis unreachable at startup: %v", err)
	} else {
		log.Println("✅ Redis connection established")
		readyState.MarkRedisReady()
	}
	pingCancel()

	// Create Fiber app and wire routes
	app := server.CreateFiberApp(startTime, readyState)
	setupRoutes(app, db, rdb, cryptoSvc, cfg, startTime)

	// Start background cleanup service
	services.StartCleanupService(db, cfg.CleanupInterval)

	// Periodically export connection pool gauges
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stat := db.Stat()
			metrics.UpdateDatabaseMetrics(int(stat.AcquiredConns()), int(stat.IdleConns()))
			metrics.UpdateRedisConnections(int(rdb.PoolStats().TotalConns))
		}
	}()

	// Start server
	log.Printf("Starting server on port %s...", cfg.Port)
	if err := server.ListenWithIPv6Fallback(app, cfg.Port, startTime); err != nil {
		log.Fatalf("💥 [FATAL] Server failed to start: %v", err)
	}
}
