// Package services hosts the background maintenance jobs.
package services

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is the slice of the database surface the cleanup tasks need.
type Database interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// StartCleanupService runs the cleanup tasks once at startup and then on the
// given interval.
func StartCleanupService(db Database, interval time.Duration) {
	go func() {
		ctx := context.Background()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run initial cleanup
		RunCleanupTasks(ctx, db)

		for range ticker.C {
			RunCleanupTasks(ctx, db)
		}
	}()
}

// RunCleanupTasks performs cleanup operations on the database
func RunCleanupTasks(ctx context.Context, db Database) {
	log.Println("🧹 Running scheduled cleanup tasks...")

	// Note: Session cleanup is handled by Redis TTL

	// Reset login lockouts that have expired
	result, err := db.Exec(ctx, `
		UPDATE users
		SET failed_attempts = 0, locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`)
	if err != nil {
		log.Printf("⚠️ Failed to reset expired lockouts: %v", err)
	} else if result.RowsAffected() > 0 {
		log.Printf("✅ Reset expired lockouts for %d users", result.RowsAffected())
	}

	// Purge soft-deleted study plans past the retention window (30+ days)
	if _, err := db.Exec(ctx, "SELECT cleanup_old_deleted_plans()"); err != nil {
		log.Printf("⚠️ Failed to cleanup old deleted plans: %v", err)
	} else {
		log.Println("✅ Cleaned up old deleted study plans")
	}

	// Prune audit log entries older than 90 days
	if _, err := db.Exec(ctx, "SELECT cleanup_old_audit_entries()"); err != nil {
		log.Printf("⚠️ Failed to prune audit log: %v", err)
	} else {
		log.Println("✅ Pruned old audit log entries")
	}

	// Best effort count of plans still awaiting purge
	var pendingCount int
	_ = db.QueryRow(ctx, "SELECT COUNT(*) FROM study_plans WHERE deleted_at IS NOT NULL").Scan(&pendingCount)

	if pendingCount > 0 {
		log.Printf("🗑️ %d soft-deleted plans awaiting purge", pendingCount)
	}

	log.Println("🎯 Cleanup tasks completed successfully")
}
