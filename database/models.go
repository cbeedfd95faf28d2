// Package database provides storage access for the review-pulse anomaly engine.
//
// This package includes:
//   - Connection management using GORM and PostgreSQL
//   - The ReviewRepository covering locations, reviews and computed scores
//   - A raw-SQL analytics path (database/analytics) for windowed aggregates
//
// The engine treats Postgres as the durability boundary: locations and
// reviews are owned by the upstream ingestion system, while computed
// scores (baselines, anomaly and criticality records, signals) are
// written back here for dashboards and reports. Rolling statistics and
// the outlier model are rebuildable caches, never the source of truth.
//
// Data models live in the models_pkg package to avoid circular import
// dependencies.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "review-pulse/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Type Aliases
// ============================================================================

// Core data models - aliased so callers import a single package.

type Location = models.Location
type Review = models.Review
type LocationBaseline = models.LocationBaseline
type AnomalyRecord = models.AnomalyRecord
type CriticalityRecord = models.CriticalityRecord
type TradingSignalRecord = models.TradingSignalRecord
type SignalWebhook = models.SignalWebhook
type SignalWebhookLog = models.SignalWebhookLog
type ModelSnapshotMeta = models.ModelSnapshotMeta
