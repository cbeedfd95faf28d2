package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReviewRepository handles database operations for locations, reviews
// and the engine's computed outputs.
type ReviewRepository struct {
	db *Database
}

// NewReviewRepository creates a new review repository
func NewReviewRepository(db *Database) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// InitSchema performs auto-migration for all engine tables
func (r *ReviewRepository) InitSchema() error {
	fmt.Println("🔄 Starting database schema initialization...")

	err := r.db.db.AutoMigrate(
		&Location{},
		&Review{},
		&LocationBaseline{},
		&AnomalyRecord{},
		&CriticalityRecord{},
		&TradingSignalRecord{},
		&SignalWebhook{},
		&SignalWebhookLog{},
		&ModelSnapshotMeta{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	fmt.Println("✅ Database schema initialized")
	return nil
}

// ============================================================================
// Locations
// ============================================================================

// GetLocations returns all tracked locations
func (r *ReviewRepository) GetLocations() ([]Location, error) {
	var locations []Location
	if err := r.db.db.Order("id").Find(&locations).Error; err != nil {
		return nil, WrapDBError("GetLocations", err)
	}
	return locations, nil
}

// GetLocation returns one location by ID
func (r *ReviewRepository) GetLocation(id string) (*Location, error) {
	var loc Location
	err := r.db.db.Where("id = ?", id).First(&loc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "location", ID: id}
		}
		return nil, WrapDBError("GetLocation", err)
	}
	return &loc, nil
}

// GetChainLocations returns all locations belonging to a chain
func (r *ReviewRepository) GetChainLocations(chainID string) ([]Location, error) {
	var locations []Location
	if err := r.db.db.Where("chain_id = ?", chainID).Order("id").Find(&locations).Error; err != nil {
		return nil, WrapDBError("GetChainLocations", err)
	}
	return locations, nil
}

// UpsertLocation inserts or updates mirrored location metadata
func (r *ReviewRepository) UpsertLocation(loc *Location) error {
	err := r.db.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "address", "city", "updated_at"}),
	}).Create(loc).Error
	return WrapDBError("UpsertLocation", err)
}

// ============================================================================
// Reviews
// ============================================================================

// SaveReview appends a review row
func (r *ReviewRepository) SaveReview(review *Review) error {
	if err := ValidateRating(review.Rating); err != nil {
		return err
	}
	return WrapDBError("SaveReview", r.db.db.Create(review).Error)
}

// GetReviewsWithTextSince returns reviews carrying text posted after the
// cutoff, newest first, capped at limit. Used to assemble the model
// retraining window.
func (r *ReviewRepository) GetReviewsWithTextSince(since time.Time, limit int) ([]Review, error) {
	var reviews []Review
	err := r.db.db.
		Where("reviewed_at >= ? AND text_hash <> ''", since).
		Order("reviewed_at DESC").
		Limit(limit).
		Find(&reviews).Error
	if err != nil {
		return nil, WrapDBError("GetReviewsWithTextSince", err)
	}
	return reviews, nil
}

// CountReviews returns the number of reviews stored for a location
func (r *ReviewRepository) CountReviews(locationID string) (int64, error) {
	var count int64
	err := r.db.db.Model(&Review{}).Where("location_id = ?", locationID).Count(&count).Error
	if err != nil {
		return 0, WrapDBError("CountReviews", err)
	}
	return count, nil
}

// ============================================================================
// Baselines
// ============================================================================

// SaveBaseline upserts a location's rolling-statistics mirror row
func (r *ReviewRepository) SaveBaseline(b *LocationBaseline) error {
	err := r.db.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sample_count", "mean_rating", "variance", "updated_at"}),
	}).Create(b).Error
	return WrapDBError("SaveBaseline", err)
}

// GetBaselines returns every persisted baseline row
func (r *ReviewRepository) GetBaselines() ([]LocationBaseline, error) {
	var baselines []LocationBaseline
	if err := r.db.db.Find(&baselines).Error; err != nil {
		return nil, WrapDBError("GetBaselines", err)
	}
	return baselines, nil
}

// ============================================================================
// Anomaly / Criticality Records
// ============================================================================

// SaveAnomalyRecord persists one anomaly evaluation
func (r *ReviewRepository) SaveAnomalyRecord(rec *AnomalyRecord) error {
	return WrapDBError("SaveAnomalyRecord", r.db.db.Create(rec).Error)
}

// GetRecentAnomalies returns evaluations above minScore within the last
// hoursBack hours, newest first.
func (r *ReviewRepository) GetRecentAnomalies(minScore float64, hoursBack, limit int) ([]AnomalyRecord, error) {
	var records []AnomalyRecord
	since := time.Now().Add(-time.Duration(hoursBack) * time.Hour)
	err := r.db.db.
		Where("evaluated_at >= ? AND score >= ? AND evaluable = true", since, minScore).
		Order("evaluated_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, WrapDBError("GetRecentAnomalies", err)
	}
	return records, nil
}

// SaveCriticalityRecords persists a propagation run's per-location results in one batch
func (r *ReviewRepository) SaveCriticalityRecords(records []CriticalityRecord) error {
	if len(records) == 0 {
		return nil
	}
	return WrapDBError("SaveCriticalityRecords", r.db.db.CreateInBatches(records, 500).Error)
}

// ============================================================================
// Trading Signals
// ============================================================================

// SaveTradingSignal persists a generated signal
func (r *ReviewRepository) SaveTradingSignal(sig *TradingSignalRecord) error {
	return WrapDBError("SaveTradingSignal", r.db.db.Create(sig).Error)
}

// GetSignalHistory returns recent signals for a target, newest first
func (r *ReviewRepository) GetSignalHistory(target string, limit int) ([]TradingSignalRecord, error) {
	var signals []TradingSignalRecord
	q := r.db.db.Order("generated_at DESC").Limit(limit)
	if target != "" {
		q = q.Where("target = ?", target)
	}
	if err := q.Find(&signals).Error; err != nil {
		return nil, WrapDBError("GetSignalHistory", err)
	}
	return signals, nil
}

// ============================================================================
// Webhooks
// ============================================================================

// GetWebhooks returns all registered webhooks
func (r *ReviewRepository) GetWebhooks() ([]SignalWebhook, error) {
	var hooks []SignalWebhook
	if err := r.db.db.Order("created_at").Find(&hooks).Error; err != nil {
		return nil, WrapDBError("GetWebhooks", err)
	}
	return hooks, nil
}

// GetEnabledWebhooks returns webhooks eligible for delivery
func (r *ReviewRepository) GetEnabledWebhooks() ([]SignalWebhook, error) {
	var hooks []SignalWebhook
	if err := r.db.db.Where("enabled = true").Find(&hooks).Error; err != nil {
		return nil, WrapDBError("GetEnabledWebhooks", err)
	}
	return hooks, nil
}

// CreateWebhook registers a new webhook
func (r *ReviewRepository) CreateWebhook(hook *SignalWebhook) error {
	return WrapDBError("CreateWebhook", r.db.db.Create(hook).Error)
}

// UpdateWebhook updates an existing webhook
func (r *ReviewRepository) UpdateWebhook(hook *SignalWebhook) error {
	res := r.db.db.Model(&SignalWebhook{}).Where("id = ?", hook.ID).
		Updates(map[string]interface{}{
			"url":         hook.URL,
			"enabled":     hook.Enabled,
			"min_score":   hook.MinScore,
			"signal_only": hook.SignalOnly,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return WrapDBError("UpdateWebhook", res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "webhook", ID: hook.ID}
	}
	return nil
}

// DeleteWebhook removes a webhook
func (r *ReviewRepository) DeleteWebhook(id string) error {
	res := r.db.db.Where("id = ?", id).Delete(&SignalWebhook{})
	if res.Error != nil {
		return WrapDBError("DeleteWebhook", res.Error)
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "webhook", ID: id}
	}
	return nil
}

// LogWebhookDelivery records one delivery attempt
func (r *ReviewRepository) LogWebhookDelivery(entry *SignalWebhookLog) error {
	return WrapDBError("LogWebhookDelivery", r.db.db.Create(entry).Error)
}

// ============================================================================
// Model Snapshots
// ============================================================================

// SaveModelSnapshotMeta records a trained snapshot and marks it active,
// deactivating the previous one in the same transaction.
func (r *ReviewRepository) SaveModelSnapshotMeta(meta *ModelSnapshotMeta) error {
	err := r.db.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ModelSnapshotMeta{}).Where("active = true").Update("active", false).Error; err != nil {
			return err
		}
		meta.Active = true
		return tx.Create(meta).Error
	})
	return WrapDBError("SaveModelSnapshotMeta", err)
}
