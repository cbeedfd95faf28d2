package models

import "time"

// Location represents a single business location tracked by the engine.
// Identity (ID, ChainID, coordinates) is immutable from the engine's
// perspective; address/city metadata is owned by the upstream store and
// only mirrored here.
type Location struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	ChainID   *string   `gorm:"size:64;index" json:"chain_id,omitempty"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Latitude  float64   `gorm:"type:decimal(9,6);not null" json:"latitude"`
	Longitude float64   `gorm:"type:decimal(9,6);not null" json:"longitude"`
	Address   string    `gorm:"size:512" json:"address,omitempty"`
	City      string    `gorm:"size:128;index" json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Location
func (Location) TableName() string {
	return "locations"
}

// Review represents a single consumer review. Append-only: the engine
// inserts rows as they arrive on the feed and never updates them.
//
// Key Fields:
//   - LocationID: the reviewed location (indexed)
//   - Rating: bounded integer scale (1-5)
//   - Text: optional free text; many reviews carry only a rating
//   - TextHash: SHA-256 of the normalized text, the representation
//     cache key; empty when Text is empty
//   - ReviewedAt: when the review was posted (indexed)
type Review struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LocationID string    `gorm:"size:64;index;not null" json:"location_id"`
	Rating     int       `gorm:"not null" json:"rating"`
	Text       string    `gorm:"type:text" json:"text,omitempty"`
	TextHash   string    `gorm:"size:64;index" json:"text_hash,omitempty"`
	ReviewedAt time.Time `gorm:"index;not null" json:"reviewed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for Review
func (Review) TableName() string {
	return "reviews"
}

// LocationBaseline mirrors a location's rolling statistics for
// observability and warm starts. The in-memory tracker is the working
// copy; this row is a periodically written snapshot, never the thing
// the tracker re-derives from.
type LocationBaseline struct {
	LocationID  string    `gorm:"primaryKey;size:64" json:"location_id"`
	SampleCount int64     `gorm:"not null" json:"sample_count"`
	MeanRating  float64   `gorm:"type:decimal(10,4)" json:"mean_rating"`
	Variance    float64   `gorm:"type:decimal(12,6)" json:"variance"`
	UpdatedAt   time.Time `gorm:"index" json:"updated_at"`
}

// TableName specifies the table name for LocationBaseline
func (LocationBaseline) TableName() string {
	return "location_baselines"
}

// AnomalyRecord is one evaluation of a location's anomaly score with
// its contributing sub-scores. Derived data: the engine can always
// recompute it from the rolling statistics and the active model, so
// rows exist for dashboards and audit, not as source of truth.
type AnomalyRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LocationID  string    `gorm:"size:64;index;not null" json:"location_id"`
	EvaluatedAt time.Time `gorm:"index;not null" json:"evaluated_at"`
	Score       float64   `gorm:"type:decimal(6,4);not null" json:"score"`
	StatScore   float64   `gorm:"type:decimal(6,4)" json:"stat_score"`
	ModelScore  float64   `gorm:"type:decimal(6,4)" json:"model_score"`
	ZScore      *float64  `gorm:"type:decimal(10,4)" json:"z_score,omitempty"`
	Evaluable   bool      `gorm:"not null" json:"evaluable"`
	ModelUsed   bool      `gorm:"not null" json:"model_used"`
}

// TableName specifies the table name for AnomalyRecord
func (AnomalyRecord) TableName() string {
	return "anomaly_records"
}

// CriticalityRecord is a location's post-propagation anomaly value from
// one propagation run.
type CriticalityRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LocationID  string    `gorm:"size:64;index;not null" json:"location_id"`
	ChainID     *string   `gorm:"size:64;index" json:"chain_id,omitempty"`
	ComputedAt  time.Time `gorm:"index;not null" json:"computed_at"`
	Criticality float64   `gorm:"type:decimal(6,4);not null" json:"criticality"`
	RawScore    float64   `gorm:"type:decimal(6,4)" json:"raw_score"`
	Iterations  int       `json:"iterations"`
	Converged   bool      `json:"converged"`
}

// TableName specifies the table name for CriticalityRecord
func (CriticalityRecord) TableName() string {
	return "criticality_records"
}

// TradingSignalRecord is a generated signal for a chain or location.
//
// Signal values: STRENGTHEN, WEAKEN, HOLD.
type TradingSignalRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Target        string    `gorm:"size:64;index;not null" json:"target"` // chain ID or location ID
	TargetKind    string    `gorm:"size:10;not null" json:"target_kind"`  // CHAIN or LOCATION
	Signal        string    `gorm:"size:12;not null" json:"signal"`
	Confidence    float64   `gorm:"type:decimal(6,4);not null" json:"confidence"`
	Criticality   float64   `gorm:"type:decimal(6,4)" json:"criticality"`
	Trend         float64   `gorm:"type:decimal(10,4)" json:"trend"`
	Corroborating int       `json:"corroborating"`
	TotalMembers  int       `json:"total_members"`
	GeneratedAt   time.Time `gorm:"index;not null" json:"generated_at"`
}

// TableName specifies the table name for TradingSignalRecord
func (TradingSignalRecord) TableName() string {
	return "trading_signals"
}

// SignalWebhook is a registered consumer endpoint that receives signal
// events as they are generated.
type SignalWebhook struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	URL        string    `gorm:"size:512;not null" json:"url"`
	Enabled    bool      `gorm:"not null;default:true" json:"enabled"`
	MinScore   float64   `gorm:"type:decimal(6,4);default:0" json:"min_score"` // suppress below this criticality
	SignalOnly bool      `gorm:"not null;default:false" json:"signal_only"`    // skip anomaly events, deliver signals only
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName specifies the table name for SignalWebhook
func (SignalWebhook) TableName() string {
	return "signal_webhooks"
}

// SignalWebhookLog records one delivery attempt to a webhook.
type SignalWebhookLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID   string    `gorm:"size:36;index;not null" json:"webhook_id"`
	EventType   string    `gorm:"size:24" json:"event_type"`
	StatusCode  int       `json:"status_code"`
	Success     bool      `gorm:"index" json:"success"`
	Error       string    `gorm:"size:512" json:"error,omitempty"`
	AttemptedAt time.Time `gorm:"index;not null" json:"attempted_at"`
}

// TableName specifies the table name for SignalWebhookLog
func (SignalWebhookLog) TableName() string {
	return "signal_webhook_logs"
}

// ModelSnapshotMeta records the metadata of a trained outlier model
// snapshot. The serialized model itself lives in Redis; this row keeps
// the training audit trail queryable.
type ModelSnapshotMeta struct {
	Version      string    `gorm:"primaryKey;size:36" json:"version"`
	TrainedAt    time.Time `gorm:"index;not null" json:"trained_at"`
	TrainingSize int       `gorm:"not null" json:"training_size"`
	WindowDays   int       `json:"window_days"`
	Trees        int       `json:"trees"`
	SampleSize   int       `json:"sample_size"`
	Active       bool      `gorm:"index" json:"active"`
}

// TableName specifies the table name for ModelSnapshotMeta
func (ModelSnapshotMeta) TableName() string {
	return "model_snapshots"
}
