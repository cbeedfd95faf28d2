// Package analytics runs the hand-tuned aggregate SQL that backs trend
// detection and dashboard summaries. It deliberately bypasses GORM:
// these are windowed GROUP BY queries over the reviews table where the
// SQL is the interface.
package analytics

import (
	"database/sql"
	"fmt"
	"time"
)

// Repository handles raw-SQL analytics queries
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new analytics repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RatingWindow is an aggregate of review ratings over a time window
type RatingWindow struct {
	LocationID  string    `json:"location_id"`
	ReviewCount int64     `json:"review_count"`
	MeanRating  float64   `json:"mean_rating"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// TrendDirection compares a location's mean rating in the recent window
// against the prior window of equal length. Positive = improving,
// negative = deteriorating, zero when either window is empty.
func (r *Repository) TrendDirection(locationID string, window time.Duration) (float64, error) {
	now := time.Now()
	recentStart := now.Add(-window)
	priorStart := now.Add(-2 * window)

	query := `
		SELECT
			COALESCE(AVG(rating) FILTER (WHERE reviewed_at >= $2), 0) AS recent_avg,
			COUNT(*) FILTER (WHERE reviewed_at >= $2) AS recent_count,
			COALESCE(AVG(rating) FILTER (WHERE reviewed_at < $2), 0) AS prior_avg,
			COUNT(*) FILTER (WHERE reviewed_at < $2) AS prior_count
		FROM reviews
		WHERE location_id = $1 AND reviewed_at >= $3`

	var recentAvg, priorAvg float64
	var recentCount, priorCount int64
	err := r.db.QueryRow(query, locationID, recentStart, priorStart).
		Scan(&recentAvg, &recentCount, &priorAvg, &priorCount)
	if err != nil {
		return 0, fmt.Errorf("TrendDirection: %w", err)
	}

	if recentCount == 0 || priorCount == 0 {
		return 0, nil
	}
	return recentAvg - priorAvg, nil
}

// ChainTrendDirection is TrendDirection aggregated over every location of a chain
func (r *Repository) ChainTrendDirection(chainID string, window time.Duration) (float64, error) {
	now := time.Now()
	recentStart := now.Add(-window)
	priorStart := now.Add(-2 * window)

	query := `
		SELECT
			COALESCE(AVG(rv.rating) FILTER (WHERE rv.reviewed_at >= $2), 0) AS recent_avg,
			COUNT(*) FILTER (WHERE rv.reviewed_at >= $2) AS recent_count,
			COALESCE(AVG(rv.rating) FILTER (WHERE rv.reviewed_at < $2), 0) AS prior_avg,
			COUNT(*) FILTER (WHERE rv.reviewed_at < $2) AS prior_count
		FROM reviews rv
		JOIN locations loc ON loc.id = rv.location_id
		WHERE loc.chain_id = $1 AND rv.reviewed_at >= $3`

	var recentAvg, priorAvg float64
	var recentCount, priorCount int64
	err := r.db.QueryRow(query, chainID, recentStart, priorStart).
		Scan(&recentAvg, &recentCount, &priorAvg, &priorCount)
	if err != nil {
		return 0, fmt.Errorf("ChainTrendDirection: %w", err)
	}

	if recentCount == 0 || priorCount == 0 {
		return 0, nil
	}
	return recentAvg - priorAvg, nil
}

// RatingWindows returns per-location rating aggregates for the last
// hoursBack hours. Used by the dashboard summary endpoints.
func (r *Repository) RatingWindows(hoursBack int) ([]RatingWindow, error) {
	start := time.Now().Add(-time.Duration(hoursBack) * time.Hour)

	query := `
		SELECT location_id, COUNT(*), AVG(rating)
		FROM reviews
		WHERE reviewed_at >= $1
		GROUP BY location_id
		ORDER BY location_id`

	rows, err := r.db.Query(query, start)
	if err != nil {
		return nil, fmt.Errorf("RatingWindows: %w", err)
	}
	defer rows.Close()

	end := time.Now()
	var windows []RatingWindow
	for rows.Next() {
		w := RatingWindow{WindowStart: start, WindowEnd: end}
		if err := rows.Scan(&w.LocationID, &w.ReviewCount, &w.MeanRating); err != nil {
			return nil, fmt.Errorf("RatingWindows scan: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// DailyReviewVolume returns review counts per day for a location,
// oldest first, for staleness and coverage reporting.
func (r *Repository) DailyReviewVolume(locationID string, days int) (map[string]int64, error) {
	start := time.Now().AddDate(0, 0, -days)

	query := `
		SELECT DATE(reviewed_at)::text, COUNT(*)
		FROM reviews
		WHERE location_id = $1 AND reviewed_at >= $2
		GROUP BY DATE(reviewed_at)
		ORDER BY DATE(reviewed_at)`

	rows, err := r.db.Query(query, locationID, start)
	if err != nil {
		return nil, fmt.Errorf("DailyReviewVolume: %w", err)
	}
	defer rows.Close()

	volumes := make(map[string]int64)
	for rows.Next() {
		var day string
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("DailyReviewVolume scan: %w", err)
		}
		volumes[day] = count
	}
	return volumes, rows.Err()
}
