package app

import (
	"context"
	"log"
	"time"

	"review-pulse/database"
	"review-pulse/embedding"
)

// trainingSource feeds the model lifecycle with representation vectors
// built from recent review text. Reviews whose vector cannot be resolved
// (backend outage mid-retrain) are skipped rather than failing the whole
// retrain.
type trainingSource struct {
	repo     *database.ReviewRepository
	embedder *embedding.Service
}

func (s *trainingSource) TrainingVectors(ctx context.Context, windowDays, limit int) ([][]float32, error) {
	since := time.Now().AddDate(0, 0, -windowDays)
	reviews, err := s.repo.GetReviewsWithTextSince(since, limit)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(reviews))
	skipped := 0
	for _, rv := range reviews {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if rv.TextHash == "" {
			continue
		}
		vec, err := s.embedder.EmbedHashed(ctx, rv.TextHash, embedding.Normalize(rv.Text))
		if err != nil {
			skipped++
			continue
		}
		vectors = append(vectors, vec)
	}
	if skipped > 0 {
		log.Printf("⚠️  Training set: skipped %d of %d reviews without vectors", skipped, len(reviews))
	}
	return vectors, nil
}

// metaSink persists snapshot metadata after a successful retrain.
type metaSink struct {
	repo *database.ReviewRepository
}

func (m *metaSink) RecordSnapshot(version string, trainedAt time.Time, trainingSize, windowDays, trees, sampleSize int) error {
	return m.repo.SaveModelSnapshotMeta(&database.ModelSnapshotMeta{
		Version:      version,
		TrainedAt:    trainedAt,
		TrainingSize: trainingSize,
		WindowDays:   windowDays,
		Trees:        trees,
		SampleSize:   sampleSize,
		Active:       true,
	})
}
