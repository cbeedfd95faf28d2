package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"sync"
	"time"

	"review-pulse/cache"
)

// cacheTTL bounds Redis growth; entries are content-addressed so
// expiry only costs a recompute.
const cacheTTL = 30 * 24 * time.Hour

// Service is the representation service: deterministic, content-addressed
// text-to-vector conversion with a two-tier cache (in-process + Redis).
type Service struct {
	encoder   Encoder
	redis     *cache.RedisClient
	dimension int

	mu    sync.RWMutex
	local map[string][]float32
}

// NewService creates a representation service. redis may be nil, in
// which case only the in-process cache is used.
func NewService(encoder Encoder, redis *cache.RedisClient, dimension int) *Service {
	return &Service{
		encoder:   encoder,
		redis:     redis,
		dimension: dimension,
		local:     make(map[string][]float32),
	}
}

// Normalize produces the canonical form of review text used for
// hashing: trimmed, lowercased, inner whitespace collapsed.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// HashText returns the content-address of normalized review text, or ""
// for blank text.
func HashText(text string) string {
	norm := Normalize(text)
	if norm == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// Dimension returns the configured vector length.
func (s *Service) Dimension() int {
	return s.dimension
}

// ZeroVector is the sentinel representation for reviews without text.
func (s *Service) ZeroVector() []float32 {
	return make([]float32, s.dimension)
}

// Embed returns the vector for text. Identical input always yields an
// identical vector: blank text maps to the zero vector, non-blank text
// is resolved through the content-addressed cache before ever reaching
// the backend. Returns ErrEncodingUnavailable (wrapped) when the
// backend is down and the vector is not cached.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := HashText(text)
	if hash == "" {
		return s.ZeroVector(), nil
	}
	return s.EmbedHashed(ctx, hash, Normalize(text))
}

// EmbedHashed is Embed for callers that already computed the content
// hash (the ingest pipeline stores it on the review row).
func (s *Service) EmbedHashed(ctx context.Context, hash, normalized string) ([]float32, error) {
	if vec, ok := s.fromLocal(hash); ok {
		return vec, nil
	}

	if s.redis != nil {
		var vec []float32
		err := s.redis.Get(ctx, cache.KeyEmbeddingPrefix+hash, &vec)
		if err == nil && len(vec) == s.dimension {
			s.toLocal(hash, vec)
			return vec, nil
		}
		if err != nil && !cache.IsMiss(err) {
			log.Printf("⚠️  Embedding cache read failed for %s: %v", hash[:12], err)
		}
	}

	vec, err := s.encoder.Encode(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.toLocal(hash, vec)
	if s.redis != nil {
		if err := s.redis.Set(ctx, cache.KeyEmbeddingPrefix+hash, vec, cacheTTL); err != nil {
			log.Printf("⚠️  Embedding cache write failed for %s: %v", hash[:12], err)
		}
	}
	return vec, nil
}

// Cached reports whether a hash is resolvable without a backend call.
func (s *Service) Cached(ctx context.Context, hash string) bool {
	if _, ok := s.fromLocal(hash); ok {
		return true
	}
	return s.redis != nil && s.redis.Exists(ctx, cache.KeyEmbeddingPrefix+hash)
}

func (s *Service) fromLocal(hash string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.local[hash]
	return vec, ok
}

func (s *Service) toLocal(hash string, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Vectors are immutable once computed, so last-write-wins is fine.
	s.local[hash] = vec
}
