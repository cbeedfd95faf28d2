package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Review feed configuration
	FeedWSURL    string
	FeedAPIKey   string
	FeedEnabled  bool
	FeedTokenURL string

	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// API server
	APIPort int

	// Embedding configuration
	Embedding EmbeddingConfig

	// Engine configuration
	Engine EngineConfig
}

// EmbeddingConfig holds the representation backend configuration
type EmbeddingConfig struct {
	Endpoint  string
	APIKey    string
	Model     string
	Dimension int
}

// EngineConfig holds anomaly, propagation and signal tunables.
// Defaults are starting points, not validated constants; tune them
// against historical review data before trusting the signals.
type EngineConfig struct {
	// Statistics
	MinSamples int // observations required before z-scores are meaningful

	// Outlier detection
	ZScale      float64 // saturation scale for the z-score component
	StatWeight  float64
	ModelWeight float64

	// Propagation graph
	ChainWeight float64 // edge weight for same-chain pairs
	RadiusKm    float64 // proximity edge cutoff
	DecayKm     float64 // distance decay constant for proximity edges

	// Propagation relaxation
	SelfWeight         float64 // share of a node's own raw score per iteration
	MaxIterations      int
	Tolerance          float64
	PropagationTimeout int // seconds
	PropagationRunSec  int // background run interval, 0 disables the runner

	// Signal thresholds
	LowThreshold      float64
	HighThreshold     float64
	SystemicThreshold float64 // per-location criticality counted as corroborating

	// Model lifecycle
	RetrainWindowDays int
	MinTrainingSet    int
	ForestTrees       int
	ForestSampleSize  int
	ForestSeed        int64
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		FeedWSURL:    getEnvOrDefault("REVIEW_FEED_WS_URL", ""),
		FeedAPIKey:   os.Getenv("REVIEW_FEED_API_KEY"),
		FeedEnabled:  getEnvOrDefault("REVIEW_FEED_ENABLED", "false") == "true",
		FeedTokenURL: getEnvOrDefault("REVIEW_FEED_TOKEN_URL", ""),

		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "review_pulse"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "review_pulse"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "review_pulse123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		APIPort: getEnvInt("API_PORT", 8080),

		// Embedding configuration
		Embedding: EmbeddingConfig{
			Endpoint:  getEnvOrDefault("EMBEDDING_ENDPOINT", "http://localhost:8000/v1"),
			APIKey:    getEnvOrDefault("EMBEDDING_API_KEY", ""),
			Model:     getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 256),
		},

		// Engine configuration
		Engine: EngineConfig{
			MinSamples: getEnvInt("ENGINE_MIN_SAMPLES", 5),

			ZScale:      getEnvFloat("ENGINE_Z_SCALE", 2.5),
			StatWeight:  getEnvFloat("ENGINE_STAT_WEIGHT", 0.5),
			ModelWeight: getEnvFloat("ENGINE_MODEL_WEIGHT", 0.5),

			ChainWeight: getEnvFloat("ENGINE_CHAIN_WEIGHT", 0.9),
			RadiusKm:    getEnvFloat("ENGINE_RADIUS_KM", 25.0),
			DecayKm:     getEnvFloat("ENGINE_DECAY_KM", 10.0),

			SelfWeight:         getEnvFloat("ENGINE_SELF_WEIGHT", 0.4),
			MaxIterations:      getEnvInt("ENGINE_MAX_ITERATIONS", 20),
			Tolerance:          getEnvFloat("ENGINE_TOLERANCE", 0.0001),
			PropagationTimeout: getEnvInt("ENGINE_PROPAGATION_TIMEOUT_SEC", 10),
			PropagationRunSec:  getEnvInt("ENGINE_PROPAGATION_RUN_SEC", 300),

			LowThreshold:      getEnvFloat("ENGINE_LOW_THRESHOLD", 0.35),
			HighThreshold:     getEnvFloat("ENGINE_HIGH_THRESHOLD", 0.65),
			SystemicThreshold: getEnvFloat("ENGINE_SYSTEMIC_THRESHOLD", 0.4),

			RetrainWindowDays: getEnvInt("ENGINE_RETRAIN_WINDOW_DAYS", 30),
			MinTrainingSet:    getEnvInt("ENGINE_MIN_TRAINING_SET", 100),
			ForestTrees:       getEnvInt("ENGINE_FOREST_TREES", 100),
			ForestSampleSize:  getEnvInt("ENGINE_FOREST_SAMPLE_SIZE", 256),
			ForestSeed:        int64(getEnvInt("ENGINE_FOREST_SEED", 0)), // 0 = time-seeded
		},
	}
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
