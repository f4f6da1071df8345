package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int
	// AllowedOrigins ограничивает CORS и websocket-апгрейды; пустой список
	// означает "любой Origin" (режим разработки).
	AllowedOrigins []string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	// Rating engine knobs. Defaults match league policy; override per
	// environment only for experiments.
	RatingSeed           float64
	RatingSeedDeviation  float64
	RatingSeedVolatility float64
	RatingTau            float64
	RatingDeviationFloor float64
	ProvisionalThreshold int
	WalkoverWeight       float64

	RatingWorkerInterval time.Duration
	RatingWorkerBatch    int
	OutboxWorkerInterval time.Duration
	OutboxWorkerBatch    int

	RecalcPreviewTimeout time.Duration
	RecalcSweepInterval  time.Duration
	RecalcSweepMaxAge    time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	port, err := envInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	var allowedOrigins []string
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

	seed, err := envFloat("RATING_SEED", 1500)
	if err != nil {
		return nil, err
	}
	seedDeviation, err := envFloat("RATING_SEED_DEVIATION", 350)
	if err != nil {
		return nil, err
	}
	seedVolatility, err := envFloat("RATING_SEED_VOLATILITY", 0.06)
	if err != nil {
		return nil, err
	}
	tau, err := envFloat("RATING_TAU", 0.5)
	if err != nil {
		return nil, err
	}
	if tau <= 0 {
		return nil, fmt.Errorf("RATING_TAU must be positive, got %v", tau)
	}
	deviationFloor, err := envFloat("RATING_DEVIATION_FLOOR", 30)
	if err != nil {
		return nil, err
	}
	if deviationFloor < 0 || deviationFloor >= seedDeviation {
		return nil, fmt.Errorf("RATING_DEVIATION_FLOOR must be in [0, seed deviation), got %v", deviationFloor)
	}
	provisionalThreshold, err := envInt("RATING_PROVISIONAL_THRESHOLD", 10)
	if err != nil {
		return nil, err
	}
	walkoverWeight, err := envFloat("RATING_WALKOVER_WEIGHT", 0.25)
	if err != nil {
		return nil, err
	}
	if walkoverWeight <= 0 || walkoverWeight > 1 {
		return nil, fmt.Errorf("RATING_WALKOVER_WEIGHT must be in (0,1], got %v", walkoverWeight)
	}

	ratingInterval, err := envDuration("RATING_WORKER_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	ratingBatch, err := envInt("RATING_WORKER_BATCH", 100)
	if err != nil {
		return nil, err
	}
	outboxInterval, err := envDuration("OUTBOX_WORKER_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	outboxBatch, err := envInt("OUTBOX_WORKER_BATCH", 100)
	if err != nil {
		return nil, err
	}

	previewTimeout, err := envDuration("RECALC_PREVIEW_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envDuration("RECALC_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	sweepMaxAge, err := envDuration("RECALC_SWEEP_MAX_AGE", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:    dbURL,
		JWTSecretKey:   jwtKey,
		ServerPort:     port,
		AllowedOrigins: allowedOrigins,

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),

		RatingSeed:           seed,
		RatingSeedDeviation:  seedDeviation,
		RatingSeedVolatility: seedVolatility,
		RatingTau:            tau,
		RatingDeviationFloor: deviationFloor,
		ProvisionalThreshold: provisionalThreshold,
		WalkoverWeight:       walkoverWeight,

		RatingWorkerInterval: ratingInterval,
		RatingWorkerBatch:    ratingBatch,
		OutboxWorkerInterval: outboxInterval,
		OutboxWorkerBatch:    outboxBatch,

		RecalcPreviewTimeout: previewTimeout,
		RecalcSweepInterval:  sweepInterval,
		RecalcSweepMaxAge:    sweepMaxAge,
	}, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}
