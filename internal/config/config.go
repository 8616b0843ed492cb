package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"blitz-tracker/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	WGAppID    string
	DBPath     string
	ServerPort string
	LogLevel   string

	// APIBaseURL overrides the per-region upstream hosts when set.
	APIBaseURL string
	// RatingURL is a template with {region} and {account_id} placeholders.
	RatingURL         string
	LoginRedirectURL  string
	RequestsPerSecond float64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CatalogPath string

	CombinedFetchTimeout time.Duration
	IDCacheTTL           time.Duration
	LeaderboardCacheTTL  time.Duration
	LeaderboardMaxLimit  int

	RefreshConcurrency int
	RefreshWindow      time.Duration
	SchedulerEnabled   bool
	UpdateInterval     time.Duration
	TokenRenewInterval time.Duration
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		WGAppID:    getEnv("WG_APP_ID", ""),
		DBPath:     getEnv("DB_PATH", "blitz.db"),
		ServerPort: getEnv("SERVER_PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		APIBaseURL:        getEnv("WG_API_BASE_URL", ""),
		RatingURL:         getEnv("RATING_URL", "https://{region}.wotblitz.com/en/api/rating-leaderboards/user/{account_id}/?neighbors=0"),
		LoginRedirectURL:  getEnv("LOGIN_REDIRECT_URL", ""),
		RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", constants.RequestsPerSecond),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		CatalogPath: getEnv("CATALOG_PATH", "catalog.yaml"),

		CombinedFetchTimeout: getEnvDuration("COMBINED_FETCH_TIMEOUT", constants.CombinedFetchTimeout),
		IDCacheTTL:           getEnvDuration("ID_CACHE_TTL", constants.IDCacheTTL),
		LeaderboardCacheTTL:  getEnvDuration("LEADERBOARD_CACHE_TTL", constants.LeaderboardCacheTTL),
		LeaderboardMaxLimit:  getEnvInt("LEADERBOARD_MAX_LIMIT", constants.LeaderboardMaxLimit),

		RefreshConcurrency: getEnvInt("REFRESH_CONCURRENCY", constants.RefreshConcurrency),
		RefreshWindow:      getEnvDuration("REFRESH_WINDOW", constants.RefreshWindow),
		SchedulerEnabled:   getEnvBool("SCHEDULER_ENABLED", true),
		UpdateInterval:     getEnvDuration("UPDATE_INTERVAL", constants.UpdateInterval),
		TokenRenewInterval: getEnvDuration("TOKEN_RENEW_INTERVAL", constants.TokenRenewInterval),
	}

	if cfg.WGAppID == "" {
		return nil, fmt.Errorf("WG_APP_ID is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("REQUESTS_PER_SECOND must be positive, got %v", cfg.RequestsPerSecond)
	}
	if cfg.RefreshConcurrency < 1 {
		cfg.RefreshConcurrency = 1
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Bool("redis", cfg.RedisAddr != "").
		Float64("requests_per_second", cfg.RequestsPerSecond).
		Dur("combined_fetch_timeout", cfg.CombinedFetchTimeout).
		Dur("id_cache_ttl", cfg.IDCacheTTL).
		Int("refresh_concurrency", cfg.RefreshConcurrency).
		Bool("scheduler_enabled", cfg.SchedulerEnabled).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
