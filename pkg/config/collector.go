package config

import "time"

// CollectorConfig holds runtime configuration for the collector service.
type CollectorConfig struct {
	Environment        string
	Addr               string
	DatabasePath       string
	RetentionDays      int
	SweepInterval      time.Duration
	RecentCacheSize    int
	IngestRateLimit    int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadCollectorConfig constructs a CollectorConfig from environment variables.
func LoadCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("COLLECTOR_ADDR", ":3002"),
		DatabasePath:       GetString("COLLECTOR_DB_PATH", "metrics.db"),
		RetentionDays:      GetInt("COLLECTOR_RETENTION_DAYS", 7),
		SweepInterval:      time.Duration(GetInt("COLLECTOR_SWEEP_MINUTES", 60)) * time.Minute,
		RecentCacheSize:    GetInt("COLLECTOR_RECENT_CACHE_SIZE", 100),
		IngestRateLimit:    GetInt("COLLECTOR_INGEST_RATE_LIMIT", 600),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
