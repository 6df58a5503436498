package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "@every 1h", cfg.IntegrityCron)
	require.Equal(t, 10*time.Minute, cfg.IntegrityLockTTL)
	require.False(t, cfg.IntegrityAutoRepair)
	require.False(t, cfg.IsProduction())
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, int32(10), cfg.PGMaxConns)
}

func TestConfigConnectionOptions(t *testing.T) {
	cfg := &Config{RedisAddr: "redis:6379", RedisPassword: "secret", RedisDB: 2, PGMaxConns: 25}

	redisOpts := cfg.RedisOptions()
	require.Equal(t, "redis:6379", redisOpts.Addr)
	require.Equal(t, 2, redisOpts.ClientOptions().DB)

	asynqOpts := cfg.AsynqRedis()
	require.Equal(t, "secret", asynqOpts.Password)
	require.Equal(t, 2, asynqOpts.DB)

	pool := cfg.PoolOptions("unitstock-api")
	require.Equal(t, int32(25), pool.MaxConns)
	require.Equal(t, "unitstock-api", pool.ApplicationName)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("INTEGRITY_AUTO_REPAIR", "true")
	t.Setenv("INTEGRITY_CRON", "*/15 * * * *")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.True(t, cfg.IntegrityAutoRepair)
	require.Equal(t, "*/15 * * * *", cfg.IntegrityCron)
	require.Equal(t, 30, cfg.RateLimitPerMinute)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("INTEGRITY_LOCK_TTL", "banana")
	_, err = LoadConfig()
	require.Error(t, err)
}
