package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testImageryToken = "imagery-test-token"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "http", cfg.ImagerySource)
	assert.Equal(t, "http://localhost:8090", cfg.ImageryBaseURL)
	assert.Empty(t, cfg.ImageryToken)
	assert.Equal(t, 30*time.Second, cfg.ImageryTimeout)
	assert.Equal(t, 3, cfg.ImageryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ImageryBackoff)

	assert.Equal(t, min(runtime.NumCPU(), 8), cfg.WorkerCount)
	assert.InDelta(t, 20.0, cfg.QualityThreshold, 0)
	assert.InDelta(t, 30.0, cfg.SampleScaleMetres, 0)
	assert.Equal(t, 1_000_000, cfg.MaxSamplePixels)
	assert.InDelta(t, 0.2, cfg.AlertThreshold, 0)
	assert.Equal(t, 12, cfg.ForecastHorizonMonths)
	assert.Equal(t, 12, cfg.ForecastMinHistory)
	assert.Equal(t, 8, cfg.CacheSize)

	assert.False(t, cfg.KafkaEnabled)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "ndvi-results", cfg.KafkaResultTopic)
	assert.Empty(t, cfg.MongoURI)
	assert.Equal(t, 24*time.Hour, cfg.ScheduleInterval)
	assert.Equal(t, 24, cfg.WatchLookbackMonths)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("IMAGERY_BASE_URL", "https://imagery.example.com/")
	t.Setenv("IMAGERY_TOKEN", testImageryToken)
	t.Setenv("IMAGERY_TIMEOUT", "10s")
	t.Setenv("IMAGERY_MAX_ATTEMPTS", "5")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("QUALITY_THRESHOLD", "35.5")
	t.Setenv("CACHE_SIZE", "1")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_RESULT_TOPIC", "custom-results")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("MONGO_DB", "archive")
	t.Setenv("SCHEDULE_INTERVAL", "6h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "https://imagery.example.com", cfg.ImageryBaseURL, "trailing slash is trimmed")
	assert.Equal(t, testImageryToken, cfg.ImageryToken)
	assert.Equal(t, 10*time.Second, cfg.ImageryTimeout)
	assert.Equal(t, 5, cfg.ImageryMaxAttempts)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.InDelta(t, 35.5, cfg.QualityThreshold, 0)
	assert.Equal(t, 1, cfg.CacheSize)
	assert.True(t, cfg.KafkaEnabled, "brokers imply publishing")
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-results", cfg.KafkaResultTopic)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "archive", cfg.MongoDatabase)
	assert.Equal(t, 6*time.Hour, cfg.ScheduleInterval)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"IMAGERY_TIMEOUT", "bad"},
		{"IMAGERY_TIMEOUT", "0s"},
		{"IMAGERY_MAX_ATTEMPTS", "0"},
		{"IMAGERY_SOURCE", "ftp"},
		{"IMAGERY_BASE_URL", "not a url"},
		{"WORKER_COUNT", "many"},
		{"QUALITY_THRESHOLD", "101"},
		{"ALERT_THRESHOLD", "1.5"},
		{"FORECAST_HORIZON_MONTHS", "61"},
		{"FORECAST_MIN_HISTORY", "2"},
		{"CACHE_SIZE", "0"},
		{"LOG_FORMAT", "xml"},
		{"SCHEDULE_INTERVAL", "10s"},
		{"KAFKA_ENABLED", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_FileSourceRequiresFile(t *testing.T) {
	t.Setenv("IMAGERY_SOURCE", "file")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAGERY_FILE")

	t.Setenv("IMAGERY_FILE", "testdata/scenes.json")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.ImagerySource)
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_KafkaExplicitlyDisabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("KAFKA_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}
