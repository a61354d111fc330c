//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/imagery"
	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/kafka"
	"github.com/couchcryptid/ndvi-trend-service/internal/cache"
	"github.com/couchcryptid/ndvi-trend-service/internal/config"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	"github.com/couchcryptid/ndvi-trend-service/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testResultTopic = "test-ndvi-results"

// publishedResult holds a deserialized message read from the result topic.
type publishedResult struct {
	Result  domain.PipelineResult
	Key     string
	Headers map[string]string
}

func readResult(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedResult {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from result topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var result domain.PipelineResult
	require.NoError(t, json.Unmarshal(msg.Value, &result), "unmarshal result message")

	return publishedResult{Result: result, Key: string(msg.Key), Headers: headers}
}

// TestPipelineEndToEnd runs the pipeline against a fixture file and checks
// that the completed result reaches the Kafka result topic intact.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testResultTopic)

	cfg := &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaResultTopic: testResultTopic,
	}
	logger := discardLogger()
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	svc := pipeline.New(
		imagery.NewFileSource(writeMonthlyFixture(t, 18), logger),
		cache.New(4),
		[]pipeline.ResultSink{writer},
		logger,
		observability.NewMetricsForTesting(),
		pipeline.Options{Horizon: 6},
	)
	svc.Warm(nil)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	dates, err := domain.ParseDateRange("2022-01-01", "2023-06-30")
	require.NoError(t, err)
	result, err := svc.Run(ctx, pipeline.Request{Region: testRegion, Dates: dates, QualityThreshold: 20})
	require.NoError(t, err)
	require.NotNil(t, result.Forecast)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testResultTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	got := readResult(ctx, t, consumer)
	assert.Equal(t, string(result.Fingerprint), got.Key)
	assert.Equal(t, result.RunID, got.Headers["run_id"])
	assert.Equal(t, "Pune", got.Headers["region"])
	assert.Equal(t, "true", got.Headers["forecast"])

	assert.Equal(t, result.Fingerprint, got.Result.Fingerprint)
	assert.Len(t, got.Result.Series, 18)
	require.NotNil(t, got.Result.Forecast)
	assert.Len(t, got.Result.Forecast.Future, 6)
	assert.InDelta(t, result.Statistic.Mean, got.Result.Statistic.Mean, 1e-9)
}
