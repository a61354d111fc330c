package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/config"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes completed results to a Kafka topic, keyed by fingerprint
// so every result for one request lands on the same partition.
// It implements pipeline.ResultSink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured result topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Publish serializes the result and writes it to the topic.
func (w *Writer) Publish(ctx context.Context, result *domain.PipelineResult) error {
	msg, err := serializeToMessage(result)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write result %s: %w", result.Fingerprint, err)
	}
	w.logger.Debug("result published", "topic", w.writer.Topic, "fingerprint", result.Fingerprint, "bytes", len(msg.Value))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a PipelineResult into a Kafka message.
func serializeToMessage(result *domain.PipelineResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize pipeline result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(result.Fingerprint),
		Value: data,
		Time:  result.CompletedAt,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(result.RunID)},
			{Key: "region", Value: []byte(result.Region.Name)},
			{Key: "forecast", Value: []byte(strconv.FormatBool(result.Forecast != nil))},
			{Key: "completed_at", Value: []byte(result.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
