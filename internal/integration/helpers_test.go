//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/imagery"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

var testRegion = domain.RegionSpec{Name: "Pune", North: 19, South: 18, East: 74, West: 73}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("ndvi-integration"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// writeMonthlyFixture writes one uniform scene per month starting in
// January 2022, with NDVI rising by 0.005 a month.
func writeMonthlyFixture(t *testing.T, months int) string {
	t.Helper()
	obs := make([]domain.RawObservation, months)
	first := time.Date(2022, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := range obs {
		ndvi := 0.3 + 0.005*float64(i)
		nir := make([]float64, 16)
		red := make([]float64, 16)
		for p := range nir {
			nir[p] = 0.25 * (1 + ndvi)
			red[p] = 0.25 * (1 - ndvi)
		}
		obs[i] = domain.RawObservation{
			ID:         fmt.Sprintf("scene-%02d", i),
			Timestamp:  first.AddDate(0, i, 0),
			CloudCover: 5,
			Bands:      domain.Bands{Width: 4, Height: 4, Bounds: testRegion.Bounds(), NIR: nir, Red: red},
		}
	}
	path := filepath.Join(t.TempDir(), "scenes.json")
	require.NoError(t, imagery.WriteFixture(path, obs))
	return path
}
