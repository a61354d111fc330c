package pipeline

import (
	"context"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
)

// ImageCollectionSource returns the scenes covering a region and date range
// whose cloud cover is below qualityThreshold percent.
type ImageCollectionSource interface {
	Fetch(ctx context.Context, region domain.RegionSpec, dates domain.DateRangeSpec, qualityThreshold float64) ([]domain.RawObservation, error)
}

// ResultSink receives every result after it is published to the cache.
// Sink failures are logged and never fail the run.
type ResultSink interface {
	Name() string
	Publish(ctx context.Context, result *domain.PipelineResult) error
}
