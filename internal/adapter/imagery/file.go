package imagery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
)

// FileSource serves scenes from a JSON fixture with the same shape as the
// catalogue response. Scenes are filtered by footprint, date, and cloud
// cover the way the catalogue filters them.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a source reading path on every Fetch, so the
// fixture can be edited while the service runs.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Fetch implements pipeline.ImageCollectionSource.
func (s *FileSource) Fetch(ctx context.Context, region domain.RegionSpec, dates domain.DateRangeSpec, qualityThreshold float64) ([]domain.RawObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := LoadFixture(s.path)
	if err != nil {
		return nil, &domain.DataSourceError{Op: "read fixture", Permanent: true, Err: err}
	}

	out := make([]domain.RawObservation, 0, len(all))
	for _, o := range all {
		if !dates.Contains(o.Timestamp) || o.CloudCover >= qualityThreshold || !overlaps(o.Bands.Bounds, region) {
			continue
		}
		out = append(out, o)
	}
	s.logger.Debug("fixture scenes selected", "path", s.path, "total", len(all), "selected", len(out))
	if len(out) == 0 {
		return nil, domain.ErrNoObservations
	}
	return out, nil
}

// LoadFixture decodes a catalogue-shaped JSON file.
func LoadFixture(path string) ([]domain.RawObservation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return r.Observations, nil
}

// WriteFixture encodes scenes in the catalogue shape.
func WriteFixture(path string, obs []domain.RawObservation) error {
	data, err := json.MarshalIndent(response{Observations: obs}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func overlaps(b domain.Bounds, r domain.RegionSpec) bool {
	return b.West < r.East && b.East > r.West && b.South < r.North && b.North > r.South
}
