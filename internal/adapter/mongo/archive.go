// Package mongo archives completed results and reloads them on start.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const collectionName = "results"

// Archive stores one document per fingerprint, replaced on every publish.
// It implements pipeline.ResultSink.
type Archive struct {
	client  *mongo.Client
	results *mongo.Collection
	logger  *slog.Logger
}

// Connect opens the archive and ensures its indexes.
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*Archive, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	a := &Archive{
		client:  client,
		results: client.Database(database).Collection(collectionName),
		logger:  logger,
	}
	if _, err := a.results.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "completedAt", Value: -1}},
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create index: %w", err)
	}
	return a, nil
}

// Name identifies the sink in logs and metrics.
func (a *Archive) Name() string { return "mongo" }

// Publish upserts the result document for its fingerprint.
func (a *Archive) Publish(ctx context.Context, result *domain.PipelineResult) error {
	doc := toDocument(result)
	_, err := a.results.ReplaceOne(ctx, bson.M{"_id": doc.Fingerprint}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive result %s: %w", result.Fingerprint, err)
	}
	return nil
}

// Recent returns up to limit archived results, newest first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]*domain.PipelineResult, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "completedAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := a.results.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find results: %w", err)
	}
	var docs []resultDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}

	out := make([]*domain.PipelineResult, 0, len(docs))
	for i := range docs {
		r, err := fromDocument(docs[i])
		if err != nil {
			a.logger.Warn("skipping unreadable archived result", "fingerprint", docs[i].Fingerprint, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// CheckReadiness pings the primary.
func (a *Archive) CheckReadiness(ctx context.Context) error {
	return a.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (a *Archive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

// Stored document shapes.

type resultDocument struct {
	Fingerprint      string            `bson:"_id"`
	RunID            string            `bson:"runId"`
	Region           regionDocument    `bson:"region"`
	Start            time.Time         `bson:"start"`
	End              time.Time         `bson:"end"`
	QualityThreshold float64           `bson:"qualityThreshold"`
	Statistic        statisticDocument `bson:"statistic"`
	Series           []pointDocument   `bson:"series"`
	Forecast         *forecastDocument `bson:"forecast,omitempty"`
	ForecastError    string            `bson:"forecastError,omitempty"`
	ForecastReason   string            `bson:"forecastReason,omitempty"`
	Observations     int               `bson:"observations"`
	CompletedAt      time.Time         `bson:"completedAt"`
}

type regionDocument struct {
	Name  string  `bson:"name"`
	North float64 `bson:"north"`
	South float64 `bson:"south"`
	East  float64 `bson:"east"`
	West  float64 `bson:"west"`
}

type statisticDocument struct {
	Mean                  float64 `bson:"mean"`
	StdDev                float64 `bson:"stdDev"`
	ValidSampleCount      int     `bson:"validSampleCount"`
	LowVegetationFraction float64 `bson:"lowVegetationFraction"`
}

type pointDocument struct {
	Date                  time.Time `bson:"date"`
	Value                 *float64  `bson:"value"`
	Samples               int       `bson:"samples"`
	Observations          int       `bson:"observations"`
	LowVegetationFraction float64   `bson:"lowVegetationFraction"`
}

type forecastDocument struct {
	Future []futureDocument `bson:"future"`
	Model  modelDocument    `bson:"model"`
}

type futureDocument struct {
	Date      time.Time `bson:"date"`
	Predicted float64   `bson:"predicted"`
	Lower     float64   `bson:"lower"`
	Upper     float64   `bson:"upper"`
}

type modelDocument struct {
	Kind           string  `bson:"kind"`
	Intercept      float64 `bson:"intercept"`
	SlopePerMonth  float64 `bson:"slopePerMonth"`
	ResidualStdDev float64 `bson:"residualStdDev"`
	FittedPoints   int     `bson:"fittedPoints"`
	Confidence     float64 `bson:"confidence"`
}

func toDocument(r *domain.PipelineResult) resultDocument {
	doc := resultDocument{
		Fingerprint: string(r.Fingerprint),
		RunID:       r.RunID,
		Region: regionDocument{
			Name: r.Region.Name, North: r.Region.North, South: r.Region.South,
			East: r.Region.East, West: r.Region.West,
		},
		Start:            r.DateRange.Start,
		End:              r.DateRange.End,
		QualityThreshold: r.QualityThreshold,
		Statistic: statisticDocument{
			Mean:                  r.Statistic.Mean,
			StdDev:                r.Statistic.StdDev,
			ValidSampleCount:      r.Statistic.ValidSampleCount,
			LowVegetationFraction: r.Statistic.LowVegetationFraction,
		},
		Series:         make([]pointDocument, len(r.Series)),
		ForecastError:  r.ForecastError,
		ForecastReason: r.ForecastReason,
		Observations:   r.Observations,
		CompletedAt:    r.CompletedAt,
	}
	for i, p := range r.Series {
		doc.Series[i] = pointDocument{
			Date: p.Date, Value: p.Value, Samples: p.Samples,
			Observations: p.Observations, LowVegetationFraction: p.LowVegetationFraction,
		}
	}
	if r.Forecast != nil {
		f := &forecastDocument{
			Future: make([]futureDocument, len(r.Forecast.Future)),
			Model: modelDocument{
				Kind:           r.Forecast.Model.Kind,
				Intercept:      r.Forecast.Model.Intercept,
				SlopePerMonth:  r.Forecast.Model.SlopePerMonth,
				ResidualStdDev: r.Forecast.Model.ResidualStdDev,
				FittedPoints:   r.Forecast.Model.FittedPoints,
				Confidence:     r.Forecast.Model.Confidence,
			},
		}
		for i, p := range r.Forecast.Future {
			f.Future[i] = futureDocument{Date: p.Date, Predicted: p.Predicted, Lower: p.Lower, Upper: p.Upper}
		}
		doc.Forecast = f
	}
	return doc
}

// fromDocument rebuilds a result. The stored fingerprint must match the
// one recomputed from the stored request.
func fromDocument(doc resultDocument) (*domain.PipelineResult, error) {
	r := &domain.PipelineResult{
		RunID:       doc.RunID,
		Fingerprint: domain.Fingerprint(doc.Fingerprint),
		Region: domain.RegionSpec{
			Name: doc.Region.Name, North: doc.Region.North, South: doc.Region.South,
			East: doc.Region.East, West: doc.Region.West,
		},
		DateRange:        domain.DateRangeSpec{Start: doc.Start.UTC(), End: doc.End.UTC()},
		QualityThreshold: doc.QualityThreshold,
		Statistic: domain.RegionStatistic{
			Mean:                  doc.Statistic.Mean,
			StdDev:                doc.Statistic.StdDev,
			ValidSampleCount:      doc.Statistic.ValidSampleCount,
			LowVegetationFraction: doc.Statistic.LowVegetationFraction,
		},
		Series:         make(domain.TimeSeries, len(doc.Series)),
		ForecastError:  doc.ForecastError,
		ForecastReason: doc.ForecastReason,
		Observations:   doc.Observations,
		CompletedAt:    doc.CompletedAt.UTC(),
	}
	if want := domain.NewFingerprint(r.Region, r.DateRange, r.QualityThreshold); want != r.Fingerprint {
		return nil, fmt.Errorf("fingerprint mismatch: stored %s, computed %s", r.Fingerprint, want)
	}
	for i, p := range doc.Series {
		r.Series[i] = domain.TimeSeriesPoint{
			Date: p.Date.UTC(), Value: p.Value, Samples: p.Samples,
			Observations: p.Observations, LowVegetationFraction: p.LowVegetationFraction,
		}
	}
	if doc.Forecast != nil {
		f := &domain.Forecast{
			History: r.Series.Clone(),
			Future:  make([]domain.ForecastPoint, len(doc.Forecast.Future)),
			Model: domain.ModelSummary{
				Kind:           doc.Forecast.Model.Kind,
				Intercept:      doc.Forecast.Model.Intercept,
				SlopePerMonth:  doc.Forecast.Model.SlopePerMonth,
				ResidualStdDev: doc.Forecast.Model.ResidualStdDev,
				FittedPoints:   doc.Forecast.Model.FittedPoints,
				Confidence:     doc.Forecast.Model.Confidence,
			},
		}
		for i, p := range doc.Forecast.Future {
			f.Future[i] = domain.ForecastPoint{Date: p.Date.UTC(), Predicted: p.Predicted, Lower: p.Lower, Upper: p.Upper}
		}
		r.Forecast = f
	}
	return r, nil
}
