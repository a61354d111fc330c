package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/imagery"
	"github.com/couchcryptid/ndvi-trend-service/internal/cache"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	"github.com/couchcryptid/ndvi-trend-service/internal/pipeline"
	"github.com/urfave/cli/v2"
)

// runOutput is the JSON document printed by the run command.
type runOutput struct {
	Fingerprint domain.Fingerprint     `json:"fingerprint"`
	Statistic   domain.RegionStatistic `json:"statistic"`
	Series      domain.TimeSeries      `json:"series"`
	Forecast    *domain.Forecast       `json:"forecast,omitempty"`
	Forecasting string                 `json:"forecast_error,omitempty"`
}

func runCommand() *cli.Command {
	flags := append(regionFlags(), rangeFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "fixture", Aliases: []string{"f"}, Usage: "Path to a JSON scene fixture", Required: true},
		&cli.IntFlag{Name: "horizon", Value: domain.DefaultHorizonMonths, Usage: "Forecast horizon in months"},
		&cli.IntFlag{Name: "min-history", Value: domain.DefaultMinHistory, Usage: "Minimum monthly points before forecasting"},
		&cli.IntFlag{Name: "workers", Value: 4, Usage: "Concurrent scene workers"},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run the pipeline once against a fixture and print the result as JSON",
		Flags: flags,
		Action: func(c *cli.Context) error {
			region, err := regionFromFlags(c)
			if err != nil {
				return err
			}
			dates, err := domain.ParseDateRange(c.String("start"), c.String("end"))
			if err != nil {
				return err
			}
			engine, err := domain.NewForecastEngine(c.Int("min-history"), domain.DefaultConfidence)
			if err != nil {
				return err
			}

			logger, err := newLogger(c)
			if err != nil {
				return err
			}
			svc := pipeline.New(imagery.NewFileSource(c.String("fixture"), logger), cache.New(1), nil, logger,
				observability.NewMetricsForTesting(), pipeline.Options{Workers: c.Int("workers"), Engine: engine})
			svc.Warm(nil)

			result, err := svc.Run(c.Context, pipeline.Request{
				Region:           region,
				Dates:            dates,
				QualityThreshold: c.Float64("quality-threshold"),
				Horizon:          c.Int("horizon"),
			})
			if err != nil {
				return err
			}

			out := runOutput{
				Fingerprint: result.Fingerprint,
				Statistic:   result.Statistic,
				Series:      result.Series,
				Forecast:    result.Forecast,
				Forecasting: result.ForecastError,
			}

			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
}

// newLogger logs to the error writer so stdout carries only the result.
func newLogger(c *cli.Context) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		return nil, fmt.Errorf("%w: log level: %v", domain.ErrConfig, err)
	}
	return slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level})), nil
}
