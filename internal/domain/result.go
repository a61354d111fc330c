package domain

import "time"

// PipelineResult is the immutable output of one completed run. It is
// published to the cache as a whole and never modified afterwards.
type PipelineResult struct {
	RunID            string          `json:"run_id"`
	Fingerprint      Fingerprint     `json:"fingerprint"`
	Region           RegionSpec      `json:"region"`
	DateRange        DateRangeSpec   `json:"date_range"`
	QualityThreshold float64         `json:"quality_threshold"`
	Statistic        RegionStatistic `json:"statistic"`
	Series           TimeSeries      `json:"series"`
	Forecast         *Forecast       `json:"forecast,omitempty"`

	// ForecastError explains a missing forecast (insufficient history or a
	// failed fit); ForecastReason is its machine-readable code.
	ForecastError  string `json:"forecast_error,omitempty"`
	ForecastReason string `json:"forecast_reason,omitempty"`

	Observations int       `json:"observations"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Clone returns a deep copy, used when handing results to code outside the
// cache.
func (r *PipelineResult) Clone() *PipelineResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Series = r.Series.Clone()
	if r.Forecast != nil {
		f := r.Forecast.Clone()
		out.Forecast = &f
	}
	return &out
}
