package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// TimeSeriesPoint is one calendar date of the series. A nil Value marks a
// revisit gap: scenes existed for the date but none had usable pixels.
type TimeSeriesPoint struct {
	Date                  time.Time `json:"date"`
	Value                 *float64  `json:"value"`
	Samples               int       `json:"samples"`
	Observations          int       `json:"observations"`
	LowVegetationFraction float64   `json:"low_vegetation_fraction,omitempty"`
}

// Absent reports whether the point carries no value.
func (p TimeSeriesPoint) Absent() bool { return p.Value == nil }

// TimeSeries is strictly ascending by date with at most one point per date.
type TimeSeries []TimeSeriesPoint

// Clone returns a deep copy so callers cannot alias cached values.
func (s TimeSeries) Clone() TimeSeries {
	if s == nil {
		return nil
	}
	out := make(TimeSeries, len(s))
	for i, p := range s {
		out[i] = p
		if p.Value != nil {
			v := *p.Value
			out[i].Value = &v
		}
	}
	return out
}

// ValidCount returns the number of non-absent points.
func (s TimeSeries) ValidCount() int {
	n := 0
	for _, p := range s {
		if !p.Absent() {
			n++
		}
	}
	return n
}

// Last returns the final point, or false for an empty series.
func (s TimeSeries) Last() (TimeSeriesPoint, bool) {
	if len(s) == 0 {
		return TimeSeriesPoint{}, false
	}
	return s[len(s)-1], true
}

// ObservationResult is the per-scene outcome of index computation and
// reduction. Err is set for scenes that produced no statistic.
type ObservationResult struct {
	ObservationID string
	Date          time.Time
	Statistic     RegionStatistic
	Err           error
}

// MeasureObservation computes and reduces the index for one scene. Invalid
// band data and empty samples are recorded on the result rather than
// returned, so one bad scene leaves a gap instead of failing the run.
func MeasureObservation(obs RawObservation, region RegionSpec, reducer Reducer) ObservationResult {
	res := ObservationResult{ObservationID: obs.ID, Date: obs.Date()}

	raster, err := ComputeNDVI(obs.Bands)
	if err != nil {
		res.Err = err
		return res
	}
	stat, err := reducer.Reduce(raster, region)
	if err != nil {
		res.Err = err
		return res
	}
	res.Statistic = stat
	return res
}

// Gap reports whether the result should become an absent point.
func (r ObservationResult) Gap() bool {
	return errors.Is(r.Err, ErrInsufficientSamples) || errors.Is(r.Err, ErrInvalidBandData)
}

// BuildSeries merges per-scene results into a TimeSeries keyed by calendar
// date. Same-date means are averaged; dates with only failed scenes become
// absent points. The output does not depend on the order of results.
func BuildSeries(results []ObservationResult) (TimeSeries, error) {
	if len(results) == 0 {
		return nil, ErrNoObservations
	}

	byDate := make(map[time.Time][]ObservationResult)
	for _, r := range results {
		if r.Err != nil && !r.Gap() {
			return nil, fmt.Errorf("observation %s: %w", r.ObservationID, r.Err)
		}
		day := truncateDay(r.Date)
		byDate[day] = append(byDate[day], r)
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	series := make(TimeSeries, 0, len(dates))
	for _, d := range dates {
		series = append(series, mergeDay(d, byDate[d]))
	}
	return series, nil
}

func mergeDay(day time.Time, group []ObservationResult) TimeSeriesPoint {
	valid := make([]RegionStatistic, 0, len(group))
	for _, r := range group {
		if r.Err == nil {
			valid = append(valid, r.Statistic)
		}
	}

	point := TimeSeriesPoint{Date: day, Observations: len(group)}
	if len(valid) == 0 {
		return point
	}

	// Fixed summation order keeps float results identical across arrival orders.
	sort.Slice(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if a.Mean != b.Mean {
			return a.Mean < b.Mean
		}
		if a.ValidSampleCount != b.ValidSampleCount {
			return a.ValidSampleCount < b.ValidSampleCount
		}
		return a.LowVegetationFraction < b.LowVegetationFraction
	})

	var sum, lowWeighted float64
	for _, s := range valid {
		sum += s.Mean
		point.Samples += s.ValidSampleCount
		lowWeighted += s.LowVegetationFraction * float64(s.ValidSampleCount)
	}
	mean := sum / float64(len(valid))
	point.Value = &mean
	if point.Samples > 0 {
		point.LowVegetationFraction = lowWeighted / float64(point.Samples)
	}
	return point
}

// Summarize computes the run-level statistic over the non-absent values of
// a series: mean and population standard deviation of the per-date values,
// with sample counts and low-vegetation share weighted by pixel samples.
func Summarize(series TimeSeries) (RegionStatistic, error) {
	values := make([]float64, 0, len(series))
	samples := 0
	var lowWeighted float64
	for _, p := range series {
		if p.Absent() {
			continue
		}
		values = append(values, *p.Value)
		samples += p.Samples
		lowWeighted += p.LowVegetationFraction * float64(p.Samples)
	}
	if len(values) == 0 {
		return RegionStatistic{}, fmt.Errorf("%w: every date in the series is a gap", ErrInsufficientSamples)
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return RegionStatistic{}, fmt.Errorf("summarize mean: %w", err)
	}
	sd, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return RegionStatistic{}, fmt.Errorf("summarize std dev: %w", err)
	}

	stat := RegionStatistic{Mean: mean, StdDev: sd, ValidSampleCount: samples}
	if samples > 0 {
		stat.LowVegetationFraction = lowWeighted / float64(samples)
	}
	return stat, nil
}
