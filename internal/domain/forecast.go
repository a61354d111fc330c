package domain

import (
	"fmt"
	"math"
	"time"
)

// Forecast policy limits.
const (
	MinHorizonMonths      = 1
	MaxHorizonMonths      = 60
	DefaultHorizonMonths  = 12
	DefaultMinHistory     = 12
	DefaultConfidence     = 0.95
	seasonalMinSpanMonths = 24
	seasonalMinDOF        = 2
)

// z-scores for the supported two-sided prediction intervals.
var zScores = map[float64]float64{
	0.80: 1.2816,
	0.90: 1.6449,
	0.95: 1.9600,
	0.99: 2.5758,
}

// ForecastPoint is one extrapolated month.
type ForecastPoint struct {
	Date      time.Time `json:"date"`
	Predicted float64   `json:"predicted"`
	Lower     float64   `json:"lower_bound"`
	Upper     float64   `json:"upper_bound"`
}

// ModelSummary describes the fitted model.
type ModelSummary struct {
	Kind           string  `json:"kind"` // "linear" or "linear+seasonal"
	Intercept      float64 `json:"intercept"`
	SlopePerMonth  float64 `json:"slope_per_month"`
	ResidualStdDev float64 `json:"residual_std_dev"`
	FittedPoints   int     `json:"fitted_points"`
	Confidence     float64 `json:"confidence"`
}

// Forecast pairs the full history, gaps included, with future points.
type Forecast struct {
	History TimeSeries      `json:"history"`
	Future  []ForecastPoint `json:"future"`
	Model   ModelSummary    `json:"model"`
}

// Horizon returns the number of future points.
func (f Forecast) Horizon() int { return len(f.Future) }

// Truncate returns a copy limited to the first n future points.
func (f Forecast) Truncate(n int) Forecast {
	if n > len(f.Future) {
		n = len(f.Future)
	}
	out := f.Clone()
	out.Future = out.Future[:n]
	return out
}

// Clone returns a deep copy.
func (f Forecast) Clone() Forecast {
	out := Forecast{History: f.History.Clone(), Model: f.Model}
	if f.Future != nil {
		out.Future = append([]ForecastPoint(nil), f.Future...)
	}
	return out
}

// ForecastEngine fits trend plus seasonality and extrapolates monthly.
type ForecastEngine struct {
	MinHistory int
	Confidence float64
}

// NewForecastEngine returns an engine, applying defaults for zero values.
func NewForecastEngine(minHistory int, confidence float64) (ForecastEngine, error) {
	if minHistory <= 0 {
		minHistory = DefaultMinHistory
	}
	if confidence == 0 {
		confidence = DefaultConfidence
	}
	if _, ok := zScores[confidence]; !ok {
		return ForecastEngine{}, fmt.Errorf("%w: unsupported confidence level %g", ErrConfig, confidence)
	}
	return ForecastEngine{MinHistory: minHistory, Confidence: confidence}, nil
}

// ValidateHorizon checks the horizon is within [MinHorizonMonths, MaxHorizonMonths].
func ValidateHorizon(months int) error {
	if months < MinHorizonMonths || months > MaxHorizonMonths {
		return fmt.Errorf("%w: horizon must be between %d and %d months, got %d",
			ErrConfig, MinHorizonMonths, MaxHorizonMonths, months)
	}
	return nil
}

type sample struct {
	t     float64
	y     float64
	month time.Month
}

// Forecast fits the series and extrapolates horizon months past its last
// date. Absent points are skipped during fitting but kept in History.
func (e ForecastEngine) Forecast(series TimeSeries, horizon int) (Forecast, error) {
	if err := ValidateHorizon(horizon); err != nil {
		return Forecast{}, err
	}
	minHistory := e.MinHistory
	if minHistory <= 0 {
		minHistory = DefaultMinHistory
	}
	z, ok := zScores[e.Confidence]
	if !ok {
		z = zScores[DefaultConfidence]
	}

	if valid := series.ValidCount(); valid < minHistory {
		return Forecast{}, fmt.Errorf("%w: %d valid points, need at least %d", ErrInsufficientHistory, valid, minHistory)
	}

	last, _ := series.Last()
	origin := series[0].Date
	samples := make([]sample, 0, len(series))
	for _, p := range series {
		if p.Absent() {
			continue
		}
		samples = append(samples, sample{t: monthOffset(origin, p.Date), y: *p.Value, month: p.Date.Month()})
	}

	fit, err := fitModel(samples)
	if err != nil {
		return Forecast{}, err
	}

	future := make([]ForecastPoint, horizon)
	for k := 1; k <= horizon; k++ {
		d := AddMonths(last.Date, k)
		t := monthOffset(origin, d)
		pred := fit.predict(t, d.Month())
		half := z * fit.halfWidth(t, d.Month())
		if math.IsNaN(pred) || math.IsInf(half, 0) || math.IsNaN(half) {
			return Forecast{}, fmt.Errorf("%w: non-finite prediction at %s", ErrModelFit, d.Format(DateLayout))
		}
		future[k-1] = ForecastPoint{
			Date:      d,
			Predicted: clampIndex(pred),
			Lower:     clampIndex(pred - half),
			Upper:     clampIndex(pred + half),
		}
	}

	kind := "linear"
	if fit.seasonal {
		kind = "linear+seasonal"
	}
	return Forecast{
		History: series.Clone(),
		Future:  future,
		Model: ModelSummary{
			Kind:           kind,
			Intercept:      fit.intercept,
			SlopePerMonth:  fit.slope,
			ResidualStdDev: fit.sigma,
			FittedPoints:   len(samples),
			Confidence:     e.Confidence,
		},
	}, nil
}

type modelFit struct {
	intercept float64
	slope     float64
	sigma     float64
	n         float64
	tMean     float64
	sxx       float64

	// Seasonal model: one level per observed calendar month sharing a slope.
	seasonal bool
	level    [12]float64
	monthN   [12]float64
	monthT   [12]float64
}

func (m modelFit) predict(t float64, month time.Month) float64 {
	if m.seasonal && m.monthN[month-1] > 0 {
		return m.level[month-1] + m.slope*t
	}
	return m.intercept + m.slope*t
}

// halfWidth returns the standard-error multiplier of a new observation at t.
func (m modelFit) halfWidth(t float64, month time.Month) float64 {
	if m.seasonal && m.monthN[month-1] > 0 {
		dt := t - m.monthT[month-1]
		return m.sigma * math.Sqrt(1+1/m.monthN[month-1]+dt*dt/m.sxx)
	}
	dt := t - m.tMean
	return m.sigma * math.Sqrt(1+1/m.n+dt*dt/m.sxx)
}

// fitModel runs ordinary least squares for a linear trend. When the history
// spans two years it instead fits a level per calendar month with a shared
// slope (the within-month regression), which keeps seasonality from
// leaking into the trend.
func fitModel(samples []sample) (modelFit, error) {
	n := float64(len(samples))
	if len(samples) < 3 {
		return modelFit{}, fmt.Errorf("%w: %d points cannot support a trend with error band", ErrModelFit, len(samples))
	}

	fit, err := fitLinear(samples)
	if err != nil {
		return modelFit{}, err
	}

	params := 2
	if span := samples[len(samples)-1].t - samples[0].t; span >= seasonalMinSpanMonths {
		if seasonal, months, ok := fitSeasonal(samples); ok && len(samples)-(months+1) >= seasonalMinDOF {
			fit = seasonal
			params = months + 1
		}
	}

	dof := len(samples) - params
	if dof <= 0 {
		return modelFit{}, fmt.Errorf("%w: %d points for %d parameters", ErrModelFit, len(samples), params)
	}

	var sse float64
	for _, s := range samples {
		r := s.y - fit.predict(s.t, s.month)
		sse += r * r
	}
	fit.n = n
	fit.sigma = math.Sqrt(sse / float64(dof))

	if !finite(fit.slope) || !finite(fit.intercept) || !finite(fit.sigma) {
		return modelFit{}, fmt.Errorf("%w: non-finite coefficients", ErrModelFit)
	}
	return fit, nil
}

func fitLinear(samples []sample) (modelFit, error) {
	n := float64(len(samples))
	var tSum, ySum float64
	for _, s := range samples {
		tSum += s.t
		ySum += s.y
	}
	tMean, yMean := tSum/n, ySum/n

	var sxx, sxy float64
	for _, s := range samples {
		dt := s.t - tMean
		sxx += dt * dt
		sxy += dt * (s.y - yMean)
	}
	if sxx == 0 || !finite(sxx) {
		return modelFit{}, fmt.Errorf("%w: observations have no time spread", ErrModelFit)
	}

	slope := sxy / sxx
	return modelFit{
		intercept: yMean - slope*tMean,
		slope:     slope,
		tMean:     tMean,
		sxx:       sxx,
	}, nil
}

// fitSeasonal solves y = level[month] + slope*t by regressing on deviations
// from each month's mean. It returns false when the months carry no
// within-month time spread.
func fitSeasonal(samples []sample) (modelFit, int, bool) {
	var fit modelFit
	var ySum, tSum [12]float64
	for _, s := range samples {
		i := s.month - 1
		fit.monthN[i]++
		tSum[i] += s.t
		ySum[i] += s.y
	}

	var yMean [12]float64
	months := 0
	for i := range fit.monthN {
		if fit.monthN[i] == 0 {
			continue
		}
		fit.monthT[i] = tSum[i] / fit.monthN[i]
		yMean[i] = ySum[i] / fit.monthN[i]
		months++
	}

	var sxx, sxy float64
	for _, s := range samples {
		i := s.month - 1
		dt := s.t - fit.monthT[i]
		sxx += dt * dt
		sxy += dt * (s.y - yMean[i])
	}
	if sxx == 0 || !finite(sxx) {
		return modelFit{}, 0, false
	}

	fit.slope = sxy / sxx
	fit.sxx = sxx
	var levelSum, tAll float64
	for i := range fit.monthN {
		if fit.monthN[i] == 0 {
			continue
		}
		fit.level[i] = yMean[i] - fit.slope*fit.monthT[i]
		levelSum += fit.level[i]
	}
	for _, s := range samples {
		tAll += s.t
	}
	fit.intercept = levelSum / float64(months)
	fit.tMean = tAll / float64(len(samples))
	fit.seasonal = true
	return fit, months, true
}

// monthOffset measures the distance from origin to t in fractional months.
func monthOffset(origin, t time.Time) float64 {
	return monthIndex(t) - monthIndex(origin)
}

func monthIndex(t time.Time) float64 {
	t = t.UTC()
	daysInMonth := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return float64(t.Year()*12+int(t.Month())-1) + float64(t.Day()-1)/float64(daysInMonth)
}

func clampIndex(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
