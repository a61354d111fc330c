package domain

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// Reduction defaults, matching the Landsat resolution used upstream.
const (
	DefaultScaleMetres    = 30.0
	DefaultMaxPixels      = 1_000_000
	DefaultAlertThreshold = 0.2
)

// RegionStatistic summarises unmasked index values over a region.
type RegionStatistic struct {
	Mean             float64 `json:"mean"`
	StdDev           float64 `json:"std_dev"`
	ValidSampleCount int     `json:"valid_sample_count"`

	// LowVegetationFraction is the share of valid samples below the alert
	// threshold (possible clearing or degradation).
	LowVegetationFraction float64 `json:"low_vegetation_fraction"`
}

// Reducer aggregates an IndexRaster over a region on a deterministic
// sampling grid.
type Reducer struct {
	Scale          float64 // sampling resolution in metres
	MaxPixels      int     // cap on sampled pixels
	AlertThreshold float64 // NDVI below this counts as low vegetation
}

// NewReducer returns a Reducer, substituting defaults for non-positive values.
func NewReducer(scale float64, maxPixels int, alertThreshold float64) Reducer {
	if scale <= 0 {
		scale = DefaultScaleMetres
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return Reducer{Scale: scale, MaxPixels: maxPixels, AlertThreshold: alertThreshold}
}

// Reduce computes mean, population standard deviation and the valid sample
// count over raster pixels whose centres fall inside region.
func (rd Reducer) Reduce(raster IndexRaster, region RegionSpec) (RegionStatistic, error) {
	xs, ys := pixelWindow(raster, region)
	if len(xs) == 0 || len(ys) == 0 {
		return RegionStatistic{}, fmt.Errorf("%w: raster does not overlap region %q", ErrInsufficientSamples, region.Name)
	}

	stride := rd.stride(raster, len(xs), len(ys))

	values := make([]float64, 0, sampledLen(len(xs), stride)*sampledLen(len(ys), stride))
	low := 0
	for j := 0; j < len(ys); j += stride {
		for i := 0; i < len(xs); i += stride {
			v := raster.At(xs[i], ys[j])
			if math.IsNaN(v) {
				continue
			}
			if v < rd.AlertThreshold {
				low++
			}
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		return RegionStatistic{}, fmt.Errorf("%w: every sampled pixel is masked", ErrInsufficientSamples)
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return RegionStatistic{}, fmt.Errorf("reduce mean: %w", err)
	}
	sd, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return RegionStatistic{}, fmt.Errorf("reduce std dev: %w", err)
	}

	return RegionStatistic{
		Mean:                  mean,
		StdDev:                sd,
		ValidSampleCount:      len(values),
		LowVegetationFraction: float64(low) / float64(len(values)),
	}, nil
}

// stride converts the sampling scale into a pixel step, then widens it until
// the sampled grid fits under MaxPixels.
func (rd Reducer) stride(raster IndexRaster, nx, ny int) int {
	stride := 1
	if native := nativePixelMetres(raster); native > 0 && rd.Scale > native {
		stride = int(math.Round(rd.Scale / native))
	}
	if rd.MaxPixels <= 0 {
		return stride
	}

	count := sampledLen(nx, stride) * sampledLen(ny, stride)
	if count > rd.MaxPixels {
		stride *= int(math.Ceil(math.Sqrt(float64(count) / float64(rd.MaxPixels))))
	}
	for sampledLen(nx, stride)*sampledLen(ny, stride) > rd.MaxPixels {
		stride++
	}
	return stride
}

func sampledLen(n, stride int) int {
	return (n + stride - 1) / stride
}

// pixelWindow returns the column and row indices whose pixel centres fall
// inside region.
func pixelWindow(raster IndexRaster, region RegionSpec) (xs, ys []int) {
	b := raster.Bounds
	if raster.Width <= 0 || raster.Height <= 0 || !(b.North > b.South) || !(b.East > b.West) {
		return nil, nil
	}
	dLon := (b.East - b.West) / float64(raster.Width)
	dLat := (b.North - b.South) / float64(raster.Height)

	for x := 0; x < raster.Width; x++ {
		lon := b.West + (float64(x)+0.5)*dLon
		if lon >= region.West && lon < region.East {
			xs = append(xs, x)
		}
	}
	for y := 0; y < raster.Height; y++ {
		lat := b.North - (float64(y)+0.5)*dLat
		if lat >= region.South && lat < region.North {
			ys = append(ys, y)
		}
	}
	return xs, ys
}

// nativePixelMetres is the geometric mean of a pixel's ground width and height.
func nativePixelMetres(raster IndexRaster) float64 {
	b := raster.Bounds
	midLat := (b.North + b.South) / 2
	h := (b.North - b.South) / float64(raster.Height) * metresPerDegree
	w := degToMetresLon((b.East-b.West)/float64(raster.Width), midLat)
	if h <= 0 || w <= 0 {
		return 0
	}
	return math.Sqrt(h * w)
}
