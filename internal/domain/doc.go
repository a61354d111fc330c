// Package domain models vegetation-index (NDVI) monitoring of a bounded region.
//
// # Imagery
//
// Each observation is one scene clipped to a bounding box, carrying two
// co-registered reflectance bands laid out row-major from the north-west
// corner:
//
//	NIR  near-infrared (Landsat 8 band 5, Sentinel-2 band 8)
//	Red  visible red   (Landsat 8 band 4, Sentinel-2 band 4)
//
// Scenes are pre-filtered by the imagery source on scene-level cloud cover
// ("quality threshold", in percent). Reflectance values may be scaled
// integers or unit floats; the index is a ratio so the scale cancels out.
//
// # Index
//
// NDVI = (NIR - Red) / (NIR + Red). Valid values lie in [-1, 1]; bare soil sits
// near 0.1-0.2 and dense canopy above 0.6. Pixels are masked (NaN) when the
// denominator is zero, an input is not finite, or the ratio leaves [-1, 1]
// (negative reflectance from bad calibration). See [ComputeNDVI].
//
// # Reduction
//
// A raster is reduced to a [RegionStatistic] by sampling pixel centres that
// fall inside the region on a fixed grid. The grid stride follows the
// requested scale in metres (30 m by default, the Landsat resolution) and is
// widened until the sample count fits under the pixel cap. The grid is fixed,
// so the same input always produces the same sample. See [Reducer].
//
// # Series
//
// Observations arrive unordered and sometimes several per day (overlapping
// paths). [BuildSeries] keys them by UTC calendar date, averages valid means
// on the same date, and keeps dates with no usable pixels as absent points
// ("revisit gaps") so plots and forecasts see the real cadence.
//
// # Forecast
//
// [ForecastEngine] fits a least-squares linear trend over a fractional month
// index. Once two years of history exist it fits one level per calendar month
// with a shared slope instead, and extrapolates in calendar-month steps with a
// 95% prediction interval.
// Absent points never enter the fit.
//
// # Fingerprints
//
// A [Fingerprint] is a truncated SHA-256 of the normalised region, date range
// and quality threshold, so identical requests share one cached result.
package domain
