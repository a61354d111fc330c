package domain

import (
	"fmt"
	"math"
)

// IndexRaster is a per-pixel NDVI grid. Masked pixels hold NaN.
type IndexRaster struct {
	Width  int
	Height int
	Bounds Bounds
	Values []float64
}

// At returns the value at column x, row y.
func (r IndexRaster) At(x, y int) float64 {
	return r.Values[y*r.Width+x]
}

// ValidCount returns the number of unmasked pixels.
func (r IndexRaster) ValidCount() int {
	n := 0
	for _, v := range r.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// ComputeNDVI derives the normalized difference vegetation index from the
// NIR and red bands. Pixels with a zero denominator, non-finite input, or a
// ratio outside [-1, 1] are masked.
func ComputeNDVI(b Bands) (IndexRaster, error) {
	if b.Width <= 0 || b.Height <= 0 {
		return IndexRaster{}, fmt.Errorf("%w: non-positive shape %dx%d", ErrInvalidBandData, b.Width, b.Height)
	}
	n := b.Width * b.Height
	if len(b.NIR) != n || len(b.Red) != n {
		return IndexRaster{}, fmt.Errorf("%w: shape %dx%d wants %d pixels, got nir=%d red=%d",
			ErrInvalidBandData, b.Width, b.Height, n, len(b.NIR), len(b.Red))
	}

	values := make([]float64, n)
	for i := range values {
		values[i] = normalizedDifference(b.NIR[i], b.Red[i])
	}

	return IndexRaster{
		Width:  b.Width,
		Height: b.Height,
		Bounds: b.Bounds,
		Values: values,
	}, nil
}

func normalizedDifference(nir, red float64) float64 {
	sum := nir + red
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return math.NaN()
	}
	v := (nir - red) / sum
	if math.IsNaN(v) || v < -1 || v > 1 {
		return math.NaN()
	}
	return v
}
