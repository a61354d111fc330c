package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the calendar-date wire format.
const DateLayout = "2006-01-02"

// RegionSpec is a named bounding box in WGS-84 degrees.
type RegionSpec struct {
	Name  string  `json:"name"`
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// NewRegion validates and returns a RegionSpec. Boxes crossing the
// antimeridian are not supported.
func NewRegion(name string, north, south, east, west float64) (RegionSpec, error) {
	r := RegionSpec{Name: strings.TrimSpace(name), North: north, South: south, East: east, West: west}
	if err := r.Validate(); err != nil {
		return RegionSpec{}, err
	}
	return r, nil
}

// Validate checks north > south and east > west. NaN bounds fail both.
func (r RegionSpec) Validate() error {
	if !(r.North > r.South) {
		return fmt.Errorf("%w: north (%g) must be greater than south (%g)", ErrConfig, r.North, r.South)
	}
	if !(r.East > r.West) {
		return fmt.Errorf("%w: east (%g) must be greater than west (%g)", ErrConfig, r.East, r.West)
	}
	return nil
}

// Contains reports whether a point lies inside the box. The north and east
// edges are exclusive so adjacent boxes never share a pixel.
func (r RegionSpec) Contains(lat, lon float64) bool {
	return lat >= r.South && lat < r.North && lon >= r.West && lon < r.East
}

// Center returns the midpoint of the box.
func (r RegionSpec) Center() (lat, lon float64) {
	return (r.North + r.South) / 2, (r.East + r.West) / 2
}

// Bounds is the footprint of a raster in degrees.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Bounds returns the region box without its name.
func (r RegionSpec) Bounds() Bounds {
	return Bounds{North: r.North, South: r.South, East: r.East, West: r.West}
}

// DateRangeSpec is an inclusive range of UTC calendar dates.
type DateRangeSpec struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange truncates both ends to UTC midnight and checks start <= end.
func NewDateRange(start, end time.Time) (DateRangeSpec, error) {
	d := DateRangeSpec{Start: truncateDay(start), End: truncateDay(end)}
	if err := d.Validate(); err != nil {
		return DateRangeSpec{}, err
	}
	return d, nil
}

// ParseDateRange builds a DateRangeSpec from two YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRangeSpec, error) {
	s, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return DateRangeSpec{}, fmt.Errorf("%w: start date %q: %v", ErrConfig, start, err)
	}
	e, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return DateRangeSpec{}, fmt.Errorf("%w: end date %q: %v", ErrConfig, end, err)
	}
	return NewDateRange(s, e)
}

// LastMonths returns the range covering the given number of months up to
// and including today on the package clock.
func LastMonths(months int) (DateRangeSpec, error) {
	if months <= 0 {
		return DateRangeSpec{}, fmt.Errorf("%w: lookback must be positive, got %d", ErrConfig, months)
	}
	end := truncateDay(Now())
	return NewDateRange(AddMonths(end, -months), end)
}

// Validate checks start <= end.
func (d DateRangeSpec) Validate() error {
	if d.Start.IsZero() || d.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrConfig)
	}
	if d.Start.After(d.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrConfig,
			d.Start.Format(DateLayout), d.End.Format(DateLayout))
	}
	return nil
}

// Contains reports whether t falls on a date inside the range.
func (d DateRangeSpec) Contains(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(d.Start) && !day.After(d.End)
}

func (d DateRangeSpec) String() string {
	return d.Start.Format(DateLayout) + ".." + d.End.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AddMonths moves t by n calendar months, clamping the day to the last day
// of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// metresPerDegree is the length of one degree of latitude.
const metresPerDegree = 111_320.0

func degToMetresLon(deg, lat float64) float64 {
	return deg * metresPerDegree * math.Cos(lat*math.Pi/180)
}
