package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegion(t *testing.T) {
	tests := []struct {
		name                     string
		north, south, east, west float64
		wantErr                  bool
	}{
		{name: "valid", north: 19, south: 18, east: 73, west: 72},
		{name: "negative coordinates", north: -10, south: -11, east: -50, west: -51},
		{name: "north equals south", north: 18, south: 18, east: 73, west: 72, wantErr: true},
		{name: "north below south", north: 17, south: 18, east: 73, west: 72, wantErr: true},
		{name: "east equals west", north: 19, south: 18, east: 72, west: 72, wantErr: true},
		{name: "east below west", north: 19, south: 18, east: 71, west: 72, wantErr: true},
		{name: "NaN bound", north: math.NaN(), south: 18, east: 73, west: 72, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegion(" Pune ", tt.north, tt.south, tt.east, tt.west)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Pune", r.Name)
		})
	}
}

func TestRegion_Contains(t *testing.T) {
	r := RegionSpec{North: 19, South: 18, East: 73, West: 72}
	assert.True(t, r.Contains(18.5, 72.5))
	assert.True(t, r.Contains(18, 72), "south-west corner is inclusive")
	assert.False(t, r.Contains(19, 72.5), "north edge is exclusive")
	assert.False(t, r.Contains(18.5, 73), "east edge is exclusive")
}

func TestNewDateRange(t *testing.T) {
	start := time.Date(2023, 1, 1, 15, 30, 0, 0, time.UTC)
	end := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	d, err := NewDateRange(start, end)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), d.Start)
	assert.Equal(t, "2023-01-01..2023-03-01", d.String())

	_, err = NewDateRange(end, start)
	require.ErrorIs(t, err, ErrConfig)

	same, err := NewDateRange(start, start.Add(time.Hour))
	require.NoError(t, err, "single-day range is valid")
	assert.Equal(t, same.Start, same.End)
}

func TestParseDateRange(t *testing.T) {
	d, err := ParseDateRange("2023-01-01", "2023-03-01")
	require.NoError(t, err)
	assert.True(t, d.Contains(time.Date(2023, 2, 10, 23, 0, 0, 0, time.UTC)))
	assert.False(t, d.Contains(time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC)))

	_, err = ParseDateRange("01/01/2023", "2023-03-01")
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "start date")

	_, err = ParseDateRange("2023-03-02", "2023-03-01")
	require.ErrorIs(t, err, ErrConfig)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"2023-01-15", 1, "2023-02-15"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 3, "2023-04-30"},
		{"2023-11-30", 3, "2024-02-29"},
		{"2023-03-31", -1, "2023-02-28"},
	}
	for _, tt := range tests {
		in, err := time.Parse(DateLayout, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, AddMonths(in, tt.n).Format(DateLayout), "%s %+d", tt.in, tt.n)
	}
}

func TestLastMonths(t *testing.T) {
	SetClock(fakeClockAt(time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { SetClock(nil) })

	d, err := LastMonths(24)
	require.NoError(t, err)
	assert.Equal(t, "2022-06-30..2024-06-30", d.String())

	_, err = LastMonths(0)
	require.ErrorIs(t, err, ErrConfig)
}

func TestNewFingerprint(t *testing.T) {
	r := RegionSpec{Name: "Pune", North: 19, South: 18, East: 73, West: 72}
	d, err := ParseDateRange("2023-01-01", "2023-03-01")
	require.NoError(t, err)

	fp := NewFingerprint(r, d, 20)
	assert.Len(t, fp.String(), 24)
	assert.Equal(t, fp, NewFingerprint(RegionSpec{Name: " pune ", North: 19, South: 18, East: 73, West: 72}, d, 20),
		"name is normalised")
	assert.NotEqual(t, fp, NewFingerprint(r, d, 30), "threshold is part of the key")

	d2, err := ParseDateRange("2023-01-01", "2023-03-02")
	require.NoError(t, err)
	assert.NotEqual(t, fp, NewFingerprint(r, d2, 20), "date range is part of the key")
}
