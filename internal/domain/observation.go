package domain

import "time"

// Bands holds the two reflectance bands of a scene, row-major from the
// north-west corner of Bounds.
type Bands struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Bounds Bounds    `json:"bounds"`
	NIR    []float64 `json:"nir"`
	Red    []float64 `json:"red"`
}

// RawObservation is one scene as delivered by an imagery source.
type RawObservation struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"acquired"`
	CloudCover float64   `json:"cloud_cover"`
	Bands      Bands     `json:"bands"`
}

// Date returns the UTC calendar date of the acquisition.
func (o RawObservation) Date() time.Time {
	return truncateDay(o.Timestamp)
}
