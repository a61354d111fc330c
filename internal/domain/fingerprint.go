package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint identifies one cacheable pipeline result.
type Fingerprint string

// NewFingerprint hashes the normalised region, date range and quality
// threshold. Coordinates are rounded to 1e-6 degrees (about 10 cm) so
// float formatting noise does not split the cache.
func NewFingerprint(region RegionSpec, dates DateRangeSpec, qualityThreshold float64) Fingerprint {
	input := fmt.Sprintf("%s|%.6f|%.6f|%.6f|%.6f|%s|%s|%.3f",
		strings.ToLower(strings.TrimSpace(region.Name)),
		region.North, region.South, region.East, region.West,
		dates.Start.Format(DateLayout), dates.End.Format(DateLayout),
		qualityThreshold,
	)
	hash := sha256.Sum256([]byte(input))
	return Fingerprint(hex.EncodeToString(hash[:12]))
}

func (f Fingerprint) String() string { return string(f) }
