package main

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/imagery"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/urfave/cli/v2"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

const maxReportedErrors = 10

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check a scene fixture for structural and radiometric integrity",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "fixture", Aliases: []string{"f"}, Usage: "Path to a JSON scene fixture", Required: true},
			&cli.BoolFlag{Name: "allow-gaps", Usage: "Accept scenes with no valid NDVI pixels"},
		},
		Action: func(c *cli.Context) error {
			obs, err := imagery.LoadFixture(c.String("fixture"))
			if err != nil {
				return err
			}
			phases := validateFixture(obs, c.Bool("allow-gaps"))

			w := c.App.Writer
			allPassed := true
			for _, p := range phases {
				status := "PASS"
				if !p.passed() {
					status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
					allPassed = false
				}
				fmt.Fprintf(w, "  %-28s %s\n", p.name, status)
			}
			fmt.Fprintf(w, "\nScenes: %d\n", len(obs))

			for _, p := range phases {
				if p.passed() {
					continue
				}
				fmt.Fprintf(w, "\n--- %s ---\n", p.name)
				for i, e := range p.errors {
					if i == maxReportedErrors {
						fmt.Fprintf(w, "  ... and %d more\n", len(p.errors)-maxReportedErrors)
						break
					}
					fmt.Fprintf(w, "  %s\n", e)
				}
			}

			if !allPassed {
				return errors.New("fixture validation failed")
			}
			return nil
		},
	}
}

func validateFixture(obs []domain.RawObservation, allowGaps bool) []*phase {
	phases := []*phase{
		validateIdentity(obs),
		validateMetadata(obs),
		validateBands(obs),
	}
	if !allowGaps {
		phases = append(phases, validateIndex(obs))
	}
	return phases
}

func validateIdentity(obs []domain.RawObservation) *phase {
	p := &phase{name: "Scene identity"}
	seen := make(map[string]int, len(obs))
	for i, o := range obs {
		if o.ID == "" {
			p.errorf("scene %d: empty id", i)
			continue
		}
		if prev, dup := seen[o.ID]; dup {
			p.errorf("scene %d: id %q duplicates scene %d", i, o.ID, prev)
		}
		seen[o.ID] = i
	}
	return p
}

func validateMetadata(obs []domain.RawObservation) *phase {
	p := &phase{name: "Acquisition metadata"}
	for _, o := range obs {
		if o.Timestamp.IsZero() {
			p.errorf("%s: missing acquisition time", o.ID)
		}
		if o.CloudCover < 0 || o.CloudCover > 100 || math.IsNaN(o.CloudCover) {
			p.errorf("%s: cloud cover %g outside [0, 100]", o.ID, o.CloudCover)
		}
		b := o.Bands.Bounds
		if !(b.North > b.South) || !(b.East > b.West) {
			p.errorf("%s: degenerate footprint %+v", o.ID, b)
		}
	}
	if !sort.SliceIsSorted(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) }) {
		p.errorf("scenes are not in acquisition order")
	}
	return p
}

func validateBands(obs []domain.RawObservation) *phase {
	p := &phase{name: "Band shape and range"}
	for _, o := range obs {
		b := o.Bands
		n := b.Width * b.Height
		if b.Width <= 0 || b.Height <= 0 || len(b.NIR) != n || len(b.Red) != n {
			p.errorf("%s: shape %dx%d with nir=%d red=%d pixels", o.ID, b.Width, b.Height, len(b.NIR), len(b.Red))
			continue
		}
		for i := range n {
			if !reflectance(b.NIR[i]) || !reflectance(b.Red[i]) {
				p.errorf("%s: pixel %d reflectance out of range (nir=%g red=%g)", o.ID, i, b.NIR[i], b.Red[i])
				break
			}
		}
	}
	return p
}

// validateIndex reports scenes whose every pixel is masked; they become
// absent points in the series.
func validateIndex(obs []domain.RawObservation) *phase {
	p := &phase{name: "Index coverage"}
	for _, o := range obs {
		raster, err := domain.ComputeNDVI(o.Bands)
		if err != nil {
			continue
		}
		if raster.ValidCount() == 0 {
			p.errorf("%s: no valid NDVI pixels", o.ID)
		}
	}
	return p
}

func reflectance(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
