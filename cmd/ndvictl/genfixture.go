package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/imagery"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/urfave/cli/v2"
)

// fixtureParams shape a synthetic scene collection. The NDVI of a scene is
// base + trend*monthIndex + amplitude*sin(2π*(month-1)/12) plus per-pixel
// noise, clamped to [-0.95, 0.95].
type fixtureParams struct {
	Region    domain.RegionSpec
	Start     time.Time
	Months    int
	PerMonth  int
	Size      int
	Base      float64
	Trend     float64
	Amplitude float64
	Noise     float64
	CloudyPct int // share of scenes above any sensible threshold
	GapEvery  int // every Nth scene is fully masked; 0 disables
	Seed      uint64
}

func genFixtureCommand() *cli.Command {
	flags := append(regionFlags(),
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output path for the JSON fixture", Required: true},
		&cli.StringFlag{Name: "start", Value: "2022-01-01", Usage: "First month (YYYY-MM-DD)"},
		&cli.IntFlag{Name: "months", Value: 24, Usage: "Number of months to cover"},
		&cli.IntFlag{Name: "per-month", Value: 2, Usage: "Scenes per month"},
		&cli.IntFlag{Name: "size", Value: 16, Usage: "Scene width and height in pixels"},
		&cli.Float64Flag{Name: "base", Value: 0.45, Usage: "NDVI at the first month"},
		&cli.Float64Flag{Name: "trend", Value: -0.004, Usage: "NDVI change per month"},
		&cli.Float64Flag{Name: "amplitude", Value: 0.1, Usage: "Seasonal NDVI amplitude"},
		&cli.Float64Flag{Name: "noise", Value: 0.02, Usage: "Per-pixel NDVI noise"},
		&cli.IntFlag{Name: "cloudy-pct", Value: 20, Usage: "Percentage of heavily clouded scenes"},
		&cli.IntFlag{Name: "gap-every", Value: 0, Usage: "Fully mask every Nth scene (0 disables)"},
		&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "Random seed"},
	)

	return &cli.Command{
		Name:  "genfixture",
		Usage: "Generate a deterministic synthetic scene fixture",
		Flags: flags,
		Action: func(c *cli.Context) error {
			region, err := regionFromFlags(c)
			if err != nil {
				return err
			}
			start, err := time.Parse(domain.DateLayout, c.String("start"))
			if err != nil {
				return fmt.Errorf("%w: start %q: %v", domain.ErrConfig, c.String("start"), err)
			}
			obs, err := generateFixture(fixtureParams{
				Region:    region,
				Start:     start,
				Months:    c.Int("months"),
				PerMonth:  c.Int("per-month"),
				Size:      c.Int("size"),
				Base:      c.Float64("base"),
				Trend:     c.Float64("trend"),
				Amplitude: c.Float64("amplitude"),
				Noise:     c.Float64("noise"),
				CloudyPct: c.Int("cloudy-pct"),
				GapEvery:  c.Int("gap-every"),
				Seed:      c.Uint64("seed"),
			})
			if err != nil {
				return err
			}
			if err := imagery.WriteFixture(c.String("out"), obs); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %d scenes to %s\n", len(obs), c.String("out"))
			return nil
		},
	}
}

func generateFixture(p fixtureParams) ([]domain.RawObservation, error) {
	if p.Months <= 0 || p.PerMonth <= 0 || p.Size <= 0 {
		return nil, fmt.Errorf("%w: months, per-month and size must be positive", domain.ErrConfig)
	}
	if p.PerMonth > 28 {
		return nil, fmt.Errorf("%w: at most 28 scenes per month, got %d", domain.ErrConfig, p.PerMonth)
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	first := time.Date(p.Start.Year(), p.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	step := 28 / p.PerMonth
	bounds := p.Region.Bounds()

	obs := make([]domain.RawObservation, 0, p.Months*p.PerMonth)
	for m := range p.Months {
		month := domain.AddMonths(first, m)
		for k := range p.PerMonth {
			idx := len(obs)
			at := month.AddDate(0, 0, k*step).Add(10*time.Hour + 30*time.Minute)

			cloud := rng.Float64() * 15
			if rng.IntN(100) < p.CloudyPct {
				cloud = 60 + rng.Float64()*40
			}
			masked := p.GapEvery > 0 && (idx+1)%p.GapEvery == 0

			mean := p.Base + p.Trend*float64(m) + p.Amplitude*math.Sin(2*math.Pi*float64(month.Month()-1)/12)
			obs = append(obs, domain.RawObservation{
				ID:         fmt.Sprintf("S2_%s_%03d", at.Format("20060102"), idx),
				Timestamp:  at,
				CloudCover: math.Round(cloud*100) / 100,
				Bands:      syntheticBands(rng, p.Size, bounds, mean, p.Noise, masked),
			})
		}
	}
	return obs, nil
}

// syntheticBands inverts NDVI = (nir-red)/(nir+red) with nir+red = 0.5.
// Masked scenes carry zero reflectance, which the index computation masks.
func syntheticBands(rng *rand.Rand, size int, bounds domain.Bounds, mean, noise float64, masked bool) domain.Bands {
	n := size * size
	b := domain.Bands{Width: size, Height: size, Bounds: bounds, NIR: make([]float64, n), Red: make([]float64, n)}
	if masked {
		return b
	}
	for i := range n {
		v := mean + noise*rng.NormFloat64()
		v = math.Max(-0.95, math.Min(0.95, v))
		b.NIR[i] = round4(0.25 * (1 + v))
		b.Red[i] = round4(0.25 * (1 - v))
	}
	return b
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
