// Command ndvictl runs the NDVI pipeline offline against fixture files and
// generates or validates those fixtures.
//
// Usage:
//
//	ndvictl genfixture --out data/fixtures/pune.json --north 19 --south 18 --east 74 --west 73
//	ndvictl validate --fixture data/fixtures/pune.json
//	ndvictl run --fixture data/fixtures/pune.json --north 19 --south 18 --east 74 --west 73 \
//	  --start 2022-01-01 --end 2023-12-31
//	ndvictl fingerprint --north 19 --south 18 --east 74 --west 73 --start 2022-01-01 --end 2023-12-31
package main

import (
	"fmt"
	"os"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ndvictl",
		Usage:   "Offline NDVI trend runs and fixture tooling",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			fingerprintCommand(),
			genFixtureCommand(),
			validateCommand(),
		},
	}
}

func regionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "Region name"},
		&cli.Float64Flag{Name: "north", Usage: "Northern latitude bound", Required: true},
		&cli.Float64Flag{Name: "south", Usage: "Southern latitude bound", Required: true},
		&cli.Float64Flag{Name: "east", Usage: "Eastern longitude bound", Required: true},
		&cli.Float64Flag{Name: "west", Usage: "Western longitude bound", Required: true},
	}
}

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "start", Usage: "First date (YYYY-MM-DD)", Required: true},
		&cli.StringFlag{Name: "end", Usage: "Last date (YYYY-MM-DD)", Required: true},
		&cli.Float64Flag{Name: "quality-threshold", Value: 20, Usage: "Maximum cloud cover percentage"},
	}
}

func regionFromFlags(c *cli.Context) (domain.RegionSpec, error) {
	return domain.NewRegion(c.String("name"), c.Float64("north"), c.Float64("south"), c.Float64("east"), c.Float64("west"))
}

func fingerprintCommand() *cli.Command {
	return &cli.Command{
		Name:  "fingerprint",
		Usage: "Print the cache key for a region, date range and threshold",
		Flags: append(regionFlags(), rangeFlags()...),
		Action: func(c *cli.Context) error {
			region, err := regionFromFlags(c)
			if err != nil {
				return err
			}
			dates, err := domain.ParseDateRange(c.String("start"), c.String("end"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, domain.NewFingerprint(region, dates, c.Float64("quality-threshold")))
			return nil
		},
	}
}
