package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/adapter/imagery"
	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var regionArgs = []string{"--name", "Pune", "--north", "19", "--south", "18", "--east", "74", "--west", "73"}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"ndvictl"}, args...))
	return out.String(), err
}

func testParams() fixtureParams {
	return fixtureParams{
		Region:    domain.RegionSpec{Name: "Pune", North: 19, South: 18, East: 74, West: 73},
		Start:     time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		Months:    6,
		PerMonth:  2,
		Size:      8,
		Base:      0.4,
		Amplitude: 0.1,
		Noise:     0.02,
		CloudyPct: 25,
		Seed:      7,
	}
}

func TestGenerateFixture_Deterministic(t *testing.T) {
	a, err := generateFixture(testParams())
	require.NoError(t, err)
	b, err := generateFixture(testParams())
	require.NoError(t, err)

	require.Len(t, a, 12)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("fixture differs between identical runs (-first +second):\n%s", diff)
	}
}

func TestGenerateFixture_Shape(t *testing.T) {
	obs, err := generateFixture(testParams())
	require.NoError(t, err)

	for _, o := range obs {
		assert.Len(t, o.Bands.NIR, 64)
		assert.Len(t, o.Bands.Red, 64)
		raster, err := domain.ComputeNDVI(o.Bands)
		require.NoError(t, err)
		assert.Equal(t, 64, raster.ValidCount(), o.ID)
	}
	assert.Equal(t, "2022-01-01", obs[0].Date().Format(domain.DateLayout))
	assert.Equal(t, "2022-01-15", obs[1].Date().Format(domain.DateLayout))
	assert.Equal(t, "2022-06-15", obs[11].Date().Format(domain.DateLayout))
}

func TestGenerateFixture_Gaps(t *testing.T) {
	p := testParams()
	p.GapEvery = 3
	obs, err := generateFixture(p)
	require.NoError(t, err)

	raster, err := domain.ComputeNDVI(obs[2].Bands)
	require.NoError(t, err)
	assert.Zero(t, raster.ValidCount())

	assert.False(t, allPassed(validateFixture(obs, false)))
	assert.True(t, allPassed(validateFixture(obs, true)))
}

func TestGenerateFixture_RejectsBadParams(t *testing.T) {
	p := testParams()
	p.Months = 0
	_, err := generateFixture(p)
	require.ErrorIs(t, err, domain.ErrConfig)

	p = testParams()
	p.PerMonth = 29
	_, err = generateFixture(p)
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestValidateFixture_DetectsProblems(t *testing.T) {
	obs, err := generateFixture(testParams())
	require.NoError(t, err)
	assert.True(t, allPassed(validateFixture(obs, false)))

	obs[1].ID = obs[0].ID
	obs[3].CloudCover = 120
	obs[4].Bands.NIR = obs[4].Bands.NIR[:10]
	obs[5].Bands.Red[0] = 1.5

	phases := validateFixture(obs, false)
	byName := map[string]*phase{}
	for _, p := range phases {
		byName[p.name] = p
	}
	assert.Len(t, byName["Scene identity"].errors, 1)
	assert.Len(t, byName["Acquisition metadata"].errors, 1)
	assert.Len(t, byName["Band shape and range"].errors, 2)
}

func TestCLI_GenerateValidateRun(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "pune.json")

	out, err := runApp(t, append([]string{"genfixture", "--out", fixture, "--months", "30",
		"--cloudy-pct", "0", "--start", "2022-01-01"}, regionArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 60 scenes")

	loaded, err := imagery.LoadFixture(fixture)
	require.NoError(t, err)
	assert.Len(t, loaded, 60)

	out, err = runApp(t, "validate", "--fixture", fixture)
	require.NoError(t, err, out)
	assert.NotContains(t, out, "FAIL")

	rangeArgs := []string{"--start", "2022-01-01", "--end", "2024-06-30", "--quality-threshold", "20"}
	out, err = runApp(t, append(append([]string{"run", "--fixture", fixture, "--horizon", "6"}, regionArgs...), rangeArgs...)...)
	require.NoError(t, err)

	var result runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Len(t, result.Series, 60)
	require.NotNil(t, result.Forecast)
	assert.Len(t, result.Forecast.Future, 6)
	assert.Empty(t, result.Forecasting)
	assert.Greater(t, result.Statistic.Mean, 0.0)

	out, err = runApp(t, append(append([]string{"fingerprint"}, regionArgs...), rangeArgs...)...)
	require.NoError(t, err)
	assert.Equal(t, string(result.Fingerprint), strings.TrimSpace(out))
}

func TestCLI_ValidateFailure(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "bad.json")
	obs, err := generateFixture(testParams())
	require.NoError(t, err)
	obs[0].CloudCover = -1
	require.NoError(t, imagery.WriteFixture(fixture, obs))

	out, err := runApp(t, "validate", "--fixture", fixture)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
}

func TestCLI_FingerprintRejectsBadRegion(t *testing.T) {
	_, err := runApp(t, "fingerprint", "--north", "1", "--south", "2", "--east", "1", "--west", "0",
		"--start", "2023-01-01", "--end", "2023-01-31")
	require.ErrorIs(t, err, domain.ErrConfig)
}

func allPassed(phases []*phase) bool {
	for _, p := range phases {
		if !p.passed() {
			return false
		}
	}
	return true
}
