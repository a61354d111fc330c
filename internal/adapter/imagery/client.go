package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/ndvi-trend-service/internal/domain"
	"github.com/couchcryptid/ndvi-trend-service/internal/observability"
	"github.com/sony/gobreaker"
)

// Client implements pipeline.ImageCollectionSource against a remote scene
// catalogue that serves NIR and red bands clipped to a bounding box.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an imagery catalogue client. The per-request timeout is
// applied by the caller's context.
func NewClient(baseURL, token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		breaker: newBreaker(logger),
		metrics: metrics,
		logger:  logger,
	}
}

func newBreaker(logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "imagery",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// Rejected requests and caller cancellations say nothing about
		// catalogue health.
		IsSuccessful: func(err error) bool {
			var dsErr *domain.DataSourceError
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				return true
			case errors.As(err, &dsErr):
				return dsErr.Permanent
			default:
				return false
			}
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Fetch lists the scenes over region within dates whose cloud cover is below
// qualityThreshold percent.
func (c *Client) Fetch(ctx context.Context, region domain.RegionSpec, dates domain.DateRangeSpec, qualityThreshold float64) ([]domain.RawObservation, error) {
	params := url.Values{
		"bbox":      {fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", region.West, region.South, region.East, region.North)},
		"start":     {dates.Start.Format(domain.DateLayout)},
		"end":       {dates.End.Format(domain.DateLayout)},
		"max_cloud": {strconv.FormatFloat(qualityThreshold, 'f', -1, 64)},
		"bands":     {"nir,red"},
	}
	fullURL := c.baseURL + "/v1/observations?" + params.Encode()

	start := time.Now()
	out, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, fullURL)
	})
	c.metrics.SourceAPIDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &domain.DataSourceError{Op: "fetch", Err: err}
		}
		c.metrics.SourceRequests.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	obs, _ := out.([]domain.RawObservation)
	if len(obs) == 0 {
		c.metrics.SourceRequests.WithLabelValues("empty").Inc()
		return nil, domain.ErrNoObservations
	}
	c.metrics.SourceRequests.WithLabelValues("success").Inc()
	c.logger.Debug("imagery fetched", "region", region.Name, "scenes", len(obs), "dates", dates.String())
	return obs, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]domain.RawObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &domain.DataSourceError{Op: "build request", Permanent: true, Err: err}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &domain.DataSourceError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.DataSourceError{
			Op:        "fetch",
			Permanent: permanentStatus(resp.StatusCode),
			Err:       fmt.Errorf("imagery API error: status %d: %s", resp.StatusCode, body),
		}
	}

	var catalogue response
	if err := json.NewDecoder(resp.Body).Decode(&catalogue); err != nil {
		return nil, &domain.DataSourceError{Op: "decode response", Permanent: true, Err: err}
	}
	return catalogue.Observations, nil
}

// permanentStatus reports whether retrying the same request cannot help.
func permanentStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return false
	}
	return code >= 400 && code < 500
}

func outcome(err error) string {
	var dsErr *domain.DataSourceError
	switch {
	case errors.As(err, &dsErr) && dsErr.Permanent:
		return "permanent"
	case errors.As(err, &dsErr):
		return "transient"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "cancelled"
	}
}

// Catalogue API response types.

type response struct {
	Observations []domain.RawObservation `json:"observations"`
}
