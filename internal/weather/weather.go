// Package weather adapts the National Weather Service and Nominatim HTTP APIs
// to the engine's forecast, observation and geocoding contracts.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weatherkings/wager-engine/internal/metrics"
	"github.com/weatherkings/wager-engine/internal/model"
)

// Forecaster returns the point forecast periods for a coordinate.
type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) ([]model.ForecastPeriod, error)
}

// Observer returns the latest observation near a coordinate.
type Observer interface {
	Observe(ctx context.Context, lat, lon float64) (*model.Observation, error)
}

// Geocoder resolves a free-text city name to a location.
type Geocoder interface {
	Geocode(ctx context.Context, city string) (*model.Location, error)
}

// maxBody bounds how much of an upstream response is read.
const maxBody = 4 << 20

// getJSON fetches url and decodes a 2xx JSON body into out. Any failure is
// reported as model.ErrUpstream.
func getJSON(ctx context.Context, client *http.Client, adapter, url, userAgent string, out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveUpstream(adapter, start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: build request: %v", model.ErrUpstream, adapter, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrUpstream, adapter, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s returned %d: %s", model.ErrUpstream, adapter, url, resp.StatusCode,
			strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode %s: %v", model.ErrUpstream, adapter, url, err)
	}
	return nil
}
