package weather

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/weatherkings/wager-engine/internal/model"
)

// NWSClient talks to api.weather.gov. It implements Forecaster and Observer.
type NWSClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewNWSClient creates a client for baseURL. A nil client uses
// http.DefaultClient.
func NewNWSClient(baseURL, userAgent string, client *http.Client) *NWSClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &NWSClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      client,
	}
}

type pointsResponse struct {
	Properties struct {
		Forecast            string `json:"forecast"`
		GridID              string `json:"gridId"`
		GridX               int    `json:"gridX"`
		GridY               int    `json:"gridY"`
		ObservationStations string `json:"observationStations"`
	} `json:"properties"`
}

type forecastResponse struct {
	Properties struct {
		Periods []struct {
			Name                       string    `json:"name"`
			StartTime                  time.Time `json:"startTime"`
			IsDaytime                  bool      `json:"isDaytime"`
			Temperature                *int      `json:"temperature"`
			TemperatureUnit            string    `json:"temperatureUnit"`
			ProbabilityOfPrecipitation struct {
				Value *int `json:"value"`
			} `json:"probabilityOfPrecipitation"`
			ShortForecast    string `json:"shortForecast"`
			DetailedForecast string `json:"detailedForecast"`
		} `json:"periods"`
	} `json:"properties"`
}

type stationsResponse struct {
	ObservationStations []string `json:"observationStations"`
}

type quantity struct {
	Value    *float64 `json:"value"`
	UnitCode string   `json:"unitCode"`
}

type observationResponse struct {
	Properties struct {
		Station               string    `json:"station"`
		Timestamp             time.Time `json:"timestamp"`
		TextDescription       string    `json:"textDescription"`
		Temperature           quantity  `json:"temperature"`
		PrecipitationLastHour quantity  `json:"precipitationLastHour"`
	} `json:"properties"`
}

func (c *NWSClient) points(ctx context.Context, lat, lon float64) (*pointsResponse, error) {
	var p pointsResponse
	url := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, lat, lon)
	if err := getJSON(ctx, c.http, "nws", url, c.userAgent, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Forecast follows the points lookup to the gridpoint forecast.
func (c *NWSClient) Forecast(ctx context.Context, lat, lon float64) ([]model.ForecastPeriod, error) {
	p, err := c.points(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	if p.Properties.Forecast == "" {
		return nil, fmt.Errorf("%w: nws: points response has no forecast URL", model.ErrUpstream)
	}

	var f forecastResponse
	if err := getJSON(ctx, c.http, "nws", p.Properties.Forecast, c.userAgent, &f); err != nil {
		return nil, err
	}
	if f.Properties.Periods == nil {
		return nil, fmt.Errorf("%w: nws: forecast response has no periods", model.ErrUpstream)
	}

	periods := make([]model.ForecastPeriod, 0, len(f.Properties.Periods))
	for _, fp := range f.Properties.Periods {
		temp := fp.Temperature
		if temp != nil && strings.EqualFold(fp.TemperatureUnit, "C") {
			f := *temp*9/5 + 32
			temp = &f
		}
		periods = append(periods, model.ForecastPeriod{
			Name:             fp.Name,
			StartTime:        fp.StartTime,
			IsDaytime:        fp.IsDaytime,
			TemperatureF:     temp,
			PrecipitationPct: fp.ProbabilityOfPrecipitation.Value,
			ShortForecast:    fp.ShortForecast,
			DetailedForecast: fp.DetailedForecast,
		})
	}
	return periods, nil
}

// Observe finds the first observation station for the coordinate's grid
// and returns its latest observation.
func (c *NWSClient) Observe(ctx context.Context, lat, lon float64) (*model.Observation, error) {
	p, err := c.points(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	stationsURL := p.Properties.ObservationStations
	if stationsURL == "" {
		if p.Properties.GridID == "" {
			return nil, fmt.Errorf("%w: nws: points response has no grid", model.ErrUpstream)
		}
		stationsURL = fmt.Sprintf("%s/gridpoints/%s/%d,%d/stations",
			c.baseURL, p.Properties.GridID, p.Properties.GridX, p.Properties.GridY)
	}

	var s stationsResponse
	if err := getJSON(ctx, c.http, "nws", stationsURL, c.userAgent, &s); err != nil {
		return nil, err
	}
	if len(s.ObservationStations) == 0 {
		return nil, fmt.Errorf("%w: nws: no observation stations near %.4f,%.4f", model.ErrUpstream, lat, lon)
	}
	station := s.ObservationStations[0]
	station = station[strings.LastIndex(station, "/")+1:]

	var o observationResponse
	url := fmt.Sprintf("%s/stations/%s/observations/latest", c.baseURL, station)
	if err := getJSON(ctx, c.http, "nws", url, c.userAgent, &o); err != nil {
		return nil, err
	}

	obs := &model.Observation{
		Station:               station,
		ObservedAt:            o.Properties.Timestamp,
		TextDescription:       o.Properties.TextDescription,
		TemperatureC:          celsius(o.Properties.Temperature),
		PrecipitationLastHour: o.Properties.PrecipitationLastHour.Value,
	}
	return obs, nil
}

// celsius normalises a temperature quantity to °C.
func celsius(q quantity) *float64 {
	if q.Value == nil {
		return nil
	}
	v := *q.Value
	if strings.HasSuffix(q.UnitCode, "degF") {
		v = (v - 32) * 5 / 9
	}
	return &v
}
