package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/weatherkings/wager-engine/internal/model"
)

// NominatimClient geocodes city names against OpenStreetMap Nominatim.
type NominatimClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewNominatimClient creates a geocoder for baseURL.
func NewNominatimClient(baseURL, userAgent string, client *http.Client) *NominatimClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &NominatimClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      client,
	}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Geocode returns the best match for city. The canonical name is
// "City, State" when the match carries both.
func (c *NominatimClient) Geocode(ctx context.Context, city string) (*model.Location, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, fmt.Errorf("%w: city name is required", model.ErrValidation)
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")

	var places []nominatimPlace
	if err := getJSON(ctx, c.http, "nominatim", c.baseURL+"/search?"+q.Encode(), c.userAgent, &places); err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: city %q", model.ErrNotFound, city)
	}

	p := places[0]
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: nominatim: bad latitude %q", model.ErrUpstream, p.Lat)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: nominatim: bad longitude %q", model.ErrUpstream, p.Lon)
	}

	name := city
	place := p.Address.City
	if place == "" {
		place = p.Address.Town
	}
	if place == "" {
		place = p.Address.Village
	}
	switch {
	case place != "" && p.Address.State != "":
		name = place + ", " + p.Address.State
	case place != "":
		name = place
	}

	return &model.Location{
		Name:        name,
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: p.DisplayName,
		Country:     p.Address.Country,
	}, nil
}
