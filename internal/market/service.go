// Package market orchestrates line generation from forecasts and answers the
// read-side queries over lines and wagers.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/events"
	"github.com/weatherkings/wager-engine/internal/lines"
	"github.com/weatherkings/wager-engine/internal/metrics"
	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/store"
	"github.com/weatherkings/wager-engine/internal/weather"
)

var (
	ErrPastDate       = fmt.Errorf("%w: market: target date is in the past", model.ErrValidation)
	ErrNoForecast     = fmt.Errorf("%w: market: forecast has no period for the target date", model.ErrValidation)
	ErrMissingPlace   = fmt.Errorf("%w: market: city or coordinates are required", model.ErrValidation)
	ErrInvalidRequest = fmt.Errorf("%w: market: invalid request", model.ErrValidation)
)

var validate = validator.New()

// GenerateRequest asks for lines on one place and date. Coordinates take
// precedence over geocoding the city; Date defaults to tomorrow.
type GenerateRequest struct {
	City      string   `json:"city" validate:"omitempty,max=128"`
	Latitude  *float64 `json:"latitude" validate:"required_with=Longitude,omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"required_with=Latitude,omitempty,longitude"`
	Date      string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// CityResult is one city's entry in a generation run.
type CityResult struct {
	City    string       `json:"city"`
	Created bool         `json:"created"`
	Lines   []model.Line `json:"lines"`
	Error   string       `json:"error,omitempty"`
}

// GenerateResult aggregates a run over the configured cities.
type GenerateResult struct {
	Date         string       `json:"date"`
	TotalCreated int          `json:"total_created"`
	TotalFailed  int          `json:"total_failed"`
	Cities       []CityResult `json:"cities"`
}

// HistoryEntry is a wager with its line and settlement figures.
type HistoryEntry struct {
	model.Wager
	Status          model.Outcome   `json:"status"`
	PotentialProfit decimal.Decimal `json:"potential_profit"`
	ActualPayout    decimal.Decimal `json:"actual_payout"`
	Line            *model.Line     `json:"line,omitempty"`
}

// Service generates lines and serves queries.
type Service struct {
	store      store.Store
	forecaster weather.Forecaster
	geocoder   weather.Geocoder
	gen        *lines.Generator
	cities     []model.City
	loc        *time.Location
	now        func() time.Time
	pub        events.Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithCities sets the cities generated by GenerateTomorrow.
func WithCities(cities []model.City) Option {
	return func(s *Service) { s.cities = cities }
}

// WithLocation sets the zone that defines "today" and "tomorrow".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// NewService creates a Service.
func NewService(st store.Store, fc weather.Forecaster, geo weather.Geocoder, gen *lines.Generator, opts ...Option) *Service {
	s := &Service{
		store:      st,
		forecaster: fc,
		geocoder:   geo,
		gen:        gen,
		loc:        time.UTC,
		now:        time.Now,
		pub:        events.Nop{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Today is the current civil date in the house zone.
func (s *Service) Today() time.Time {
	return model.CivilDate(s.now().In(s.loc))
}

// Tomorrow is the civil date after Today.
func (s *Service) Tomorrow() time.Time {
	return s.Today().AddDate(0, 0, 1)
}

// GenerateTomorrow creates tomorrow's lines for every configured city. A city
// that already has lines keeps them; a city whose forecast fails is logged
// and reported without stopping the run.
func (s *Service) GenerateTomorrow(ctx context.Context) (*GenerateResult, error) {
	date := s.Tomorrow()
	res := &GenerateResult{Date: date.Format(time.DateOnly), Cities: []CityResult{}}

	for _, c := range s.cities {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ls, created, err := s.generate(ctx, c.Name, c.Latitude, c.Longitude, date)
		if err != nil {
			slog.Warn("line generation skipped", "city", c.Name, "date", res.Date, "err", err)
			res.TotalFailed++
			res.Cities = append(res.Cities, CityResult{City: c.Name, Lines: []model.Line{}, Error: err.Error()})
			continue
		}
		if created {
			res.TotalCreated += len(ls)
		}
		res.Cities = append(res.Cities, CityResult{City: c.Name, Created: created, Lines: ls})
	}
	return res, nil
}

// GenerateForLocation creates lines for an arbitrary place. Existing lines
// for the same city and date are returned with created=false.
func (s *Service) GenerateForLocation(ctx context.Context, req GenerateRequest) ([]model.Line, bool, error) {
	if err := validate.Struct(req); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.City = strings.TrimSpace(req.City)
	if req.City == "" && req.Latitude == nil {
		return nil, false, ErrMissingPlace
	}

	date := s.Tomorrow()
	if req.Date != "" {
		d, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		date = d
	}
	if date.Before(s.Today()) {
		return nil, false, ErrPastDate
	}

	city := req.City
	var lat, lon float64
	if req.Latitude != nil {
		lat, lon = *req.Latitude, *req.Longitude
		if city == "" {
			city = fmt.Sprintf("%.4f,%.4f", lat, lon)
		}
	} else {
		loc, err := s.geocoder.Geocode(ctx, city)
		if err != nil {
			return nil, false, err
		}
		city, lat, lon = loc.Name, loc.Latitude, loc.Longitude
	}
	return s.generate(ctx, city, lat, lon, date)
}

func (s *Service) generate(ctx context.Context, city string, lat, lon float64, date time.Time) ([]model.Line, bool, error) {
	existing, err := s.store.ListLinesByCityAndDate(ctx, city, date)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, false, nil
	}

	periods, err := s.forecaster.Forecast(ctx, lat, lon)
	if err != nil {
		return nil, false, err
	}
	period := lines.SelectPeriod(periods, date, s.Tomorrow())
	if period == nil {
		return nil, false, ErrNoForecast
	}

	generated := s.gen.Generate(city, date, *period)
	if len(generated) == 0 {
		return nil, false, ErrNoForecast
	}
	if err := s.store.CreateLines(ctx, generated); err != nil {
		return nil, false, err
	}

	ids := make([]string, len(generated))
	for i, l := range generated {
		ids[i] = l.ID
		metrics.LinesGenerated.WithLabelValues(string(l.Type)).Inc()
	}
	slog.Info("lines generated", "city", city, "date", date.Format(time.DateOnly), "count", len(generated))
	events.Emit(ctx, s.pub, events.Event{
		Type:       events.TypeLinesGenerated,
		LineIDs:    ids,
		City:       city,
		TargetDate: date.Format(time.DateOnly),
	})
	return generated, true, nil
}

// LinesForTomorrow lists every line targeting tomorrow.
func (s *Service) LinesForTomorrow(ctx context.Context) ([]model.Line, error) {
	return s.store.ListLinesByDate(ctx, s.Tomorrow())
}

// LinesForCityAndDate lists a city's lines for date.
func (s *Service) LinesForCityAndDate(ctx context.Context, city string, date time.Time) ([]model.Line, error) {
	if strings.TrimSpace(city) == "" {
		return nil, ErrMissingPlace
	}
	return s.store.ListLinesByCityAndDate(ctx, city, model.CivilDate(date))
}

func (s *Service) Line(ctx context.Context, id string) (*model.Line, error) {
	return s.store.GetLine(ctx, id)
}

// Geocode resolves a city name.
func (s *Service) Geocode(ctx context.Context, city string) (*model.Location, error) {
	return s.geocoder.Geocode(ctx, city)
}

// PendingWagers lists an account's unsettled wagers, newest first.
func (s *Service) PendingWagers(ctx context.Context, accountID string) ([]model.Wager, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	all, err := s.store.ListWagersByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	pending := make([]model.Wager, 0, len(all))
	for _, w := range all {
		if w.Outcome == model.OutcomePending {
			pending = append(pending, w)
		}
	}
	return pending, nil
}

// WagerHistory lists every wager of an account, newest first, with its line.
func (s *Service) WagerHistory(ctx context.Context, accountID string) ([]HistoryEntry, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	wagers, err := s.store.ListWagersByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	cache := make(map[string]*model.Line)
	out := make([]HistoryEntry, 0, len(wagers))
	for _, w := range wagers {
		line, ok := cache[w.LineID]
		if !ok {
			line, err = s.store.GetLine(ctx, w.LineID)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			cache[w.LineID] = line
		}

		payout := decimal.Zero
		if w.Outcome == model.OutcomeWon {
			payout = w.TotalReturn
		}
		out = append(out, HistoryEntry{
			Wager:           w,
			Status:          w.Outcome,
			PotentialProfit: w.Profit(),
			ActualPayout:    payout,
			Line:            line,
		})
	}
	return out, nil
}
