package market_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/ledger"
	"github.com/weatherkings/wager-engine/internal/lines"
	"github.com/weatherkings/wager-engine/internal/market"
	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/odds"
	"github.com/weatherkings/wager-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func intp(i int) *int { return &i }

// fakeForecaster returns a three-period forecast whose third period is
// tomorrow's daytime: 52°F, 35% precipitation, mostly sunny.
type fakeForecaster struct {
	calls int
	fail  map[float64]error
}

func (f *fakeForecaster) Forecast(_ context.Context, lat, _ float64) ([]model.ForecastPeriod, error) {
	f.calls++
	if err := f.fail[lat]; err != nil {
		return nil, err
	}
	return []model.ForecastPeriod{
		{Name: "This Afternoon", StartTime: now, IsDaytime: true, TemperatureF: intp(48), ShortForecast: "Cloudy"},
		{Name: "Tonight", StartTime: now.Add(3 * time.Hour), TemperatureF: intp(30), ShortForecast: "Clear"},
		{Name: "Sunday", StartTime: now.Add(15 * time.Hour), IsDaytime: true, TemperatureF: intp(52),
			PrecipitationPct: intp(35), ShortForecast: "Mostly Sunny"},
	}, nil
}

type fakeGeocoder struct{}

func (fakeGeocoder) Geocode(_ context.Context, city string) (*model.Location, error) {
	if city == "Atlantis" {
		return nil, fmt.Errorf("%w: city %q", model.ErrNotFound, city)
	}
	return &model.Location{Name: "Madison, Wisconsin", Latitude: 43.07, Longitude: -89.40}, nil
}

func newService(t *testing.T, fc *fakeForecaster, opts ...market.Option) (*market.Service, *store.MemoryStore) {
	t.Helper()
	m, err := odds.NewModel(odds.DefaultParams())
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	n := 0
	gopts := lines.DefaultOptions()
	gopts.Now = clock
	gopts.NewID = func() string { n++; return fmt.Sprintf("line-%d", n) }
	ms := store.NewMemoryStore()
	cities := []model.City{
		{Name: "Madison, WI", Latitude: 43.07, Longitude: -89.40},
		{Name: "Los Angeles, CA", Latitude: 34.05, Longitude: -118.24},
	}
	opts = append([]market.Option{market.WithClock(clock), market.WithCities(cities)}, opts...)
	return market.NewService(ms, fc, fakeGeocoder{}, lines.NewGenerator(m, gopts), opts...), ms
}

func TestGenerateTomorrow(t *testing.T) {
	fc := &fakeForecaster{}
	svc, _ := newService(t, fc)
	ctx := context.Background()

	res, err := svc.GenerateTomorrow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Date != "2025-03-02" || res.TotalCreated != 6 || res.TotalFailed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	madison := res.Cities[0].Lines
	if len(madison) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(madison))
	}
	temp := madison[0]
	if temp.Type != model.BetMaxTempOverUnder || !temp.Value.Decimal.Equal(d(50)) || !temp.Odds.Equal(d(269.83)) {
		t.Errorf("unexpected temperature line %+v", temp)
	}
	if madison[1].Description != "Madison, WI: Precipitation (Rain/Snow) - NO (Forecast: 35%)" || !madison[1].Odds.Equal(d(100)) {
		t.Errorf("unexpected rain line %+v", madison[1])
	}

	tomorrow, err := svc.LinesForTomorrow(ctx)
	if err != nil || len(tomorrow) != 6 {
		t.Fatalf("expected 6 lines for tomorrow, got %d (%v)", len(tomorrow), err)
	}

	// A second run reuses the stored lines.
	res, err = svc.GenerateTomorrow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalCreated != 0 || res.Cities[0].Created || len(res.Cities[0].Lines) != 3 {
		t.Errorf("expected existing lines to be returned, got %+v", res)
	}
	if fc.calls != 2 {
		t.Errorf("expected no forecast calls on rerun, got %d total", fc.calls)
	}
	if tomorrow, _ := svc.LinesForTomorrow(ctx); len(tomorrow) != 6 {
		t.Errorf("expected still 6 lines, got %d", len(tomorrow))
	}
}

func TestGenerateTomorrow_SkipsFailingCity(t *testing.T) {
	fc := &fakeForecaster{fail: map[float64]error{34.05: fmt.Errorf("%w: nws down", model.ErrUpstream)}}
	svc, _ := newService(t, fc)

	res, err := svc.GenerateTomorrow(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalCreated != 3 || res.TotalFailed != 1 {
		t.Errorf("unexpected totals %+v", res)
	}
	if res.Cities[1].Error == "" || res.Cities[1].Created {
		t.Errorf("expected Los Angeles to fail, got %+v", res.Cities[1])
	}
}

func TestGenerateForLocation(t *testing.T) {
	svc, _ := newService(t, &fakeForecaster{})
	ctx := context.Background()

	ls, created, err := svc.GenerateForLocation(ctx, market.GenerateRequest{City: "madison"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created || len(ls) != 3 || ls[0].City != "Madison, Wisconsin" {
		t.Fatalf("unexpected lines (created=%v) %+v", created, ls)
	}

	ls, created, err = svc.GenerateForLocation(ctx, market.GenerateRequest{City: "madison", Date: "2025-03-02"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || len(ls) != 3 {
		t.Errorf("expected the existing 3 lines, got created=%v n=%d", created, len(ls))
	}

	lat, lon := 40.71, -74.0
	ls, created, err = svc.GenerateForLocation(ctx, market.GenerateRequest{City: "Gotham", Latitude: &lat, Longitude: &lon})
	if err != nil || !created || ls[0].City != "Gotham" {
		t.Errorf("coordinate request: created=%v err=%v", created, err)
	}
}

func TestGenerateForLocation_Errors(t *testing.T) {
	svc, _ := newService(t, &fakeForecaster{})
	ctx := context.Background()
	lat, badLat := 40.0, 123.0

	tests := []struct {
		name string
		req  market.GenerateRequest
		want error
	}{
		{"no place", market.GenerateRequest{}, model.ErrValidation},
		{"past date", market.GenerateRequest{City: "madison", Date: "2025-02-28"}, model.ErrValidation},
		{"bad date", market.GenerateRequest{City: "madison", Date: "03/02/2025"}, model.ErrValidation},
		{"latitude only", market.GenerateRequest{Latitude: &lat}, model.ErrValidation},
		{"latitude out of range", market.GenerateRequest{Latitude: &badLat, Longitude: &lat}, model.ErrValidation},
		{"unknown city", market.GenerateRequest{City: "Atlantis"}, model.ErrNotFound},
		{"no period for far date", market.GenerateRequest{City: "madison", Date: "2025-03-20"}, model.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.GenerateForLocation(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLinesForCityAndDate(t *testing.T) {
	svc, _ := newService(t, &fakeForecaster{})
	ctx := context.Background()
	if _, err := svc.GenerateTomorrow(ctx); err != nil {
		t.Fatalf("generate: %v", err)
	}

	ls, err := svc.LinesForCityAndDate(ctx, "madison, wi", svc.Tomorrow())
	if err != nil || len(ls) != 3 {
		t.Fatalf("expected 3 lines, got %d (%v)", len(ls), err)
	}
	ls, _ = svc.LinesForCityAndDate(ctx, "madison, wi", svc.Today())
	if len(ls) != 0 {
		t.Errorf("expected no lines today, got %d", len(ls))
	}
	if _, err := svc.LinesForCityAndDate(ctx, " ", svc.Today()); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}

	l, err := svc.Line(ctx, firstTomorrowLineID(t, svc))
	if err != nil || l.City != "Madison, WI" {
		t.Errorf("line lookup: %+v %v", l, err)
	}
	if _, err := svc.Line(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func firstTomorrowLineID(t *testing.T, svc *market.Service) string {
	t.Helper()
	ls, err := svc.LinesForTomorrow(context.Background())
	if err != nil || len(ls) == 0 {
		t.Fatalf("no lines: %v", err)
	}
	return ls[0].ID
}

func TestWagerHistoryAndPending(t *testing.T) {
	svc, ms := newService(t, &fakeForecaster{})
	ctx := context.Background()
	res, err := svc.GenerateTomorrow(ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	madison := res.Cities[0].Lines
	rain, sky := madison[1], madison[2]

	if err := ms.CreateAccount(ctx, &model.Account{ID: "alice", Balance: d(500)}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	lg := ledger.New(ms, ledger.WithClock(clock))
	for _, id := range []string{rain.ID, sky.ID} {
		if _, err := lg.PlaceWager(ctx, ledger.PlaceWagerRequest{AccountID: "alice", LineID: id, Amount: d(40)}); err != nil {
			t.Fatalf("place: %v", err)
		}
	}

	// Settle the rain line as won.
	err = ms.InTx(ctx, func(tx store.Tx) error {
		l, err := tx.GetLineForUpdate(ctx, rain.ID)
		if err != nil {
			return err
		}
		l.Outcome = model.OutcomeWon
		if err := tx.UpdateLine(ctx, l); err != nil {
			return err
		}
		_, err = ledger.NewDistributor().Payout(ctx, tx, l)
		return err
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	pending, err := svc.PendingWagers(ctx, "alice")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].LineID != sky.ID {
		t.Errorf("expected only the sky wager pending, got %+v", pending)
	}

	history, err := svc.WagerHistory(ctx, "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	for _, h := range history {
		if h.Line == nil || h.Line.ID != h.LineID {
			t.Errorf("entry %s missing its line", h.ID)
		}
		if !h.PotentialProfit.Equal(d(40)) {
			t.Errorf("expected profit 40 at even odds, got %s", h.PotentialProfit)
		}
		switch h.LineID {
		case rain.ID:
			if h.Status != model.OutcomeWon || !h.ActualPayout.Equal(d(80)) {
				t.Errorf("rain entry: %s paid %s", h.Status, h.ActualPayout)
			}
		case sky.ID:
			if h.Status != model.OutcomePending || !h.ActualPayout.IsZero() {
				t.Errorf("sky entry: %s paid %s", h.Status, h.ActualPayout)
			}
		}
	}

	if _, err := svc.WagerHistory(ctx, "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
