// Package lines turns one forecast period into priced betting lines and picks
// the forecast period that covers a target date.
package lines

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/odds"
)

// Condition sides offered on ConditionMatch lines.
const (
	SideSunny  = "Sunny/Clear Day"
	SideCloudy = "Mostly Cloudy or Worse"
)

// Options configures a Generator.
type Options struct {
	LineStep      int             // temperature lines snap to multiples of this
	MoneylineOdds decimal.Decimal // fixed odds for rain and condition lines
	CloseLead     time.Duration   // lines close this long before the target day starts
	Location      *time.Location  // zone in which the target day starts
	Now           func() time.Time
	NewID         func() string
}

// DefaultOptions returns the house line settings.
func DefaultOptions() Options {
	return Options{
		LineStep:      5,
		MoneylineOdds: decimal.NewFromInt(100),
		CloseLead:     2 * time.Hour,
		Location:      time.UTC,
	}
}

// Generator builds Lines. It holds no state between calls and performs no
// deduplication: generating twice for one city and date yields two sets.
type Generator struct {
	model *odds.Model
	opts  Options
}

// NewGenerator creates a Generator pricing temperature lines with m.
func NewGenerator(m *odds.Model, opts Options) *Generator {
	if opts.LineStep <= 0 {
		opts.LineStep = 5
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Generator{model: m, opts: opts}
}

// ClosingTime is midnight of date in the configured zone minus the lead.
func (g *Generator) ClosingTime(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.opts.Location).Add(-g.opts.CloseLead)
}

// Generate returns up to three lines for city on date. A line whose source
// field is missing from the period is skipped.
func (g *Generator) Generate(city string, date time.Time, p model.ForecastPeriod) []model.Line {
	date = model.CivilDate(date)
	base := model.Line{
		City:         city,
		TargetDate:   date,
		TotalWagered: decimal.Zero,
		Outcome:      model.OutcomePending,
		CreatedAt:    g.opts.Now().UTC(),
		ClosesAt:     g.ClosingTime(date),
	}

	var out []model.Line

	if p.TemperatureF != nil {
		forecast := *p.TemperatureF
		line := RoundToStep(forecast, g.opts.LineStep)

		l := base
		l.ID = g.opts.NewID()
		l.Type = model.BetMaxTempOverUnder
		l.Value = decimal.NewNullDecimal(decimal.NewFromInt(int64(line)))
		l.Odds = g.model.UnderOdds(float64(line), float64(forecast))
		l.Description = fmt.Sprintf("%s: Max Temperature Over/Under %.1f°F (Odds for UNDER)", city, float64(line))
		out = append(out, l)
	}

	if p.PrecipitationPct != nil {
		pct := *p.PrecipitationPct
		side := "NO"
		if pct >= 50 {
			side = "YES"
		}

		l := base
		l.ID = g.opts.NewID()
		l.Type = model.BetRainYesNo
		l.Value = decimal.NewNullDecimal(decimal.NewFromInt(int64(pct)))
		l.Odds = g.opts.MoneylineOdds
		l.Description = fmt.Sprintf("%s: Precipitation (Rain/Snow) - %s (Forecast: %d%%)", city, side, pct)
		out = append(out, l)
	}

	if short := strings.TrimSpace(p.ShortForecast); short != "" {
		l := base
		l.ID = g.opts.NewID()
		l.Type = model.BetConditionMatch
		l.Odds = g.opts.MoneylineOdds
		l.Description = fmt.Sprintf("%s: Will the overall day be '%s'?", city, ConditionSide(short))
		out = append(out, l)
	}

	return out
}

// ConditionSide picks the side a short forecast text predicts.
func ConditionSide(short string) string {
	s := strings.ToLower(short)
	if strings.Contains(s, "sunny") || strings.Contains(s, "clear") {
		return SideSunny
	}
	return SideCloudy
}

// RoundToStep snaps temp to the nearest multiple of step, halves rounding up.
func RoundToStep(temp, step int) int {
	return int(math.Floor(float64(temp)/float64(step)+0.5)) * step
}
