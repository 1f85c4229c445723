// Package model defines the core domain types shared across the wager engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the settlement state of a Line or a Wager.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeWon     Outcome = "WON"
	OutcomeLost    Outcome = "LOST"
)

// Valid reports whether o is one of the three known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeWon, OutcomeLost:
		return true
	}
	return false
}

// Settled reports whether o is terminal.
func (o Outcome) Settled() bool {
	return o == OutcomeWon || o == OutcomeLost
}

// OutcomeOf maps an evaluation result to a terminal outcome.
func OutcomeOf(won bool) Outcome {
	if won {
		return OutcomeWon
	}
	return OutcomeLost
}

// BetType identifies how a Line is priced and evaluated.
type BetType string

const (
	BetMaxTempOverUnder BetType = "MAX_TEMP_OVER_UNDER"
	BetRainYesNo        BetType = "RAIN_YES_NO"
	BetConditionMatch   BetType = "CONDITION_MATCH"
)

// Line is a priced proposition on a weather variable for one city and date.
type Line struct {
	ID            string              `json:"id"`
	City          string              `json:"city"`
	TargetDate    time.Time           `json:"target_date"` // civil date, midnight UTC
	Description   string              `json:"description"`
	Type          BetType             `json:"type"`
	Value         decimal.NullDecimal `json:"value"` // absent for ConditionMatch
	Odds          decimal.Decimal     `json:"odds"`
	ObservedValue decimal.NullDecimal `json:"observed_value"`
	TotalWagered  decimal.Decimal     `json:"total_wagered"`
	Outcome       Outcome             `json:"outcome"`
	CreatedAt     time.Time           `json:"created_at"`
	ClosesAt      time.Time           `json:"closes_at"`
}

// Open reports whether the line accepts wagers at now.
func (l *Line) Open(now time.Time) bool {
	return l.Outcome == OutcomePending && now.Before(l.ClosesAt)
}

// Terms is the typed payload of a Line, one variant per bet type.
type Terms interface {
	BetType() BetType
}

// MaxTempTerms wins when the observed maximum is under Line (°F).
type MaxTempTerms struct {
	Line decimal.Decimal
}

// RainTerms predicts precipitation when ForecastPct >= 50.
type RainTerms struct {
	ForecastPct decimal.Decimal
}

// ConditionTerms carries the text the sky condition is matched against.
type ConditionTerms struct {
	Predicate string
}

// UnknownTerms is produced for a bet type this build does not recognise.
type UnknownTerms struct {
	Type BetType
}

func (MaxTempTerms) BetType() BetType   { return BetMaxTempOverUnder }
func (RainTerms) BetType() BetType      { return BetRainYesNo }
func (ConditionTerms) BetType() BetType { return BetConditionMatch }
func (u UnknownTerms) BetType() BetType { return u.Type }

// Terms returns the typed payload for the line. A numeric type with no value
// is reported as UnknownTerms.
func (l *Line) Terms() Terms {
	switch l.Type {
	case BetMaxTempOverUnder:
		if l.Value.Valid {
			return MaxTempTerms{Line: l.Value.Decimal}
		}
	case BetRainYesNo:
		if l.Value.Valid {
			return RainTerms{ForecastPct: l.Value.Decimal}
		}
	case BetConditionMatch:
		return ConditionTerms{Predicate: l.Description}
	}
	return UnknownTerms{Type: l.Type}
}

// Wager is one account's stake on one line.
type Wager struct {
	ID          string          `json:"id"`
	LineID      string          `json:"line_id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	TotalReturn decimal.Decimal `json:"total_return"` // amount + profit, fixed at placement
	Outcome     Outcome         `json:"outcome"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// Profit is the winnings on top of the returned stake.
func (w *Wager) Profit() decimal.Decimal {
	return w.TotalReturn.Sub(w.Amount)
}

// Account holds a player's balance.
type Account struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	Disabled  bool            `json:"disabled"`
	CreatedAt time.Time       `json:"created_at"`
}

// Exposure is an account's open stake on one line, tagged with the line's
// city and date so stakes can be grouped.
type Exposure struct {
	LineID     string
	City       string
	TargetDate time.Time
	Amount     decimal.Decimal
}

// ForecastPeriod is one named period of a point forecast.
type ForecastPeriod struct {
	Name             string    `json:"name"`
	StartTime        time.Time `json:"start_time"`
	IsDaytime        bool      `json:"is_daytime"`
	TemperatureF     *int      `json:"temperature_f"`
	PrecipitationPct *int      `json:"precipitation_pct"`
	ShortForecast    string    `json:"short_forecast"`
	DetailedForecast string    `json:"detailed_forecast"`
}

// Observation is the latest station observation near a location.
type Observation struct {
	Station               string    `json:"station"`
	ObservedAt            time.Time `json:"observed_at"`
	TemperatureC          *float64  `json:"temperature_c"`
	PrecipitationLastHour *float64  `json:"precipitation_last_hour_m"`
	TextDescription       string    `json:"text_description"`
}

// TemperatureF converts the observed temperature to Fahrenheit.
func (o *Observation) TemperatureF() (float64, bool) {
	if o.TemperatureC == nil {
		return 0, false
	}
	return *o.TemperatureC*9/5 + 32, true
}

// Location is a geocoded place.
type Location struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name,omitempty"`
	Country     string  `json:"country,omitempty"`
}

// City is a configured generation target.
type City struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// CivilDate truncates t to its calendar date in t's location and returns it
// as midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameCity compares city names case-insensitively.
func SameCity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
