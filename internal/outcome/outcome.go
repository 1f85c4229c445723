// Package outcome decides whether a line won against an observation.
package outcome

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
)

// ErrTemperatureUnavailable is returned when a temperature line is evaluated
// against an observation with no temperature.
var ErrTemperatureUnavailable = fmt.Errorf("%w: outcome: observation has no temperature", model.ErrUpstream)

// Evaluate returns true when line won given obs. Unknown bet types lose.
func Evaluate(line *model.Line, obs *model.Observation) (bool, error) {
	switch terms := line.Terms().(type) {
	case model.MaxTempTerms:
		f, ok := obs.TemperatureF()
		if !ok {
			return false, ErrTemperatureUnavailable
		}
		return decimal.NewFromFloat(f).LessThan(terms.Line), nil

	case model.RainTerms:
		predicted := terms.ForecastPct.GreaterThanOrEqual(decimal.NewFromInt(50))
		actual := obs.PrecipitationLastHour != nil && *obs.PrecipitationLastHour > 0
		return predicted == actual, nil

	case model.ConditionTerms:
		if obs.TextDescription == "" {
			return false, nil
		}
		actual := isSunny(obs.TextDescription)
		predicted := strings.Contains(strings.ToLower(terms.Predicate), "sunny/clear")
		return predicted == actual, nil

	case model.UnknownTerms:
		return false, nil
	}
	return false, nil
}

// ObservedValue is the figure recorded on a resolved line: the observed
// temperature in °F at two places, when present.
func ObservedValue(obs *model.Observation) decimal.NullDecimal {
	f, ok := obs.TemperatureF()
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(f).Round(2))
}

func isSunny(text string) bool {
	s := strings.ToLower(text)
	return strings.Contains(s, "sunny") || strings.Contains(s, "clear")
}
