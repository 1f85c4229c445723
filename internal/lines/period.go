package lines

import (
	"strings"
	"time"

	"github.com/weatherkings/wager-engine/internal/model"
)

// SelectPeriod picks the daytime forecast period for target. tomorrow is the
// civil date of the next day in the house zone.
//
// For tomorrow the third period is used unless it is a night period, in
// which case the first period that is neither a night nor "Today" is taken.
// For other dates the first daytime period starting on target is taken;
// when the periods carry no start times the tomorrow rule applies.
// Returns nil when nothing matches.
func SelectPeriod(periods []model.ForecastPeriod, target, tomorrow time.Time) *model.ForecastPeriod {
	target = model.CivilDate(target)
	if target.Equal(model.CivilDate(tomorrow)) || !hasStartTimes(periods) {
		return nextDay(periods)
	}
	for i := range periods {
		p := &periods[i]
		if isNight(p) || p.StartTime.IsZero() {
			continue
		}
		if model.CivilDate(p.StartTime).Equal(target) {
			return p
		}
	}
	return nil
}

func nextDay(periods []model.ForecastPeriod) *model.ForecastPeriod {
	if len(periods) <= 2 {
		return nil
	}
	if p := &periods[2]; p.Name != "" && !isNight(p) {
		return p
	}
	for i := range periods {
		p := &periods[i]
		if p.Name == "" || isNight(p) || strings.EqualFold(p.Name, "today") {
			continue
		}
		return p
	}
	return nil
}

func isNight(p *model.ForecastPeriod) bool {
	return strings.Contains(strings.ToLower(p.Name), "night")
}

func hasStartTimes(periods []model.ForecastPeriod) bool {
	for _, p := range periods {
		if !p.StartTime.IsZero() {
			return true
		}
	}
	return false
}
