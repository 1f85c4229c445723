// Package correlation caps an account's open stake on outcomes that tend to
// move together.
//
// Lines for the same city and date are driven by the same weather, so a
// player backing every line of a city-day carries correlated risk. The
// limiter bounds both the stake on a single line and the aggregate stake
// across a city-day group.
package correlation

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
)

var (
	// ErrPerLineLimitExceeded is returned when a wager would push the stake on
	// a single line beyond the per-line maximum.
	ErrPerLineLimitExceeded = errors.New("correlation: per-line stake limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a wager would push the
	// aggregate stake across a city-day group beyond the correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated stake limit exceeded")
)

// ExposureLimiter enforces stake limits. A zero limit is not enforced.
type ExposureLimiter struct {
	// MaxPerLine is the maximum open stake on any single line.
	MaxPerLine decimal.Decimal

	// MaxCorrelated is the maximum aggregate open stake across all lines
	// sharing a city and target date.
	MaxCorrelated decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given limits.
func NewExposureLimiter(maxPerLine, maxCorrelated decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerLine:    maxPerLine,
		MaxCorrelated: maxCorrelated,
	}
}

// Enabled reports whether any limit is set.
func (l *ExposureLimiter) Enabled() bool {
	return l != nil && (l.MaxPerLine.IsPositive() || l.MaxCorrelated.IsPositive())
}

// CheckLimit validates a new stake on target against the account's existing
// open exposures. Returns nil if within limits.
func (l *ExposureLimiter) CheckLimit(target model.Exposure, existing []model.Exposure) error {
	if !l.Enabled() {
		return nil
	}

	// 1. Per-line limit.
	onLine := target.Amount
	for _, e := range existing {
		if e.LineID == target.LineID {
			onLine = onLine.Add(e.Amount)
		}
	}
	if l.MaxPerLine.IsPositive() && onLine.GreaterThan(l.MaxPerLine) {
		return ErrPerLineLimitExceeded
	}

	// 2. Correlated stake across the city-day group.
	group := GroupKey(target)
	total := target.Amount
	for _, e := range existing {
		if GroupKey(e) == group {
			total = total.Add(e.Amount)
		}
	}
	if l.MaxCorrelated.IsPositive() && total.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}

	return nil
}

// GroupKey identifies the city-day group of an exposure.
func GroupKey(e model.Exposure) string {
	return strings.ToLower(strings.TrimSpace(e.City)) + "|" + e.TargetDate.Format("2006-01-02")
}
