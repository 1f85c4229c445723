// Package odds prices temperature lines from a forecast mean and converts
// probabilities to American odds with a house edge.
//
// Money and odds are shopspring/decimal. Internal transcendental math uses
// float64, with results converted to decimal at the boundary and rounded to
// two places.
package odds

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSigma is returned when the forecast uncertainty is not positive.
	ErrInvalidSigma = errors.New("odds: sigma must be positive")

	// ErrInvalidVig is returned when the probability clamp is empty or outside (0,1).
	ErrInvalidVig = errors.New("odds: probability bounds must satisfy 0 < min <= max < 1")

	// MoneyScale is the number of decimal places for odds and money.
	MoneyScale int32 = 2

	hundred = decimal.NewFromInt(100)
)

// CDF is a standard normal cumulative distribution function.
type CDF func(z float64) float64

// Phi approximates the standard normal CDF with the eight-term polynomial
// the house has always priced temperature lines with. It is coarser than
// PhiPrecise (about 0.022 too high at z = -2/3) and is kept as the default
// so published odds stay stable.
func Phi(z float64) float64 {
	if z < -8 {
		return 0
	}
	if z > 8 {
		return 1
	}
	p := [8]float64{0.2428, 0.5097, 0.3802, 0.0039, -0.2222, -0.0632, 0.0759, 0.0335}

	t := 1 / (1 + 0.2316419*math.Abs(z))
	density := math.Exp(-0.5*z*z) / math.Sqrt(2*math.Pi)
	poly := (p[7]*t+p[6])*t + p[5]
	poly = (poly*t+p[4])*t + p[3]
	poly = (poly*t+p[2])*t + p[1]
	poly = poly*t + p[0]

	cdf := 1 - density*poly
	if z < 0 {
		return 1 - cdf
	}
	return cdf
}

// PhiPrecise is Abramowitz & Stegun 26.2.17, absolute error below 7.5e-8.
func PhiPrecise(z float64) float64 {
	if z < -8 {
		return 0
	}
	if z > 8 {
		return 1
	}
	const (
		b1 = 0.319381530
		b2 = -0.356563782
		b3 = 1.781477937
		b4 = -1.821255978
		b5 = 1.330274429
	)
	t := 1 / (1 + 0.2316419*math.Abs(z))
	density := math.Exp(-0.5*z*z) / math.Sqrt(2*math.Pi)
	tail := density * t * (b1 + t*(b2+t*(b3+t*(b4+t*b5))))
	if z < 0 {
		return tail
	}
	return 1 - tail
}

// Params configures a Model.
type Params struct {
	Sigma          float64 // forecast error, °F
	VigMultiplier  float64
	VigOffset      float64
	MinProbability float64
	MaxProbability float64
	CDF            CDF // nil selects Phi
}

// DefaultParams returns the house pricing parameters.
func DefaultParams() Params {
	return Params{
		Sigma:          3.0,
		VigMultiplier:  1.02,
		VigOffset:      0.01,
		MinProbability: 0.01,
		MaxProbability: 0.99,
		CDF:            Phi,
	}
}

// Model converts forecasts into under-probabilities and American odds.
// It is stateless after construction and safe for concurrent use.
type Model struct {
	p Params
}

// NewModel validates params and returns a Model.
func NewModel(p Params) (*Model, error) {
	if !(p.Sigma > 0) {
		return nil, ErrInvalidSigma
	}
	if !(p.MinProbability > 0 && p.MinProbability <= p.MaxProbability && p.MaxProbability < 1) {
		return nil, ErrInvalidVig
	}
	if p.CDF == nil {
		p.CDF = Phi
	}
	return &Model{p: p}, nil
}

// Sigma returns the configured forecast uncertainty.
func (m *Model) Sigma() float64 {
	return m.p.Sigma
}

// UnderProbability is P(actual < threshold) for actual ~ N(mean, sigma²).
func (m *Model) UnderProbability(threshold, mean float64) float64 {
	return m.p.CDF((threshold - mean) / m.p.Sigma)
}

// Vig applies the house edge and clamps the result.
func (m *Model) Vig(p float64) float64 {
	v := p*m.p.VigMultiplier - m.p.VigOffset
	return math.Max(m.p.MinProbability, math.Min(m.p.MaxProbability, v))
}

// AmericanOdds converts a win probability to signed American odds after the
// house edge. Underdogs (vigged p <= 0.5) get positive odds.
func (m *Model) AmericanOdds(p float64) decimal.Decimal {
	v := m.Vig(p)
	var o float64
	if v <= 0.5 {
		o = 100/v - 100
	} else {
		o = -100 * v / (1 - v)
	}
	return decimal.NewFromFloat(o).Round(MoneyScale)
}

// UnderOdds prices the under side of a temperature line.
func (m *Model) UnderOdds(threshold, mean float64) decimal.Decimal {
	return m.AmericanOdds(m.UnderProbability(threshold, mean))
}

// Profit returns the winnings on amount at the given American odds, with no
// edge applied. Negative odds divide first at ten places.
func Profit(amount, americanOdds decimal.Decimal) decimal.Decimal {
	if americanOdds.GreaterThanOrEqual(decimal.Zero) {
		return amount.Mul(americanOdds).Div(hundred).Round(MoneyScale)
	}
	ratio := hundred.DivRound(americanOdds.Abs(), 10)
	return amount.Mul(ratio).Round(MoneyScale)
}

// TotalReturn is stake plus Profit.
func TotalReturn(amount, americanOdds decimal.Decimal) decimal.Decimal {
	return amount.Add(Profit(amount, americanOdds)).Round(MoneyScale)
}
