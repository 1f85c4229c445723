// Package config loads server configuration: defaults, then an optional YAML
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/weatherkings/wager-engine/internal/lines"
	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/odds"
)

type Config struct {
	Port        string        `yaml:"port" env:"PORT"`
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL"`
	CacheTTL    time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	GeocodeTTL  time.Duration `yaml:"geocode_ttl" env:"GEOCODE_TTL"`

	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `yaml:"kafka_topic" env:"KAFKA_TOPIC"`

	NWSBaseURL   string        `yaml:"nws_base_url" env:"NWS_BASE_URL"`
	NominatimURL string        `yaml:"nominatim_url" env:"NOMINATIM_URL"`
	UserAgent    string        `yaml:"user_agent" env:"USER_AGENT"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"` // zero means no timeout

	Timezone string `yaml:"timezone" env:"TIMEZONE"`

	Model  ModelConfig  `yaml:"model" envPrefix:"MODEL_"`
	Limits LimitsConfig `yaml:"limits" envPrefix:"LIMIT_"`
	Cities []model.City `yaml:"cities"`
}

// ModelConfig holds pricing parameters.
type ModelConfig struct {
	Sigma         float64       `yaml:"sigma" env:"SIGMA"`
	VigMultiplier float64       `yaml:"vig_multiplier" env:"VIG_MULTIPLIER"`
	VigOffset     float64       `yaml:"vig_offset" env:"VIG_OFFSET"`
	CDF           string        `yaml:"cdf" env:"CDF"` // legacy or precise
	MoneylineOdds float64       `yaml:"moneyline_odds" env:"MONEYLINE_ODDS"`
	LineStep      int           `yaml:"line_step" env:"LINE_STEP"`
	CloseLead     time.Duration `yaml:"close_lead" env:"CLOSE_LEAD"`
}

// LimitsConfig caps an account's pending stake. Zero disables a cap.
type LimitsConfig struct {
	MaxPerLine    float64 `yaml:"max_per_line" env:"MAX_PER_LINE"`
	MaxCorrelated float64 `yaml:"max_correlated" env:"MAX_CORRELATED"`
}

// Default returns the built-in configuration.
func Default() Config {
	p := odds.DefaultParams()
	return Config{
		Port:         "8080",
		CacheTTL:     30 * time.Second,
		GeocodeTTL:   7 * 24 * time.Hour,
		KafkaTopic:   "weather-kings.events",
		NWSBaseURL:   "https://api.weather.gov",
		NominatimURL: "https://nominatim.openstreetmap.org",
		UserAgent:    "WeatherKings/1.0",
		Timezone:     "UTC",
		Model: ModelConfig{
			Sigma:         p.Sigma,
			VigMultiplier: p.VigMultiplier,
			VigOffset:     p.VigOffset,
			CDF:           "legacy",
			MoneylineOdds: 100,
			LineStep:      5,
			CloseLead:     2 * time.Hour,
		},
		Cities: []model.City{
			{Name: "Madison, WI", Latitude: 43.0731, Longitude: -89.4012},
			{Name: "Los Angeles, CA", Latitude: 34.0522, Longitude: -118.2437},
			{Name: "New York City, NY", Latitude: 40.7128, Longitude: -74.0060},
		},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. Environment variables win over both.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Model.Sigma <= 0 {
		errs = append(errs, errors.New("model.sigma must be positive"))
	}
	if c.Model.VigMultiplier <= 0 {
		errs = append(errs, errors.New("model.vig_multiplier must be positive"))
	}
	if c.Model.LineStep <= 0 {
		errs = append(errs, errors.New("model.line_step must be positive"))
	}
	if c.Model.CloseLead < 0 {
		errs = append(errs, errors.New("model.close_lead must not be negative"))
	}
	switch strings.ToLower(c.Model.CDF) {
	case "legacy", "precise":
	default:
		errs = append(errs, fmt.Errorf("model.cdf %q: want legacy or precise", c.Model.CDF))
	}
	if c.Limits.MaxPerLine < 0 || c.Limits.MaxCorrelated < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	for i, city := range c.Cities {
		if strings.TrimSpace(city.Name) == "" {
			errs = append(errs, fmt.Errorf("cities[%d]: name is required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location is the house time zone. Validate has already checked it loads.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// OddsParams maps the model settings onto the probability model.
func (c Config) OddsParams() odds.Params {
	p := odds.DefaultParams()
	p.Sigma = c.Model.Sigma
	p.VigMultiplier = c.Model.VigMultiplier
	p.VigOffset = c.Model.VigOffset
	if strings.EqualFold(c.Model.CDF, "precise") {
		p.CDF = odds.PhiPrecise
	}
	return p
}

// LineOptions maps the model settings onto the line generator.
func (c Config) LineOptions() lines.Options {
	o := lines.DefaultOptions()
	o.LineStep = c.Model.LineStep
	o.MoneylineOdds = decimal.NewFromFloat(c.Model.MoneylineOdds).Round(odds.MoneyScale)
	o.CloseLead = c.Model.CloseLead
	o.Location = c.Location()
	return o
}

// ExposureLimits returns the per-line and correlated caps as decimals.
func (c Config) ExposureLimits() (perLine, correlated decimal.Decimal) {
	return decimal.NewFromFloat(c.Limits.MaxPerLine), decimal.NewFromFloat(c.Limits.MaxCorrelated)
}
