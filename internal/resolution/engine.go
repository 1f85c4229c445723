// Package resolution settles pending lines against observed weather.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/events"
	"github.com/weatherkings/wager-engine/internal/ledger"
	"github.com/weatherkings/wager-engine/internal/metrics"
	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/outcome"
	"github.com/weatherkings/wager-engine/internal/store"
	"github.com/weatherkings/wager-engine/internal/weather"
)

// ErrAlreadyResolved is returned when a line has already been settled.
var ErrAlreadyResolved = fmt.Errorf("%w: resolution: line already resolved", model.ErrConflict)

// Result is the outcome of resolving one line.
type Result struct {
	LineID        string              `json:"line_id"`
	City          string              `json:"city"`
	Type          model.BetType       `json:"type"`
	Outcome       model.Outcome       `json:"outcome"`
	ObservedValue decimal.NullDecimal `json:"observed_value"`
	WinnersCount  int                 `json:"winners_count"`
	TotalPaidOut  decimal.Decimal     `json:"total_paid_out"`
}

// ItemResult is one entry of a batch run. Error is set when the line failed.
type ItemResult struct {
	LineID string  `json:"line_id"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// BatchResult aggregates a batch run. Totals cover successful items only.
type BatchResult struct {
	Date          string          `json:"date"`
	TotalResolved int             `json:"total_resolved"`
	TotalFailed   int             `json:"total_failed"`
	TotalWinners  int             `json:"total_winners"`
	TotalPaidOut  decimal.Decimal `json:"total_paid_out"`
	Items         []ItemResult    `json:"items"`
}

// Engine resolves lines.
type Engine struct {
	store       store.Store
	geocoder    weather.Geocoder
	observer    weather.Observer
	distributor *ledger.Distributor
	pub         events.Publisher
}

// NewEngine creates a resolution engine. A nil publisher discards events.
func NewEngine(st store.Store, geo weather.Geocoder, obs weather.Observer, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		store:       st,
		geocoder:    geo,
		observer:    obs,
		distributor: ledger.NewDistributor(),
		pub:         pub,
	}
}

// ResolveLine fetches the latest observation for the line's city, decides
// the outcome and pays out winners. Upstream calls happen before the unit of
// work; the pending state is re-checked under lock, so of two concurrent
// resolutions exactly one succeeds.
func (e *Engine) ResolveLine(ctx context.Context, lineID string) (*Result, error) {
	line, err := e.store.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.Outcome != model.OutcomePending {
		return nil, ErrAlreadyResolved
	}

	loc, err := e.geocoder.Geocode(ctx, line.City)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", line.City, err)
	}
	obs, err := e.observer.Observe(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return nil, fmt.Errorf("observe %q: %w", line.City, err)
	}
	won, err := outcome.Evaluate(line, obs)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.GetLineForUpdate(ctx, lineID)
		if err != nil {
			return err
		}
		if locked.Outcome != model.OutcomePending {
			return ErrAlreadyResolved
		}
		locked.Outcome = model.OutcomeOf(won)
		locked.ObservedValue = outcome.ObservedValue(obs)
		if err := tx.UpdateLine(ctx, locked); err != nil {
			return err
		}

		summary, err := e.distributor.Payout(ctx, tx, locked)
		if err != nil {
			return err
		}
		result = &Result{
			LineID:        locked.ID,
			City:          locked.City,
			Type:          locked.Type,
			Outcome:       locked.Outcome,
			ObservedValue: locked.ObservedValue,
			WinnersCount:  summary.WinnersCount,
			TotalPaidOut:  summary.TotalPaidOut,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("line resolved",
		"line_id", result.LineID,
		"city", result.City,
		"outcome", result.Outcome,
		"winners", result.WinnersCount,
		"paid_out", result.TotalPaidOut.String(),
	)
	metrics.LinesResolved.WithLabelValues(string(result.Outcome)).Inc()
	metrics.AmountPaidOut.Add(result.TotalPaidOut.InexactFloat64())

	events.Emit(ctx, e.pub, events.Event{
		Type:       events.TypeLineResolved,
		LineID:     result.LineID,
		City:       result.City,
		TargetDate: line.TargetDate.Format(time.DateOnly),
		Outcome:    string(result.Outcome),
		Winners:    result.WinnersCount,
		PaidOut:    result.TotalPaidOut.String(),
	})
	return result, nil
}

// ResolveBatchByDate resolves every pending line of date in turn. A failing
// line is logged and reported in the items; it never stops the batch.
func (e *Engine) ResolveBatchByDate(ctx context.Context, date time.Time) (*BatchResult, error) {
	date = model.CivilDate(date)
	lines, err := e.store.ListLinesByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{
		Date:         date.Format(time.DateOnly),
		TotalPaidOut: decimal.Zero,
		Items:        []ItemResult{},
	}
	for _, l := range lines {
		if l.Outcome != model.OutcomePending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		res, err := e.ResolveLine(ctx, l.ID)
		if err != nil {
			metrics.ResolutionFailures.Inc()
			if errors.Is(err, model.ErrInternal) || !classified(err) {
				slog.Error("line resolution failed", "line_id", l.ID, "city", l.City, "err", err)
			} else {
				slog.Warn("line resolution skipped", "line_id", l.ID, "city", l.City, "err", err)
			}
			batch.TotalFailed++
			batch.Items = append(batch.Items, ItemResult{LineID: l.ID, Error: err.Error()})
			continue
		}
		batch.TotalResolved++
		batch.TotalWinners += res.WinnersCount
		batch.TotalPaidOut = batch.TotalPaidOut.Add(res.TotalPaidOut)
		batch.Items = append(batch.Items, ItemResult{LineID: l.ID, Result: res})
	}
	return batch, nil
}

func classified(err error) bool {
	return errors.Is(err, model.ErrValidation) ||
		errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrConflict) ||
		errors.Is(err, model.ErrUpstream)
}
