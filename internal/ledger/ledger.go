// Package ledger places wagers and settles them when their line resolves.
//
// Every balance change happens inside a store unit of work together with the
// wager or line record it accompanies, so a failure leaves no partial state.
// Lines are always locked before accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/correlation"
	"github.com/weatherkings/wager-engine/internal/events"
	"github.com/weatherkings/wager-engine/internal/metrics"
	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/odds"
	"github.com/weatherkings/wager-engine/internal/store"
)

var (
	ErrInvalidAmount     = fmt.Errorf("%w: ledger: amount must be positive with at most two decimal places", model.ErrValidation)
	ErrLineClosed        = fmt.Errorf("%w: ledger: line is closed for wagering", model.ErrConflict)
	ErrLineResolved      = fmt.Errorf("%w: ledger: line is already resolved", model.ErrConflict)
	ErrInsufficientFunds = fmt.Errorf("%w: ledger: insufficient funds", model.ErrConflict)
	ErrTotalDrift        = fmt.Errorf("%w: ledger: line total does not match its wagers", model.ErrInternal)
)

var validate = validator.New()

// PlaceWagerRequest is one stake on one line.
type PlaceWagerRequest struct {
	AccountID string          `json:"account_id" validate:"required,max=64"`
	LineID    string          `json:"line_id" validate:"required,max=64"`
	Amount    decimal.Decimal `json:"amount"`
}

// Validate checks the request shape. It does not touch the store.
func (r PlaceWagerRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if !validAmount(r.Amount) || r.Amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

// Receipt confirms a placed wager.
type Receipt struct {
	WagerID         string          `json:"wager_id"`
	LineID          string          `json:"line_id"`
	AccountID       string          `json:"account_id"`
	Amount          decimal.Decimal `json:"amount"`
	PotentialProfit decimal.Decimal `json:"potential_profit"`
	TotalReturn     decimal.Decimal `json:"total_return"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	PlacedAt        time.Time       `json:"placed_at"`
}

// Ledger executes wagers against lines.
type Ledger struct {
	store   store.Store
	limiter *correlation.ExposureLimiter
	pub     events.Publisher
	now     func() time.Time
	newID   func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLimiter enforces stake limits on placement.
func WithLimiter(l *correlation.ExposureLimiter) Option {
	return func(lg *Ledger) { lg.limiter = l }
}

// WithPublisher sends wager_placed events after commit.
func WithPublisher(p events.Publisher) Option {
	return func(lg *Ledger) { lg.pub = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// WithIDs overrides the wager and account ID generator.
func WithIDs(newID func() string) Option {
	return func(lg *Ledger) { lg.newID = newID }
}

// New creates a Ledger on st.
func New(st store.Store, opts ...Option) *Ledger {
	lg := &Ledger{
		store: st,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(lg)
	}
	return lg
}

// PlaceWager debits the account, records the wager and raises the line's
// running total in one unit of work.
func (lg *Ledger) PlaceWager(ctx context.Context, req PlaceWagerRequest) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		metrics.WagerRejections.WithLabelValues(reason(err)).Inc()
		return nil, err
	}

	var (
		receipt *Receipt
		line    *model.Line
	)
	err := lg.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		line, err = tx.GetLineForUpdate(ctx, req.LineID)
		if err != nil {
			return err
		}
		account, err := tx.GetAccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}

		now := lg.now().UTC()
		if line.Outcome != model.OutcomePending {
			return ErrLineResolved
		}
		if !now.Before(line.ClosesAt) {
			return ErrLineClosed
		}
		if account.Balance.LessThan(req.Amount) {
			return ErrInsufficientFunds
		}
		if lg.limiter.Enabled() {
			existing, err := tx.ListOpenExposures(ctx, account.ID)
			if err != nil {
				return err
			}
			target := model.Exposure{LineID: line.ID, City: line.City, TargetDate: line.TargetDate, Amount: req.Amount}
			if err := lg.limiter.CheckLimit(target, existing); err != nil {
				return fmt.Errorf("%w: %w", model.ErrConflict, err)
			}
		}

		profit := odds.Profit(req.Amount, line.Odds)
		wager := &model.Wager{
			ID:          lg.newID(),
			LineID:      line.ID,
			AccountID:   account.ID,
			Amount:      req.Amount,
			TotalReturn: req.Amount.Add(profit),
			Outcome:     model.OutcomePending,
			PlacedAt:    now,
		}
		newBalance := account.Balance.Sub(req.Amount)

		if err := tx.UpdateAccountBalance(ctx, account.ID, newBalance); err != nil {
			return err
		}
		if err := tx.InsertWager(ctx, wager); err != nil {
			return err
		}

		line.TotalWagered = line.TotalWagered.Add(req.Amount)
		if err := checkLineTotal(ctx, tx, line); err != nil {
			return err
		}
		if err := tx.UpdateLine(ctx, line); err != nil {
			return err
		}

		receipt = &Receipt{
			WagerID:         wager.ID,
			LineID:          line.ID,
			AccountID:       account.ID,
			Amount:          wager.Amount,
			PotentialProfit: profit,
			TotalReturn:     wager.TotalReturn,
			NewBalance:      newBalance,
			PlacedAt:        now,
		}
		return nil
	})
	if err != nil {
		metrics.WagerRejections.WithLabelValues(reason(err)).Inc()
		if errors.Is(err, ErrTotalDrift) {
			slog.Error("wager rejected", "line_id", req.LineID, "account_id", req.AccountID, "err", err)
		}
		return nil, err
	}

	slog.Info("wager placed",
		"wager_id", receipt.WagerID,
		"line_id", receipt.LineID,
		"account_id", receipt.AccountID,
		"amount", receipt.Amount.String(),
		"total_return", receipt.TotalReturn.String(),
	)
	metrics.WagersPlaced.WithLabelValues(string(line.Type)).Inc()
	metrics.AmountWagered.Add(receipt.Amount.InexactFloat64())

	events.Emit(ctx, lg.pub, events.Event{
		Type:         events.TypeWagerPlaced,
		LineID:       receipt.LineID,
		WagerID:      receipt.WagerID,
		AccountID:    receipt.AccountID,
		City:         line.City,
		TargetDate:   line.TargetDate.Format("2006-01-02"),
		Amount:       receipt.Amount.String(),
		TotalWagered: line.TotalWagered.String(),
		Timestamp:    receipt.PlacedAt,
	})
	return receipt, nil
}

// OpenAccount creates an account holding initial.
func (lg *Ledger) OpenAccount(ctx context.Context, initial decimal.Decimal) (*model.Account, error) {
	if initial.IsNegative() || !validAmount(initial) {
		return nil, fmt.Errorf("%w: ledger: initial balance must be non-negative with at most two decimal places", model.ErrValidation)
	}
	a := &model.Account{
		ID:        lg.newID(),
		Balance:   initial,
		CreatedAt: lg.now().UTC(),
	}
	if err := lg.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	slog.Info("account opened", "account_id", a.ID, "balance", a.Balance.String())
	return a, nil
}

// Account returns the account with id.
func (lg *Ledger) Account(ctx context.Context, id string) (*model.Account, error) {
	return lg.store.GetAccount(ctx, id)
}

// checkLineTotal verifies that line.TotalWagered equals the sum of the
// line's wagers as seen inside the unit.
func checkLineTotal(ctx context.Context, tx store.Tx, line *model.Line) error {
	wagers, err := tx.ListWagersByLine(ctx, line.ID)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	for _, w := range wagers {
		sum = sum.Add(w.Amount)
	}
	if !sum.Equal(line.TotalWagered) {
		return fmt.Errorf("%w: line %s total %s, wagers sum %s", ErrTotalDrift, line.ID, line.TotalWagered, sum)
	}
	return nil
}

func validAmount(a decimal.Decimal) bool {
	return !a.IsNegative() && a.Equal(a.Round(odds.MoneyScale))
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrLineClosed), errors.Is(err, ErrLineResolved):
		return "line_closed"
	case errors.Is(err, correlation.ErrPerLineLimitExceeded), errors.Is(err, correlation.ErrCorrelatedLimitExceeded):
		return "exposure_limit"
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	}
	return "internal"
}
