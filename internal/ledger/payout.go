package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/store"
)

// ErrLineUnresolved is returned when payout is asked for a pending line.
var ErrLineUnresolved = fmt.Errorf("%w: ledger: line has no outcome to pay out", model.ErrInternal)

// PayoutSummary reports one line's settlement. Counts cover credited winners
// only.
type PayoutSummary struct {
	LineID       string          `json:"line_id"`
	Outcome      model.Outcome   `json:"outcome"`
	Settled      int             `json:"settled"`
	WinnersCount int             `json:"winners_count"`
	TotalPaidOut decimal.Decimal `json:"total_paid_out"`
}

// Distributor settles every wager on a resolved line.
type Distributor struct{}

// NewDistributor creates a Distributor.
func NewDistributor() *Distributor {
	return &Distributor{}
}

// Payout runs inside the caller's unit of work. Each pending wager takes the
// line's outcome; winners are credited their fixed total return. A winner
// whose account no longer exists is settled without a credit. Wagers that
// are already settled are left alone.
func (d *Distributor) Payout(ctx context.Context, tx store.Tx, line *model.Line) (PayoutSummary, error) {
	summary := PayoutSummary{LineID: line.ID, Outcome: line.Outcome, TotalPaidOut: decimal.Zero}
	if !line.Outcome.Settled() {
		return summary, ErrLineUnresolved
	}

	wagers, err := tx.ListWagersByLine(ctx, line.ID)
	if err != nil {
		return summary, err
	}

	for _, w := range wagers {
		if w.Outcome != model.OutcomePending {
			continue
		}
		if err := tx.SettleWager(ctx, w.ID, line.Outcome); err != nil {
			return summary, err
		}
		summary.Settled++

		if line.Outcome != model.OutcomeWon {
			continue
		}
		account, err := tx.GetAccountForUpdate(ctx, w.AccountID)
		if errors.Is(err, model.ErrNotFound) {
			slog.Warn("winning wager has no account, credit skipped",
				"wager_id", w.ID, "account_id", w.AccountID, "line_id", line.ID)
			continue
		}
		if err != nil {
			return summary, err
		}
		if err := tx.UpdateAccountBalance(ctx, account.ID, account.Balance.Add(w.TotalReturn)); err != nil {
			return summary, err
		}
		summary.WinnersCount++
		summary.TotalPaidOut = summary.TotalPaidOut.Add(w.TotalReturn)
	}
	return summary, nil
}
