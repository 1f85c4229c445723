// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
)

// Store is the persistence interface. Reads outside InTx see committed state
// only. Missing records are reported as model.ErrNotFound.
type Store interface {
	// InTx runs fn in one atomic unit. If fn returns an error nothing it
	// wrote is kept.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Lines ---

	// CreateLines persists newly generated lines.
	CreateLines(ctx context.Context, lines []model.Line) error

	// GetLine retrieves a line by its ID.
	GetLine(ctx context.Context, id string) (*model.Line, error)

	// ListLinesByDate returns all lines for a target date, oldest first.
	ListLinesByDate(ctx context.Context, date time.Time) ([]model.Line, error)

	// ListLinesByCityAndDate matches the city case-insensitively.
	ListLinesByCityAndDate(ctx context.Context, city string, date time.Time) ([]model.Line, error)

	// --- Accounts ---

	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// --- Wagers ---

	// ListWagersByAccount returns an account's wagers, newest first.
	ListWagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error)

	// ListWagersByLine returns a line's wagers in placement order.
	ListWagersByLine(ctx context.Context, lineID string) ([]model.Wager, error)
}

// Tx is the view of the store inside an atomic unit. The ForUpdate reads lock
// the record until the unit ends.
type Tx interface {
	GetLineForUpdate(ctx context.Context, id string) (*model.Line, error)
	GetAccountForUpdate(ctx context.Context, id string) (*model.Account, error)

	// ListWagersByLine includes wagers inserted earlier in the same unit.
	ListWagersByLine(ctx context.Context, lineID string) ([]model.Wager, error)

	// ListOpenExposures returns the account's pending stakes.
	ListOpenExposures(ctx context.Context, accountID string) ([]model.Exposure, error)

	InsertWager(ctx context.Context, w *model.Wager) error

	// UpdateLine writes the line's running total, outcome and observed value.
	// Identity, pricing and closing time are never rewritten.
	UpdateLine(ctx context.Context, l *model.Line) error

	UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error

	// SettleWager moves a pending wager to outcome.
	SettleWager(ctx context.Context, id string, outcome model.Outcome) error
}
