package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

const lineColumns = `id, city, target_date, description, bet_type,
	line_value::TEXT, odds::TEXT, observed_value::TEXT, total_wagered::TEXT,
	outcome, created_at, closes_at`

const wagerColumns = `id, line_id, account_id, amount::TEXT, total_return::TEXT, outcome, placed_at`

func (s *PostgresStore) CreateLines(ctx context.Context, lines []model.Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(
			`INSERT INTO lines (id, city, target_date, description, bet_type,
			                    line_value, odds, observed_value, total_wagered,
			                    outcome, created_at, closes_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
			l.ID, l.City, l.TargetDate, l.Description, string(l.Type),
			nullNumeric(l.Value), l.Odds.String(), nullNumeric(l.ObservedValue), l.TotalWagered.String(),
			string(l.Outcome), l.CreatedAt, l.ClosesAt,
		)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return classify(err, "create lines")
		}
		return nil
	})
}

func (s *PostgresStore) GetLine(ctx context.Context, id string) (*model.Line, error) {
	return getLine(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListLinesByDate(ctx context.Context, date time.Time) ([]model.Line, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM lines WHERE target_date = $1 ORDER BY created_at, id`,
		model.CivilDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (s *PostgresStore) ListLinesByCityAndDate(ctx context.Context, city string, date time.Time) ([]model.Line, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM lines
		 WHERE lower(city) = lower($1) AND target_date = $2
		 ORDER BY created_at, id`,
		city, model.CivilDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance, disabled, created_at) VALUES ($1, $2::NUMERIC, $3, $4)`,
		a.ID, a.Balance.String(), a.Disabled, a.CreatedAt)
	return classify(err, "create account "+a.ID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListWagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE account_id = $1 ORDER BY placed_at DESC, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

func (s *PostgresStore) ListWagersByLine(ctx context.Context, lineID string) ([]model.Wager, error) {
	return listWagersByLine(ctx, s.pool, lineID)
}

// pgTx implements Tx on an open transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) GetLineForUpdate(ctx context.Context, id string) (*model.Line, error) {
	return getLine(ctx, t.q, id, " FOR UPDATE")
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, id string) (*model.Account, error) {
	return getAccount(ctx, t.q, id, " FOR UPDATE")
}

func (t *pgTx) ListWagersByLine(ctx context.Context, lineID string) ([]model.Wager, error) {
	return listWagersByLine(ctx, t.q, lineID)
}

func (t *pgTx) ListOpenExposures(ctx context.Context, accountID string) ([]model.Exposure, error) {
	rows, err := t.q.Query(ctx,
		`SELECT w.line_id, l.city, l.target_date, w.amount::TEXT
		 FROM wagers w
		 JOIN lines l ON l.id = w.line_id
		 WHERE w.account_id = $1 AND w.outcome = 'PENDING'
		 ORDER BY w.line_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Exposure
	for rows.Next() {
		var e model.Exposure
		var amount string
		if err := rows.Scan(&e.LineID, &e.City, &e.TargetDate, &amount); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		result = append(result, e)
	}
	return result, rows.Err()
}

func (t *pgTx) InsertWager(ctx context.Context, w *model.Wager) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO wagers (id, line_id, account_id, amount, total_return, outcome, placed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		w.ID, w.LineID, w.AccountID, w.Amount.String(), w.TotalReturn.String(),
		string(w.Outcome), w.PlacedAt)
	return classify(err, "insert wager "+w.ID)
}

func (t *pgTx) UpdateLine(ctx context.Context, l *model.Line) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE lines
		 SET total_wagered = $2::NUMERIC, outcome = $3, observed_value = $4::NUMERIC
		 WHERE id = $1`,
		l.ID, l.TotalWagered.String(), string(l.Outcome), nullNumeric(l.ObservedValue))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: line %s", model.ErrNotFound, l.ID)
	}
	return nil
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE id = $1`, id, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) SettleWager(ctx context.Context, id string, outcome model.Outcome) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE wagers SET outcome = $2 WHERE id = $1 AND outcome = 'PENDING'`, id, string(outcome))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wagers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: wager %s", model.ErrNotFound, id)
	}
	return fmt.Errorf("%w: wager %s already settled", model.ErrConflict, id)
}

// --- shared helpers ---

func getLine(ctx context.Context, q querier, id, lock string) (*model.Line, error) {
	l, err := scanLine(q.QueryRow(ctx, `SELECT `+lineColumns+` FROM lines WHERE id = $1`+lock, id))
	if err != nil {
		return nil, classify(err, "line "+id)
	}
	return l, nil
}

func getAccount(ctx context.Context, q querier, id, lock string) (*model.Account, error) {
	var a model.Account
	var balance string
	err := q.QueryRow(ctx,
		`SELECT id, balance::TEXT, disabled, created_at FROM accounts WHERE id = $1`+lock, id).
		Scan(&a.ID, &balance, &a.Disabled, &a.CreatedAt)
	if err != nil {
		return nil, classify(err, "account "+id)
	}
	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func listWagersByLine(ctx context.Context, q querier, lineID string) ([]model.Wager, error) {
	rows, err := q.Query(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE line_id = $1 ORDER BY placed_at, id`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWagers(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLine(row scanner) (*model.Line, error) {
	var l model.Line
	var betType, outcome string
	var value, observed *string
	var odds, total string

	if err := row.Scan(&l.ID, &l.City, &l.TargetDate, &l.Description, &betType,
		&value, &odds, &observed, &total,
		&outcome, &l.CreatedAt, &l.ClosesAt); err != nil {
		return nil, err
	}

	l.Type = model.BetType(betType)
	l.Outcome = model.Outcome(outcome)
	l.Value = parseNull(value)
	l.ObservedValue = parseNull(observed)
	l.Odds, _ = decimal.NewFromString(odds)
	l.TotalWagered, _ = decimal.NewFromString(total)
	return &l, nil
}

func scanLines(rows pgx.Rows) ([]model.Line, error) {
	var lines []model.Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

func scanWagers(rows pgx.Rows) ([]model.Wager, error) {
	var wagers []model.Wager
	for rows.Next() {
		var w model.Wager
		var amount, total, outcome string
		if err := rows.Scan(&w.ID, &w.LineID, &w.AccountID, &amount, &total, &outcome, &w.PlacedAt); err != nil {
			return nil, err
		}
		w.Amount, _ = decimal.NewFromString(amount)
		w.TotalReturn, _ = decimal.NewFromString(total)
		w.Outcome = model.Outcome(outcome)
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func nullNumeric(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNull(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

// classify maps driver errors onto the model error classes.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s already exists", model.ErrConflict, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
