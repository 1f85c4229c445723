package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/correlation"
	"github.com/weatherkings/wager-engine/internal/events"
	"github.com/weatherkings/wager-engine/internal/ledger"
	"github.com/weatherkings/wager-engine/internal/model"
	"github.com/weatherkings/wager-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	now      = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	tomorrow = time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
)

func clock() time.Time { return now }

func seedLine(t *testing.T, ms *store.MemoryStore, id string, odds float64) *model.Line {
	t.Helper()
	l := model.Line{
		ID:           id,
		City:         "Madison, WI",
		TargetDate:   tomorrow,
		Type:         model.BetMaxTempOverUnder,
		Value:        decimal.NewNullDecimal(d(50)),
		Odds:         d(odds),
		TotalWagered: decimal.Zero,
		Outcome:      model.OutcomePending,
		CreatedAt:    now.Add(-time.Hour),
		ClosesAt:     tomorrow.Add(-2 * time.Hour),
	}
	if err := ms.CreateLines(context.Background(), []model.Line{l}); err != nil {
		t.Fatalf("failed to seed line: %v", err)
	}
	return &l
}

func seedAccount(t *testing.T, ms *store.MemoryStore, id string, balance float64) {
	t.Helper()
	if err := ms.CreateAccount(context.Background(), &model.Account{ID: id, Balance: d(balance)}); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func newLedger(ms store.Store, opts ...ledger.Option) *ledger.Ledger {
	n := 0
	ids := func() string { n++; return fmt.Sprintf("w%d", n) }
	return ledger.New(ms, append([]ledger.Option{ledger.WithClock(clock), ledger.WithIDs(ids)}, opts...)...)
}

func place(lg *ledger.Ledger, account, line string, amount float64) (*ledger.Receipt, error) {
	return lg.PlaceWager(context.Background(), ledger.PlaceWagerRequest{AccountID: account, LineID: line, Amount: d(amount)})
}

// --- Placement tests ---

func TestPlaceWager_Success(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLine(t, ms, "l1", 100)
	seedAccount(t, ms, "alice", 200)
	lg := newLedger(ms)

	r, err := place(lg, "alice", "l1", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.PotentialProfit.Equal(d(50)) || !r.TotalReturn.Equal(d(100)) {
		t.Errorf("expected profit 50 / return 100, got %s / %s", r.PotentialProfit, r.TotalReturn)
	}
	if !r.NewBalance.Equal(d(150)) {
		t.Errorf("expected new balance 150, got %s", r.NewBalance)
	}

	ctx := context.Background()
	a, _ := ms.GetAccount(ctx, "alice")
	if !a.Balance.Equal(d(150)) {
		t.Errorf("expected stored balance 150, got %s", a.Balance)
	}
	l, _ := ms.GetLine(ctx, "l1")
	if !l.TotalWagered.Equal(d(50)) {
		t.Errorf("expected line total 50, got %s", l.TotalWagered)
	}
	wagers, _ := ms.ListWagersByLine(ctx, "l1")
	if len(wagers) != 1 || wagers[0].Outcome != model.OutcomePending || !wagers[0].TotalReturn.Equal(d(100)) {
		t.Errorf("unexpected wagers %+v", wagers)
	}
}

func TestPlaceWager_NegativeOdds(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLine(t, ms, "l1", -150)
	seedAccount(t, ms, "alice", 150)
	lg := newLedger(ms)

	r, err := place(lg, "alice", "l1", 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.PotentialProfit.Equal(d(100)) || !r.NewBalance.IsZero() {
		t.Errorf("expected profit 100 and empty balance, got %s / %s", r.PotentialProfit, r.NewBalance)
	}
}

func TestPlaceWager_RunningTotalMatchesWagers(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLine(t, ms, "l1", 100)
	seedAccount(t, ms, "alice", 100)
	seedAccount(t, ms, "bob", 100)
	lg := newLedger(ms)

	for _, w := range []struct {
		acct   string
		amount float64
	}{{"alice", 10}, {"bob", 20.5}, {"alice", 0.25}} {
		if _, err := place(lg, w.acct, "l1", w.amount); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ctx := context.Background()
	l, _ := ms.GetLine(ctx, "l1")
	wagers, _ := ms.ListWagersByLine(ctx, "l1")
	sum := decimal.Zero
	for _, w := range wagers {
		sum = sum.Add(w.Amount)
	}
	if !sum.Equal(l.TotalWagered) || !sum.Equal(d(30.75)) {
		t.Errorf("expected total 30.75 equal to sum, got total %s sum %s", l.TotalWagered, sum)
	}
}

func TestPlaceWager_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		account string
		line    string
		amount  float64
		class   error
		want    error
	}{
		{"amount exceeds balance", "alice", "open", 100.01, model.ErrConflict, ledger.ErrInsufficientFunds},
		{"zero amount", "alice", "open", 0, model.ErrValidation, ledger.ErrInvalidAmount},
		{"negative amount", "alice", "open", -5, model.ErrValidation, ledger.ErrInvalidAmount},
		{"sub-cent amount", "alice", "open", 1.005, model.ErrValidation, ledger.ErrInvalidAmount},
		{"missing account id", "", "open", 5, model.ErrValidation, nil},
		{"unknown account", "nobody", "open", 5, model.ErrNotFound, nil},
		{"unknown line", "alice", "nope", 5, model.ErrNotFound, nil},
		{"closed line", "alice", "closed", 5, model.ErrConflict, ledger.ErrLineClosed},
		{"closes exactly now", "alice", "edge", 5, model.ErrConflict, ledger.ErrLineClosed},
		{"resolved line", "alice", "resolved", 5, model.ErrConflict, ledger.ErrLineResolved},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ms := store.NewMemoryStore()
			ctx := context.Background()
			seedLine(t, ms, "open", 100)
			closed := model.Line{ID: "closed", TargetDate: tomorrow, Odds: d(100), Outcome: model.OutcomePending, ClosesAt: now.Add(-time.Minute)}
			edge := model.Line{ID: "edge", TargetDate: tomorrow, Odds: d(100), Outcome: model.OutcomePending, ClosesAt: now}
			resolved := model.Line{ID: "resolved", TargetDate: tomorrow, Odds: d(100), Outcome: model.OutcomeWon, ClosesAt: tomorrow}
			ms.CreateLines(ctx, []model.Line{closed, edge, resolved})
			seedAccount(t, ms, "alice", 100)
			lg := newLedger(ms)

			_, err := place(lg, tc.account, tc.line, tc.amount)
			if !errors.Is(err, tc.class) {
				t.Fatalf("expected %v, got %v", tc.class, err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}

			a, _ := ms.GetAccount(ctx, "alice")
			if !a.Balance.Equal(d(100)) {
				t.Errorf("balance changed to %s", a.Balance)
			}
			if w, _ := ms.ListWagersByAccount(ctx, "alice"); len(w) != 0 {
				t.Errorf("expected no wagers, got %d", len(w))
			}
		})
	}
}

func TestPlaceWager_ExposureLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLine(t, ms, "l1", 100)
	seedLine(t, ms, "l2", 100)
	seedAccount(t, ms, "alice", 1000)
	lg := newLedger(ms, ledger.WithLimiter(correlation.NewExposureLimiter(d(100), d(150))))

	if _, err := place(lg, "alice", "l1", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := place(lg, "alice", "l1", 1)
	if !errors.Is(err, correlation.ErrPerLineLimitExceeded) || !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected per-line conflict, got %v", err)
	}
	_, err = place(lg, "alice", "l2", 60)
	if !errors.Is(err, correlation.ErrCorrelatedLimitExceeded) {
		t.Errorf("expected correlated conflict, got %v", err)
	}
	if _, err := place(lg, "alice", "l2", 50); err != nil {
		t.Errorf("expected 50 to fit under the group cap, got %v", err)
	}
}

// failingStore injects an error after the debit has been staged.
type failingStore struct {
	store.Store
}

type failingTx struct {
	store.Tx
}

func (s failingStore) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error { return fn(failingTx{tx}) })
}

func (failingTx) InsertWager(context.Context, *model.Wager) error {
	return errors.New("disk full")
}

func TestPlaceWager_AtomicOnFailure(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLine(t, ms, "l1", 100)
	seedAccount(t, ms, "alice", 100)
	lg := newLedger(failingStore{ms})

	if _, err := place(lg, "alice", "l1", 40); err == nil {
		t.Fatal("expected error")
	}

	ctx := context.Background()
	a, _ := ms.GetAccount(ctx, "alice")
	if !a.Balance.Equal(d(100)) {
		t.Errorf("debit leaked: balance %s", a.Balance)
	}
	l, _ := ms.GetLine(ctx, "l1")
	if !l.TotalWagered.IsZero() {
		t.Errorf("line total leaked: %s", l.TotalWagered)
	}
}

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return nil
}

func TestPlaceWager_PublishesEvent(t *testing.T) {
	ms := store.NewMemoryStore()
	seedLine(t, ms, "l1", 100)
	seedAccount(t, ms, "alice", 100)
	rec := &recorder{}
	lg := newLedger(ms, ledger.WithPublisher(rec))

	place(lg, "alice", "l1", 10)
	place(lg, "alice", "l1", 1000)

	if len(rec.got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rec.got))
	}
	e := rec.got[0]
	if e.Type != events.TypeWagerPlaced || e.LineID != "l1" || e.Amount != "10" || e.TotalWagered != "10" {
		t.Errorf("unexpected event %+v", e)
	}
}

// --- Accounts ---

func TestOpenAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	lg := newLedger(ms)
	ctx := context.Background()

	a, err := lg.OpenAccount(ctx, d(25.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := lg.Account(ctx, a.ID)
	if err != nil || !got.Balance.Equal(d(25.5)) {
		t.Errorf("expected stored balance 25.5, got %v %v", got, err)
	}
	if _, err := lg.OpenAccount(ctx, d(-1)); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
