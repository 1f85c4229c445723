package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var day = time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	lines := []model.Line{
		{ID: "l1", City: "Madison, WI", TargetDate: day, Type: model.BetRainYesNo, Odds: d(100), Outcome: model.OutcomePending},
		{ID: "l2", City: "Los Angeles, CA", TargetDate: day, Type: model.BetConditionMatch, Odds: d(100), Outcome: model.OutcomePending},
		{ID: "l3", City: "Madison, WI", TargetDate: day.AddDate(0, 0, 1), Type: model.BetRainYesNo, Odds: d(100), Outcome: model.OutcomePending},
	}
	if err := s.CreateLines(ctx, lines); err != nil {
		t.Fatalf("seed lines: %v", err)
	}
	if err := s.CreateAccount(ctx, &model.Account{ID: "a1", Balance: d(100)}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetLine(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAccount(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DuplicateLineRejected(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)

	err := s.CreateLines(context.Background(), []model.Line{{ID: "l1"}})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStore_ListLinesByCityAndDate(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)

	got, _ := s.ListLinesByCityAndDate(context.Background(), "MADISON, wi", day)
	if len(got) != 1 || got[0].ID != "l1" {
		t.Errorf("expected [l1], got %+v", got)
	}
	all, _ := s.ListLinesByDate(context.Background(), day.Add(15*time.Hour))
	if len(all) != 2 {
		t.Errorf("expected 2 lines on the date, got %d", len(all))
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	l, _ := s.GetLine(ctx, "l1")
	l.Outcome = model.OutcomeWon

	again, _ := s.GetLine(ctx, "l1")
	if again.Outcome != model.OutcomePending {
		t.Error("mutating a returned line must not change the store")
	}
}

func TestMemoryStore_TxCommit(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Tx) error {
		if err := tx.UpdateAccountBalance(ctx, "a1", d(90)); err != nil {
			return err
		}
		if err := tx.InsertWager(ctx, &model.Wager{ID: "w1", LineID: "l1", AccountID: "a1", Amount: d(10), Outcome: model.OutcomePending}); err != nil {
			return err
		}
		wagers, err := tx.ListWagersByLine(ctx, "l1")
		if err != nil || len(wagers) != 1 {
			t.Errorf("expected staged wager visible in unit, got %v %v", wagers, err)
		}
		exp, err := tx.ListOpenExposures(ctx, "a1")
		if err != nil || len(exp) != 1 || exp[0].City != "Madison, WI" {
			t.Errorf("expected one exposure, got %+v %v", exp, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := s.GetAccount(ctx, "a1")
	if !a.Balance.Equal(d(90)) {
		t.Errorf("expected balance 90, got %s", a.Balance)
	}
	wagers, _ := s.ListWagersByAccount(ctx, "a1")
	if len(wagers) != 1 {
		t.Errorf("expected 1 wager, got %d", len(wagers))
	}
}

func TestMemoryStore_TxRollback(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Tx) error {
		tx.UpdateAccountBalance(ctx, "a1", d(0))
		tx.InsertWager(ctx, &model.Wager{ID: "w1", LineID: "l1", AccountID: "a1", Amount: d(100)})
		tx.UpdateLine(ctx, &model.Line{ID: "l1", TotalWagered: d(100), Outcome: model.OutcomeWon})
		return boom
	})
	if err != boom {
		t.Fatalf("expected boom, got %v", err)
	}

	a, _ := s.GetAccount(ctx, "a1")
	if !a.Balance.Equal(d(100)) {
		t.Errorf("expected balance untouched, got %s", a.Balance)
	}
	l, _ := s.GetLine(ctx, "l1")
	if l.Outcome != model.OutcomePending || !l.TotalWagered.IsZero() {
		t.Errorf("expected line untouched, got %+v", l)
	}
	if w, _ := s.ListWagersByLine(ctx, "l1"); len(w) != 0 {
		t.Errorf("expected no wagers, got %d", len(w))
	}
}

func TestMemoryStore_UpdateLineKeepsClosingTime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	closes := day.Add(-2 * time.Hour)
	s.CreateLines(ctx, []model.Line{{ID: "l1", TargetDate: day, ClosesAt: closes, Outcome: model.OutcomePending}})

	s.InTx(ctx, func(tx Tx) error {
		return tx.UpdateLine(ctx, &model.Line{ID: "l1", ClosesAt: time.Time{}, Outcome: model.OutcomeLost})
	})

	l, _ := s.GetLine(ctx, "l1")
	if !l.ClosesAt.Equal(closes) {
		t.Errorf("closing time changed to %v", l.ClosesAt)
	}
	if l.Outcome != model.OutcomeLost {
		t.Errorf("expected LOST, got %s", l.Outcome)
	}
}

func TestMemoryStore_SettleWagerOnce(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s)
	ctx := context.Background()

	s.InTx(ctx, func(tx Tx) error {
		return tx.InsertWager(ctx, &model.Wager{ID: "w1", LineID: "l1", AccountID: "a1", Amount: d(5), Outcome: model.OutcomePending})
	})

	if err := s.InTx(ctx, func(tx Tx) error { return tx.SettleWager(ctx, "w1", model.OutcomeWon) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.InTx(ctx, func(tx Tx) error { return tx.SettleWager(ctx, "w1", model.OutcomeLost) })
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict on second settlement, got %v", err)
	}
	err = s.InTx(ctx, func(tx Tx) error { return tx.SettleWager(ctx, "nope", model.OutcomeLost) })
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
