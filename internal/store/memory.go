package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/weatherkings/wager-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Units of work are serialized by txMu and stage their writes, which are
// applied under mu only when the unit succeeds.
type MemoryStore struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	lines      map[string]*model.Line
	lineOrder  []string
	accounts   map[string]*model.Account
	wagers     map[string]*model.Wager
	wagerOrder []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lines:    make(map[string]*model.Line),
		accounts: make(map[string]*model.Account),
		wagers:   make(map[string]*model.Wager),
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:        s,
		lines:    make(map[string]model.Line),
		accounts: make(map[string]model.Account),
		wagers:   make(map[string]model.Wager),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) CreateLines(_ context.Context, lines []model.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range lines {
		if _, ok := s.lines[l.ID]; ok {
			return fmt.Errorf("%w: line %s already exists", model.ErrConflict, l.ID)
		}
	}
	for _, l := range lines {
		// Store a copy to avoid external mutation.
		copy := l
		s.lines[l.ID] = &copy
		s.lineOrder = append(s.lineOrder, l.ID)
	}
	return nil
}

func (s *MemoryStore) GetLine(_ context.Context, id string) (*model.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: line %s", model.ErrNotFound, id)
	}
	copy := *l
	return &copy, nil
}

func (s *MemoryStore) ListLinesByDate(_ context.Context, date time.Time) ([]model.Line, error) {
	return s.filterLines(func(l *model.Line) bool {
		return l.TargetDate.Equal(model.CivilDate(date))
	}), nil
}

func (s *MemoryStore) ListLinesByCityAndDate(_ context.Context, city string, date time.Time) ([]model.Line, error) {
	return s.filterLines(func(l *model.Line) bool {
		return l.TargetDate.Equal(model.CivilDate(date)) && model.SameCity(l.City, city)
	}), nil
}

func (s *MemoryStore) filterLines(keep func(*model.Line) bool) []model.Line {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Line
	for _, id := range s.lineOrder {
		if l := s.lines[id]; keep(l) {
			result = append(result, *l)
		}
	}
	return result
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", model.ErrConflict, a.ID)
	}
	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListWagersByAccount(_ context.Context, accountID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for i := len(s.wagerOrder) - 1; i >= 0; i-- {
		if w := s.wagers[s.wagerOrder[i]]; w.AccountID == accountID {
			result = append(result, *w)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListWagersByLine(_ context.Context, lineID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for _, id := range s.wagerOrder {
		if w := s.wagers[id]; w.LineID == lineID {
			result = append(result, *w)
		}
	}
	return result, nil
}

// memTx stages writes over the committed maps.
type memTx struct {
	s         *MemoryStore
	lines     map[string]model.Line
	accounts  map[string]model.Account
	wagers    map[string]model.Wager
	newWagers []string
}

func (t *memTx) line(id string) (model.Line, bool) {
	if l, ok := t.lines[id]; ok {
		return l, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	l, ok := t.s.lines[id]
	if !ok {
		return model.Line{}, false
	}
	return *l, true
}

func (t *memTx) account(id string) (model.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.accounts[id]
	if !ok {
		return model.Account{}, false
	}
	return *a, true
}

// allWagers returns committed and staged wagers in placement order.
func (t *memTx) allWagers() []model.Wager {
	t.s.mu.RLock()
	result := make([]model.Wager, 0, len(t.s.wagerOrder)+len(t.newWagers))
	for _, id := range t.s.wagerOrder {
		w := *t.s.wagers[id]
		if staged, ok := t.wagers[id]; ok {
			w = staged
		}
		result = append(result, w)
	}
	t.s.mu.RUnlock()

	for _, id := range t.newWagers {
		result = append(result, t.wagers[id])
	}
	return result
}

func (t *memTx) GetLineForUpdate(_ context.Context, id string) (*model.Line, error) {
	l, ok := t.line(id)
	if !ok {
		return nil, fmt.Errorf("%w: line %s", model.ErrNotFound, id)
	}
	return &l, nil
}

func (t *memTx) GetAccountForUpdate(_ context.Context, id string) (*model.Account, error) {
	a, ok := t.account(id)
	if !ok {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	return &a, nil
}

func (t *memTx) ListWagersByLine(_ context.Context, lineID string) ([]model.Wager, error) {
	var result []model.Wager
	for _, w := range t.allWagers() {
		if w.LineID == lineID {
			result = append(result, w)
		}
	}
	return result, nil
}

func (t *memTx) ListOpenExposures(_ context.Context, accountID string) ([]model.Exposure, error) {
	var result []model.Exposure
	for _, w := range t.allWagers() {
		if w.AccountID != accountID || w.Outcome != model.OutcomePending {
			continue
		}
		l, ok := t.line(w.LineID)
		if !ok {
			continue
		}
		result = append(result, model.Exposure{
			LineID:     w.LineID,
			City:       l.City,
			TargetDate: l.TargetDate,
			Amount:     w.Amount,
		})
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].LineID < result[j].LineID })
	return result, nil
}

func (t *memTx) InsertWager(_ context.Context, w *model.Wager) error {
	if _, ok := t.wagers[w.ID]; ok {
		return fmt.Errorf("%w: wager %s already exists", model.ErrConflict, w.ID)
	}
	t.s.mu.RLock()
	_, exists := t.s.wagers[w.ID]
	t.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: wager %s already exists", model.ErrConflict, w.ID)
	}
	t.wagers[w.ID] = *w
	t.newWagers = append(t.newWagers, w.ID)
	return nil
}

func (t *memTx) UpdateLine(_ context.Context, l *model.Line) error {
	cur, ok := t.line(l.ID)
	if !ok {
		return fmt.Errorf("%w: line %s", model.ErrNotFound, l.ID)
	}
	cur.TotalWagered = l.TotalWagered
	cur.Outcome = l.Outcome
	cur.ObservedValue = l.ObservedValue
	t.lines[l.ID] = cur
	return nil
}

func (t *memTx) UpdateAccountBalance(_ context.Context, id string, balance decimal.Decimal) error {
	a, ok := t.account(id)
	if !ok {
		return fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	a.Balance = balance
	t.accounts[id] = a
	return nil
}

func (t *memTx) SettleWager(_ context.Context, id string, outcome model.Outcome) error {
	w, ok := t.wagers[id]
	if !ok {
		t.s.mu.RLock()
		committed, found := t.s.wagers[id]
		t.s.mu.RUnlock()
		if !found {
			return fmt.Errorf("%w: wager %s", model.ErrNotFound, id)
		}
		w = *committed
	}
	if w.Outcome != model.OutcomePending {
		return fmt.Errorf("%w: wager %s already settled", model.ErrConflict, id)
	}
	w.Outcome = outcome
	t.wagers[id] = w
	return nil
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, l := range t.lines {
		copy := l
		t.s.lines[id] = &copy
	}
	for id, a := range t.accounts {
		copy := a
		t.s.accounts[id] = &copy
	}
	for id, w := range t.wagers {
		copy := w
		t.s.wagers[id] = &copy
	}
	t.s.wagerOrder = append(t.s.wagerOrder, t.newWagers...)
}
