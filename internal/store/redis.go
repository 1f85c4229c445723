package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weatherkings/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for lines. Writes go to the primary store and invalidate the cache;
// reads check Redis first then fall back to the primary. Accounts and wagers
// are never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var ct *cachedTx
	err := s.primary.InTx(ctx, func(tx Tx) error {
		ct = &cachedTx{Tx: tx}
		return fn(ct)
	})
	if err != nil {
		return err
	}
	// Invalidate after commit; next read will re-populate.
	if keys := ct.dirtyKeys(); len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) CreateLines(ctx context.Context, lines []model.Line) error {
	if err := s.primary.CreateLines(ctx, lines); err != nil {
		return err
	}
	seen := make(map[string]bool)
	var keys []string
	for _, l := range lines {
		if k := dateKey(l.TargetDate); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLine(ctx context.Context, id string) (*model.Line, error) {
	data, err := s.rdb.Get(ctx, lineKey(id)).Bytes()
	if err == nil {
		var l model.Line
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.GetLine(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, lineKey(id), l)
	return l, nil
}

func (s *CachedStore) ListLinesByDate(ctx context.Context, date time.Time) ([]model.Line, error) {
	key := dateKey(date)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var lines []model.Line
		if json.Unmarshal(data, &lines) == nil {
			return lines, nil
		}
	}

	lines, err := s.primary.ListLinesByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	s.cache(ctx, key, lines)
	return lines, nil
}

// ListLinesByCityAndDate filters the cached date listing.
func (s *CachedStore) ListLinesByCityAndDate(ctx context.Context, city string, date time.Time) ([]model.Line, error) {
	all, err := s.ListLinesByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	var result []model.Line
	for _, l := range all {
		if model.SameCity(l.City, city) {
			result = append(result, l)
		}
	}
	return result, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) ListWagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	return s.primary.ListWagersByAccount(ctx, accountID)
}

func (s *CachedStore) ListWagersByLine(ctx context.Context, lineID string) ([]model.Wager, error) {
	return s.primary.ListWagersByLine(ctx, lineID)
}

// cachedTx records which lines a unit touched.
type cachedTx struct {
	Tx
	lines map[string]time.Time
}

func (t *cachedTx) UpdateLine(ctx context.Context, l *model.Line) error {
	if err := t.Tx.UpdateLine(ctx, l); err != nil {
		return err
	}
	if t.lines == nil {
		t.lines = make(map[string]time.Time)
	}
	t.lines[l.ID] = l.TargetDate
	return nil
}

func (t *cachedTx) dirtyKeys() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]bool)
	var keys []string
	for id, date := range t.lines {
		keys = append(keys, lineKey(id))
		if k := dateKey(date); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func lineKey(id string) string { return fmt.Sprintf("line:%s", id) }

func dateKey(d time.Time) string {
	return fmt.Sprintf("lines:date:%s", model.CivilDate(d).Format("2006-01-02"))
}
