package weather

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weatherkings/wager-engine/internal/model"
)

// CachedGeocoder memoises geocoding results in Redis. Places do not move, so
// entries live for a long TTL. Redis failures fall through to the upstream.
type CachedGeocoder struct {
	next Geocoder
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedGeocoder wraps next with a Redis cache.
func NewCachedGeocoder(next Geocoder, rdb *redis.Client, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{next: next, rdb: rdb, ttl: ttl}
}

func (g *CachedGeocoder) Geocode(ctx context.Context, city string) (*model.Location, error) {
	key := geocodeKey(city)

	data, err := g.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var loc model.Location
		if json.Unmarshal(data, &loc) == nil {
			return &loc, nil
		}
	} else if err != redis.Nil {
		slog.Warn("geocode cache read failed", "city", city, "err", err)
	}

	loc, err := g.next.Geocode(ctx, city)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(loc); err == nil {
		g.rdb.Set(ctx, key, data, g.ttl)
	}
	return loc, nil
}

func geocodeKey(city string) string {
	return "geocode:" + strings.ToLower(strings.TrimSpace(city))
}
