package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/metrics"
	"github.com/atmx/pnl-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Settled resolutions are cached for ttl; unsettled ones are always
// read from the primary. Mark prices live only for priceTTL. Event rows are
// never cached.
//
// Writes go through to the primary and invalidate what they touch: a
// stored resolution drops its cache entry and a stored price bumps the
// price generation, so the next read sees the new value. Writers that
// bypass the cache are only seen once entries expire.
type CachedStore struct {
	primary  Store
	rdb      *redis.Client
	ttl      time.Duration
	priceTTL time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl, priceTTL time.Duration) *CachedStore {
	return &CachedStore{
		primary:  primary,
		rdb:      rdb,
		ttl:      ttl,
		priceTTL: priceTTL,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetResolutions(ctx context.Context, marketIDs []string) (map[string]model.Resolution, error) {
	out := make(map[string]model.Resolution, len(marketIDs))
	if len(marketIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(marketIDs))
	for i, id := range marketIDs {
		keys[i] = resolutionKey(id)
	}

	var missing []string
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		// Cache unavailable: fall back to the primary for everything.
		missing = marketIDs
	} else {
		for i, v := range vals {
			data, ok := v.(string)
			if !ok {
				missing = append(missing, marketIDs[i])
				continue
			}
			var r model.Resolution
			if json.Unmarshal([]byte(data), &r) != nil {
				missing = append(missing, marketIDs[i])
				continue
			}
			out[marketIDs[i]] = r
		}
	}
	metrics.CacheLookups.WithLabelValues("resolution", "hit").Add(float64(len(out)))
	metrics.CacheLookups.WithLabelValues("resolution", "miss").Add(float64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	// Cache miss: read from primary.
	fresh, err := s.primary.GetResolutions(ctx, missing)
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.Pipeline()
	for id, r := range fresh {
		out[id] = r
		if !r.Settled {
			continue
		}
		if data, err := json.Marshal(r); err == nil {
			pipe.Set(ctx, resolutionKey(id), data, s.ttl)
		}
	}
	_, _ = pipe.Exec(ctx)
	return out, nil
}

func (s *CachedStore) GetPrices(ctx context.Context, marketIDs []string) (map[model.OutcomeRef]decimal.Decimal, error) {
	gen, err := s.rdb.Get(ctx, pricesGenKey).Int64()
	if err != nil && err != redis.Nil {
		metrics.CacheLookups.WithLabelValues("prices", "miss").Inc()
		return s.primary.GetPrices(ctx, marketIDs)
	}
	key := pricesKey(gen, marketIDs)

	// Try cache.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var cached []cachedPrice
		if json.Unmarshal(data, &cached) == nil {
			out := make(map[model.OutcomeRef]decimal.Decimal, len(cached))
			for _, c := range cached {
				out[c.Ref] = c.Price
			}
			metrics.CacheLookups.WithLabelValues("prices", "hit").Inc()
			return out, nil
		}
	}

	// Cache miss.
	metrics.CacheLookups.WithLabelValues("prices", "miss").Inc()
	prices, err := s.primary.GetPrices(ctx, marketIDs)
	if err != nil {
		return nil, err
	}

	cached := make([]cachedPrice, 0, len(prices))
	for ref, p := range prices {
		cached = append(cached, cachedPrice{Ref: ref, Price: p})
	}
	if data, err := json.Marshal(cached); err == nil {
		s.rdb.Set(ctx, key, data, s.priceTTL)
	}
	return prices, nil
}

// --- Write-through (primary first, then invalidate) ---

// InsertEvents stores rows in the primary. Events are never cached.
func (s *CachedStore) InsertEvents(ctx context.Context, rows []model.RawEvent) error {
	w, err := s.writer()
	if err != nil {
		return err
	}
	return w.InsertEvents(ctx, rows)
}

// PutResolution stores a resolution in the primary and drops its cache entry.
func (s *CachedStore) PutResolution(ctx context.Context, r model.Resolution) error {
	w, err := s.writer()
	if err != nil {
		return err
	}
	if err := w.PutResolution(ctx, r); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, resolutionKey(r.MarketID)).Err(); err != nil {
		return fmt.Errorf("invalidate resolution %s: %w", r.MarketID, err)
	}
	return nil
}

// PutPrice stores a price in the primary and retires every cached price set.
func (s *CachedStore) PutPrice(ctx context.Context, ref model.OutcomeRef, price decimal.Decimal) error {
	w, err := s.writer()
	if err != nil {
		return err
	}
	if err := w.PutPrice(ctx, ref, price); err != nil {
		return err
	}
	if err := s.rdb.Incr(ctx, pricesGenKey).Err(); err != nil {
		return fmt.Errorf("invalidate prices: %w", err)
	}
	return nil
}

func (s *CachedStore) writer() (Writer, error) {
	w, ok := s.primary.(Writer)
	if !ok {
		return nil, ErrReadOnly
	}
	return w, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]string, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) GetAccountEvents(ctx context.Context, accountID string) ([]model.RawEvent, error) {
	return s.primary.GetAccountEvents(ctx, accountID)
}

// --- Cache helpers ---

// cachedPrice flattens the price map, whose struct keys JSON cannot encode.
type cachedPrice struct {
	Ref   model.OutcomeRef `json:"ref"`
	Price decimal.Decimal  `json:"price"`
}

// pricesGenKey counts price writes; cached price sets of older generations
// are never read again and expire on their own.
const pricesGenKey = "pnl:prices:gen"

func resolutionKey(marketID string) string { return fmt.Sprintf("pnl:resolution:%s", marketID) }

// pricesKey identifies a market set independent of its order, within one
// price generation.
func pricesKey(gen int64, marketIDs []string) string {
	ids := append([]string(nil), marketIDs...)
	sort.Strings(ids)
	data, _ := json.Marshal(ids)
	return fmt.Sprintf("pnl:prices:%d:%s", gen, uuid.NewSHA1(uuid.NameSpaceOID, data))
}
