package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string][]model.RawEvent
	resolutions map[string]model.Resolution
	prices      map[model.OutcomeRef]decimal.Decimal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string][]model.RawEvent),
		resolutions: make(map[string]model.Resolution),
		prices:      make(map[model.OutcomeRef]decimal.Decimal),
	}
}

// InsertEvents appends raw rows, keyed by their account.
func (s *MemoryStore) InsertEvents(_ context.Context, rows []model.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		if r.AccountID == "" {
			return fmt.Errorf("row %q has no account", r.ID)
		}
	}
	for _, r := range rows {
		s.events[r.AccountID] = append(s.events[r.AccountID], r)
	}
	return nil
}

// PutResolution stores or replaces a market's resolution.
func (s *MemoryStore) PutResolution(_ context.Context, r model.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.PayoutFractions = append([]decimal.Decimal(nil), r.PayoutFractions...)
	s.resolutions[r.MarketID] = r
	return nil
}

// PutPrice stores or replaces an outcome's mark price.
func (s *MemoryStore) PutPrice(_ context.Context, ref model.OutcomeRef, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[ref] = price
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]string, 0, len(s.events))
	for id := range s.events {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (s *MemoryStore) GetAccountEvents(_ context.Context, accountID string) ([]model.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.events[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	// Copy to avoid external mutation.
	return append([]model.RawEvent(nil), rows...), nil
}

func (s *MemoryStore) GetResolutions(_ context.Context, marketIDs []string) (map[string]model.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.Resolution, len(marketIDs))
	for _, id := range marketIDs {
		if r, ok := s.resolutions[id]; ok {
			r.PayoutFractions = append([]decimal.Decimal(nil), r.PayoutFractions...)
			out[id] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) GetPrices(_ context.Context, marketIDs []string) (map[model.OutcomeRef]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(marketIDs))
	for _, id := range marketIDs {
		wanted[id] = true
	}
	out := make(map[model.OutcomeRef]decimal.Decimal)
	for ref, p := range s.prices {
		if wanted[ref.MarketID] {
			out[ref] = p
		}
	}
	return out, nil
}
