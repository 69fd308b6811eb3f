// Package store defines the data-source interface the PnL engine reads
// from. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// The store is an external collaborator of the engine: it hands out raw
// rows and the maps snapshots are built from, and never holds engine state.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/oracle"
)

var (
	// ErrAccountNotFound is returned when an account has no event rows.
	ErrAccountNotFound = errors.New("store: account not found")

	// ErrReadOnly is returned by a cache whose primary store cannot be written.
	ErrReadOnly = errors.New("store: primary store is read-only")
)

// SnapshotReader provides the rows resolution and price snapshots are
// built from.
type SnapshotReader interface {
	// GetResolutions returns the known resolutions of the given markets.
	// Markets without a resolution are absent from the map.
	GetResolutions(ctx context.Context, marketIDs []string) (map[string]model.Resolution, error)

	// GetPrices returns current mark prices for the outcomes of the given markets.
	GetPrices(ctx context.Context, marketIDs []string) (map[model.OutcomeRef]decimal.Decimal, error)
}

// Writer accepts event rows, resolutions and mark prices. MemoryStore,
// PostgresStore and CachedStore implement it.
type Writer interface {
	InsertEvents(ctx context.Context, rows []model.RawEvent) error
	PutResolution(ctx context.Context, r model.Resolution) error
	PutPrice(ctx context.Context, ref model.OutcomeRef, price decimal.Decimal) error
}

// Store is the data-source interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// ListAccounts returns every account with at least one event row.
	ListAccounts(ctx context.Context) ([]string, error)

	// GetAccountEvents returns an account's raw rows, duplicates included.
	GetAccountEvents(ctx context.Context, accountID string) ([]model.RawEvent, error)

	SnapshotReader
}

// LoadSnapshots reads resolutions and prices for the given markets once and
// freezes them into the immutable snapshots of one computation pass.
func LoadSnapshots(ctx context.Context, r SnapshotReader, marketIDs []string) (oracle.Snapshots, error) {
	if len(marketIDs) == 0 {
		return oracle.Empty(), nil
	}

	resolutions, err := r.GetResolutions(ctx, marketIDs)
	if err != nil {
		return oracle.Snapshots{}, fmt.Errorf("get resolutions: %w", err)
	}
	prices, err := r.GetPrices(ctx, marketIDs)
	if err != nil {
		return oracle.Snapshots{}, fmt.Errorf("get prices: %w", err)
	}

	resSnap, err := oracle.NewSnapshot(resolutions)
	if err != nil {
		return oracle.Snapshots{}, err
	}
	priceSnap, err := oracle.NewPriceSnapshot(prices)
	if err != nil {
		return oracle.Snapshots{}, err
	}
	return oracle.Snapshots{Resolutions: resSnap, Prices: priceSnap}, nil
}
