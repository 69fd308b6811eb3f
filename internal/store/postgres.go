package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// Schema creates the tables PostgresStore reads. Event rows keep every
// delivery of an event, keyed by (id, source); deduplication is the
// normalizer's job, not the database's.
const Schema = `
CREATE TABLE IF NOT EXISTS event_rows (
	id            TEXT        NOT NULL,
	source        TEXT        NOT NULL,
	account_id    TEXT        NOT NULL,
	market_id     TEXT        NOT NULL,
	outcome_index INTEGER     NOT NULL,
	outcome_count INTEGER     NOT NULL DEFAULT 0,
	ts            TIMESTAMPTZ NOT NULL,
	sequence      BIGINT      NOT NULL DEFAULT 0,
	block         BIGINT      NOT NULL DEFAULT 0,
	kind          TEXT        NOT NULL,
	token_delta   NUMERIC     NOT NULL,
	cash_delta    NUMERIC     NOT NULL DEFAULT 0,
	PRIMARY KEY (id, source)
);
CREATE INDEX IF NOT EXISTS event_rows_account_idx ON event_rows (account_id);

CREATE TABLE IF NOT EXISTS resolutions (
	market_id        TEXT      PRIMARY KEY,
	settled          BOOLEAN   NOT NULL,
	payout_fractions NUMERIC[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS mark_prices (
	market_id     TEXT    NOT NULL,
	outcome_index INTEGER NOT NULL,
	price         NUMERIC NOT NULL,
	PRIMARY KEY (market_id, outcome_index)
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates missing tables.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Writes (fixture loading and ingestion) ---

// InsertEvents stores raw rows in one transaction. A row already stored
// under the same (id, source) is left untouched.
func (s *PostgresStore) InsertEvents(ctx context.Context, rows []model.RawEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		cash := r.CashDelta
		if cash == "" {
			cash = "0"
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO event_rows (id, source, account_id, market_id, outcome_index, outcome_count,
			                         ts, sequence, block, kind, token_delta, cash_delta)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::NUMERIC, $12::NUMERIC)
			 ON CONFLICT (id, source) DO NOTHING`,
			r.ID, string(r.Source), r.AccountID, r.MarketID, r.OutcomeIndex, r.OutcomeCount,
			r.Timestamp, r.Sequence, r.Block, r.Kind, r.TokenDelta, cash,
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", r.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// PutResolution stores or replaces a market's resolution.
func (s *PostgresStore) PutResolution(ctx context.Context, r model.Resolution) error {
	fractions := make([]string, len(r.PayoutFractions))
	for i, f := range r.PayoutFractions {
		fractions[i] = f.String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resolutions (market_id, settled, payout_fractions)
		 VALUES ($1, $2, $3::NUMERIC[])
		 ON CONFLICT (market_id) DO UPDATE
		 SET settled = EXCLUDED.settled, payout_fractions = EXCLUDED.payout_fractions`,
		r.MarketID, r.Settled, fractions,
	)
	return err
}

// PutPrice stores or replaces an outcome's mark price.
func (s *PostgresStore) PutPrice(ctx context.Context, ref model.OutcomeRef, price decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mark_prices (market_id, outcome_index, price)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (market_id, outcome_index) DO UPDATE SET price = EXCLUDED.price`,
		ref.MarketID, ref.OutcomeIndex, price.String(),
	)
	return err
}

// --- Reads ---

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT account_id FROM event_rows ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) GetAccountEvents(ctx context.Context, accountID string) ([]model.RawEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, account_id, market_id, outcome_index, outcome_count,
		        ts, sequence, block, kind, token_delta::TEXT, cash_delta::TEXT
		 FROM event_rows WHERE account_id = $1
		 ORDER BY ts, sequence, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("get events for %s: %w", accountID, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan events for %s: %w", accountID, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return events, nil
}

func (s *PostgresStore) GetResolutions(ctx context.Context, marketIDs []string) (map[string]model.Resolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, settled, payout_fractions::TEXT[]
		 FROM resolutions WHERE market_id = ANY($1)`, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("get resolutions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Resolution, len(marketIDs))
	for rows.Next() {
		var r model.Resolution
		var fractions []string
		if err := rows.Scan(&r.MarketID, &r.Settled, &fractions); err != nil {
			return nil, err
		}
		r.PayoutFractions = make([]decimal.Decimal, len(fractions))
		for i, f := range fractions {
			v, err := decimal.NewFromString(f)
			if err != nil {
				return nil, fmt.Errorf("market %s payout %d: %w", r.MarketID, i, err)
			}
			r.PayoutFractions[i] = v
		}
		out[r.MarketID] = r
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPrices(ctx context.Context, marketIDs []string) (map[model.OutcomeRef]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, outcome_index, price::TEXT
		 FROM mark_prices WHERE market_id = ANY($1)`, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	defer rows.Close()

	out := make(map[model.OutcomeRef]decimal.Decimal)
	for rows.Next() {
		var ref model.OutcomeRef
		var priceS string
		if err := rows.Scan(&ref.MarketID, &ref.OutcomeIndex, &priceS); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceS)
		if err != nil {
			return nil, fmt.Errorf("price %s/%d: %w", ref.MarketID, ref.OutcomeIndex, err)
		}
		out[ref] = price
	}
	return out, rows.Err()
}

// scanEventRows reads pgx rows into raw events. Decimal columns arrive as
// TEXT and stay strings; parsing them is the normalizer's job.
func scanEventRows(rows pgx.Rows) ([]model.RawEvent, error) {
	var events []model.RawEvent
	for rows.Next() {
		var e model.RawEvent
		var source string
		if err := rows.Scan(&e.ID, &source, &e.AccountID, &e.MarketID, &e.OutcomeIndex, &e.OutcomeCount,
			&e.Timestamp, &e.Sequence, &e.Block, &e.Kind, &e.TokenDelta, &e.CashDelta); err != nil {
			return nil, err
		}
		e.Source = model.Source(source)
		events = append(events, e)
	}
	return events, rows.Err()
}
