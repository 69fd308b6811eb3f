// Package service provides the HTTP handlers for computing account PnL
// from the configured store or from inline event payloads.
//
// All monetary values use shopspring/decimal, never float64.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/pnl-engine/internal/engine"
	"github.com/atmx/pnl-engine/internal/fixture"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/store"
)

// Service handles PnL requests. It holds no per-request state; every
// computation builds its own snapshots.
type Service struct {
	store  store.Store
	engine *engine.Engine
	wsHub  *WSHub // optional WebSocket hub for batch progress
}

// NewService creates a new PnL service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, eng *engine.Engine, hub *WSHub) *Service {
	return &Service{
		store:  st,
		engine: eng,
		wsHub:  hub,
	}
}

// --- Request/Response types ---

// ComputeRequest is the JSON body for POST /api/v1/pnl.
type ComputeRequest struct {
	fixture.Fixture
	PricePolicy string `json:"price_policy,omitempty"` // "exact" (default) or "cents"
}

// BatchRequest is the JSON body for POST /api/v1/batch.
type BatchRequest struct {
	AccountIDs []string `json:"account_ids"` // empty → every account in the store
}

// --- HTTP Handlers ---

// ListAccounts handles GET /api/v1/accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []string{}
	}

	writeJSON(w, http.StatusOK, accounts)
}

// GetAccountPnL handles GET /api/v1/accounts/{accountID}/pnl
// Computes one account from store data.
func (s *Service) GetAccountPnL(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	batch, err := s.engine.RunBatch(r.Context(), s.store, []string{accountID}, nil)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	item := batch.Items[0]
	if item.Err != nil {
		if errors.Is(item.Err, store.ErrAccountNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, item.Error, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, item.Result)
}

// ComputePnL handles POST /api/v1/pnl
// Computes every account present in the posted events.
func (s *Service) ComputePnL(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if len(req.Events) == 0 {
		writeError(w, "events are required", http.StatusBadRequest)
		return
	}
	policy, err := ledger.ParsePricePolicy(req.PricePolicy)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snaps, err := req.Snapshots()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	eng := s.engine
	if policy != eng.Options().Ledger.PricePolicy {
		opts := eng.Options()
		opts.Ledger.PricePolicy = policy
		eng = engine.New(opts, nil)
	}

	batch, err := eng.ComputeInline(r.Context(), req.Events, snaps, nil)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	slog.Info("inline pnl computed",
		"run_id", batch.RunID,
		"events", len(req.Events),
		"accounts", len(batch.Items),
		"policy", policy.String(),
	)

	writeJSON(w, http.StatusOK, batch)
}

// RunBatch handles POST /api/v1/batch
// Computes the listed accounts (or all of them) from store data and
// broadcasts progress to WebSocket clients.
func (s *Service) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	accountIDs := req.AccountIDs
	if len(accountIDs) == 0 {
		all, err := s.store.ListAccounts(ctx)
		if err != nil {
			writeError(w, "failed to list accounts", http.StatusInternalServerError)
			return
		}
		accountIDs = all
	}

	var onItem engine.ItemFunc
	if s.wsHub != nil {
		onItem = func(runID string, item engine.BatchItem) {
			s.wsHub.Broadcast(accountMessage(runID, item))
		}
	}

	batch, err := s.engine.RunBatch(ctx, s.store, accountIDs, onItem)
	if err != nil && batch == nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "batch_completed",
			RunID:     batch.RunID,
			Accounts:  len(batch.Items),
			Failed:    batch.Failed(),
			Cancelled: batch.Cancelled,
		})
	}

	writeJSON(w, http.StatusOK, batch)
}

func accountMessage(runID string, item engine.BatchItem) WSMessage {
	msg := WSMessage{
		Type:      "account_computed",
		RunID:     runID,
		AccountID: item.AccountID,
	}
	if item.Err != nil {
		msg.Error = item.Err.Error()
		return msg
	}
	msg.Tier = string(item.Result.Tier)
	msg.TotalPnL = item.Result.TotalPnL.String()
	return msg
}

// statusFor maps structural engine errors to client errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidAccountList),
		errors.Is(err, engine.ErrUndefinedAccount),
		errors.Is(err, engine.ErrForeignEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
