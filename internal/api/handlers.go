package api

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	apperrors "github.com/avco-ledger/internal/errors"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/service"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// walletParam returns the lowercased {wallet} path variable
func walletParam(r *http.Request) (string, error) {
	wallet := strings.TrimSpace(mux.Vars(r)["wallet"])
	if !common.IsHexAddress(wallet) {
		return "", apperrors.NewInvalidParameterError("wallet", "must be a 0x-prefixed 20 byte hex address")
	}
	return strings.ToLower(wallet), nil
}

func parseNetworks(raw []string) ([]types.Network, error) {
	out := make([]types.Network, 0, len(raw))
	for _, s := range raw {
		n, ok := types.ParseNetwork(s)
		if !ok {
			return nil, apperrors.NewInvalidParameterError("networks", "unknown network "+s)
		}
		out = append(out, n)
	}
	return out, nil
}

// backfillRequest is the optional body of POST /wallets/{wallet}/backfill
type backfillRequest struct {
	Networks []string `json:"networks,omitempty"`
}

// handleBackfill handles POST /wallets/{wallet}/backfill. The backfill runs
// asynchronously; progress is read from the sync endpoint.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req backfillRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	networks := s.deps.Networks
	if len(req.Networks) > 0 {
		if networks, err = parseNetworks(req.Networks); err != nil {
			respondError(w, r, err)
			return
		}
	}
	if len(networks) == 0 {
		respondError(w, r, apperrors.NewInvalidParameterError("networks", "no network requested or enabled"))
		return
	}

	if err := s.deps.Publisher.Publish(r.Context(), events.WalletAdded{Wallet: wallet, Networks: networks}); err != nil {
		respondError(w, r, apperrors.NewInternalError("failed to schedule backfill", err))
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"wallet":   wallet,
		"networks": networks,
		"status":   "scheduled",
	})
}

// handleRecalculate handles POST /wallets/{wallet}/recalculate
func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.deps.Publisher.Publish(r.Context(), events.RecalculateWalletRequested{Wallet: wallet}); err != nil {
		respondError(w, r, apperrors.NewInternalError("failed to schedule recalculation", err))
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"wallet": wallet,
		"status": "scheduled",
	})
}

// SyncResponse lists a wallet's per-network sync rows
type SyncResponse struct {
	Wallet string               `json:"wallet"`
	Syncs  []*models.SyncStatus `json:"syncs"`
}

// handleGetSync handles GET /wallets/{wallet}/sync[?network=]
func (s *Server) handleGetSync(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if raw := r.URL.Query().Get("network"); raw != "" {
		network, ok := types.ParseNetwork(raw)
		if !ok {
			respondError(w, r, apperrors.NewInvalidParameterError("network", "unknown network "+raw))
			return
		}
		sync, err := s.deps.Syncs.Get(r.Context(), wallet, network)
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, r, apperrors.NewSyncNotFoundError(wallet, string(network)))
			return
		}
		if err != nil {
			respondError(w, r, apperrors.NewDatabaseError("get sync", err))
			return
		}
		respondJSON(w, http.StatusOK, SyncResponse{Wallet: wallet, Syncs: []*models.SyncStatus{sync}})
		return
	}

	syncs, err := s.deps.Syncs.ListByWallet(r.Context(), wallet)
	if err != nil {
		respondError(w, r, apperrors.NewDatabaseError("list syncs", err))
		return
	}
	if len(syncs) == 0 {
		respondError(w, r, apperrors.NewSyncNotFoundError(wallet, "any network"))
		return
	}
	sort.Slice(syncs, func(i, j int) bool { return syncs[i].Network < syncs[j].Network })

	respondJSON(w, http.StatusOK, SyncResponse{Wallet: wallet, Syncs: syncs})
}

// PositionsResponse lists a wallet's replayed positions
type PositionsResponse struct {
	Wallet    string                  `json:"wallet"`
	Positions []*models.AssetPosition `json:"positions"`
}

// handleGetPositions handles GET /wallets/{wallet}/positions[?network=]
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var filter types.Network
	if raw := r.URL.Query().Get("network"); raw != "" {
		n, ok := types.ParseNetwork(raw)
		if !ok {
			respondError(w, r, apperrors.NewInvalidParameterError("network", "unknown network "+raw))
			return
		}
		filter = n
	}

	all, err := s.deps.Positions.ListByWallet(r.Context(), wallet)
	if err != nil {
		respondError(w, r, apperrors.NewDatabaseError("list positions", err))
		return
	}

	positions := make([]*models.AssetPosition, 0, len(all))
	for _, p := range all {
		if filter == "" || p.Network == filter {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Network != positions[j].Network {
			return positions[i].Network < positions[j].Network
		}
		return positions[i].Asset < positions[j].Asset
	})

	respondJSON(w, http.StatusOK, PositionsResponse{Wallet: wallet, Positions: positions})
}

// overrideRequest is the body of POST /events/{eventId}/override
type overrideRequest struct {
	PriceUSD *decimal.Decimal `json:"priceUsd"`
	Note     string           `json:"note,omitempty"`
}

// handleSaveOverride handles POST /events/{eventId}/override
func (s *Server) handleSaveOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.PriceUSD == nil {
		respondError(w, r, apperrors.NewInvalidParameterError("priceUsd", "required"))
		return
	}

	o, err := s.deps.Overrides.Save(r.Context(), &service.SaveOverrideInput{
		EventID:  mux.Vars(r)["eventId"],
		PriceUSD: *req.PriceUSD,
		Note:     req.Note,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, o)
}

// handleRevertOverride handles DELETE /events/{eventId}/override
func (s *Server) handleRevertOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Overrides.Revert(r.Context(), mux.Vars(r)["eventId"]); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOverrideHistory handles GET /events/{eventId}/overrides
func (s *Server) handleOverrideHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.deps.Overrides.History(r.Context(), mux.Vars(r)["eventId"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	if history == nil {
		history = []*models.CostBasisOverride{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"eventId":   mux.Vars(r)["eventId"],
		"overrides": history,
	})
}

// handleCrossWallet handles GET /avco/cross-wallet?wallets=a,b&asset=x
func (s *Server) handleCrossWallet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var wallets []string
	for _, part := range strings.Split(query.Get("wallets"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !common.IsHexAddress(part) {
			respondError(w, r, apperrors.NewInvalidParameterError("wallets", "invalid address "+part))
			return
		}
		wallets = append(wallets, part)
	}

	pos, err := s.deps.CrossWallet.Compute(r.Context(), wallets, query.Get("asset"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pos)
}
