package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minersworld/tipledger/service/db"
	"github.com/minersworld/tipledger/service/ledger"
	"github.com/minersworld/tipledger/service/wallet"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB - plenty for any ledger request
	defaultHistoryLimit = 25
	maxHistoryLimit     = 200
)

// handleEnsureUser returns a handler that registers a user, minting a
// deposit address on first sight. Repeated calls return the existing user.
// POST /api/v1/users/{id}
func handleEnsureUser(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseSnowflakeID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		user, err := engine.EnsureUser(r.Context(), userID)
		if err != nil {
			logger.Error("failed to ensure user", "user_id", userID, "error", err)
			writeLedgerError(w, err)
			return
		}

		logger.Info("user ensured", "user_id", userID, "address", user.Address)
		writeJSON(w, userToResponse(user), http.StatusOK)
	})
}

// handleGetUser returns a handler that retrieves a registered user.
// GET /api/v1/users/{id}
func handleGetUser(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseSnowflakeID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		user, err := engine.GetUser(r.Context(), userID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				logger.Error("failed to get user", "user_id", userID, "error", err)
			}
			writeLedgerError(w, err)
			return
		}

		writeJSON(w, userToResponse(user), http.StatusOK)
	})
}

// handleGetBalance returns a handler that reports a user's balances.
// GET /api/v1/users/{id}/balance?which={confirmed|unconfirmed|all}
func handleGetBalance(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseSnowflakeID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		which := r.URL.Query().Get("which")
		if which == "" {
			which = "all"
		}
		if which != "confirmed" && which != "unconfirmed" && which != "all" {
			writeError(w, "invalid which parameter: must be confirmed, unconfirmed, or all", http.StatusBadRequest)
			return
		}

		user, err := engine.GetUser(r.Context(), userID)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				logger.Error("failed to get balance", "user_id", userID, "error", err)
			}
			writeLedgerError(w, err)
			return
		}

		resp := map[string]interface{}{"user_id": user.SnowflakeID}
		if which == "confirmed" || which == "all" {
			resp["balance"] = user.Balance.String()
		}
		if which == "unconfirmed" || which == "all" {
			resp["balance_unconfirmed"] = user.BalanceUnconfirmed.String()
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// handleSetSoakOptIn returns a handler that toggles a user's soak
// participation.
// POST /api/v1/users/{id}/soak-opt-in
func handleSetSoakOptIn(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseSnowflakeID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}
		if req.Enabled == nil {
			writeError(w, "enabled is required", http.StatusBadRequest)
			return
		}

		if err := engine.SetSoakOptIn(r.Context(), userID, *req.Enabled); err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				logger.Error("failed to set soak opt-in", "user_id", userID, "error", err)
			}
			writeLedgerError(w, err)
			return
		}

		logger.Info("soak opt-in updated", "user_id", userID, "enabled", *req.Enabled)
		writeJSON(w, map[string]interface{}{
			"user_id": userID,
			"enabled": *req.Enabled,
		}, http.StatusOK)
	})
}

// handleTip returns a handler that moves funds between two users.
// POST /api/v1/tips
func handleTip(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FromUserID int64  `json:"from_user_id"`
			ToUserID   int64  `json:"to_user_id"`
			Amount     string `json:"amount"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		tip, err := engine.Tip(r.Context(), req.FromUserID, req.ToUserID, amount)
		if err != nil {
			logger.Debug("tip rejected",
				"from", req.FromUserID,
				"to", req.ToUserID,
				"amount", amount,
				"error", err,
			)
			writeLedgerError(w, err)
			return
		}

		writeJSON(w, tipToResponse(tip), http.StatusCreated)
	})
}

// handleMultiTip returns a handler that tips several users at once. With
// soak=true the recipient set is additionally filtered to opted-in users.
// POST /api/v1/multi-tips
func handleMultiTip(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FromUserID int64   `json:"from_user_id"`
			Recipients []int64 `json:"recipients"`
			Amount     string  `json:"amount"`
			Split      bool    `json:"split"`
			Soak       bool    `json:"soak"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var tips []*db.Tip
		if req.Soak {
			tips, err = engine.Soak(r.Context(), req.FromUserID, req.Recipients, amount, req.Split)
		} else {
			tips, err = engine.MultiTip(r.Context(), req.FromUserID, req.Recipients, amount, req.Split)
		}
		if err != nil {
			logger.Debug("multi-tip rejected",
				"from", req.FromUserID,
				"recipients", len(req.Recipients),
				"soak", req.Soak,
				"error", err,
			)
			writeLedgerError(w, err)
			return
		}

		resp := make([]tipResponse, len(tips))
		for i, tip := range tips {
			resp[i] = tipToResponse(tip)
		}
		writeJSON(w, map[string]interface{}{"tips": resp}, http.StatusCreated)
	})
}

// handleWithdraw returns a handler that sends funds to an external address.
// POST /api/v1/withdrawals
func handleWithdraw(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  int64  `json:"user_id"`
			Address string `json:"address"`
			Amount  string `json:"amount"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		if req.Address == "" {
			writeError(w, "address is required", http.StatusBadRequest)
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		withdrawal, err := engine.Withdraw(r.Context(), req.UserID, req.Address, amount)
		if err != nil {
			// Inconsistencies are already logged loudly by the engine.
			if !errors.Is(err, ledger.ErrLedgerInconsistency) {
				logger.Debug("withdrawal rejected",
					"user_id", req.UserID,
					"address", req.Address,
					"error", err,
				)
			}
			writeLedgerError(w, err)
			return
		}

		logger.Info("withdrawal completed",
			"user_id", req.UserID,
			"txid", withdrawal.TxID,
			"amount", withdrawal.Amount,
		)
		writeJSON(w, withdrawalToResponse(withdrawal), http.StatusCreated)
	})
}

// handleListDeposits returns a handler that lists a user's deposit history.
// GET /api/v1/users/{id}/deposits?limit={n}
func handleListDeposits(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseSnowflakeID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		deposits, err := engine.ListDeposits(r.Context(), userID, limit)
		if err != nil {
			logger.Error("failed to list deposits", "user_id", userID, "error", err)
			writeLedgerError(w, err)
			return
		}

		resp := make([]depositResponse, len(deposits))
		for i, dep := range deposits {
			resp[i] = depositToResponse(dep)
		}
		writeJSON(w, map[string]interface{}{"deposits": resp}, http.StatusOK)
	})
}

// handleListWithdrawals returns a handler that lists a user's withdrawal
// history.
// GET /api/v1/users/{id}/withdrawals?limit={n}
func handleListWithdrawals(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := parseSnowflakeID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		withdrawals, err := engine.ListWithdrawals(r.Context(), userID, limit)
		if err != nil {
			logger.Error("failed to list withdrawals", "user_id", userID, "error", err)
			writeLedgerError(w, err)
			return
		}

		resp := make([]withdrawalResponse, len(withdrawals))
		for i, wd := range withdrawals {
			resp[i] = withdrawalToResponse(wd)
		}
		writeJSON(w, map[string]interface{}{"withdrawals": resp}, http.StatusOK)
	})
}

// handleCreateAirdrop returns a handler that schedules an airdrop and starts
// the workflow that will pay it out at its execution time.
// POST /api/v1/airdrops
func handleCreateAirdrop(engine Ledger, scheduler AirdropScheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CreatorID int64  `json:"creator_id"`
			ChannelID int64  `json:"channel_id"`
			RoleID    *int64 `json:"role_id,omitempty"`
			Amount    string `json:"amount"`
			Split     bool   `json:"split"`
			ExecuteAt string `json:"execute_at"`
		}
		if !decodeJSON(w, r, &req, logger) {
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		executeAt, err := time.Parse(time.RFC3339, req.ExecuteAt)
		if err != nil {
			writeError(w, "invalid execute_at: must be RFC3339 (e.g. '2026-09-01T12:00:00Z')", http.StatusBadRequest)
			return
		}

		airdrop, err := engine.CreateAirdrop(r.Context(), db.CreateAirdropParams{
			CreatorID: req.CreatorID,
			ChannelID: req.ChannelID,
			RoleID:    req.RoleID,
			Amount:    amount,
			Split:     req.Split,
			ExecuteAt: executeAt,
		})
		if err != nil {
			logger.Debug("airdrop rejected", "creator_id", req.CreatorID, "error", err)
			writeLedgerError(w, err)
			return
		}

		if err := scheduler.ScheduleAirdrop(r.Context(), airdrop); err != nil {
			// The row exists but no workflow will fire it; surface the
			// failure so the caller can retry or cancel.
			logger.Error("failed to schedule airdrop workflow",
				"airdrop_id", airdrop.ID,
				"error", err,
			)
			writeError(w, "airdrop created but scheduling failed", http.StatusInternalServerError)
			return
		}

		logger.Info("airdrop scheduled",
			"airdrop_id", airdrop.ID,
			"creator_id", airdrop.CreatorID,
			"execute_at", airdrop.ExecuteAt,
		)
		writeJSON(w, airdropToResponse(airdrop), http.StatusCreated)
	})
}

// handleListAirdrops returns a handler that lists airdrops by creator.
// GET /api/v1/airdrops?creator_id={id}
func handleListAirdrops(engine Ledger, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creatorID, err := parseSnowflakeID(r.URL.Query().Get("creator_id"))
		if err != nil {
			writeError(w, "creator_id query parameter is required", http.StatusBadRequest)
			return
		}

		airdrops, err := engine.ListAirdropsByCreator(r.Context(), creatorID)
		if err != nil {
			logger.Error("failed to list airdrops", "creator_id", creatorID, "error", err)
			writeLedgerError(w, err)
			return
		}

		resp := make([]airdropResponse, len(airdrops))
		for i, a := range airdrops {
			resp[i] = airdropToResponse(a)
		}
		writeJSON(w, map[string]interface{}{"airdrops": resp}, http.StatusOK)
	})
}

// handleCancelAirdrop returns a handler that cancels a pending airdrop and
// its payout workflow. Only the creator may cancel.
// DELETE /api/v1/airdrops/{id}?requester_id={id}
func handleCancelAirdrop(engine Ledger, scheduler AirdropScheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		airdropID, err := parseSnowflakeID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		requesterID, err := parseSnowflakeID(r.URL.Query().Get("requester_id"))
		if err != nil {
			writeError(w, "requester_id query parameter is required", http.StatusBadRequest)
			return
		}

		if err := engine.CancelAirdrop(r.Context(), airdropID, requesterID); err != nil {
			logger.Debug("airdrop cancel rejected",
				"airdrop_id", airdropID,
				"requester_id", requesterID,
				"error", err,
			)
			writeLedgerError(w, err)
			return
		}

		// The workflow may have already completed its timer; that is fine,
		// the executed flag stops the payout.
		if err := scheduler.CancelAirdropWorkflow(r.Context(), airdropID); err != nil {
			logger.Warn("failed to cancel airdrop workflow",
				"airdrop_id", airdropID,
				"error", err,
			)
		}

		logger.Info("airdrop cancelled", "airdrop_id", airdropID, "requester_id", requesterID)
		w.WriteHeader(http.StatusNoContent)
	})
}

// decodeJSON decodes the request body into dst, writing the error response
// itself. Returns false if decoding failed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Debug("failed to decode request", "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// parseSnowflakeID parses a snowflake user/entity ID.
func parseSnowflakeID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id: must be a positive integer")
	}
	return id, nil
}

// parseAmount parses an amount string from a request body.
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New("invalid amount: must be a decimal string (e.g. '1.50')")
	}
	return amount, nil
}

// parseLimit parses the history limit query parameter.
func parseLimit(raw string) (int32, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit parameter: must be a positive integer")
	}
	if limit > maxHistoryLimit {
		return 0, errors.New("limit cannot exceed 200")
	}
	return int32(limit), nil
}

// writeLedgerError maps domain errors onto HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, db.ErrInsufficientFunds):
		writeError(w, "insufficient funds", http.StatusPaymentRequired)
	case errors.Is(err, db.ErrAirdropExecuted):
		writeError(w, "airdrop already executed", http.StatusConflict)
	case errors.Is(err, db.ErrDuplicateTransaction):
		writeError(w, "transaction already recorded", http.StatusConflict)
	case errors.Is(err, ledger.ErrNotAirdropCreator):
		writeError(w, "only the creator may cancel an airdrop", http.StatusForbidden)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, ledger.ErrSelfTransfer),
		errors.Is(err, ledger.ErrTooManyRecipients),
		errors.Is(err, ledger.ErrNoRecipients):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, wallet.ErrRPCUnavailable):
		writeError(w, "wallet daemon unavailable", http.StatusBadGateway)
	default:
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
