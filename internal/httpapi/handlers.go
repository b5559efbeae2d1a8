// Package httpapi is the HTTP surface the spec leaves unspecified (spec §9:
// transport is out of scope) but a runnable system needs one. It exposes a
// synchronous transfer submission endpoint and read-only wallet/op lookups,
// in the teacher's chi-handler shape: a Handler struct bundling its
// collaborators, one method per route, writeJSON/writeError helpers shared
// across all of them.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wallet-transfer-engine/internal/idempotency"
	"wallet-transfer-engine/internal/kvstore"
	"wallet-transfer-engine/internal/metrics"
	"wallet-transfer-engine/internal/models"
	"wallet-transfer-engine/internal/ratelimit"
	"wallet-transfer-engine/internal/resultkind"
	"wallet-transfer-engine/internal/transfer"
)

type Handler struct {
	orchestrator *transfer.Orchestrator
	store        kvstore.Store
	limiter      *ratelimit.Limiter
	metrics      *metrics.Collector
}

func New(orchestrator *transfer.Orchestrator, store kvstore.Store, limiter *ratelimit.Limiter, m *metrics.Collector) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		store:        store,
		limiter:      limiter,
		metrics:      m,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

type TransferRequest struct {
	OpID   string          `json:"op_id"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type TransferResponse struct {
	OpID      string          `json:"op_id"`
	Kind      resultkind.Kind `json:"kind"`
	NewFrom   decimal.Decimal `json:"new_from,omitempty"`
	NewTo     decimal.Decimal `json:"new_to,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CreateTransfer submits a transfer synchronously through the orchestrator
// (spec §4.E). It is rate-limited per source wallet to protect this
// process's own capacity — the distributed lock, not this limiter, is what
// keeps concurrent transfers correct (internal/ratelimit).
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.OpID == "" {
		req.OpID = uuid.New().String()
	}

	if req.From != "" && !h.limiter.Allow(req.From) {
		retryAfter := h.limiter.RetryAfter(req.From)
		w.Header().Set("Retry-After", retryAfter.Truncate(time.Second).String())
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many transfer submissions for this wallet")
		return
	}

	cmd := models.Command{
		OpID:   req.OpID,
		From:   req.From,
		To:     req.To,
		Amount: req.Amount,
	}

	result := h.orchestrator.Transfer(r.Context(), cmd)
	h.metrics.Record(result.Kind)

	resp := TransferResponse{
		OpID:      req.OpID,
		Kind:      result.Kind,
		NewFrom:   result.NewFrom,
		NewTo:     result.NewTo,
		Duplicate: result.Duplicate,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}

	status := statusForKind(result.Kind)
	writeJSON(w, status, SuccessResponse{Success: result.Kind == resultkind.Applied, Data: resp})
}

// GetTransferStatus looks up a previously-submitted op id against the
// idempotency guard directly — a cheap read, bypassing the lock entirely,
// matching spec §4.C's fast path.
func (h *Handler) GetTransferStatus(w http.ResponseWriter, r *http.Request) {
	opID := chi.URLParam(r, "op_id")

	guard := idempotency.New(h.store)
	outcome, applied, err := guard.Check(r.Context(), opID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", "failed to look up operation")
		return
	}
	if !applied {
		writeError(w, http.StatusNotFound, "not_found", "no applied operation with this id")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Data: TransferResponse{
			OpID:    opID,
			Kind:    outcome.Kind,
			NewFrom: outcome.NewFrom,
			NewTo:   outcome.NewTo,
		},
	})
}

type WalletResponse struct {
	UserID   string              `json:"user_id"`
	Balance  decimal.Decimal     `json:"balance"`
	Currency string              `json:"currency"`
	Status   models.WalletStatus `json:"status"`
}

// GetWallet reads the authoritative KV hash directly, outside any watched
// transaction — a plain snapshot read, consistent with how spec.md treats
// reads as advisory outside the commit path.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	fields, err := h.store.HGetMulti(r.Context(), "wallet:"+userID, "balance", "currency", "status")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", "failed to read wallet")
		return
	}
	balanceStr, hasBalance := fields["balance"]
	if !hasBalance {
		writeError(w, http.StatusNotFound, "not_found", "wallet not found")
		return
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt_balance", "stored balance is not a valid decimal")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Data: WalletResponse{
			UserID:   userID,
			Balance:  balance,
			Currency: fields["currency"],
			Status:   models.WalletStatus(fields["status"]),
		},
	})
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: h.metrics.Snapshot()})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		},
	})
}

// statusForKind maps a Result kind to the HTTP status a caller should
// receive. It is presentation only — the Result kind itself is the
// authoritative outcome (spec §7).
func statusForKind(kind resultkind.Kind) int {
	switch kind {
	case resultkind.Applied:
		return http.StatusOK
	case resultkind.InvalidRequest, resultkind.SameUserTransfer, resultkind.InvalidAmount:
		return http.StatusBadRequest
	case resultkind.InsufficientFunds, resultkind.WalletNotFound, resultkind.WalletInactive:
		return http.StatusUnprocessableEntity
	case resultkind.LockUnavailable, resultkind.ConcurrencyConflict, resultkind.Unavailable:
		return http.StatusServiceUnavailable
	case resultkind.Cancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
