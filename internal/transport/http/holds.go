package http

import (
	"context"
	"net/http"
	"time"

	"github.com/ParamigosApps/appbar-sub000/internal/app"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

// HoldService is the minimal interface needed by the hold endpoints.
type HoldService interface {
	CreateHold(ctx context.Context, in app.CreateHoldInput) (domain.Hold, error)
	GetHold(ctx context.Context, id string) (domain.Hold, error)
}

// HandleCreateHold returns an HTTP handler for creating holds. The
// idempotency key may come from the body or the Idempotency-Key header.
func HandleCreateHold(svc HoldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createHoldRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get(idempotencyHeader)
		}
		if req.PoolID == "" || req.UserID == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "pool_id and user_id are required")
			return
		}

		hold, err := svc.CreateHold(r.Context(), app.CreateHoldInput{
			PoolID:         req.PoolID,
			UserID:         req.UserID,
			Kind:           domain.HoldKind(req.Kind),
			Quantity:       req.Quantity,
			PerUserLimit:   req.PerUserLimit,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newHoldResponse(hold))
	}
}

// HandleGetHold returns an HTTP handler reading one hold. An overdue hold is
// expired before it is returned.
func HandleGetHold(svc HoldService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hold, err := svc.GetHold(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newHoldResponse(hold))
	}
}

type createHoldRequest struct {
	PoolID         string `json:"pool_id"`
	UserID         string `json:"user_id"`
	Kind           string `json:"kind,omitempty"`
	Quantity       int    `json:"quantity"`
	PerUserLimit   int    `json:"per_user_limit,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type holdResponse struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		ID:        h.ID,
		PoolID:    h.PoolID,
		UserID:    h.UserID,
		Kind:      string(h.Kind),
		Quantity:  h.Quantity,
		Status:    string(h.Status),
		ExpiresAt: h.ExpiresAt,
	}
}
