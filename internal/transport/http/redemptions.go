package http

import (
	"context"
	"net/http"
	"time"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

// Redeemer is the minimal interface needed by the point-of-sale scanner.
type Redeemer interface {
	RedeemCode(ctx context.Context, raw, expectedScopeID string) (domain.Unit, error)
}

// HandleRedeem returns an HTTP handler consuming a scanned code at the
// scanner's event.
func HandleRedeem(svc Redeemer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req redeemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Code == "" || req.ScopeID == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "code and scope_id are required")
			return
		}

		u, err := svc.RedeemCode(r.Context(), req.Code, req.ScopeID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newUnitResponse(u))
	}
}

type redeemRequest struct {
	Code    string `json:"code"`
	ScopeID string `json:"scope_id"`
}

type unitResponse struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	State      string         `json:"state"`
	PoolID     string         `json:"pool_id"`
	ScopeID    string         `json:"scope_id"`
	Quantity   int            `json:"quantity"`
	Items      []lineItemJSON `json:"items,omitempty"`
	ConsumedAt *time.Time     `json:"consumed_at,omitempty"`
}

func newUnitResponse(u domain.Unit) unitResponse {
	var items []lineItemJSON
	for _, it := range u.Items {
		items = append(items, lineItemJSON{PoolID: it.PoolID, Quantity: it.Quantity})
	}
	return unitResponse{
		ID:         u.ID,
		Kind:       string(u.Kind),
		State:      string(u.State),
		PoolID:     u.PoolID,
		ScopeID:    u.ScopeID,
		Quantity:   u.Quantity,
		Items:      items,
		ConsumedAt: u.ConsumedAt,
	}
}
