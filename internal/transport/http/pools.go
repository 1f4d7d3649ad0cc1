package http

import (
	"context"
	"net/http"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

// AvailabilityReader is the minimal interface needed to read pool counters.
type AvailabilityReader interface {
	Availability(ctx context.Context, poolID string) (domain.Pool, error)
}

func HandleGetPool(svc AvailabilityReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Availability(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPoolResponse(p))
	}
}

type poolResponse struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	ParentID       string `json:"parent_id,omitempty"`
	Name           string `json:"name"`
	TotalUnits     int    `json:"total_units"`
	CommittedUnits int    `json:"committed_units"`
	Available      int    `json:"available"`
	PerUserLimit   int    `json:"per_user_limit"`
	PriceCents     int64  `json:"price_cents"`
}

func newPoolResponse(p domain.Pool) poolResponse {
	return poolResponse{
		ID:             p.ID,
		Kind:           string(p.Kind),
		ParentID:       p.ParentID,
		Name:           p.Name,
		TotalUnits:     p.TotalUnits,
		CommittedUnits: p.CommittedUnits,
		Available:      p.Available(),
		PerUserLimit:   p.PerUserLimit,
		PriceCents:     p.PriceCents,
	}
}
