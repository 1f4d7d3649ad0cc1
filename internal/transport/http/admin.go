package http

import (
	"context"
	"net/http"

	"github.com/ParamigosApps/appbar-sub000/internal/app"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

// AdminService is the minimal interface needed for the admin pool endpoints.
type AdminService interface {
	CreateEvent(ctx context.Context, in app.CreateEventInput) (domain.Pool, error)
	ListEvents(ctx context.Context) ([]domain.Pool, error)
	CreateLot(ctx context.Context, in app.CreateLotInput) (domain.Pool, error)
	ListLots(ctx context.Context, eventID string) ([]domain.Pool, error)
	CreateProduct(ctx context.Context, in app.CreateProductInput) (domain.Pool, error)
}

// HandleAdminEvents returns an HTTP handler for admin event creation/listing.
func HandleAdminEvents(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			events, err := svc.ListEvents(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newPoolResponses(events))
		case http.MethodPost:
			var req createEventRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
			if req.Name == "" {
				writeError(w, http.StatusBadRequest, codeNameRequired, domain.ErrNameRequired.Error())
				return
			}

			event, err := svc.CreateEvent(r.Context(), app.CreateEventInput{
				Name:         req.Name,
				Capacity:     req.Capacity,
				PerUserLimit: req.PerUserLimit,
			})
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, newPoolResponse(event))
		default:
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		}
	}
}

// HandleAdminLots returns an HTTP handler for the lots of one event.
func HandleAdminLots(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := r.PathValue("id")
		if eventID == "" {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			lots, err := svc.ListLots(r.Context(), eventID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, newPoolResponses(lots))
		case http.MethodPost:
			var req createLotRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
			if req.Name == "" {
				writeError(w, http.StatusBadRequest, codeNameRequired, domain.ErrNameRequired.Error())
				return
			}
			if req.Capacity <= 0 {
				writeError(w, http.StatusBadRequest, codeInvalidCapacity, domain.ErrInvalidCapacity.Error())
				return
			}

			lot, err := svc.CreateLot(r.Context(), app.CreateLotInput{
				EventID:      eventID,
				Name:         req.Name,
				Capacity:     req.Capacity,
				PerUserLimit: req.PerUserLimit,
				PriceCents:   req.PriceCents,
			})
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, newPoolResponse(lot))
		default:
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		}
	}
}

// HandleAdminProducts returns an HTTP handler creating bar products.
func HandleAdminProducts(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createProductRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		product, err := svc.CreateProduct(r.Context(), app.CreateProductInput{
			ScopeID:      req.EventID,
			Name:         req.Name,
			Stock:        req.Stock,
			PerUserLimit: req.PerUserLimit,
			PriceCents:   req.PriceCents,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newPoolResponse(product))
	}
}

type createEventRequest struct {
	Name         string `json:"name"`
	Capacity     int    `json:"capacity"`
	PerUserLimit int    `json:"per_user_limit,omitempty"`
}

type createLotRequest struct {
	Name         string `json:"name"`
	Capacity     int    `json:"capacity"`
	PerUserLimit int    `json:"per_user_limit,omitempty"`
	PriceCents   int64  `json:"price_cents,omitempty"`
}

type createProductRequest struct {
	EventID      string `json:"event_id,omitempty"`
	Name         string `json:"name"`
	Stock        int    `json:"stock"`
	PerUserLimit int    `json:"per_user_limit,omitempty"`
	PriceCents   int64  `json:"price_cents,omitempty"`
}

func newPoolResponses(pools []domain.Pool) []poolResponse {
	resp := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		resp = append(resp, newPoolResponse(p))
	}
	return resp
}
