package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/app"
	"github.com/ParamigosApps/appbar-sub000/internal/domain"
	"github.com/ParamigosApps/appbar-sub000/internal/logging"
)

const maxCallbackBody = 1 << 20

// PaymentService is the minimal interface needed by the payment endpoints.
type PaymentService interface {
	RegisterPayment(ctx context.Context, in app.RegisterPaymentInput) (domain.PaymentRecord, error)
	GetPayment(ctx context.Context, id string) (domain.PaymentRecord, error)
	HandleCallback(ctx context.Context, n app.Notification) (app.CallbackResult, error)
	RetryFulfillment(ctx context.Context, paymentID string) (app.CallbackResult, error)
}

// HandleRegisterPayment returns an HTTP handler that records a payment at
// checkout, before the provider notifies it.
func HandleRegisterPayment(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerPaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.PaymentID == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "payment_id is required")
			return
		}

		items := make([]domain.LineItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, domain.LineItem{PoolID: it.PoolID, Quantity: it.Quantity})
		}
		p, err := svc.RegisterPayment(r.Context(), app.RegisterPaymentInput{
			PaymentID: req.PaymentID,
			Kind:      domain.UnitKind(req.Kind),
			UserID:    req.UserID,
			HoldID:    req.HoldID,
			Items:     items,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newPaymentResponse(p))
	}
}

func HandleGetPayment(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetPayment(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newPaymentResponse(p))
	}
}

// HandlePaymentCallback returns the provider webhook handler. Every outcome
// the provider should not redeliver answers 200; a malformed body answers
// 400 and leaves stored state untouched.
func HandlePaymentCallback(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		n, err := app.ParseNotification(body)
		if err != nil {
			logging.FromContext(r.Context(), nil).Info("rejected payment notification", zap.Error(err))
			writeDomainError(w, err)
			return
		}

		res, err := svc.HandleCallback(r.Context(), n)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCallbackResponse(res))
	}
}

// HandleRetryFulfillment returns the operator handler that re-runs a failed
// fulfillment.
func HandleRetryFulfillment(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.RetryFulfillment(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if res.FulfillmentErr != nil {
			writeDomainError(w, res.FulfillmentErr)
			return
		}
		writeJSON(w, http.StatusOK, newCallbackResponse(res))
	}
}

type lineItemJSON struct {
	PoolID   string `json:"pool_id"`
	Quantity int    `json:"quantity"`
}

type registerPaymentRequest struct {
	PaymentID string         `json:"payment_id"`
	Kind      string         `json:"kind,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	HoldID    string         `json:"hold_id,omitempty"`
	Items     []lineItemJSON `json:"items,omitempty"`
}

type paymentResponse struct {
	ID               string         `json:"id"`
	State            string         `json:"state"`
	ExternalStatus   string         `json:"external_status,omitempty"`
	Fulfillment      string         `json:"fulfillment"`
	FulfillmentError string         `json:"fulfillment_error,omitempty"`
	Kind             string         `json:"kind"`
	UserID           string         `json:"user_id"`
	HoldID           string         `json:"hold_id,omitempty"`
	Items            []lineItemJSON `json:"items"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func newPaymentResponse(p domain.PaymentRecord) paymentResponse {
	items := make([]lineItemJSON, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, lineItemJSON{PoolID: it.PoolID, Quantity: it.Quantity})
	}
	return paymentResponse{
		ID:               p.ID,
		State:            string(p.State),
		ExternalStatus:   p.ExternalStatus,
		Fulfillment:      string(p.Fulfillment),
		FulfillmentError: p.FulfillmentError,
		Kind:             string(p.Kind),
		UserID:           p.UserID,
		HoldID:           p.HoldID,
		Items:            items,
		UpdatedAt:        p.UpdatedAt,
	}
}

type callbackResponse struct {
	Outcome string          `json:"outcome"`
	Payment paymentResponse `json:"payment"`
}

func newCallbackResponse(res app.CallbackResult) callbackResponse {
	return callbackResponse{
		Outcome: string(res.Outcome),
		Payment: newPaymentResponse(res.Payment),
	}
}
