package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeInvalidID            = "invalid_id"
	codeInvalidKind          = "invalid_kind"
	codeNameRequired         = "name_required"
	codeUserRequired         = "user_required"
	codeInvalidQuantity      = "invalid_quantity"
	codeInvalidCapacity      = "invalid_capacity"
	codeIdempotencyRequired  = "idempotency_key_required"
	codeIdempotencyConflict  = "idempotency_conflict"
	codeInsufficientCapacity = "insufficient_capacity"
	codeUserLimitExceeded    = "user_limit_exceeded"
	codePoolNotFound         = "pool_not_found"
	codePoolAlreadyExists    = "pool_already_exists"
	codeInvalidPoolParent    = "invalid_pool_parent"
	codeHoldNotFound         = "hold_not_found"
	codeHoldExpired          = "hold_expired"
	codeHoldAlreadyConfirmed = "hold_already_confirmed"
	codeHoldCancelled        = "hold_cancelled"
	codeHoldNotFree          = "hold_not_free"
	codeHoldOwnerMismatch    = "hold_owner_mismatch"
	codePaymentNotFound      = "payment_not_found"
	codeInvalidPayload       = "invalid_payment_payload"
	codeLeaseContention      = "lease_contention"
	codePaymentNotRetryable  = "payment_not_retryable"
	codeFulfillmentBusy      = "fulfillment_in_progress"
	codeFulfillmentFailed    = "fulfillment_failed"
	codeMixedOrderScope      = "mixed_order_scope"
	codeInvalidCode          = "invalid_code"
	codeTamperedToken        = "tampered_token"
	codeUnitNotFound         = "unit_not_found"
	codeScopeMismatch        = "scope_mismatch"
	codeAlreadyConsumed      = "already_consumed"
	codeNotYetConfirmed      = "not_yet_confirmed"
	codeUnitExpired          = "unit_expired"
	codeUnitRejected         = "unit_rejected"
	codeUnavailable          = "temporarily_unavailable"
	codeForbidden            = "forbidden"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: wrapped errors match their most specific entry first.
var errorMappings = []errorMapping{
	{domain.ErrInvalidID, http.StatusBadRequest, codeInvalidID},
	{domain.ErrInvalidKind, http.StatusBadRequest, codeInvalidKind},
	{domain.ErrNameRequired, http.StatusBadRequest, codeNameRequired},
	{domain.ErrInvalidUser, http.StatusBadRequest, codeUserRequired},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, codeInvalidCapacity},
	{domain.ErrIdempotencyKeyRequired, http.StatusBadRequest, codeIdempotencyRequired},
	{domain.ErrIdempotencyConflict, http.StatusConflict, codeIdempotencyConflict},

	{domain.ErrPoolNotFound, http.StatusNotFound, codePoolNotFound},
	{domain.ErrPoolAlreadyExists, http.StatusConflict, codePoolAlreadyExists},
	{domain.ErrInvalidPoolParent, http.StatusBadRequest, codeInvalidPoolParent},
	{domain.ErrInsufficientPoolCapacity, http.StatusConflict, codeInsufficientCapacity},
	{domain.ErrUserLimitExceeded, http.StatusConflict, codeUserLimitExceeded},

	{domain.ErrHoldNotFound, http.StatusNotFound, codeHoldNotFound},
	{domain.ErrHoldExpired, http.StatusConflict, codeHoldExpired},
	{domain.ErrHoldAlreadyConfirmed, http.StatusConflict, codeHoldAlreadyConfirmed},
	{domain.ErrHoldCancelled, http.StatusConflict, codeHoldCancelled},
	{domain.ErrHoldNotFree, http.StatusBadRequest, codeHoldNotFree},
	{domain.ErrHoldOwnerMismatch, http.StatusForbidden, codeHoldOwnerMismatch},

	{domain.ErrPaymentNotFound, http.StatusNotFound, codePaymentNotFound},
	{domain.ErrInvalidPaymentPayload, http.StatusBadRequest, codeInvalidPayload},
	{domain.ErrLeaseContention, http.StatusConflict, codeLeaseContention},
	{domain.ErrPaymentNotRetryable, http.StatusConflict, codePaymentNotRetryable},
	{domain.ErrFulfillmentInProgress, http.StatusConflict, codeFulfillmentBusy},
	{domain.ErrFulfillmentBlocked, http.StatusConflict, codeFulfillmentFailed},
	{domain.ErrMixedOrderScope, http.StatusBadRequest, codeMixedOrderScope},

	{domain.ErrInvalidCode, http.StatusBadRequest, codeInvalidCode},
	{domain.ErrTamperedToken, http.StatusForbidden, codeTamperedToken},
	{domain.ErrUnitNotFound, http.StatusNotFound, codeUnitNotFound},
	{domain.ErrScopeMismatch, http.StatusForbidden, codeScopeMismatch},
	{domain.ErrAlreadyConsumed, http.StatusConflict, codeAlreadyConsumed},
	{domain.ErrNotYetConfirmed, http.StatusConflict, codeNotYetConfirmed},
	{domain.ErrUnitExpired, http.StatusGone, codeUnitExpired},
	{domain.ErrUnitRejected, http.StatusGone, codeUnitRejected},

	{domain.ErrTxRetriesExhausted, http.StatusServiceUnavailable, codeUnavailable},
}

// writeDomainError maps a service error to its HTTP status and code. Unknown
// errors become 500 without leaking their message.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			msg := err.Error()
			if m.status >= http.StatusInternalServerError {
				msg = m.err.Error()
			}
			writeError(w, m.status, m.code, msg)
			return
		}
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
