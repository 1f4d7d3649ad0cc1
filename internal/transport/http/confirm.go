package http

import (
	"context"
	"net/http"

	"github.com/ParamigosApps/appbar-sub000/internal/app"
)

// FreeHoldConfirmer is the minimal interface needed to confirm a free-ticket
// request.
type FreeHoldConfirmer interface {
	ConfirmFreeHold(ctx context.Context, holdID string) (app.CallbackResult, error)
}

// HandleConfirmHold returns an HTTP handler the organizer uses to approve a
// free-ticket hold. Repeating the call returns the same payment.
func HandleConfirmHold(svc FreeHoldConfirmer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.ConfirmFreeHold(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if res.FulfillmentErr != nil {
			writeDomainError(w, res.FulfillmentErr)
			return
		}

		status := http.StatusOK
		if res.Outcome == app.CallbackProcessed {
			status = http.StatusCreated
		}
		writeJSON(w, status, newCallbackResponse(res))
	}
}
