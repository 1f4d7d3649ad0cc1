package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/logging"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency the service cannot serve without.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth reports liveness, and readiness of the given dependencies.
func HandleHealth(deps ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		for _, d := range deps {
			if d == nil {
				continue
			}
			if err := d.Ping(ctx); err != nil {
				logging.FromContext(ctx, nil).Warn("health check failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, codeUnavailable, "dependency unavailable")
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
