package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ParamigosApps/appbar-sub000/internal/observability"
)

// Services bundles what the router dispatches to.
type Services struct {
	Holds      HoldService
	FreeHolds  FreeHoldConfirmer
	Payments   PaymentService
	Redemption Redeemer
	Pools      AvailabilityReader
	Admin      AdminService
	// Health lists dependencies /health pings.
	Health []Pinger
}

type RouterConfig struct {
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

// NewRouter wires every endpoint and wraps them in the CORS, tracing and
// request logging middleware.
func NewRouter(svc Services, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", HandleHealth(svc.Health...))
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.Handle("POST /holds", HandleCreateHold(svc.Holds))
	mux.Handle("GET /holds/{id}", HandleGetHold(svc.Holds))
	mux.Handle("POST /holds/{id}/confirm", HandleConfirmHold(svc.FreeHolds))

	mux.Handle("POST /payments", HandleRegisterPayment(svc.Payments))
	mux.Handle("POST /payments/callback", HandlePaymentCallback(svc.Payments))
	mux.Handle("GET /payments/{id}", HandleGetPayment(svc.Payments))
	mux.Handle("POST /payments/{id}/retry", HandleRetryFulfillment(svc.Payments))

	mux.Handle("POST /redemptions", HandleRedeem(svc.Redemption))
	mux.Handle("GET /pools/{id}", HandleGetPool(svc.Pools))

	mux.Handle("/admin/events", HandleAdminEvents(svc.Admin))
	mux.Handle("/admin/events/{id}/lots", HandleAdminLots(svc.Admin))
	mux.Handle("POST /admin/products", HandleAdminProducts(svc.Admin))

	mux.Handle("/", NotFoundHandler())

	var h http.Handler = mux
	h = CORS(cfg.CORSOrigins, h)
	h = Tracing(h, nil)
	return RequestLogger(h, cfg.Logger, cfg.Metrics)
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
}
