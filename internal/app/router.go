package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/keystone-erp/keystone-erp/internal/blanket"
	"github.com/keystone-erp/keystone-erp/internal/masterdata/products"
	"github.com/keystone-erp/keystone-erp/internal/masterdata/units"
	"github.com/keystone-erp/keystone-erp/internal/observability"
	"github.com/keystone-erp/keystone-erp/internal/sales/customers"
	"github.com/keystone-erp/keystone-erp/internal/sales/orders"
	"github.com/keystone-erp/keystone-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	BlanketHandler  *blanket.Handler
	OrdersHandler   *orders.Handler
	UnitsHandler    *units.Handler
	ProductsHandler *products.Handler
	CustomerHandler *customers.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with Keystone defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/blanket-orders", params.BlanketHandler.MountRoutes)
	r.Route("/sales", params.OrdersHandler.MountRoutes)
	if params.UnitsHandler != nil {
		r.Route("/masterdata/units", params.UnitsHandler.MountRoutes)
	}
	if params.ProductsHandler != nil {
		r.Route("/masterdata/products", params.ProductsHandler.MountRoutes)
	}
	if params.CustomerHandler != nil {
		r.Route("/customers", params.CustomerHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
