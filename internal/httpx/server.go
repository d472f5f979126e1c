package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
)

type RouterConfig struct {
	Logger   *zap.Logger
	Metrics  *observability.ServerMetrics
	Gatherer prometheus.Gatherer
	Timeout  time.Duration
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, observability.RequestLogger(cfg.Logger, cfg.Metrics), middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", observability.Handler(cfg.Gatherer))
	}
	return r
}
