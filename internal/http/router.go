package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Handler        *CartHandler
	Logger         *slog.Logger
	RateLimiter    *RateLimiter
	Metrics        func(http.Handler) http.Handler
	MetricsHandler http.Handler
	AllowedOrigins []string
	ServiceName    string
}

// NewRouter wires the cart routes, health probes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", cfg.Handler.Ready)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}
		r.Post("/carts", cfg.Handler.AddToCart)
		r.Post("/update-quantity", cfg.Handler.UpdateQuantity)
		r.Post("/fetch-cart", cfg.Handler.FetchCart)
		r.Post("/delete-product", cfg.Handler.DeleteProduct)
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}).Handler(r)

	name := cfg.ServiceName
	if name == "" {
		name = "email-cart"
	}
	return otelhttp.NewHandler(corsHandler, name)
}
