package calculator

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	DevUserID      int64
	Logger         *zap.Logger
}

// NewRouter mounts h under /api/v1/zakat with the service middleware.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.MaxBodyBytes > 0 {
		r.Use(MaxBodySize(cfg.MaxBodyBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/zakat", func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.DevUserID))

		r.Get("/nisab", h.GetNisab)
		r.Post("/preview", h.Preview)
		r.Post("/calc", h.Calculate)
		r.Get("/history", h.History)
		r.Post("/{id}/pay", h.Pay)
		r.Post("/{id}/confirm", h.ConfirmPayment)
	})

	return r
}
