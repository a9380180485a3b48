package calculator

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sadaka-platform/zakat/internal/telegram"
)

// InitDataHeader carries the raw Telegram WebApp initData string.
const InitDataHeader = "X-Telegram-Init-Data"

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

// SessionMiddleware parses the Telegram init data of each request into a
// telegram.Session. Requests without init data get a dev session when
// devUserID is non-zero, and no session otherwise.
func SessionMiddleware(devUserID int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(InitDataHeader)

			var session *telegram.Session
			switch {
			case raw != "":
				s, err := telegram.ParseInitData(raw)
				if err != nil {
					respondError(w, http.StatusBadRequest, "invalid_init_data", err.Error())
					return
				}
				session = s
			case devUserID != 0:
				session = telegram.DevSession(devUserID)
			}

			if session != nil {
				r = r.WithContext(telegram.NewContext(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySize limits request bodies to n bytes.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
