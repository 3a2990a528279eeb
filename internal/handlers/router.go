// Package handlers exposes the ensemble over HTTP.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

const correlationHeader = "X-Correlation-ID"

// RouterConfig holds the transport settings.
type RouterConfig struct {
	CORS         CORSPolicy
	RateRequests int
	RateWindow   time.Duration
}

// NewRouter wires the endpoints:
//
//	GET  /health
//	GET  /metrics
//	POST /predict
//	OPTIONS on any path (CORS preflight)
func NewRouter(h *Handler, cfg RouterConfig, log zerolog.Logger) http.Handler {
	router := httprouter.New()
	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)

	var predict http.Handler = http.HandlerFunc(h.Predict)
	if cfg.RateRequests > 0 {
		predict = httprate.LimitByIP(cfg.RateRequests, cfg.RateWindow)(predict)
	}
	router.Handler(http.MethodPost, "/predict", predict)

	return withRequestLog(log, cfg.CORS.enableCORS(router))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// withRequestLog attaches a correlation-scoped logger to the request
// context and logs each completed request.
func withRequestLog(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)

		reqLog := log.With().Str("correlation_id", id).Logger()
		r = r.WithContext(reqLog.WithContext(r.Context()))

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		reqLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
