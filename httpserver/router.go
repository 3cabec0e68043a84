/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-vlimit/httpserver/middleware"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/restapi"
)

// Paths of the system endpoints. They are never limited.
const (
	PathMetrics = "/metrics"
	PathHealthz = "/healthz"
)

func newRouter(cfg *Config, logger log.FieldLogger, opts *Opts, handlers *handlerTracker) chi.Router {
	r := chi.NewRouter()

	r.Use(
		handlers.middleware,
		requestStartTime,
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, loggingOpts(&cfg.Log)),
		// Recovery wraps VLimit, so counters are released before a panic is recovered.
		middleware.Recovery(opts.ErrorDomain),
	)
	r.Use(opts.RootMiddlewares...)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, PathMetrics, metricsHandler)
	r.Method(http.MethodGet, PathHealthz, NewHealthCheckHandler(opts.HealthChecks))

	if opts.Admitter != nil {
		files := NewFileHandler(opts.ErrorDomain)
		limited := r.With(middleware.VLimitWithOpts(opts.Admitter, opts.Resolver, opts.ErrorDomain, opts.VLimit))
		for _, method := range []string{http.MethodGet, http.MethodHead} {
			limited.Method(method, "/*", files)
		}
	}

	r.NotFound(func(rw http.ResponseWriter, _ *http.Request) {
		restapi.RespondError(rw, http.StatusNotFound,
			restapi.NewError(opts.ErrorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound), logger)
	})
	r.MethodNotAllowed(func(rw http.ResponseWriter, _ *http.Request) {
		restapi.RespondError(rw, http.StatusMethodNotAllowed,
			restapi.NewErrorFromHTTPCode(opts.ErrorDomain, http.StatusMethodNotAllowed), logger)
	})
	return r
}

func requestStartTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(rw, r.WithContext(middleware.NewContextWithRequestStartTime(r.Context(), time.Now())))
	})
}

// loggingOpts maps configured header names onto log field keys, e.g. "X-Forwarded-For" onto "req_header_x_forwarded_for".
func loggingOpts(cfg *LogConfig) middleware.LoggingOpts {
	headers := make(map[string]string, len(cfg.RequestHeaders))
	for _, name := range cfg.RequestHeaders {
		headers[name] = "req_header_" + strings.ToLower(strings.ReplaceAll(name, "-", "_"))
	}
	return middleware.LoggingOpts{
		RequestStart:           cfg.RequestStart,
		RequestHeaders:         headers,
		ExcludedEndpoints:      cfg.ExcludedEndpoints,
		SecretQueryParams:      cfg.SecretQueryParams,
		AddRequestInfoToLogger: cfg.AddRequestInfoToLogger,
	}
}
