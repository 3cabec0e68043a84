/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-vlimit/log"
)

// LoggingSecretQueryPlaceholder replaces values of secret query parameters in the logged URI.
const LoggingSecretQueryPlaceholder = "_HIDDEN_"

const userAgentLogFieldKey = "user_agent"

// LoggingOpts represents an options for Logging middleware.
type LoggingOpts struct {
	// RequestStart enables logging of a separate line when the request is received.
	RequestStart bool
	// RequestHeaders maps names of request headers to keys of log fields they are logged with.
	RequestHeaders map[string]string
	// ExcludedEndpoints are glob patterns of URL paths that are logged only when the response status is 4xx or 5xx.
	ExcludedEndpoints []string
	// SecretQueryParams are names of query parameters which values are hidden in the logged URI.
	SecretQueryParams []string
	// AddRequestInfoToLogger makes the logger put into the request context carry the request fields as well.
	AddRequestInfoToLogger bool
}

type loggingHandler struct {
	next     http.Handler
	logger   log.FieldLogger
	opts     LoggingOpts
	excluded []func(string) bool
}

// Logging is a middleware that writes an access log line for every served request.
// It puts the logger with request ids into the request context, so handlers below
// (VLimit and the file handler) log with the same ids.
func Logging(logger log.FieldLogger) func(next http.Handler) http.Handler {
	return LoggingWithOpts(logger, LoggingOpts{})
}

// LoggingWithOpts is a more configurable version of Logging middleware.
func LoggingWithOpts(logger log.FieldLogger, opts LoggingOpts) func(next http.Handler) http.Handler {
	excluded := make([]func(string) bool, 0, len(opts.ExcludedEndpoints))
	for _, endpoint := range opts.ExcludedEndpoints {
		excluded = append(excluded, glob.Compile(endpoint))
	}
	return func(next http.Handler) http.Handler {
		return &loggingHandler{next: next, logger: logger, opts: opts, excluded: excluded}
	}
}

func (h *loggingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := GetRequestStartTimeFromContext(ctx)
	if startTime.IsZero() {
		startTime = time.Now()
		ctx = NewContextWithRequestStartTime(ctx, startTime)
	}

	ctxLogger := h.logger.With(
		log.String("request_id", GetRequestIDFromContext(ctx)),
		log.String("int_request_id", GetInternalRequestIDFromContext(ctx)),
	)
	accessLogger := ctxLogger.With(h.requestFields(r)...)
	if h.opts.AddRequestInfoToLogger {
		ctxLogger = accessLogger
	}

	excluded := h.isExcluded(r.URL.Path)
	if h.opts.RequestStart && !excluded {
		accessLogger.Info("request started")
	}

	lp := &LoggingParams{}
	wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
	h.next.ServeHTTP(wrw, r.WithContext(NewContextWithLoggingParams(NewContextWithLogger(ctx, ctxLogger), lp)))

	status := wrw.Status()
	if excluded && status < http.StatusBadRequest {
		return
	}
	duration := time.Since(startTime)
	fields := append([]log.Field{
		log.Int64("duration_ms", duration.Milliseconds()),
		log.Int("status", status),
		log.Int("bytes_sent", wrw.BytesWritten()),
	}, lp.Fields()...)
	if lp.Rejected() {
		accessLogger.Warn(fmt.Sprintf("request rejected in %.3fs", duration.Seconds()), fields...)
		return
	}
	accessLogger.Info(fmt.Sprintf("response completed in %.3fs", duration.Seconds()), fields...)
}

func (h *loggingHandler) requestFields(r *http.Request) []log.Field {
	fields := make([]log.Field, 0, 7+len(h.opts.RequestHeaders))
	fields = append(fields,
		log.String("method", r.Method),
		log.String("host", r.Host),
		log.String("uri", h.uriToLog(r)),
		log.String("client", ClientAddr(r)),
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("content_length", r.ContentLength),
		log.String(userAgentLogFieldKey, r.UserAgent()),
	)
	for headerName, logKey := range h.opts.RequestHeaders {
		fields = append(fields, log.String(logKey, r.Header.Get(headerName)))
	}
	return fields
}

func (h *loggingHandler) uriToLog(r *http.Request) string {
	if len(h.opts.SecretQueryParams) == 0 || r.URL.RawQuery == "" {
		return r.RequestURI
	}
	query := r.URL.Query()
	for _, k := range h.opts.SecretQueryParams {
		vals := query[k]
		for i := range vals {
			if vals[i] != "" {
				vals[i] = LoggingSecretQueryPlaceholder
			}
		}
	}
	return r.URL.Path + "?" + query.Encode()
}

func (h *loggingHandler) isExcluded(urlPath string) bool {
	for _, match := range h.excluded {
		if match(urlPath) {
			return true
		}
	}
	return false
}
