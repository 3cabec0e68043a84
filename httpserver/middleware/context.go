/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"context"
	"time"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/vhost"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyInternalRequestID
	ctxKeyLogger
	ctxKeyLoggingParams
	ctxKeyRequestStartTime
	ctxKeyResolution
	ctxKeyDecision
)

// fromContext returns the value stored under the key, or the zero value if there is none.
func fromContext[T any](ctx context.Context, key ctxKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// NewContextWithRequestID creates a new context with the request id.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts the request id from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	id, _ := fromContext[string](ctx, ctxKeyRequestID)
	return id
}

// NewContextWithInternalRequestID creates a new context with the internal request id.
func NewContextWithInternalRequestID(ctx context.Context, internalRequestID string) context.Context {
	return context.WithValue(ctx, ctxKeyInternalRequestID, internalRequestID)
}

// GetInternalRequestIDFromContext extracts the internal request id from the context.
func GetInternalRequestIDFromContext(ctx context.Context) string {
	id, _ := fromContext[string](ctx, ctxKeyInternalRequestID)
	return id
}

// NewContextWithLogger creates a new context with the logger of the request.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext extracts the logger from the context. It returns nil if there is no logger.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	logger, _ := fromContext[log.FieldLogger](ctx, ctxKeyLogger)
	return logger
}

// NewContextWithLoggingParams creates a new context with logging params.
func NewContextWithLoggingParams(ctx context.Context, loggingParams *LoggingParams) context.Context {
	return context.WithValue(ctx, ctxKeyLoggingParams, loggingParams)
}

// GetLoggingParamsFromContext extracts logging params from the context.
func GetLoggingParamsFromContext(ctx context.Context) *LoggingParams {
	lp, _ := fromContext[*LoggingParams](ctx, ctxKeyLoggingParams)
	return lp
}

// NewContextWithRequestStartTime creates a new context with the time the request was received.
func NewContextWithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyRequestStartTime, startTime)
}

// GetRequestStartTimeFromContext extracts the request start time from the context.
func GetRequestStartTimeFromContext(ctx context.Context) time.Time {
	startTime, _ := fromContext[time.Time](ctx, ctxKeyRequestStartTime)
	return startTime
}

// NewContextWithResolution creates a new context with the virtual host resolution of the request.
func NewContextWithResolution(ctx context.Context, res vhost.Resolution) context.Context {
	return context.WithValue(ctx, ctxKeyResolution, res)
}

// GetResolutionFromContext extracts the virtual host resolution from the context.
func GetResolutionFromContext(ctx context.Context) (vhost.Resolution, bool) {
	return fromContext[vhost.Resolution](ctx, ctxKeyResolution)
}

// NewContextWithDecision creates a new context with the admission decision made for the initial request.
// Requests dispatched with such a context are treated as sub-requests.
func NewContextWithDecision(ctx context.Context, d admission.Decision) context.Context {
	return context.WithValue(ctx, ctxKeyDecision, d)
}

// GetDecisionFromContext extracts the admission decision from the context.
func GetDecisionFromContext(ctx context.Context) (admission.Decision, bool) {
	return fromContext[admission.Decision](ctx, ctxKeyDecision)
}
