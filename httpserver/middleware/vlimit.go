/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/restapi"
	"github.com/acronis/go-vlimit/vhost"
)

// VLimitErrCode is the error code that is used in a response body
// if the request is rejected because of too many in-flight requests.
const VLimitErrCode = "tooManyInFlightRequests"

// VLimitErrMessage is the error message that is used in a response body if the request is rejected.
const VLimitErrMessage = "Too many in-flight requests."

// Log fields for VLimit middleware.
const (
	VLimitLogFieldOutcome       = "vlimit_outcome"
	VLimitLogFieldReason        = "vlimit_reason"
	VLimitLogFieldConfigID      = "vlimit_config_id"
	VLimitLogFieldIPCount       = "vlimit_ip_count"
	VLimitLogFieldResourceCount = "vlimit_resource_count"
)

// Admitter makes admission decisions and releases counters reserved for admitted requests.
type Admitter interface {
	Admit(req admission.Request, cfg admission.LimitConfig) admission.Decision
	Complete(t *admission.Ticket)
}

// ScopeResolver maps the request onto the virtual host and its limit configuration.
type ScopeResolver interface {
	Resolve(hostHeader, urlPath string) vhost.Resolution
	Excluded(urlPath string) bool
}

// VLimitParams contains data that relates to the rejected request.
type VLimitParams struct {
	ResponseStatusCode int
	ErrDomain          string
	Decision           admission.Decision
}

// VLimitOnRejectFunc is a function that is called for rejecting HTTP request when a limit is exceeded.
type VLimitOnRejectFunc func(rw http.ResponseWriter, r *http.Request, params VLimitParams, logger log.FieldLogger)

// VLimitGetClientAddrFunc returns the client address that requests are counted by.
type VLimitGetClientAddrFunc func(r *http.Request) string

// VLimitOpts represents an options for the VLimit middleware.
type VLimitOpts struct {
	ResponseStatusCode int
	GetClientAddr      VLimitGetClientAddrFunc
	OnReject           VLimitOnRejectFunc
}

type vlimitHandler struct {
	next           http.Handler
	admitter       Admitter
	resolver       ScopeResolver
	errDomain      string
	respStatusCode int
	getClientAddr  VLimitGetClientAddrFunc
	onReject       VLimitOnRejectFunc
}

// VLimit is a middleware that limits the number of concurrently served requests per client IP address
// and per requested resource. Counters are shared by all processes attached to the same store.
// Counters reserved for an admitted request are released when the next handler returns
// (normally, with a panic or because the client has gone away).
func VLimit(admitter Admitter, resolver ScopeResolver, errDomain string) func(next http.Handler) http.Handler {
	return VLimitWithOpts(admitter, resolver, errDomain, VLimitOpts{})
}

// VLimitWithOpts is a configurable version of VLimit middleware.
func VLimitWithOpts(admitter Admitter, resolver ScopeResolver, errDomain string, opts VLimitOpts) func(next http.Handler) http.Handler {
	respStatusCode := opts.ResponseStatusCode
	if respStatusCode == 0 {
		respStatusCode = http.StatusServiceUnavailable
	}
	getClientAddr := opts.GetClientAddr
	if getClientAddr == nil {
		getClientAddr = ClientAddr
	}
	onReject := opts.OnReject
	if onReject == nil {
		onReject = DefaultVLimitOnReject
	}
	return func(next http.Handler) http.Handler {
		return &vlimitHandler{
			next:           next,
			admitter:       admitter,
			resolver:       resolver,
			errDomain:      errDomain,
			respStatusCode: respStatusCode,
			getClientAddr:  getClientAddr,
			onReject:       onReject,
		}
	}
}

func (h *vlimitHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, resolved := GetResolutionFromContext(ctx)
	if !resolved {
		res = h.resolver.Resolve(r.Host, r.URL.Path)
		ctx = NewContextWithResolution(ctx, res)
	}
	if h.resolver.Excluded(r.URL.Path) {
		h.next.ServeHTTP(rw, r.WithContext(ctx))
		return
	}

	_, subRequest := GetDecisionFromContext(ctx)
	req := admission.Request{
		ID:         GetRequestIDFromContext(ctx),
		ClientAddr: h.getClientAddr(r),
		Target:     res.Target,
		Host:       r.Host,
		Server:     res.Server,
		SubRequest: subRequest,
	}
	d := h.admitter.Admit(req, res.Limits)
	if d.Ticket != nil {
		defer h.admitter.Complete(d.Ticket)
	}

	if lp := GetLoggingParamsFromContext(ctx); lp != nil && d.Outcome != admission.Skipped {
		lp.ExtendFields(
			log.String(VLimitLogFieldOutcome, d.Outcome.String()),
			log.String(VLimitLogFieldReason, string(d.Reason)),
			log.Int(VLimitLogFieldConfigID, res.Limits.ConfigID),
			log.Int(VLimitLogFieldIPCount, d.IPCount),
			log.Int(VLimitLogFieldResourceCount, d.ResourceCount),
		)
		if !d.Outcome.Proceed() {
			lp.MarkRejected()
		}
	}

	if !d.Outcome.Proceed() {
		params := VLimitParams{ResponseStatusCode: h.respStatusCode, ErrDomain: h.errDomain, Decision: d}
		h.onReject(rw, r.WithContext(ctx), params, GetLoggerFromContext(ctx))
		return
	}

	if !subRequest {
		ctx = NewContextWithDecision(ctx, d)
	}
	h.next.ServeHTTP(rw, r.WithContext(ctx))
}

// DefaultVLimitOnReject responds with the service unavailable error.
// The reason of rejection is logged but not exposed to the client.
func DefaultVLimitOnReject(rw http.ResponseWriter, r *http.Request, params VLimitParams, logger log.FieldLogger) {
	if logger != nil {
		logger = logger.With(
			log.String(VLimitLogFieldReason, string(params.Decision.Reason)),
			log.String(userAgentLogFieldKey, r.UserAgent()),
		)
	}
	apiErr := restapi.NewError(params.ErrDomain, VLimitErrCode, VLimitErrMessage)
	restapi.RespondError(rw, params.ResponseStatusCode, apiErr, logger)
}
