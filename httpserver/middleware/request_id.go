/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/rs/xid"
)

// Headers with request ids.
const (
	HeaderRequestID         = "X-Request-ID"
	HeaderInternalRequestID = "X-Int-Request-ID"
)

// MaxRequestIDLength is the maximum length of the request id accepted from the client.
const MaxRequestIDLength = 128

// RequestIDOpts represents an options for RequestID middleware.
type RequestIDOpts struct {
	// GenerateID generates the request id when the client hasn't sent an acceptable one.
	GenerateID func() string
	// GenerateInternalID generates the internal request id, which is never taken from the client.
	GenerateInternalID func() string
}

type requestIDHandler struct {
	next           http.Handler
	generateID     func() string
	generateIntrID func() string
}

// RequestID is a middleware that assigns two ids to every request.
// The request id is taken from X-Request-ID if the client has sent a printable ASCII value
// of at most MaxRequestIDLength bytes, and generated otherwise. The internal request id is always generated.
// Both ids are put into the request context (so they get into access log lines and audit records)
// and returned to the client in response headers. Ids are generated with xid.
func RequestID() func(next http.Handler) http.Handler {
	return RequestIDWithOpts(RequestIDOpts{})
}

// RequestIDWithOpts is a more configurable version of RequestID middleware.
func RequestIDWithOpts(opts RequestIDOpts) func(next http.Handler) http.Handler {
	h := requestIDHandler{generateID: opts.GenerateID, generateIntrID: opts.GenerateInternalID}
	if h.generateID == nil {
		h.generateID = newXID
	}
	if h.generateIntrID == nil {
		h.generateIntrID = newXID
	}
	return func(next http.Handler) http.Handler {
		handler := h
		handler.next = next
		return &handler
	}
}

func (h *requestIDHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(HeaderRequestID)
	if !acceptableRequestID(reqID) {
		reqID = h.generateID()
	}
	intReqID := h.generateIntrID()

	rw.Header().Set(HeaderRequestID, reqID)
	rw.Header().Set(HeaderInternalRequestID, intReqID)
	ctx := NewContextWithInternalRequestID(NewContextWithRequestID(r.Context(), reqID), intReqID)
	h.next.ServeHTTP(rw, r.WithContext(ctx))
}

func newXID() string {
	return xid.New().String()
}

func acceptableRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
