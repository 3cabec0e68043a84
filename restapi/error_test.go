/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHttpCode2ErrorCode(t *testing.T) {
	tests := []struct {
		httpCode    int
		wantErrCode string
	}{
		{http.StatusInternalServerError, "internalError"},
		{http.StatusNotFound, "notFound"},
		{http.StatusServiceUnavailable, "serviceUnavailable"},
		{http.StatusTooManyRequests, "tooManyRequests"},
		{http.StatusMethodNotAllowed, "methodNotAllowed"},
		{http.StatusNonAuthoritativeInfo, "nonAuthoritativeInformation"},
		{http.StatusRequestedRangeNotSatisfiable, "requestedRangeNotSatisfiable"},
	}
	for _, tt := range tests {
		t.Run(tt.wantErrCode, func(t *testing.T) {
			require.Equal(t, tt.wantErrCode, httpCode2ErrorCode(tt.httpCode))
		})
	}
}

func TestNewErrorFromHTTPCode(t *testing.T) {
	err := NewErrorFromHTTPCode("vlimit", http.StatusServiceUnavailable).AddContext("limit", 2)
	require.Equal(t, &Error{
		Domain:  "vlimit",
		Code:    "serviceUnavailable",
		Message: "Service Unavailable.",
		Context: map[string]interface{}{"limit": 2},
	}, err)
}

func TestError_String(t *testing.T) {
	err := NewError("VLimit", "tooManyInFlightRequests", "Too many in-flight requests.")
	require.Equal(t, "VLimit/tooManyInFlightRequests: Too many in-flight requests.", err.String())
}
