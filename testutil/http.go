/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

// apiErrorBody is the body of an error response written by restapi.RespondError.
type apiErrorBody struct {
	Error struct {
		Domain string `json:"domain"`
		Code   string `json:"code"`
	} `json:"error"`
}

func markHelper(t require.TestingT) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
}

func readAll(t require.TestingT, body io.Reader) []byte {
	markHelper(t)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return data
}

// RequireErrorInRecorder asserts that the recorded response is a JSON error with the status, the domain and the code.
func RequireErrorInRecorder(t require.TestingT, rec *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	markHelper(t)
	requireAPIError(t, rec.Code, rec.Header(), rec.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

// RequireErrorInResponse asserts that the response is a JSON error with the status, the domain and the code.
func RequireErrorInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	markHelper(t)
	requireAPIError(t, resp.StatusCode, resp.Header, resp.Body, wantHTTPCode, wantErrDomain, wantErrCode)
}

func requireAPIError(
	t require.TestingT, code int, header http.Header, body io.Reader, wantHTTPCode int, wantErrDomain, wantErrCode string,
) {
	markHelper(t)
	require.Equal(t, wantHTTPCode, code, "unexpected status code")
	require.Equal(t, contentTypeAppJSON, header.Get("Content-Type"))
	var got apiErrorBody
	require.NoError(t, json.Unmarshal(readAll(t, body), &got))
	require.Equal(t, wantErrDomain, got.Error.Domain, "unexpected error domain")
	require.Equal(t, wantErrCode, got.Error.Code, "unexpected error code")
}

// RequireBodyInResponse asserts that the response has the status and exactly the body.
// It's used for checking served files.
func RequireBodyInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantBody string) {
	markHelper(t)
	require.Equal(t, wantHTTPCode, resp.StatusCode, "unexpected status code")
	require.Equal(t, wantBody, string(readAll(t, resp.Body)))
}

// RequireEmptyBodyInRecorder asserts that nothing has been written to the body of the recorded response.
func RequireEmptyBodyInRecorder(t require.TestingT, rec *httptest.ResponseRecorder) {
	markHelper(t)
	require.Empty(t, readAll(t, rec.Body))
}

// RequireJSONInRecorder decodes the JSON body of the recorded response into dest and compares it with want.
func RequireJSONInRecorder(t require.TestingT, rec *httptest.ResponseRecorder, want, dest interface{}) {
	markHelper(t)
	require.Equal(t, contentTypeAppJSON, rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(readAll(t, rec.Body), dest))
	require.Equal(t, want, dest)
}

// RequireStringJSONInResponse asserts that the response body is exactly the JSON string.
func RequireStringJSONInResponse(t require.TestingT, resp *http.Response, want string) {
	markHelper(t)
	require.Equal(t, contentTypeAppJSON, resp.Header.Get("Content-Type"))
	require.Equal(t, want, string(readAll(t, resp.Body)))
}
