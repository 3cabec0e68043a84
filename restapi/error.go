/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Error is the body of an error response. Clients match on Domain and Code; Message is for humans.
type Error struct {
	Domain  string                 `json:"domain"`
	Code    string                 `json:"code"`
	Message string                 `json:"message,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Codes and messages of errors vlimitd responds with outside of admission control.
var (
	ErrCodeInternal    = "internalError"
	ErrCodeNotFound    = "notFound"
	ErrMessageInternal = "Internal error."
	ErrMessageNotFound = "Not found."
)

// NewError creates a new Error.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// NewInternalError creates a new Error for an unexpected failure.
func NewInternalError(domain string) *Error {
	return NewError(domain, ErrCodeInternal, ErrMessageInternal)
}

// NewErrorFromHTTPCode creates a new Error which code and message are derived from the HTTP status text.
// For example, 405 gives the "methodNotAllowed" code and the "Method Not Allowed." message.
func NewErrorFromHTTPCode(domain string, httpCode int) *Error {
	return NewError(domain, httpCode2ErrorCode(httpCode), http.StatusText(httpCode)+".")
}

// AddContext puts a value into the error context and returns the error itself.
func (e *Error) AddContext(field string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[field] = value
	return e
}

// String returns a short representation of the error for logs.
func (e *Error) String() string {
	return fmt.Sprintf("%s/%s: %s", e.Domain, e.Code, e.Message)
}

// httpCode2ErrorCode converts the status text into lower camel case ("Request Timeout" -> "requestTimeout").
func httpCode2ErrorCode(httpCode int) string {
	if httpCode == http.StatusInternalServerError {
		return ErrCodeInternal
	}
	words := strings.FieldsFunc(http.StatusText(httpCode), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
	var sb strings.Builder
	for i, word := range words {
		word = strings.ToLower(word)
		if i > 0 {
			first, size := utf8.DecodeRuneInString(word)
			sb.WriteRune(unicode.ToUpper(first))
			word = word[size:]
		}
		sb.WriteString(word)
	}
	return sb.String()
}
