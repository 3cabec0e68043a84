/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"sync"

	"github.com/acronis/go-vlimit/log"
)

// LoggingParams is filled by handlers below the Logging middleware
// with data that is added to the access log line of the request.
type LoggingParams struct {
	mu       sync.Mutex
	fields   []log.Field
	rejected bool
}

// ExtendFields extends list of fields that will be logged by the Logging middleware.
func (lp *LoggingParams) ExtendFields(fields ...log.Field) {
	lp.mu.Lock()
	lp.fields = append(lp.fields, fields...)
	lp.mu.Unlock()
}

// Fields returns a copy of the collected fields.
func (lp *LoggingParams) Fields() []log.Field {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return append([]log.Field(nil), lp.fields...)
}

// MarkRejected marks the request as rejected by admission control.
// The access log line of such request is written with the warning level.
func (lp *LoggingParams) MarkRejected() {
	lp.mu.Lock()
	lp.rejected = true
	lp.mu.Unlock()
}

// Rejected reports whether the request was rejected by admission control.
func (lp *LoggingParams) Rejected() bool {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.rejected
}
