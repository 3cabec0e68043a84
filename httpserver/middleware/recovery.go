/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/restapi"
)

// DefaultRecoveryStackSize is the number of stack trace bytes logged with a recovered panic.
const DefaultRecoveryStackSize = 8192

// Recovery recovers panics of the next handler and responds with the internal error.
// When it is placed above VLimit, reserved counters are already released by the time the panic gets here.
// A response that has been started cannot be replaced with a JSON error, so its connection is aborted.
func Recovery(errDomain string) func(next http.Handler) http.Handler {
	return RecoveryWithStackSize(errDomain, DefaultRecoveryStackSize)
}

// RecoveryWithStackSize is Recovery that logs up to stackSize bytes of the stack trace. Zero disables the trace.
func RecoveryWithStackSize(errDomain string, stackSize int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
			defer func() {
				if p := recover(); p != nil {
					handlePanic(wrw, r, p, errDomain, stackSize)
				}
			}()
			next.ServeHTTP(wrw, r)
		})
	}
}

func handlePanic(wrw WrapResponseWriter, r *http.Request, p interface{}, errDomain string, stackSize int) {
	logger := GetLoggerFromContext(r.Context())
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	if p == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
		logger.Warn("request aborted by handler")
		panic(p)
	}

	fields := []log.Field{log.String("panic", fmt.Sprint(p))}
	if stackSize > 0 {
		stack := make([]byte, stackSize)
		fields = append(fields, log.Bytes("stack", stack[:runtime.Stack(stack, false)]))
	}
	logger.Error("panic recovered", fields...)

	if status := wrw.Status(); status != 0 {
		logger.Warn("response already started, aborting connection",
			log.Int("status", status), log.Int("bytes_sent", wrw.BytesWritten()))
		panic(http.ErrAbortHandler)
	}
	restapi.RespondError(wrw, http.StatusInternalServerError, restapi.NewInternalError(errDomain), logger)
}
