/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/acronis/go-vlimit/httpserver/middleware"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/restapi"
)

// StatusClientClosedRequest is a special HTTP status code used by Nginx to show that the client
// closed the request before the server could send a response
const StatusClientClosedRequest = 499

// Names of the built-in health-check components.
const (
	HealthComponentCounters      = "counters"
	HealthComponentDocumentRoots = "documentRoots"
)

// HealthChecker checks one component of the server. A non-nil error marks the component as unhealthy.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc is an adapter to allow the use of ordinary functions as HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

// CheckHealth calls f(ctx).
func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// CounterLocker is the lock guarding the shared counters.
type CounterLocker interface {
	Lock() error
	Unlock() error
}

// CountersHealthCheck reports the shared counters as unhealthy when their lock cannot be taken.
// With a broken lock every request is admitted without counting.
func CountersHealthCheck(locker CounterLocker) HealthChecker {
	return HealthCheckerFunc(func(_ context.Context) error {
		if err := locker.Lock(); err != nil {
			return fmt.Errorf("lock shared counters: %w", err)
		}
		if err := locker.Unlock(); err != nil {
			return fmt.Errorf("unlock shared counters: %w", err)
		}
		return nil
	})
}

// DocumentRootsHealthCheck reports the document roots as unhealthy when any of them is not an accessible directory.
func DocumentRootsHealthCheck(roots []string) HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		for _, root := range roots {
			if err := ctx.Err(); err != nil {
				return err
			}
			fi, err := os.Stat(root)
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				return fmt.Errorf("document root %s is not a directory", root)
			}
		}
		return nil
	})
}

type healthCheckResponseData struct {
	Components map[string]bool `json:"components"`
}

// HealthCheckHandler implements http.Handler and checks the components of the server.
// It responds with 200 when all components are healthy and with 503 otherwise.
type HealthCheckHandler struct {
	names      []string
	components map[string]HealthChecker
}

// NewHealthCheckHandler creates a new http.Handler for doing health-check of the passed components.
func NewHealthCheckHandler(components map[string]HealthChecker) *HealthCheckHandler {
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	return &HealthCheckHandler{names: names, components: components}
}

// ServeHTTP serves heath-check HTTP request.
func (h *HealthCheckHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.GetLoggerFromContext(ctx)
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	healthy := true
	respData := healthCheckResponseData{Components: make(map[string]bool, len(h.names))}
	for _, name := range h.names {
		err := h.components[name].CheckHealth(ctx)
		if errors.Is(ctx.Err(), context.Canceled) {
			rw.WriteHeader(StatusClientClosedRequest)
			return
		}
		if err != nil {
			logger.Error("component is unhealthy", log.String("component", name), log.Error(err))
			healthy = false
		}
		respData.Components[name] = err == nil
	}

	respStatus := http.StatusOK
	if !healthy {
		respStatus = http.StatusServiceUnavailable
	}
	restapi.RespondCodeAndJSON(rw, respStatus, respData, logger)
}
