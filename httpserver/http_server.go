/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"

	"github.com/acronis/go-vlimit/httpserver/middleware"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/service"
)

const networkTCP = "tcp"

// MetricsCollector is a set of Prometheus metrics registered for the lifetime of the server.
type MetricsCollector interface {
	MustRegister()
	Unregister()
}

// Opts configures the handlers mounted by New.
type Opts struct {
	// RootMiddlewares run before every route, after the built-in logging and recovery.
	RootMiddlewares []func(http.Handler) http.Handler
	ErrorDomain     string
	// HealthChecks are components checked by the /healthz endpoint, keyed by component name.
	HealthChecks map[string]HealthChecker
	// MetricsHandler replaces promhttp.Handler() on /metrics.
	MetricsHandler http.Handler
	Metrics        MetricsCollector

	// Admitter and Resolver enable static file serving under the in-flight limits.
	// Either both or none must be set. Without them only system endpoints are served.
	Admitter middleware.Admitter
	Resolver middleware.ScopeResolver
	VLimit   middleware.VLimitOpts
}

// HTTPServer serves static files and system endpoints. It implements service.Unit.
type HTTPServer struct {
	// URL is the base URL built from the configured address.
	URL    string
	Router chi.Router
	Logger log.FieldLogger

	server          *http.Server
	tls             TLSConfig
	reusePort       bool
	shutdownTimeout time.Duration
	metrics         MetricsCollector
	handlers        *handlerTracker

	port   atomic.Int32
	doneMu sync.Mutex
	done   chan struct{}
}

var _ service.Unit = (*HTTPServer)(nil)
var _ service.MetricsRegisterer = (*HTTPServer)(nil)

// New creates an HTTPServer. Requests pass through request id, logging and recovery middlewares.
func New(cfg *Config, logger log.FieldLogger, opts Opts) (*HTTPServer, error) { //nolint:gocritic // hugeParam
	if (opts.Admitter == nil) != (opts.Resolver == nil) {
		return nil, errors.New("admitter and resolver should be set together")
	}

	handlers := newHandlerTracker()
	router := newRouter(cfg, logger, &opts, handlers)
	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	return &HTTPServer{
		URL:    scheme + "://" + cfg.Address,
		Router: router,
		Logger: logger,
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadTimeout:       time.Duration(cfg.Timeouts.Read),
			ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
			WriteTimeout:      time.Duration(cfg.Timeouts.Write),
			IdleTimeout:       time.Duration(cfg.Timeouts.Idle),
		},
		tls:             cfg.TLS,
		reusePort:       cfg.ReusePort,
		shutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
		metrics:         opts.Metrics,
		handlers:        handlers,
	}, nil
}

// Start listens and serves until the server is stopped. A listen or serve failure is sent to fatalError.
func (s *HTTPServer) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.doneMu.Lock()
	s.done = done
	s.doneMu.Unlock()

	logger := s.Logger.With(log.String("address", s.server.Addr), log.Bool("tls", s.tls.Enabled))
	logger.Info("starting HTTP server",
		log.Bool("reuse_port", s.reusePort),
		log.Duration("read_timeout", s.server.ReadTimeout),
		log.Duration("read_header_timeout", s.server.ReadHeaderTimeout),
		log.Duration("write_timeout", s.server.WriteTimeout),
		log.Duration("idle_timeout", s.server.IdleTimeout),
		log.Duration("shutdown_timeout", s.shutdownTimeout),
	)
	if err := s.listenAndServe(); err != nil {
		logger.Error("HTTP server failed", log.Error(err))
		fatalError <- err
		return
	}
	logger.Info("HTTP server closed")
}

func (s *HTTPServer) listenAndServe() error {
	ln, err := Listen(context.Background(), s.server.Addr, s.reusePort)
	if err != nil {
		return err
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(addr.Port))
	}
	if s.tls.Enabled {
		err = s.server.ServeTLS(ln, s.tls.Certificate, s.tls.Key)
	} else {
		err = s.server.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the server. A graceful stop waits up to the shutdown timeout for in-flight requests
// and closes the remaining connections when it expires. In both modes Stop returns only after
// every running handler has returned, so their counters are released before the caller unmaps the store.
func (s *HTTPServer) Stop(gracefully bool) error {
	var err error
	if gracefully {
		s.Logger.Info("shutting down HTTP server", log.Duration("timeout", s.shutdownTimeout))
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err = s.server.Shutdown(ctx); err != nil {
			s.Logger.Error("failed to shut down HTTP server gracefully, closing it",
				log.Int("running_handlers", s.handlers.running()), log.Error(err))
			if closeErr := s.server.Close(); closeErr != nil {
				s.Logger.Error("failed to close HTTP server", log.Error(closeErr))
			}
		}
	} else {
		s.Logger.Info("closing HTTP server")
		if err = s.server.Close(); err != nil {
			s.Logger.Error("failed to close HTTP server", log.Error(err))
		}
	}

	s.handlers.closeAndWait()
	s.doneMu.Lock()
	done := s.done
	s.doneMu.Unlock()
	if done != nil {
		<-done
	}
	if err != nil {
		return err
	}
	s.Logger.Info("HTTP server stopped", log.Bool("gracefully", gracefully))
	return nil
}

// MustRegisterMetrics registers Opts.Metrics and panics on a registration error.
func (s *HTTPServer) MustRegisterMetrics() {
	if s.metrics != nil {
		s.metrics.MustRegister()
	}
}

// UnregisterMetrics unregisters Opts.Metrics.
func (s *HTTPServer) UnregisterMetrics() {
	if s.metrics != nil {
		s.metrics.Unregister()
	}
}

// GetPort returns the TCP port the server listens on, or 0 before the listener is open.
func (s *HTTPServer) GetPort() int {
	return int(s.port.Load())
}
