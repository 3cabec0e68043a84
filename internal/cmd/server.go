/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/diag"
	"github.com/acronis/go-vlimit/httpserver"
	"github.com/acronis/go-vlimit/log"
	"github.com/acronis/go-vlimit/service"
	"github.com/acronis/go-vlimit/vhost"
)

const errorDomain = "VLimit"

const occupancyInterval = 15 * time.Second

// runHTTP serves files of the virtual hosts in the current process until a shutdown signal is received.
func runHTTP(cfg *AppConfig, logger log.FieldLogger, store *admission.Store, resolver *vhost.Resolver) error {
	diagnostics := diag.New(cfg.Diag, logger)
	defer diagnostics.Close()

	metrics := admission.NewPrometheusMetrics()
	engine, err := admission.NewEngine(store, admission.EngineOpts{
		Logger:      logger,
		Diagnostics: diagnostics,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("create admission engine: %w", err)
	}

	srv, err := httpserver.New(cfg.Server, logger, httpserver.Opts{
		ErrorDomain: errorDomain,
		Admitter:    engine,
		Resolver:    resolver,
		Metrics:     metrics,
		HealthChecks: map[string]httpserver.HealthChecker{
			httpserver.HealthComponentCounters:      httpserver.CountersHealthCheck(store),
			httpserver.HealthComponentDocumentRoots: httpserver.DocumentRootsHealthCheck(documentRoots(cfg.VLimit)),
		},
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	occupancy := service.NewPeriodicUnit("occupancy", occupancyInterval, observeOccupancy(store, metrics), logger)
	return service.New(logger, service.NewCompositeUnit(srv, occupancy)).Start()
}

func documentRoots(cfg *vhost.Config) []string {
	roots := make([]string, 0, len(cfg.VirtualHosts))
	for _, host := range cfg.VirtualHosts {
		roots = append(roots, host.DocumentRoot)
	}
	return roots
}

func observeOccupancy(store *admission.Store, metrics *admission.PrometheusMetrics) service.PeriodicTask {
	return func(ctx context.Context) error {
		for configID := 0; configID < store.Configs(); configID++ {
			if ctx.Err() != nil {
				return nil
			}
			snap, err := store.Snapshot(configID)
			if err != nil {
				return fmt.Errorf("snapshot counters of configuration %d: %w", configID, err)
			}
			metrics.ObserveSnapshot(snap)
		}
		return nil
	}
}
