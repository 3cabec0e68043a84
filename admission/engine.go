/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-vlimit/internal/counter"
	"github.com/acronis/go-vlimit/log"
)

// DefaultWarnInterval is the minimal interval between repeated warnings logged from the request path.
const DefaultWarnInterval = time.Second

// Diagnostics receives best-effort diagnostic records. It never affects decisions.
type Diagnostics interface {
	// DebugLogger returns the logger for step-by-step messages about a decision.
	DebugLogger() log.FieldLogger

	// AuditAdmission is called for every admission that reserved counters.
	AuditAdmission(req Request, cfg LimitConfig, d Decision)

	// AuditCompletion is called after the counters of the ticket are released.
	AuditCompletion(t *Ticket, ipCount, resourceCount int)

	// SnapshotWanted reports whether snapshots of occupied IP and resource slots should be written now.
	SnapshotWanted() (ip, resource bool)

	// WriteSnapshot writes the requested snapshots.
	WriteSnapshot(snap Snapshot, ip, resource bool)
}

type disabledDiagnostics struct{}

func (disabledDiagnostics) DebugLogger() log.FieldLogger                  { return log.NewDisabledLogger() }
func (disabledDiagnostics) AuditAdmission(Request, LimitConfig, Decision) {}
func (disabledDiagnostics) AuditCompletion(*Ticket, int, int)             {}
func (disabledDiagnostics) SnapshotWanted() (ip, resource bool)           { return false, false }
func (disabledDiagnostics) WriteSnapshot(Snapshot, bool, bool)            {}

// EngineOpts represents options for the Engine.
type EngineOpts struct {
	Logger       log.FieldLogger
	Diagnostics  Diagnostics
	Metrics      MetricsCollector
	Locker       Locker // the store lock is used if nil
	Canonicalize CanonicalizeFunc
	WarnInterval time.Duration
}

// Engine makes admission decisions and releases reserved counters.
// It is safe for concurrent use by multiple goroutines.
type Engine struct {
	store        *Store
	locker       Locker
	logger       log.FieldLogger
	diag         Diagnostics
	metrics      MetricsCollector
	canonicalize CanonicalizeFunc

	warnLimiter    *rate.Limiter
	suppressedWarn atomic.Int64
}

// NewEngine creates a new Engine over the store.
func NewEngine(store *Store, opts EngineOpts) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.readOnly {
		return nil, errors.New("store is attached in read-only mode")
	}
	e := &Engine{
		store:        store,
		locker:       opts.Locker,
		logger:       opts.Logger,
		diag:         opts.Diagnostics,
		metrics:      opts.Metrics,
		canonicalize: opts.Canonicalize,
	}
	if e.locker == nil {
		e.locker = store
	}
	if e.logger == nil {
		e.logger = log.NewDisabledLogger()
	}
	if e.diag == nil {
		e.diag = disabledDiagnostics{}
	}
	if e.metrics == nil {
		e.metrics = disabledMetrics{}
	}
	if e.canonicalize == nil {
		e.canonicalize = Canonicalize
	}
	warnInterval := opts.WarnInterval
	if warnInterval == 0 {
		warnInterval = DefaultWarnInterval
	}
	e.warnLimiter = rate.NewLimiter(rate.Every(warnInterval), 1)
	return e, nil
}

// Admit decides whether the request may be served under the configuration.
// If the returned decision carries a ticket, Complete must be called with it when the request is finished.
func (e *Engine) Admit(req Request, cfg LimitConfig) Decision {
	dbg := e.diag.DebugLogger().With(log.Int("config_id", cfg.ConfigID))
	d := e.admit(req, cfg, dbg)
	e.metrics.IncDecisions(d.Outcome, d.Reason)
	if d.Ticket != nil {
		e.diag.AuditAdmission(req, cfg, d)
	}
	return d
}

func (e *Engine) admit(req Request, cfg LimitConfig, dbg log.FieldLogger) Decision {
	if req.SubRequest {
		dbg.Info("skipped: not an initial request")
		return Decision{Outcome: Skipped, Reason: ReasonSubRequest}
	}
	if cfg.Disabled() {
		dbg.Info("skipped: both limits are disabled")
		return Decision{Outcome: Skipped, Reason: ReasonDisabled}
	}

	dbg.Info("client info", log.String("client", req.ClientAddr), log.String("access_host", StripPort(req.Host)))
	e.writeSnapshots(cfg.ConfigID, dbg)

	if !MatchHost(req.Host, req.Server) {
		dbg.Info("skipped: access host does not match server name or aliases",
			log.String("server_name", req.Server.Name), log.Strings("server_aliases", req.Server.Aliases))
		return Decision{Outcome: Skipped, Reason: ReasonHostMismatch}
	}
	if cfg.ScopePath != "" {
		matched, err := MatchPath(cfg.ScopePath, req.Target, e.canonicalize)
		if err != nil {
			dbg.Info("skipped: target path cannot be resolved", log.String("target", req.Target), log.Error(err))
			return Decision{Outcome: Skipped, Reason: ReasonPathError}
		}
		if !matched {
			dbg.Info("skipped: target path does not match scope path",
				log.String("target", req.Target), log.String("scope_path", cfg.ScopePath))
			return Decision{Outcome: Skipped, Reason: ReasonPathMismatch}
		}
	}

	resTable, ipTable, err := e.store.tablePair(cfg.ConfigID)
	if err != nil {
		e.warn("configuration has no counter tables, request is not limited", log.Error(err))
		return Decision{Outcome: Skipped, Reason: ReasonBadConfig}
	}

	if err = e.locker.Lock(); err != nil {
		e.metrics.IncLockFailures(PhaseAdmission)
		e.warn("failed to lock shared counters, request is not limited", log.Error(err))
		return Decision{Outcome: Admitted, Reason: ReasonLockFailed}
	}
	dbg.Info("shared counters locked")

	t := &Ticket{ConfigID: cfg.ConfigID, req: req, limits: cfg}
	d := Decision{Outcome: Admitted}
	full := false
	if cfg.ResourceLimit > 0 {
		t.ResourceKey = resTable.NormalizeKey(req.ResourceKey())
		d.ResourceCount, t.resourceHeld, full = increment(resTable, t.ResourceKey, "resource", dbg)
	}
	if !full && cfg.IPLimit > 0 {
		t.IPKey = ipTable.NormalizeKey(req.ClientAddr)
		d.IPCount, t.ipHeld, full = increment(ipTable, t.IPKey, "ip", dbg)
	}

	unlockErr := e.locker.Unlock()
	if t.Held() {
		d.Ticket = t
	}
	if unlockErr != nil {
		e.metrics.IncLockFailures(PhaseAdmission)
		e.warn("failed to unlock shared counters, request is not limited", log.Error(unlockErr))
		d.Reason = ReasonLockFailed
		return d
	}
	dbg.Info("shared counters unlocked")

	if full {
		d.Outcome, d.Reason = Rejected, ReasonCapacity
		return d
	}

	dbg.Info("counters",
		log.String("target", req.Target),
		log.Int("ip_count", d.IPCount), log.Int("ip_limit", cfg.IPLimit),
		log.Int("resource_count", d.ResourceCount), log.Int("resource_limit", cfg.ResourceLimit))

	switch {
	case cfg.IPLimit > 0 && d.IPCount > cfg.IPLimit:
		dbg.Info("rejected: too many requests from the client",
			log.String("client", req.ClientAddr), log.Int("ip_limit", cfg.IPLimit))
		d.Outcome, d.Reason = Rejected, ReasonIPLimit
	case cfg.ResourceLimit > 0 && d.ResourceCount > cfg.ResourceLimit:
		dbg.Info("rejected: too many requests to the resource",
			log.String("resource", t.ResourceKey), log.Int("resource_limit", cfg.ResourceLimit))
		d.Outcome, d.Reason = Rejected, ReasonResourceLimit
	default:
		dbg.Info("admitted: passed all checks")
	}
	return d
}

func increment(table *counter.Table, key, kind string, dbg log.FieldLogger) (count int, held, full bool) {
	n, err := table.Increment(key)
	switch {
	case err == nil:
		return n, true, false
	case errors.Is(err, counter.ErrTableFull):
		dbg.Info(kind + " counter table is full")
		return 0, false, true
	default:
		dbg.Info(kind+" is not counted", log.Error(err))
		return 0, false, false
	}
}

// Complete releases the counters reserved by Admit. It is a no-op for a nil ticket
// and for a ticket that was already completed.
func (e *Engine) Complete(t *Ticket) {
	if !t.Held() || !t.completed.CompareAndSwap(false, true) {
		return
	}
	resTable, ipTable, err := e.store.tablePair(t.ConfigID)
	if err != nil {
		e.warn("ticket refers to unknown counter tables", log.Error(err))
		return
	}

	if err = e.locker.Lock(); err != nil {
		e.metrics.IncLockFailures(PhaseCompletion)
		e.warn("failed to lock shared counters, reserved counters are not released",
			log.Error(err), log.String("client", t.req.ClientAddr), log.String("resource", t.ResourceKey))
		return
	}
	var ipCount, resCount int
	if t.resourceHeld {
		resCount = e.release(resTable, t.ResourceKey, "resource")
	}
	if t.ipHeld {
		ipCount = e.release(ipTable, t.IPKey, "ip")
	}
	if err = e.locker.Unlock(); err != nil {
		e.metrics.IncLockFailures(PhaseCompletion)
		e.warn("failed to unlock shared counters", log.Error(err))
	}

	e.diag.DebugLogger().Info("counters released", log.Int("config_id", t.ConfigID),
		log.Int("ip_count", ipCount), log.Int("resource_count", resCount))
	e.diag.AuditCompletion(t, ipCount, resCount)
}

func (e *Engine) release(table *counter.Table, key, kind string) int {
	n, err := table.Decrement(key)
	if err != nil {
		e.metrics.IncInconsistencies()
		e.warn(fmt.Sprintf("unexpected error, %s counter cannot be released", kind),
			log.String("key", key), log.Error(err))
	}
	table.ReclaimIfEmpty(key)
	return n
}

// Counts returns the current counters for the client address and the resource key under the lock.
func (e *Engine) Counts(configID int, clientAddr, resourceKey string) (ipCount, resourceCount int, err error) {
	resTable, ipTable, err := e.store.tablePair(configID)
	if err != nil {
		return 0, 0, err
	}
	if err = e.locker.Lock(); err != nil {
		return 0, 0, err
	}
	ipCount, resourceCount = ipTable.Current(clientAddr), resTable.Current(resourceKey)
	return ipCount, resourceCount, e.locker.Unlock()
}

func (e *Engine) writeSnapshots(configID int, dbg log.FieldLogger) {
	wantIP, wantResource := e.diag.SnapshotWanted()
	if !wantIP && !wantResource {
		return
	}
	snap, err := e.store.Snapshot(configID)
	if err != nil {
		dbg.Info("failed to take snapshot of counter slots", log.Error(err))
		return
	}
	e.diag.WriteSnapshot(snap, wantIP, wantResource)
	dbg.Info("snapshot of counter slots is written", log.Bool("ip", wantIP), log.Bool("resource", wantResource))
}

// warn logs a warning unless another one was logged less than WarnInterval ago.
func (e *Engine) warn(msg string, fields ...log.Field) {
	if !e.warnLimiter.Allow() {
		e.suppressedWarn.Inc()
		return
	}
	if n := e.suppressedWarn.Swap(0); n > 0 {
		fields = append(fields, log.Int64("suppressed_warnings", n))
	}
	e.logger.Warn(msg, fields...)
}
