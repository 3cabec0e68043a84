/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package diag provides diagnostics for the admission engine: an audit log of reserved and released counters,
// step-by-step debug messages and one-time snapshots of occupied counter slots.
// Every kind of diagnostics is turned on by creating a sentinel file and turned off by removing it.
package diag

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/log"
)

// Audit record messages.
const (
	AuditAdmitted  = "RESULT: OK INC"
	AuditRejected  = "RESULT: 503 INC"
	AuditCompleted = "RESULT: END DEC"
)

// Diagnostics implements admission.Diagnostics.
type Diagnostics struct {
	cfg    Config
	logger log.FieldLogger

	logSentinel          *sentinel
	debugSentinel        *sentinel
	ipStatSentinel       *sentinel
	resourceStatSentinel *sentinel

	audit      log.FieldLogger
	closeAudit log.CloseFunc
	disabled   log.FieldLogger
	now        func() time.Time
}

var _ admission.Diagnostics = (*Diagnostics)(nil)

// New creates a new Diagnostics. Debug messages are written to the logger.
// The audit file is opened lazily, on the first record.
func New(cfg *Config, logger log.FieldLogger) *Diagnostics {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	auditCfg := log.NewDefaultConfig()
	auditCfg.Output = log.OutputFile
	auditCfg.File.Path = cfg.path(cfg.AuditFile)
	if cfg.AuditMaxSize > 0 {
		auditCfg.File.Rotation.MaxSize = cfg.AuditMaxSize
	}
	audit, closeAudit := log.NewLogger(auditCfg)

	return &Diagnostics{
		cfg:                  *cfg,
		logger:               logger,
		logSentinel:          newSentinel(cfg.path(LogSentinel), cfg.CheckInterval),
		debugSentinel:        newSentinel(cfg.path(DebugSentinel), cfg.CheckInterval),
		ipStatSentinel:       newSentinel(cfg.path(IPStatSentinel), cfg.CheckInterval),
		resourceStatSentinel: newSentinel(cfg.path(ResourceStatSentinel), cfg.CheckInterval),
		audit:                audit,
		closeAudit:           closeAudit,
		disabled:             log.NewDisabledLogger(),
		now:                  time.Now,
	}
}

// Close flushes pending audit records.
func (d *Diagnostics) Close() {
	d.closeAudit()
}

// DebugLogger returns the logger while the debug sentinel exists and a disabled logger otherwise.
func (d *Diagnostics) DebugLogger() log.FieldLogger {
	if d.debugSentinel.Present() {
		return d.logger
	}
	return d.disabled
}

// AuditAdmission writes a record about reserved counters while the log sentinel exists.
func (d *Diagnostics) AuditAdmission(req admission.Request, cfg admission.LimitConfig, dec admission.Decision) {
	if !d.logSentinel.Present() {
		return
	}
	msg := AuditAdmitted
	if dec.Outcome == admission.Rejected {
		msg = AuditRejected
	}
	d.audit.Info(msg,
		log.String("name", req.Host),
		log.String("client", req.ClientAddr),
		log.String("request_id", req.ID),
		log.Int("config_id", cfg.ConfigID),
		log.Int("ip_count", dec.IPCount),
		log.Int("ip_limit", cfg.IPLimit),
		log.Int("resource_count", dec.ResourceCount),
		log.Int("resource_limit", cfg.ResourceLimit),
		log.String("reason", string(dec.Reason)),
		log.String("file", req.Target),
	)
}

// AuditCompletion writes a record about released counters while the log sentinel exists.
func (d *Diagnostics) AuditCompletion(t *admission.Ticket, ipCount, resourceCount int) {
	if !d.logSentinel.Present() {
		return
	}
	req, cfg := t.Request(), t.Limits()
	d.audit.Info(AuditCompleted,
		log.String("name", req.Host),
		log.String("client", req.ClientAddr),
		log.String("request_id", req.ID),
		log.Int("config_id", t.ConfigID),
		log.Int("ip_count", ipCount),
		log.Int("ip_limit", cfg.IPLimit),
		log.Int("resource_count", resourceCount),
		log.Int("resource_limit", cfg.ResourceLimit),
		log.String("file", req.Target),
	)
}

// SnapshotWanted reports which snapshot sentinels exist while their snapshot files do not exist yet.
func (d *Diagnostics) SnapshotWanted() (ip, resource bool) {
	ip = d.ipStatSentinel.Present() && !fileExists(d.cfg.path(d.cfg.IPStatFile))
	resource = d.resourceStatSentinel.Present() && !fileExists(d.cfg.path(d.cfg.ResourceStatFile))
	return ip, resource
}

// WriteSnapshot writes the snapshot files. An existing file is never overwritten,
// so concurrent writers from different processes produce exactly one snapshot.
func (d *Diagnostics) WriteSnapshot(snap admission.Snapshot, ip, resource bool) {
	ts := d.now().Format(time.ANSIC)
	if ip {
		d.writeSnapshotFile(d.cfg.path(d.cfg.IPStatFile), ts, "ipaddress", snap.IP)
	}
	if resource {
		d.writeSnapshotFile(d.cfg.path(d.cfg.ResourceStatFile), ts, "filename", snap.Resources)
	}
}

func (d *Diagnostics) writeSnapshotFile(path, ts, keyName string, slots []admission.Slot) {
	if err := writeSnapshotFile(path, ts, keyName, slots); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			d.logger.Warn("failed to write snapshot of counter slots", log.String("path", path), log.Error(err))
		}
	}
}

func writeSnapshotFile(path, ts, keyName string, slots []admission.Slot) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	w := bufio.NewWriter(f)
	for _, slot := range slots {
		if slot.Counter <= 0 {
			continue
		}
		if _, err = fmt.Fprintf(w, "[%s] slot=[%d] %s=[%s] counter=[%d]\n", ts, slot.Index, keyName, slot.Key, slot.Counter); err != nil {
			return err
		}
	}
	return w.Flush()
}
