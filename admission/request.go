/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"path/filepath"

	"go.uber.org/atomic"
)

// NoHostHeader is used as the host when the request has no Host header.
const NoHostHeader = "NoHostHeader"

// ServerIdentity is the identity of the virtual host that serves the request.
type ServerIdentity struct {
	Name    string
	Aliases []string
}

// Request describes an inbound request. The engine never modifies it.
type Request struct {
	ID         string
	ClientAddr string // client IP address without port
	Target     string // resolved filesystem path of the requested resource
	Host       string // raw Host header value, may contain ":port"
	Server     ServerIdentity
	SubRequest bool // only initial requests are subject to admission control
}

// ResourceKey returns the key of the resource counter: the base name of the target path.
// Files with the same name in different directories share one counter.
func (r Request) ResourceKey() string {
	if r.Target == "" {
		return ""
	}
	return filepath.Base(r.Target)
}

// Outcome is the result of admission.
type Outcome int

// Admission outcomes.
const (
	// Skipped means the configuration does not apply to the request and the request proceeds.
	Skipped Outcome = iota
	// Admitted means the request proceeds.
	Admitted
	// Rejected means the request must not be served.
	Rejected
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	}
	return "skipped"
}

// Proceed reports whether the request may be served.
func (o Outcome) Proceed() bool {
	return o != Rejected
}

// Reason explains the outcome. It is never exposed to clients.
type Reason string

// Outcome reasons.
const (
	ReasonNone          Reason = ""
	ReasonSubRequest    Reason = "sub_request"
	ReasonDisabled      Reason = "disabled"
	ReasonHostMismatch  Reason = "host_mismatch"
	ReasonPathMismatch  Reason = "path_mismatch"
	ReasonPathError     Reason = "path_error"
	ReasonBadConfig     Reason = "bad_config"
	ReasonLockFailed    Reason = "lock_failed"
	ReasonIPLimit       Reason = "ip_limit"
	ReasonResourceLimit Reason = "resource_limit"
	ReasonCapacity      Reason = "capacity"
)

// Decision is the result of Engine.Admit.
type Decision struct {
	Outcome       Outcome
	Reason        Reason
	IPCount       int
	ResourceCount int

	// Ticket holds the counters reserved by the admission. It is nil if nothing was reserved.
	// Engine.Complete must be called with it exactly once when the request is finished,
	// no matter whether the request was admitted or rejected.
	Ticket *Ticket
}

// Ticket remembers which counters were incremented for a request.
type Ticket struct {
	ConfigID     int
	IPKey        string
	ResourceKey  string
	ipHeld       bool
	resourceHeld bool
	req          Request
	limits       LimitConfig
	completed    atomic.Bool
}

// Held reports whether the ticket holds any counter.
func (t *Ticket) Held() bool {
	return t != nil && (t.ipHeld || t.resourceHeld)
}

// HoldsIP reports whether the client address counter was incremented.
func (t *Ticket) HoldsIP() bool {
	return t != nil && t.ipHeld
}

// HoldsResource reports whether the resource counter was incremented.
func (t *Ticket) HoldsResource() bool {
	return t != nil && t.resourceHeld
}

// Request returns the request the ticket was issued for.
func (t *Ticket) Request() Request {
	return t.req
}

// Limits returns the configuration the ticket was issued for.
func (t *Ticket) Limits() LimitConfig {
	return t.limits
}
