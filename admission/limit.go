/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxLimit is the maximum value that may be used as a limit in a directive.
const MaxLimit = 65535

// ScopeKind tells which kind of limit a configuration instance was created from.
type ScopeKind int

// Scope kinds.
const (
	ScopeUnset ScopeKind = iota
	ScopePerClientIP
	ScopePerResource
)

// String returns a human-readable representation of the scope kind.
func (k ScopeKind) String() string {
	switch k {
	case ScopePerClientIP:
		return "ip"
	case ScopePerResource:
		return "resource"
	}
	return "unset"
}

// LimitConfig is one bound set of limits attached to one scope (a virtual host or a directory).
// It is created once when configuration is loaded and is not modified afterwards.
type LimitConfig struct {
	Kind          ScopeKind
	IPLimit       int    // 0 disables the per-client limit
	ResourceLimit int    // 0 disables the per-resource limit
	ConfigID      int    // index of the counter tables pair
	ScopePath     string // optional canonical path the configuration applies to
}

// Disabled reports whether both limits are turned off.
func (c LimitConfig) Disabled() bool {
	return c.IPLimit <= 0 && c.ResourceLimit <= 0
}

// Directive is the value of a limit directive: "<limit> [<scopePath>]".
// Limit must be in [0, MaxLimit], scope path (if any) must be absolute.
type Directive struct {
	Limit int
	Path  string
}

// ParseDirective parses the directive value.
func ParseDirective(s string) (Directive, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return Directive{}, fmt.Errorf("directive %q should be in format \"<limit> [<path>]\"", s)
	}
	limit, err := strconv.Atoi(fields[0])
	if err != nil {
		return Directive{}, fmt.Errorf("limit %q is not a number", fields[0])
	}
	if limit < 0 || limit > MaxLimit {
		return Directive{}, fmt.Errorf("limit %d is out of range [0, %d]", limit, MaxLimit)
	}
	d := Directive{Limit: limit}
	if len(fields) == 2 {
		if !filepath.IsAbs(fields[1]) {
			return Directive{}, fmt.Errorf("path %q should be absolute", fields[1])
		}
		d.Path = filepath.Clean(fields[1])
	}
	return d, nil
}

// String returns the directive in its text form.
func (d Directive) String() string {
	if d.Path == "" {
		return strconv.Itoa(d.Limit)
	}
	return strconv.Itoa(d.Limit) + " " + d.Path
}

// UnmarshalText implements encoding.TextUnmarshaler, which is used by mapstructure.TextUnmarshallerHookFunc.
func (d *Directive) UnmarshalText(text []byte) error {
	parsed, err := ParseDirective(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Directive) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler. Both numbers and strings are accepted.
func (d *Directive) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err = json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid directive format: %w", err)
		}
		s = n.String()
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Directive) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid directive format: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}
