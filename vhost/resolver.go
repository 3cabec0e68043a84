/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package vhost

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-vlimit/admission"
)

// Resolution is the result of resolving a request against configured virtual hosts.
type Resolution struct {
	Server       admission.ServerIdentity
	DocumentRoot string
	Target       string // file system path the request is served from
	Limits       admission.LimitConfig
}

type directoryScope struct {
	path   string
	limits admission.LimitConfig
}

type hostScope struct {
	server       admission.ServerIdentity
	documentRoot string
	limits       admission.LimitConfig
	directories  []directoryScope // longest path first
}

// Resolver maps incoming requests to virtual hosts and limit configurations.
// Configuration ids are assigned densely in declaration order:
// a virtual host gets one for its server scope, then each of its directories gets one.
type Resolver struct {
	hosts    []hostScope
	excluded []func(string) bool
	configs  int
}

// NewResolver creates a new Resolver.
// Scope paths of directives and directory paths are canonicalized once here,
// so the per-request comparison is done against canonical paths.
// If canonicalize is nil, admission.Canonicalize is used.
func NewResolver(cfg *Config, canonicalize admission.CanonicalizeFunc) (*Resolver, error) {
	if len(cfg.VirtualHosts) == 0 {
		return nil, errors.New("at least one virtual host should be specified")
	}
	if canonicalize == nil {
		canonicalize = admission.Canonicalize
	}

	r := &Resolver{}
	for _, pattern := range cfg.ExcludedPaths {
		r.excluded = append(r.excluded, glob.Compile(pattern))
	}

	for i := range cfg.VirtualHosts {
		vh := &cfg.VirtualHosts[i]
		host := hostScope{server: admission.ServerIdentity{Name: vh.Name, Aliases: vh.Aliases}}
		var err error
		if host.documentRoot, err = canonicalizeIfExists(filepath.Clean(vh.DocumentRoot), canonicalize); err != nil {
			return nil, fmt.Errorf("virtual host %q: document root: %w", vh.Name, err)
		}
		if host.limits, err = r.makeLimits(vh.IP, vh.Resource, canonicalize); err != nil {
			return nil, fmt.Errorf("virtual host %q: %w", vh.Name, err)
		}
		for j := range vh.Directories {
			dir := &vh.Directories[j]
			dirPath := dir.Path
			if !filepath.IsAbs(dirPath) {
				dirPath = filepath.Join(host.documentRoot, dirPath)
			}
			if dirPath, err = canonicalizeIfExists(filepath.Clean(dirPath), canonicalize); err != nil {
				return nil, fmt.Errorf("virtual host %q: directory %q: %w", vh.Name, dir.Path, err)
			}
			limits, err := r.makeLimits(dir.IP, dir.Resource, canonicalize)
			if err != nil {
				return nil, fmt.Errorf("virtual host %q: directory %q: %w", vh.Name, dir.Path, err)
			}
			host.directories = append(host.directories, directoryScope{path: dirPath, limits: limits})
		}
		sort.SliceStable(host.directories, func(a, b int) bool {
			return len(host.directories[a].path) > len(host.directories[b].path)
		})
		r.hosts = append(r.hosts, host)
	}
	return r, nil
}

func (r *Resolver) makeLimits(ip, resource admission.Directive, canonicalize admission.CanonicalizeFunc) (admission.LimitConfig, error) {
	scope, err := scopePath(ip, resource)
	if err != nil {
		return admission.LimitConfig{}, err
	}
	if scope != "" {
		if scope, err = canonicalizeIfExists(scope, canonicalize); err != nil {
			return admission.LimitConfig{}, fmt.Errorf("scope path: %w", err)
		}
	}
	kind := admission.ScopeUnset
	switch {
	case ip.Limit > 0:
		kind = admission.ScopePerClientIP
	case resource.Limit > 0:
		kind = admission.ScopePerResource
	}
	limits := admission.LimitConfig{
		Kind:          kind,
		IPLimit:       ip.Limit,
		ResourceLimit: resource.Limit,
		ConfigID:      r.configs,
		ScopePath:     scope,
	}
	r.configs++
	return limits, nil
}

// canonicalizeIfExists returns the canonical form of the path.
// A path that does not exist yet is kept as is and compared literally.
func canonicalizeIfExists(p string, canonicalize admission.CanonicalizeFunc) (string, error) {
	resolved, err := canonicalize(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return "", err
	}
	return resolved, nil
}

// Configs returns the number of limit configurations, i.e. the number of counter table pairs to allocate.
func (r *Resolver) Configs() int {
	return r.configs
}

// Excluded reports whether the URL path matches one of the excluded patterns.
func (r *Resolver) Excluded(urlPath string) bool {
	for _, match := range r.excluded {
		if match(urlPath) {
			return true
		}
	}
	return false
}

// Resolve finds the virtual host by the Host header (the first one is the default),
// maps the URL path onto its document root and picks the directory scope with the longest
// matching path. The server scope is used when no directory matches.
func (r *Resolver) Resolve(hostHeader, urlPath string) Resolution {
	host := &r.hosts[0]
	for i := range r.hosts {
		if admission.MatchHost(hostHeader, r.hosts[i].server) {
			host = &r.hosts[i]
			break
		}
	}

	const sep = string(filepath.Separator)
	target := filepath.Join(host.documentRoot, filepath.FromSlash(path.Clean("/"+urlPath)))
	res := Resolution{
		Server:       host.server,
		DocumentRoot: host.documentRoot,
		Target:       target,
		Limits:       host.limits,
	}
	for _, dir := range host.directories {
		if target == dir.path || strings.HasPrefix(target, strings.TrimSuffix(dir.path, sep)+sep) {
			res.Limits = dir.limits
			break
		}
	}
	return res
}

// Limits returns limit configurations indexed by configuration id.
func (r *Resolver) Limits() []admission.LimitConfig {
	result := make([]admission.LimitConfig, 0, r.configs)
	for _, host := range r.hosts {
		result = append(result, host.limits)
		dirs := make([]directoryScope, len(host.directories))
		copy(dirs, host.directories)
		sort.Slice(dirs, func(a, b int) bool { return dirs[a].limits.ConfigID < dirs[b].limits.ConfigID })
		for _, dir := range dirs {
			result = append(result, dir.limits)
		}
	}
	return result
}

// Servers returns identities of configured virtual hosts.
func (r *Resolver) Servers() []admission.ServerIdentity {
	result := make([]admission.ServerIdentity, 0, len(r.hosts))
	for _, host := range r.hosts {
		result = append(result, host.server)
	}
	return result
}
