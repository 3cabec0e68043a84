/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "strings"

// StripPort returns the host name part of the Host header value.
// An empty value is replaced with NoHostHeader.
func StripPort(hostHeader string) string {
	if hostHeader == "" {
		return NoHostHeader
	}
	if hostHeader[0] == '[' {
		if i := strings.IndexByte(hostHeader, ']'); i > 0 {
			return hostHeader[:i+1]
		}
	}
	if i := strings.IndexByte(hostHeader, ':'); i > 0 {
		return hostHeader[:i]
	}
	return hostHeader
}

// MatchHost reports whether the Host header value names the server.
// The comparison is exact and case-sensitive, wildcards are not expanded.
func MatchHost(hostHeader string, server ServerIdentity) bool {
	host := StripPort(hostHeader)
	if host == server.Name {
		return true
	}
	for _, alias := range server.Aliases {
		if host == alias {
			return true
		}
	}
	return false
}
