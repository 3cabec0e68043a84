/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripPort(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"www.example.com", "www.example.com"},
		{"www.example.com:8080", "www.example.com"},
		{"", NoHostHeader},
		{"[::1]:8080", "[::1]"},
		{"10.0.0.1:80", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			require.Equal(t, tt.want, StripPort(tt.host))
		})
	}
}

func TestMatchHost(t *testing.T) {
	server := ServerIdentity{Name: "www.example.com", Aliases: []string{"example.com", "static.example.com"}}
	tests := []struct {
		host string
		want bool
	}{
		{"www.example.com", true},
		{"www.example.com:443", true},
		{"example.com", true},
		{"static.example.com:8080", true},
		{"WWW.EXAMPLE.COM", false},
		{"other.example.com", false},
		{"*.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			require.Equal(t, tt.want, MatchHost(tt.host, server))
		})
	}

	require.True(t, MatchHost("", ServerIdentity{Name: NoHostHeader}))
}
