/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    Directive
		wantErr string
	}{
		{name: "limit only", value: "10", want: Directive{Limit: 10}},
		{name: "limit and path", value: " 3   /var/www/html/../html/big.iso ", want: Directive{Limit: 3, Path: "/var/www/html/big.iso"}},
		{name: "zero", value: "0", want: Directive{}},
		{name: "max", value: "65535", want: Directive{Limit: MaxLimit}},
		{name: "above max", value: "65536", wantErr: "limit 65536 is out of range [0, 65535]"},
		{name: "negative", value: "-1", wantErr: "limit -1 is out of range [0, 65535]"},
		{name: "not a number", value: "many", wantErr: `limit "many" is not a number`},
		{name: "relative path", value: "1 html/big.iso", wantErr: `path "html/big.iso" should be absolute`},
		{name: "empty", value: "", wantErr: `directive "" should be in format "<limit> [<path>]"`},
		{name: "extra fields", value: "1 /a /b", wantErr: `directive "1 /a /b" should be in format "<limit> [<path>]"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDirective(tt.value)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDirective_Unmarshal(t *testing.T) {
	var fromYAML struct {
		IP       Directive `yaml:"ip"`
		Resource Directive `yaml:"resource"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("ip: 5\nresource: 2 /srv/files/a.bin\n"), &fromYAML))
	require.Equal(t, Directive{Limit: 5}, fromYAML.IP)
	require.Equal(t, Directive{Limit: 2, Path: "/srv/files/a.bin"}, fromYAML.Resource)

	var fromJSON struct {
		IP       Directive `json:"ip"`
		Resource Directive `json:"resource"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"ip": 5, "resource": "2 /srv/files/a.bin"}`), &fromJSON))
	require.Equal(t, fromYAML.IP, fromJSON.IP)
	require.Equal(t, fromYAML.Resource, fromJSON.Resource)

	require.Error(t, yaml.Unmarshal([]byte("ip: 70000\n"), &fromYAML))
	require.Error(t, json.Unmarshal([]byte(`{"ip": [1]}`), &fromJSON))

	text, err := Directive{Limit: 2, Path: "/srv/files/a.bin"}.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "2 /srv/files/a.bin", string(text))
}

func TestLimitConfig_Disabled(t *testing.T) {
	require.True(t, LimitConfig{}.Disabled())
	require.False(t, LimitConfig{IPLimit: 1}.Disabled())
	require.False(t, LimitConfig{ResourceLimit: 1}.Disabled())
}

func TestScopeKind_String(t *testing.T) {
	require.Equal(t, "ip", ScopePerClientIP.String())
	require.Equal(t, "resource", ScopePerResource.String())
	require.Equal(t, "unset", ScopeUnset.String())
}
