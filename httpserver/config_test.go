/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-vlimit/config"
)

func loadServerConfig(t *testing.T, cfg *Config, dataType config.DataType, data string) error {
	t.Helper()
	return config.NewLoader(config.NewViperAdapter()).LoadFromReader(strings.NewReader(data), dataType, cfg)
}

func TestConfig_Load(t *testing.T) {
	wantCfg := func() *Config {
		cfg := NewDefaultConfig()
		cfg.Address = "127.0.0.1:8080"
		cfg.ReusePort = false
		cfg.Timeouts.Write = config.TimeDuration(time.Hour)
		cfg.Timeouts.ReadHeader = config.TimeDuration(5 * time.Second)
		cfg.Timeouts.Shutdown = config.TimeDuration(2 * time.Minute)
		cfg.Log.RequestStart = true
		cfg.Log.RequestHeaders = []string{"Referer", "Range"}
		cfg.Log.ExcludedEndpoints = []string{"/healthz", "/metrics"}
		cfg.Log.SecretQueryParams = []string{"token"}
		cfg.TLS = TLSConfig{Enabled: true, Certificate: "/etc/vlimit/cert.pem", Key: "/etc/vlimit/key.pem"}
		return cfg
	}

	tests := []struct {
		name     string
		dataType config.DataType
		data     string
	}{
		{
			name:     "yaml",
			dataType: config.DataTypeYAML,
			data: `
server:
  address: "127.0.0.1:8080"
  reusePort: false
  timeouts:
    write: 1h
    readHeader: 5s
    shutdown: 2m
  log:
    requestStart: true
    requestHeaders: [Referer, Range]
    excludedEndpoints: ["/healthz", "/metrics"]
    secretQueryParams: [token]
  tls:
    enabled: true
    cert: /etc/vlimit/cert.pem
    key: /etc/vlimit/key.pem
`,
		},
		{
			name:     "json",
			dataType: config.DataTypeJSON,
			data: `{"server": {
	"address": "127.0.0.1:8080",
	"reusePort": false,
	"timeouts": {"write": "1h", "readHeader": "5s", "shutdown": "2m"},
	"log": {
		"requestStart": true,
		"requestHeaders": ["Referer", "Range"],
		"excludedEndpoints": ["/healthz", "/metrics"],
		"secretQueryParams": ["token"]
	},
	"tls": {"enabled": true, "cert": "/etc/vlimit/cert.pem", "key": "/etc/vlimit/key.pem"}
}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			require.NoError(t, loadServerConfig(t, cfg, tt.dataType, tt.data))
			require.Equal(t, wantCfg(), cfg)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, loadServerConfig(t, cfg, config.DataTypeYAML, ""))
	require.Equal(t, NewDefaultConfig(), cfg)
	require.Zero(t, cfg.Timeouts.Write, "write timeout should not limit downloads by default")
}

func TestConfig_KeyPrefix(t *testing.T) {
	cfg := NewConfigWithKeyPrefix("files")
	require.NoError(t, loadServerConfig(t, cfg, config.DataTypeYAML, "files:\n  address: 127.0.0.1:9999\n"))
	require.Equal(t, "127.0.0.1:9999", cfg.Address)

	cfg = &Config{}
	require.Equal(t, cfgDefaultKeyPrefix, cfg.KeyPrefix())
	require.NoError(t, loadServerConfig(t, cfg, config.DataTypeYAML, "server:\n  address: 127.0.0.1:9998\n"))
	require.Equal(t, "127.0.0.1:9998", cfg.Address)
}

func TestConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantErrMsg string
	}{
		{
			name:       "invalid address",
			data:       "server:\n  address: []\n",
			wantErrMsg: "server.address: unable to cast",
		},
		{
			name:       "empty address",
			data:       "server:\n  address: \"\"\n",
			wantErrMsg: "server.address: cannot be empty",
		},
		{
			name:       "invalid timeout",
			data:       "server:\n  timeouts:\n    idle: soon\n",
			wantErrMsg: "server.timeouts.idle",
		},
		{
			name:       "negative timeout",
			data:       "server:\n  timeouts:\n    shutdown: -1s\n",
			wantErrMsg: "server.timeouts.shutdown: cannot be negative",
		},
		{
			name:       "tls without cert",
			data:       "server:\n  tls:\n    enabled: true\n    key: /etc/vlimit/key.pem\n",
			wantErrMsg: "server.tls.cert: must be set when TLS is enabled",
		},
		{
			name:       "tls without key",
			data:       "server:\n  tls:\n    enabled: true\n    cert: /etc/vlimit/cert.pem\n",
			wantErrMsg: "server.tls.key: must be set when TLS is enabled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorContains(t, loadServerConfig(t, NewConfig(), config.DataTypeYAML, tt.data), tt.wantErrMsg)
		})
	}
}
