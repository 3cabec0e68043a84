/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package vhost

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/config"
	"github.com/acronis/go-vlimit/internal/counter"
)

func loadConfig(t *testing.T, yamlData string) (*Config, error) {
	t.Helper()
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(yamlData), config.DataTypeYAML, cfg)
	return cfg, err
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig(t, `
vlimit:
  virtualHosts:
    - name: example.com
      documentRoot: /var/www
`)
		require.NoError(t, err)
		require.Equal(t, DefaultWorkers, cfg.Workers)
		require.Equal(t, SharedMemoryConfig{Path: DefaultShmPath, Slots: counter.DefaultSlots}, cfg.SharedMemory)
		require.Equal(t, DefaultShmPath+".lock", cfg.SharedMemory.LockFilePath())
		require.Empty(t, cfg.ExcludedPaths)
		require.Equal(t, []VirtualHostConfig{{Name: "example.com", DocumentRoot: "/var/www"}}, cfg.VirtualHosts)
	})

	t.Run("values", func(t *testing.T) {
		cfg, err := loadConfig(t, `
vlimit:
  workers: 4
  shm:
    path: /run/vlimit/counters
    lockPath: /run/vlimit/counters.lck
    slots: 64
  excludedPaths: ["/healthz", "/static/*"]
  virtualHosts:
    - name: example.com
      aliases: www.example.com,static.example.com
      documentRoot: /var/www
      ip: 10
      resource: "3 /var/www/big.iso"
      directories:
        - path: /var/www/downloads
          ip: "2"
    - name: other.com
      aliases: [www.other.com]
      documentRoot: /srv/other
      resource: 5
`)
		require.NoError(t, err)
		require.Equal(t, 4, cfg.Workers)
		require.Equal(t, SharedMemoryConfig{
			Path:     "/run/vlimit/counters",
			LockPath: "/run/vlimit/counters.lck",
			Slots:    64,
		}, cfg.SharedMemory)
		require.Equal(t, []string{"/healthz", "/static/*"}, cfg.ExcludedPaths)
		require.Equal(t, []VirtualHostConfig{
			{
				Name:         "example.com",
				Aliases:      []string{"www.example.com", "static.example.com"},
				DocumentRoot: "/var/www",
				IP:           admission.Directive{Limit: 10},
				Resource:     admission.Directive{Limit: 3, Path: "/var/www/big.iso"},
				Directories: []DirectoryConfig{
					{Path: "/var/www/downloads", IP: admission.Directive{Limit: 2}},
				},
			},
			{
				Name:         "other.com",
				Aliases:      []string{"www.other.com"},
				DocumentRoot: "/srv/other",
				Resource:     admission.Directive{Limit: 5},
			},
		}, cfg.VirtualHosts)

		require.Equal(t, admission.StoreOpts{
			RegionPath: "/run/vlimit/counters",
			LockPath:   "/run/vlimit/counters.lck",
			Slots:      64,
			Configs:    3,
		}, cfg.StoreOpts(3))
		require.Equal(t, admission.AttachOpts{
			RegionPath: "/run/vlimit/counters",
			LockPath:   "/run/vlimit/counters.lck",
			ReadOnly:   true,
		}, cfg.AttachOpts(true))
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			yaml    string
			wantErr string
		}{
			{
				name:    "no virtual hosts",
				yaml:    `vlimit: {workers: 2}`,
				wantErr: "vlimit.virtualHosts: at least one virtual host should be specified",
			},
			{
				name:    "zero workers",
				yaml:    `vlimit: {workers: 0}`,
				wantErr: "vlimit.workers: must be positive",
			},
			{
				name:    "zero slots",
				yaml:    `vlimit: {shm: {slots: 0}}`,
				wantErr: "vlimit.shm.slots: must be positive",
			},
			{
				name:    "empty shm path",
				yaml:    `vlimit: {shm: {path: ""}}`,
				wantErr: "vlimit.shm.path: cannot be empty",
			},
			{
				name:    "empty name",
				yaml:    `vlimit: {virtualHosts: [{documentRoot: /var/www}]}`,
				wantErr: "vlimit.virtualHosts[0]: name cannot be empty",
			},
			{
				name:    "relative document root",
				yaml:    `vlimit: {virtualHosts: [{name: a, documentRoot: www}]}`,
				wantErr: `vlimit.virtualHosts[0]: document root "www" should be an absolute path`,
			},
			{
				name: "different scope paths",
				yaml: `vlimit: {virtualHosts: [{name: a, documentRoot: /www, ip: "1 /www/a", resource: "1 /www/b"}]}`,
				wantErr: `vlimit.virtualHosts[0]: ip and resource directives have different scope paths ` +
					`("/www/a" and "/www/b")`,
			},
			{
				name:    "empty directory path",
				yaml:    `vlimit: {virtualHosts: [{name: a, documentRoot: /www, directories: [{ip: 1}]}]}`,
				wantErr: "vlimit.virtualHosts[0]: directories[0]: path cannot be empty",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := loadConfig(t, tt.yaml)
				require.EqualError(t, err, tt.wantErr)
			})
		}
	})

	t.Run("invalid directives", func(t *testing.T) {
		for _, directive := range []string{`"-1"`, `70000`, `"ten"`, `"1 relative/path"`, `"1 /a /b"`} {
			t.Run(directive, func(t *testing.T) {
				_, err := loadConfig(t, "vlimit: {virtualHosts: [{name: a, documentRoot: /www, ip: "+directive+"}]}")
				require.Error(t, err)
				require.Contains(t, err.Error(), "vlimit.virtualHosts")
			})
		}
	})
}
