/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type shmConfig struct {
	Path    string
	Slots   int
	Size    uint64
	Timeout time.Duration
	Names   []string
}

func (c *shmConfig) KeyPrefix() string { return "vlimit.shm" }

func (c *shmConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("slots", 512)
	dp.SetDefault("timeout", "5s")
}

func (c *shmConfig) Set(dp DataProvider) error {
	var err error
	if c.Path, err = dp.GetString("path"); err != nil {
		return err
	}
	if c.Path == "" {
		return dp.WrapKeyErr("path", errors.New("cannot be empty"))
	}
	if c.Slots, err = dp.GetInt("slots"); err != nil {
		return err
	}
	if c.Size, err = dp.GetSizeInBytes("size"); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	c.Names, err = dp.GetStringSlice("names")
	return err
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("values and defaults", func(t *testing.T) {
		cfg := &shmConfig{}
		yamlData := `
vlimit:
  shm:
    path: /tmp/vlimit.shm
    size: 2M
    names: [a, b]
`
		require.NoError(t, NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(yamlData), DataTypeYAML, cfg))
		require.Equal(t, &shmConfig{
			Path:    "/tmp/vlimit.shm",
			Slots:   512,
			Size:    2 * 1024 * 1024,
			Timeout: 5 * time.Second,
			Names:   []string{"a", "b"},
		}, cfg)
	})

	t.Run("validation error contains full key", func(t *testing.T) {
		cfg := &shmConfig{}
		err := NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(`vlimit: {shm: {slots: 1}}`), DataTypeYAML, cfg)
		require.EqualError(t, err, "vlimit.shm.path: cannot be empty")
	})

	t.Run("type error", func(t *testing.T) {
		cfg := &shmConfig{}
		err := NewDefaultLoader("").LoadFromReader(
			bytes.NewBufferString(`{"vlimit": {"shm": {"path": "x", "slots": "many"}}}`), DataTypeJSON, cfg)
		require.Error(t, err)
		require.Contains(t, err.Error(), "vlimit.shm.slots")
	})
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("vlimit:\n  shm:\n    path: /run/vlimit.shm\n"), 0o600))

	cfg := &shmConfig{}
	require.NoError(t, NewDefaultLoader("").LoadFromFile(path, DataTypeYAML, cfg))
	require.Equal(t, "/run/vlimit.shm", cfg.Path)

	err := NewDefaultLoader("").LoadFromFile(filepath.Join(t.TempDir(), "missing.yml"), DataTypeYAML, cfg)
	require.Error(t, err)
}

func TestViperAdapter_UseEnvVars(t *testing.T) {
	t.Setenv("VLIMITTEST_VLIMIT_SHM_PATH", "/from/env")
	cfg := &shmConfig{}
	require.NoError(t, NewDefaultLoader("vlimittest").LoadFromReader(
		bytes.NewBufferString("vlimit:\n  shm:\n    path: /from/file\n"), DataTypeYAML, cfg))
	require.Equal(t, "/from/env", cfg.Path)
}

func TestViperAdapter_GetStringFromSet(t *testing.T) {
	va := NewViperAdapter()
	va.Set("mode", "Server")

	val, err := va.GetStringFromSet("mode", []string{"server", "directory"}, true)
	require.NoError(t, err)
	require.Equal(t, "Server", val)

	_, err = va.GetStringFromSet("mode", []string{"server", "directory"}, false)
	require.EqualError(t, err, `mode: unknown value "Server", should be one of [server directory]`)
}

func TestViperAdapter_GetSizeInBytes(t *testing.T) {
	tests := []struct {
		value   interface{}
		want    uint64
		wantErr bool
	}{
		{value: "", want: 0},
		{value: 1024, want: 1024},
		{value: "1K", want: 1024},
		{value: "10Mi", want: 10 * 1024 * 1024},
		{value: "1GB", want: 1024 * 1024 * 1024},
		{value: -1, wantErr: true},
		{value: "many", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.value), func(t *testing.T) {
			va := NewViperAdapter()
			va.Set("size", tt.value)
			got, err := va.GetSizeInBytes("size")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestViperAdapter_WithKeyPrefix(t *testing.T) {
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(`
vlimit:
  diagnostics:
    auditFile: /tmp/audit.log
    sentinels: [a, b]
`), DataTypeYAML))

	dp := va.WithKeyPrefix("vlimit")
	require.True(t, dp.IsSet("diagnostics.auditFile"))
	val, err := dp.GetString("diagnostics.auditFile")
	require.NoError(t, err)
	require.Equal(t, "/tmp/audit.log", val)

	var section struct {
		AuditFile string   `mapstructure:"auditFile"`
		Sentinels []string `mapstructure:"sentinels"`
	}
	require.NoError(t, dp.WithKeyPrefix("diagnostics").Unmarshal(&section))
	require.Equal(t, "/tmp/audit.log", section.AuditFile)
	require.Equal(t, []string{"a", "b"}, section.Sentinels)

	require.EqualError(t, dp.WrapKeyErr("workers", errors.New("must be positive")), "vlimit.workers: must be positive")
}

func TestWrapKeyErr(t *testing.T) {
	require.NoError(t, WrapKeyErr("log.level", nil))

	baseErr := errors.New("bad value")
	err := WrapKeyErr("log.level", baseErr)
	require.ErrorIs(t, err, baseErr)
	require.EqualError(t, err, "log.level: bad value")

	var keyErr *KeyError
	require.ErrorAs(t, err, &keyErr)
	require.Equal(t, "log.level", keyErr.Key)
}
