/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package vhost

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"

	"github.com/acronis/go-vlimit/admission"
	"github.com/acronis/go-vlimit/config"
	"github.com/acronis/go-vlimit/internal/counter"
)

const cfgDefaultKeyPrefix = "vlimit"

const (
	cfgKeyWorkers       = "workers"
	cfgKeyShmPath       = "shm.path"
	cfgKeyShmLockPath   = "shm.lockPath"
	cfgKeyShmSlots      = "shm.slots"
	cfgKeyExcludedPaths = "excludedPaths"
	cfgKeyVirtualHosts  = "virtualHosts"
)

// Default values.
const (
	DefaultWorkers = 1
	DefaultShmPath = "/tmp/vlimit.shm"
	lockFileSuffix = ".lock"
)

// SharedMemoryConfig represents a set of configuration parameters of the shared counters region.
type SharedMemoryConfig struct {
	Path     string
	LockPath string // empty means Path with the ".lock" suffix
	Slots    int
}

// DirectoryConfig represents limits placed on a directory (directory scope).
type DirectoryConfig struct {
	Path     string              `mapstructure:"path"`
	IP       admission.Directive `mapstructure:"ip"`
	Resource admission.Directive `mapstructure:"resource"`
}

// VirtualHostConfig represents a virtual host and limits placed on it (server scope).
type VirtualHostConfig struct {
	Name         string              `mapstructure:"name"`
	Aliases      []string            `mapstructure:"aliases"`
	DocumentRoot string              `mapstructure:"documentRoot"`
	IP           admission.Directive `mapstructure:"ip"`
	Resource     admission.Directive `mapstructure:"resource"`
	Directories  []DirectoryConfig   `mapstructure:"directories"`
}

// Config represents a set of configuration parameters of the host side: worker pool,
// shared counters region and virtual hosts with limit directives.
type Config struct {
	Workers       int
	SharedMemory  SharedMemoryConfig
	ExcludedPaths []string
	VirtualHosts  []VirtualHostConfig

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config that will be read from the "vlimit" key.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewConfigWithKeyPrefix creates a new instance of the Config with the specified key prefix.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyWorkers, DefaultWorkers)
	dp.SetDefault(cfgKeyShmPath, DefaultShmPath)
	dp.SetDefault(cfgKeyShmSlots, counter.DefaultSlots)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Workers, err = dp.GetInt(cfgKeyWorkers); err != nil {
		return err
	}
	if c.Workers < 1 {
		return dp.WrapKeyErr(cfgKeyWorkers, errors.New("must be positive"))
	}

	if err = c.setSharedMemory(dp); err != nil {
		return err
	}

	if c.ExcludedPaths, err = dp.GetStringSlice(cfgKeyExcludedPaths); err != nil {
		return err
	}

	c.VirtualHosts = nil
	if err = dp.UnmarshalKey(cfgKeyVirtualHosts, &c.VirtualHosts, config.WithDecodeHook(
		directiveDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)); err != nil {
		return err
	}
	if len(c.VirtualHosts) == 0 {
		return dp.WrapKeyErr(cfgKeyVirtualHosts, errors.New("at least one virtual host should be specified"))
	}
	for i := range c.VirtualHosts {
		if err = c.VirtualHosts[i].validate(); err != nil {
			return dp.WrapKeyErr(fmt.Sprintf("%s[%d]", cfgKeyVirtualHosts, i), err)
		}
	}
	return nil
}

func (c *Config) setSharedMemory(dp config.DataProvider) error {
	var err error
	if c.SharedMemory.Path, err = dp.GetString(cfgKeyShmPath); err != nil {
		return err
	}
	if c.SharedMemory.Path == "" {
		return dp.WrapKeyErr(cfgKeyShmPath, errors.New("cannot be empty"))
	}
	if c.SharedMemory.LockPath, err = dp.GetString(cfgKeyShmLockPath); err != nil {
		return err
	}
	if c.SharedMemory.Slots, err = dp.GetInt(cfgKeyShmSlots); err != nil {
		return err
	}
	if c.SharedMemory.Slots < 1 {
		return dp.WrapKeyErr(cfgKeyShmSlots, errors.New("must be positive"))
	}
	return nil
}

// LockFilePath returns the path of the lock file guarding the shared counters region.
func (c *SharedMemoryConfig) LockFilePath() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return c.Path + lockFileSuffix
}

// StoreOpts returns options for creating the shared counters store that fits the given number of configurations.
func (c *Config) StoreOpts(configs int) admission.StoreOpts {
	return admission.StoreOpts{
		RegionPath: c.SharedMemory.Path,
		LockPath:   c.SharedMemory.LockFilePath(),
		Slots:      c.SharedMemory.Slots,
		Configs:    configs,
	}
}

// AttachOpts returns options for attaching to the shared counters store created by another process.
func (c *Config) AttachOpts(readOnly bool) admission.AttachOpts {
	return admission.AttachOpts{
		RegionPath: c.SharedMemory.Path,
		LockPath:   c.SharedMemory.LockFilePath(),
		ReadOnly:   readOnly,
	}
}

func (c *VirtualHostConfig) validate() error {
	if c.Name == "" {
		return errors.New("name cannot be empty")
	}
	if c.DocumentRoot == "" || !filepath.IsAbs(c.DocumentRoot) {
		return fmt.Errorf("document root %q should be an absolute path", c.DocumentRoot)
	}
	if _, err := scopePath(c.IP, c.Resource); err != nil {
		return err
	}
	for i := range c.Directories {
		dir := &c.Directories[i]
		if dir.Path == "" {
			return fmt.Errorf("directories[%d]: path cannot be empty", i)
		}
		if _, err := scopePath(dir.IP, dir.Resource); err != nil {
			return fmt.Errorf("directories[%d]: %w", i, err)
		}
	}
	return nil
}

// scopePath returns the scope path shared by both directives of one scope.
func scopePath(ip, resource admission.Directive) (string, error) {
	if ip.Path != "" && resource.Path != "" && ip.Path != resource.Path {
		return "", fmt.Errorf("ip and resource directives have different scope paths (%q and %q)", ip.Path, resource.Path)
	}
	if ip.Path != "" {
		return ip.Path, nil
	}
	return resource.Path, nil
}

// directiveDecodeHook lets a directive be written as a bare number ("ip: 10").
func directiveDecodeHook() mapstructure.DecodeHookFuncType {
	directiveType := reflect.TypeOf(admission.Directive{})
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != directiveType {
			return data, nil
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return cast.ToStringE(data)
		}
		return data, nil
	}
}
