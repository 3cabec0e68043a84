/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/acronis/go-vlimit/config"
	"github.com/acronis/go-vlimit/log"
)

const cfgDefaultKeyPrefix = "vlimit.diagnostics"

const (
	cfgKeyDir              = "dir"
	cfgKeyCheckInterval    = "checkInterval"
	cfgKeyAuditFile        = "auditFile"
	cfgKeyAuditMaxSize     = "auditMaxSize"
	cfgKeyIPStatFile       = "ipStatFile"
	cfgKeyResourceStatFile = "resourceStatFile"
)

// Sentinel file names. Diagnostics of every kind is turned on while the corresponding file exists in Config.Dir.
const (
	LogSentinel          = "VLIMIT_LOG"
	DebugSentinel        = "VLIMIT_DEBUG"
	IPStatSentinel       = "VLIMIT_IP_STAT"
	ResourceStatSentinel = "VLIMIT_FILE_STAT"
)

// Default values.
const (
	DefaultDir              = "/tmp"
	DefaultCheckInterval    = time.Second
	DefaultAuditFile        = "vlimit-" + log.PlaceholderPID + ".log"
	DefaultIPStatFile       = "vlimit_ip_stat.list"
	DefaultResourceStatFile = "vlimit_file_stat.list"
	DefaultAuditMaxSize     = config.ByteSize(100 * 1024 * 1024)
)

// Config represents a set of configuration parameters for diagnostics.
// Relative file paths are resolved against Dir.
type Config struct {
	Dir              string
	CheckInterval    time.Duration // 0 means sentinels are checked on every call
	AuditFile        string        // log.PlaceholderPID is replaced with the process id
	AuditMaxSize     config.ByteSize
	IPStatFile       string
	ResourceStatFile string

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config that will be read from the "vlimit.diagnostics" key.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewConfigWithKeyPrefix creates a new instance of the Config with the specified key prefix.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix:        cfgDefaultKeyPrefix,
		Dir:              DefaultDir,
		CheckInterval:    DefaultCheckInterval,
		AuditFile:        DefaultAuditFile,
		AuditMaxSize:     DefaultAuditMaxSize,
		IPStatFile:       DefaultIPStatFile,
		ResourceStatFile: DefaultResourceStatFile,
	}
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
	dp.SetDefault(cfgKeyDir, DefaultDir)
	dp.SetDefault(cfgKeyCheckInterval, DefaultCheckInterval.String())
	dp.SetDefault(cfgKeyAuditFile, DefaultAuditFile)
	dp.SetDefault(cfgKeyAuditMaxSize, DefaultAuditMaxSize.String())
	dp.SetDefault(cfgKeyIPStatFile, DefaultIPStatFile)
	dp.SetDefault(cfgKeyResourceStatFile, DefaultResourceStatFile)
}

// Set sets diagnostics configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Dir, err = dp.GetString(cfgKeyDir); err != nil {
		return err
	}
	if c.Dir == "" {
		return dp.WrapKeyErr(cfgKeyDir, errors.New("cannot be empty"))
	}
	if c.CheckInterval, err = dp.GetDuration(cfgKeyCheckInterval); err != nil {
		return err
	}
	if c.CheckInterval < 0 {
		return dp.WrapKeyErr(cfgKeyCheckInterval, errors.New("cannot be negative"))
	}
	if c.AuditFile, err = dp.GetString(cfgKeyAuditFile); err != nil {
		return err
	}
	auditMaxSize, err := dp.GetSizeInBytes(cfgKeyAuditMaxSize)
	if err != nil {
		return err
	}
	c.AuditMaxSize = config.ByteSize(auditMaxSize)
	if c.IPStatFile, err = dp.GetString(cfgKeyIPStatFile); err != nil {
		return err
	}
	if c.ResourceStatFile, err = dp.GetString(cfgKeyResourceStatFile); err != nil {
		return err
	}
	return nil
}

func (c *Config) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}
