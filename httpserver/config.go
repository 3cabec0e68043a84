/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"errors"
	"time"

	"github.com/acronis/go-vlimit/config"
)

const cfgDefaultKeyPrefix = "server"

const (
	cfgKeyAddress              = "address"
	cfgKeyReusePort            = "reusePort"
	cfgKeyTimeoutsWrite        = "timeouts.write"
	cfgKeyTimeoutsRead         = "timeouts.read"
	cfgKeyTimeoutsReadHeader   = "timeouts.readHeader"
	cfgKeyTimeoutsIdle         = "timeouts.idle"
	cfgKeyTimeoutsShutdown     = "timeouts.shutdown"
	cfgKeyLogRequestStart      = "log.requestStart"
	cfgKeyLogRequestHeaders    = "log.requestHeaders"
	cfgKeyLogExcludedEndpoints = "log.excludedEndpoints"
	cfgKeyLogSecretQueryParams = "log.secretQueryParams" // nolint:gosec // not a credential
	cfgKeyLogAddRequestInfo    = "log.addRequestInfo"
	cfgKeyTLSEnabled           = "tls.enabled"
	cfgKeyTLSCert              = "tls.cert"
	cfgKeyTLSKey               = "tls.key"
)

// Default values.
// Write timeout is disabled by default since it limits the whole response and would cut downloads of large files.
const (
	DefaultAddress            = ":8080"
	DefaultReusePort          = true
	DefaultTimeoutsWrite      = time.Duration(0)
	DefaultTimeoutsRead       = 15 * time.Second
	DefaultTimeoutsReadHeader = 10 * time.Second
	DefaultTimeoutsIdle       = time.Minute
	DefaultTimeoutsShutdown   = 30 * time.Second
)

// Config represents a set of configuration parameters of the file serving HTTP server.
type Config struct {
	Address string `mapstructure:"address"`
	// ReusePort enables SO_REUSEPORT on the listening socket,
	// so several worker processes can accept connections on the same address.
	ReusePort bool           `mapstructure:"reusePort"`
	Timeouts  TimeoutsConfig `mapstructure:"timeouts"`
	Log       LogConfig      `mapstructure:"log"`
	TLS       TLSConfig      `mapstructure:"tls"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// TimeoutsConfig represents timeouts of the HTTP server. Zero disables the timeout.
type TimeoutsConfig struct {
	Write      config.TimeDuration `mapstructure:"write"`
	Read       config.TimeDuration `mapstructure:"read"`
	ReadHeader config.TimeDuration `mapstructure:"readHeader"`
	Idle       config.TimeDuration `mapstructure:"idle"`
	// Shutdown limits the time of graceful shutdown, in-flight downloads are interrupted when it expires.
	Shutdown config.TimeDuration `mapstructure:"shutdown"`
}

// LogConfig represents parameters of the access log.
type LogConfig struct {
	RequestStart bool `mapstructure:"requestStart"`
	// RequestHeaders are names of request headers logged with each access log line.
	RequestHeaders []string `mapstructure:"requestHeaders"`
	// ExcludedEndpoints are glob patterns of URL paths that are logged only on errors.
	ExcludedEndpoints []string `mapstructure:"excludedEndpoints"`
	// SecretQueryParams are query parameters (e.g. download tokens) which values are not logged.
	SecretQueryParams []string `mapstructure:"secretQueryParams"`
	// AddRequestInfoToLogger makes the request-scoped logger carry method, URI and client address.
	AddRequestInfoToLogger bool `mapstructure:"addRequestInfo"`
}

// TLSConfig represents parameters of serving files over HTTPS.
type TLSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Certificate string `mapstructure:"cert"`
	Key         string `mapstructure:"key"`
}

// NewConfig creates a new instance of the Config that will be read from the "server" key.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewConfigWithKeyPrefix creates a new instance of the Config with the specified key prefix.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config filled with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Address:   DefaultAddress,
		ReusePort: DefaultReusePort,
		Timeouts: TimeoutsConfig{
			Write:      config.TimeDuration(DefaultTimeoutsWrite),
			Read:       config.TimeDuration(DefaultTimeoutsRead),
			ReadHeader: config.TimeDuration(DefaultTimeoutsReadHeader),
			Idle:       config.TimeDuration(DefaultTimeoutsIdle),
			Shutdown:   config.TimeDuration(DefaultTimeoutsShutdown),
		},
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
	dp.SetDefault(cfgKeyAddress, DefaultAddress)
	dp.SetDefault(cfgKeyReusePort, DefaultReusePort)
	for _, d := range c.Timeouts.fields() {
		dp.SetDefault(d.key, d.def)
	}
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyAddress, errors.New("cannot be empty"))
	}
	if c.ReusePort, err = dp.GetBool(cfgKeyReusePort); err != nil {
		return err
	}
	if err = c.Timeouts.set(dp); err != nil {
		return err
	}
	if err = c.Log.set(dp); err != nil {
		return err
	}
	return c.TLS.set(dp)
}

type durationField struct {
	key string
	def time.Duration
	dst *config.TimeDuration
}

func (t *TimeoutsConfig) fields() []durationField {
	return []durationField{
		{cfgKeyTimeoutsWrite, DefaultTimeoutsWrite, &t.Write},
		{cfgKeyTimeoutsRead, DefaultTimeoutsRead, &t.Read},
		{cfgKeyTimeoutsReadHeader, DefaultTimeoutsReadHeader, &t.ReadHeader},
		{cfgKeyTimeoutsIdle, DefaultTimeoutsIdle, &t.Idle},
		{cfgKeyTimeoutsShutdown, DefaultTimeoutsShutdown, &t.Shutdown},
	}
}

func (t *TimeoutsConfig) set(dp config.DataProvider) error {
	for _, f := range t.fields() {
		dur, err := dp.GetDuration(f.key)
		if err != nil {
			return err
		}
		if dur < 0 {
			return dp.WrapKeyErr(f.key, errors.New("cannot be negative"))
		}
		*f.dst = config.TimeDuration(dur)
	}
	return nil
}

func (l *LogConfig) set(dp config.DataProvider) error {
	var err error
	if l.RequestStart, err = dp.GetBool(cfgKeyLogRequestStart); err != nil {
		return err
	}
	if l.AddRequestInfoToLogger, err = dp.GetBool(cfgKeyLogAddRequestInfo); err != nil {
		return err
	}
	for key, dst := range map[string]*[]string{
		cfgKeyLogRequestHeaders:    &l.RequestHeaders,
		cfgKeyLogExcludedEndpoints: &l.ExcludedEndpoints,
		cfgKeyLogSecretQueryParams: &l.SecretQueryParams,
	} {
		if *dst, err = dp.GetStringSlice(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *TLSConfig) set(dp config.DataProvider) error {
	var err error
	if s.Enabled, err = dp.GetBool(cfgKeyTLSEnabled); err != nil {
		return err
	}
	if s.Certificate, err = dp.GetString(cfgKeyTLSCert); err != nil {
		return err
	}
	if s.Key, err = dp.GetString(cfgKeyTLSKey); err != nil {
		return err
	}
	if !s.Enabled {
		return nil
	}
	if s.Certificate == "" {
		return dp.WrapKeyErr(cfgKeyTLSCert, errors.New("must be set when TLS is enabled"))
	}
	if s.Key == "" {
		return dp.WrapKeyErr(cfgKeyTLSKey, errors.New("must be set when TLS is enabled"))
	}
	return nil
}
