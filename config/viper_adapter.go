/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ViperAdapter is the DataProvider implementation backed by viper.
// Adapters returned by WithKeyPrefix share the data with the parent and resolve keys relative to the prefix.
type ViperAdapter struct {
	viper  *viper.Viper
	prefix string
}

var _ DataProvider = (*ViperAdapter)(nil)

// NewViperAdapter creates a new ViperAdapter.
func NewViperAdapter() *ViperAdapter {
	return &ViperAdapter{viper: viper.New()}
}

// WithKeyPrefix returns a DataProvider over the same data that reads the section under the prefix.
func (va *ViperAdapter) WithKeyPrefix(prefix string) DataProvider {
	return &ViperAdapter{viper: va.viper, prefix: va.fullKey(prefix)}
}

func (va *ViperAdapter) fullKey(key string) string {
	return strings.Trim(va.prefix+"."+key, ".")
}

// UseEnvVars makes environment variables override values from the file.
// With the "VLIMIT" prefix, the "vlimit.shm.path" key is overridden by VLIMIT_VLIMIT_SHM_PATH.
func (va *ViperAdapter) UseEnvVars(prefix string) {
	va.viper.SetEnvPrefix(prefix)
	va.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	va.viper.AutomaticEnv()
}

// Set overrides the value of the key.
func (va *ViperAdapter) Set(key string, value interface{}) {
	va.viper.Set(va.fullKey(key), value)
}

// SetDefault sets the value used when neither the file nor the environment provides one.
func (va *ViperAdapter) SetDefault(key string, value interface{}) {
	va.viper.SetDefault(va.fullKey(key), value)
}

// SetFromFile reads configuration data from the file.
func (va *ViperAdapter) SetFromFile(path string, dataType DataType) error {
	va.viper.SetConfigFile(path)
	va.viper.SetConfigType(string(dataType))
	return va.viper.ReadInConfig()
}

// SetFromReader reads configuration data from the reader.
func (va *ViperAdapter) SetFromReader(reader io.Reader, dataType DataType) error {
	va.viper.SetConfigType(string(dataType))
	return va.viper.ReadConfig(reader)
}

// IsSet reports whether the key has a value in any source, defaults included.
func (va *ViperAdapter) IsSet(key string) bool {
	return va.viper.IsSet(va.fullKey(key))
}

// getAs converts the value of the key with castFn. A missing key gives the zero value.
func getAs[T any](va *ViperAdapter, key string, castFn func(interface{}) (T, error)) (T, error) {
	var res T
	val := va.viper.Get(va.fullKey(key))
	if val == nil {
		return res, nil
	}
	res, err := castFn(val)
	if err != nil {
		return res, va.WrapKeyErr(key, err)
	}
	return res, nil
}

// GetInt returns the value of the key as an integer.
func (va *ViperAdapter) GetInt(key string) (int, error) {
	return getAs(va, key, cast.ToIntE)
}

// GetString returns the value of the key as a string.
func (va *ViperAdapter) GetString(key string) (string, error) {
	return getAs(va, key, cast.ToStringE)
}

// GetBool returns the value of the key as a bool.
func (va *ViperAdapter) GetBool(key string) (bool, error) {
	return getAs(va, key, cast.ToBoolE)
}

// GetStringSlice returns the value of the key as a slice of strings. A missing key gives nil.
func (va *ViperAdapter) GetStringSlice(key string) ([]string, error) {
	return getAs(va, key, cast.ToStringSliceE)
}

// GetDuration returns the value of the key as a duration ("1m30s" or nanoseconds).
func (va *ViperAdapter) GetDuration(key string) (time.Duration, error) {
	return getAs(va, key, cast.ToDurationE)
}

// GetSizeInBytes returns the value of the key as a size in bytes.
// Both integers and human-readable strings (e.g. "10M", "1Gi") are accepted.
func (va *ViperAdapter) GetSizeInBytes(key string) (uint64, error) {
	return getAs(va, key, func(val interface{}) (uint64, error) {
		str := strings.TrimSpace(cast.ToString(val))
		if str == "" {
			return 0, nil
		}
		var bs ByteSize
		if err := bs.UnmarshalText([]byte(str)); err != nil {
			return 0, err
		}
		return uint64(bs), nil
	})
}

// GetStringFromSet returns the value of the key, which must be one of the set.
func (va *ViperAdapter) GetStringFromSet(key string, set []string, ignoreCase bool) (string, error) {
	str, err := va.GetString(key)
	if err != nil {
		return "", err
	}
	for _, s := range set {
		if str == s || (ignoreCase && strings.EqualFold(str, s)) {
			return str, nil
		}
	}
	return "", va.WrapKeyErr(key, fmt.Errorf("unknown value %q, should be one of %v", str, set))
}

// Unmarshal decodes the whole section of the adapter into rawVal.
func (va *ViperAdapter) Unmarshal(rawVal interface{}, opts ...DecoderConfigOption) error {
	if va.prefix == "" {
		return va.viper.Unmarshal(rawVal, toViperOptions(opts)...)
	}
	return va.UnmarshalKey("", rawVal, opts...)
}

// UnmarshalKey decodes the value of the key into rawVal.
func (va *ViperAdapter) UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error {
	if err := va.viper.UnmarshalKey(va.fullKey(key), rawVal, toViperOptions(opts)...); err != nil {
		return va.WrapKeyErr(key, err)
	}
	return nil
}

// WrapKeyErr adds the full key to the error.
func (va *ViperAdapter) WrapKeyErr(key string, err error) error {
	return WrapKeyErr(va.fullKey(key), err)
}

func toViperOptions(opts []DecoderConfigOption) []viper.DecoderConfigOption {
	res := make([]viper.DecoderConfigOption, 0, len(opts))
	for _, opt := range opts {
		res = append(res, viper.DecoderConfigOption(opt))
	}
	return res
}
