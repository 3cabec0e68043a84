/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"
)

var errNegative = errors.New("negative value is not allowed")

// parseUnit parses a plain non-negative integer or, failing that, a value with a unit suffix.
func parseUnit(text []byte, withUnit func(string) (int64, error)) (int64, error) {
	s := strings.TrimSpace(strings.Trim(string(text), `"`))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if n, err = withUnit(s); err != nil {
			return 0, err
		}
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s", errNegative, s)
	}
	return n, nil
}

func decodeYAMLScalar(value *yaml.Node, u interface{ UnmarshalText([]byte) error }) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return u.UnmarshalText([]byte(s))
}

// ByteSize is a size in bytes written as a number or a human-readable string like "512K", "250M" or "1Gi".
type ByteSize uint64

// UnmarshalText implements encoding.TextUnmarshaler. mapstructure.TextUnmarshallerHookFunc relies on it.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := parseUnit(text, func(s string) (int64, error) {
		// Kubernetes-style "Ki", "Mi" suffixes are the same powers of two as bytefmt ones.
		if len(s) > 2 && s[len(s)-1] == 'i' {
			s = s[:len(s)-1]
		}
		v, err := bytefmt.ToBytes(s)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
		}
		return int64(v), nil
	})
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error { return b.UnmarshalText(data) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error { return decodeYAMLScalar(value, b) }

func (b ByteSize) String() string { return bytefmt.ByteSize(uint64(b)) }

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// TimeDuration is a duration written as a Go duration string ("1m30s") or a number of nanoseconds.
type TimeDuration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *TimeDuration) UnmarshalText(text []byte) error {
	n, err := parseUnit(text, func(s string) (int64, error) {
		v, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return int64(v), nil
	})
	if err != nil {
		return err
	}
	*d = TimeDuration(n)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *TimeDuration) UnmarshalJSON(data []byte) error { return d.UnmarshalText(data) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error { return decodeYAMLScalar(value, d) }

func (d TimeDuration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d TimeDuration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
