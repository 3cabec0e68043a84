/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"os"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// sentinel caches the presence of a marker file. The file is stat-ed at most once per interval.
type sentinel struct {
	path      string
	present   atomic.Bool
	sometimes *rate.Sometimes
}

func newSentinel(path string, interval time.Duration) *sentinel {
	s := &sentinel{path: path}
	if interval > 0 {
		s.sometimes = &rate.Sometimes{Interval: interval}
	} else {
		s.sometimes = &rate.Sometimes{Every: 1}
	}
	return s
}

// Present reports whether the marker file exists.
func (s *sentinel) Present() bool {
	s.sometimes.Do(func() {
		_, err := os.Stat(s.path)
		s.present.Store(err == nil)
	})
	return s.present.Load()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
