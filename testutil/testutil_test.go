/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"fmt"
)

// recordingT implements require.TestingT and remembers whether the assertion has failed.
type recordingT struct {
	failed  bool
	message string
}

func (t *recordingT) Helper() {}

func (t *recordingT) FailNow() {
	t.failed = true
}

func (t *recordingT) Errorf(format string, args ...interface{}) {
	t.message = fmt.Sprintf(format, args...)
}
