/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequireNoErrorInChannel(t *testing.T) {
	tests := []struct {
		name       string
		send       []error
		wantFailed bool
	}{
		{name: "empty channel"},
		{name: "nil error", send: []error{nil}},
		{name: "fatal error", send: []error{errors.New("listen tcp: address already in use")}, wantFailed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan error, len(tt.send))
			for _, err := range tt.send {
				ch <- err
			}
			mockT := &recordingT{}
			RequireNoErrorInChannel(mockT, ch)
			require.Equal(t, tt.wantFailed, mockT.failed)
		})
	}
}
